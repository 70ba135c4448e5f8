/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package etl

import (
	"context"
	"fmt"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/rs/zerolog"
)

// Store is the slice of the canonical store a normalizer writes through.
// UpsertWorkItem owns the blocked_since read-modify-write; EnsureWorkItem is
// the idempotent get-or-create used for placeholder parents.
type Store interface {
	UpsertWorkItem(ctx context.Context, wi domain.WorkItem) (int64, error)
	EnsureWorkItem(ctx context.Context, boardID int64, source domain.Source, sourceID, title string, itemType domain.ItemType) (int64, error)
	FindWorkItem(ctx context.Context, source domain.Source, sourceID string) (*domain.WorkItem, error)
	UpsertPR(ctx context.Context, pr domain.PR) (int64, error)
	AttachPR(ctx context.Context, prRowID, workItemID int64, link domain.LinkedPR) error
}

// Normalizer transforms raw payload records for one source into canonical
// rows. Records for other sources or object types in the batch are skipped.
// The returned count is records processed; any error aborts the whole batch
// (safe to re-run: all writes are keyed upserts).
type Normalizer interface {
	Normalize(ctx context.Context, raws []domain.RawPayload) (int, error)
}

// ForSource returns the normalizer for a board's source. Dispatch is a closed
// set; an unknown source is a caller bug.
func ForSource(board domain.Board, cfg mapping.Config, store Store, log zerolog.Logger) (Normalizer, error) {
	switch board.Source {
	case domain.SourceJira:
		return NewJiraNormalizer(board, cfg, store, log), nil
	case domain.SourceClickUp:
		return NewClickUpNormalizer(board, cfg, store, log), nil
	case domain.SourceAzure:
		return NewAzureNormalizer(board, cfg, store, log), nil
	case domain.SourceGitHub:
		return NewGitHubPRNormalizer(board, cfg, store, log), nil
	}
	return nil, fmt.Errorf("etl: no normalizer for source %q", board.Source)
}

// ExternalID pulls the per-source record identifier out of a raw payload so
// ingestion can fill raw_payloads.external_id. Unknown shapes yield "".
func ExternalID(source domain.Source, payload map[string]any) string {
	switch source {
	case domain.SourceJira:
		if k := str(payload, "key"); k != "" {
			return k
		}
		return str(payload, "id")
	case domain.SourceClickUp:
		return str(payload, "id")
	case domain.SourceAzure:
		return anyToString(payload["id"])
	case domain.SourceGitHub:
		repo := asMap(payload["repo"])
		pr := asMap(payload["pr"])
		owner, name, number := str(repo, "owner"), str(repo, "name"), anyToString(pr["number"])
		if owner == "" || name == "" || number == "" {
			return ""
		}
		return fmt.Sprintf("%s/%s#%s", owner, name, number)
	}
	return ""
}
