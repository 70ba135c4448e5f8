/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/rs/zerolog"
)

// GitHubPRNormalizer produces PR rows instead of work items, and links each
// PR to existing work items by scanning title/body/branch text for issue
// keys. Linking covers Jira-style keys plus configured extra patterns;
// ClickUp/Azure id matching is a known gap.
type GitHubPRNormalizer struct {
	board        domain.Board
	linkPatterns map[string]string
	store        Store
	log          zerolog.Logger
}

func NewGitHubPRNormalizer(board domain.Board, cfg mapping.Config, store Store, log zerolog.Logger) *GitHubPRNormalizer {
	return &GitHubPRNormalizer{
		board:        board,
		linkPatterns: cfg.GitHubLinkPatterns(),
		store:        store,
		log:          log,
	}
}

func (n *GitHubPRNormalizer) Normalize(ctx context.Context, raws []domain.RawPayload) (int, error) {
	count := 0
	for _, rp := range raws {
		if rp.Source != domain.SourceGitHub || rp.ObjectType != "pr" {
			continue
		}
		payload := rp.Payload
		repo := asMap(payload["repo"])
		pr := asMap(payload["pr"])
		reviews := list(payload, "reviews")

		owner := str(repo, "owner")
		name := str(repo, "name")
		number := anyToString(pr["number"])
		if owner == "" || name == "" || number == "" {
			n.log.Debug().Int64("raw", rp.ID).Msg("pr payload with incomplete repo info skipped")
			continue
		}

		prID := fmt.Sprintf("%s/%s#%s", owner, name, number)
		openedAt := ParseTimestamp(pr["created_at"])
		mergedAt := ParseTimestamp(pr["merged_at"])

		// first review time is the minimum submitted_at; reviewers keep
		// first-seen order, de-duplicated
		var reviewers []string
		seen := map[string]struct{}{}
		var reviewTimes []time.Time
		for _, r0 := range reviews {
			r := asMap(r0)
			if login := str(asMap(r["user"]), "login"); login != "" {
				if _, dup := seen[login]; !dup {
					seen[login] = struct{}{}
					reviewers = append(reviewers, login)
				}
			}
			if t := ParseTimestamp(r["submitted_at"]); t != nil {
				reviewTimes = append(reviewTimes, *t)
			}
		}
		firstReviewedAt := Earliest(reviewTimes)

		prRowID, err := n.store.UpsertPR(ctx, domain.PR{
			PRID:            prID,
			Source:          domain.SourceGitHub,
			Title:           str(pr, "title"),
			Branch:          str(asMap(pr["head"]), "ref"),
			OpenedAt:        openedAt,
			FirstReviewedAt: firstReviewedAt,
			MergedAt:        mergedAt,
			AuthorID:        str(asMap(pr["user"]), "login"),
			ReviewerIDs:     reviewers,
			Meta:            map[string]any{"repo": owner + "/" + name},
		})
		if err != nil {
			return count, err
		}

		text := strings.Join([]string{
			str(pr, "title"),
			str(pr, "body"),
			str(asMap(pr["head"]), "ref"),
			str(asMap(pr["base"]), "ref"),
		}, " ")
		found := ExtractIssueKeys(text, n.linkPatterns)

		for _, key := range found["jira"] {
			wi, err := n.store.FindWorkItem(ctx, domain.SourceJira, key)
			if err != nil {
				return count, err
			}
			if wi == nil {
				continue
			}
			link := domain.LinkedPR{
				PRID:            prID,
				OpenedAt:        openedAt,
				FirstReviewedAt: firstReviewedAt,
				MergedAt:        mergedAt,
				Reviewers:       reviewers,
			}
			if err := n.store.AttachPR(ctx, prRowID, wi.ID, link); err != nil {
				return count, err
			}
		}
		count++
	}
	n.log.Debug().Int64("board", n.board.ID).Int("prs", count).Msg("github pr pass done")
	return count, nil
}
