/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
)

const backfillBatchCap = 5000

// BlockedSLAHours resolves the per-item blocked-time limit: priority override
// wins over type override wins over the global default. Priority is read from
// meta.priority, or from a label that matches a by_priority key.
func BlockedSLAHours(wi domain.WorkItem, cfg mapping.Config) int {
	priMap := cfg.SLAByPriority()
	priority := ""
	if wi.Meta != nil {
		if p, ok := wi.Meta["priority"].(string); ok {
			priority = strings.TrimSpace(p)
		}
		if priority == "" {
			if p, ok := wi.Meta["Priority"].(string); ok {
				priority = strings.TrimSpace(p)
			}
		}
		if priority == "" {
			if labels, ok := wi.Meta["labels"].([]string); ok {
				priority = labelMatchingPriority(labels, priMap)
			} else if raw, ok := wi.Meta["labels"].([]any); ok {
				labels := make([]string, 0, len(raw))
				for _, l := range raw {
					if s, ok := l.(string); ok {
						labels = append(labels, s)
					}
				}
				priority = labelMatchingPriority(labels, priMap)
			}
		}
	}
	if priority != "" {
		for k, v := range priMap {
			if strings.EqualFold(priority, k) {
				return int(v)
			}
		}
	}

	typeMap := cfg.SLAByType()
	for k, v := range typeMap {
		if strings.EqualFold(string(wi.ItemType), k) {
			return int(v)
		}
	}

	return cfg.SLABlockedHours()
}

func labelMatchingPriority(labels []string, priMap map[string]float64) string {
	for _, l := range labels {
		for k := range priMap {
			if strings.EqualFold(l, k) {
				return l
			}
		}
	}
	return ""
}

// CheckBlockedSLA opens or refreshes BLOCKED_SLA tickets for items blocked
// longer than their resolved limit, and resolves tickets for items that are
// closed or back under it. The blocked-since anchor falls back to
// dev_started_at then created_at when missing.
func (e *Engine) CheckBlockedSLA(ctx context.Context, board domain.Board, cfg mapping.Config, lookbackDays int) (int, error) {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	now := e.now().UTC()
	staleAfter := now.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	items, err := e.store.ListBlockedWorkItems(ctx, board.ID, staleAfter)
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, wi := range items {
		if wi.Closed {
			if err := e.store.ResolveTickets(ctx, board.ID, &wi.ID, domain.RuleBlockedSLA); err != nil {
				return touched, err
			}
			continue
		}
		start := wi.BlockedSince
		if start == nil {
			start = wi.DevStartedAt
		}
		if start == nil {
			start = wi.CreatedAt
		}
		if start == nil {
			if err := e.store.ResolveTickets(ctx, board.ID, &wi.ID, domain.RuleBlockedSLA); err != nil {
				return touched, err
			}
			continue
		}

		hours := now.Sub(*start).Hours()
		limit := BlockedSLAHours(wi, cfg)
		if hours > float64(limit) {
			msg := fmt.Sprintf("Blocked for ~%dh, SLA %dh exceeded (item %s).", int(hours), limit, wi.SourceID)
			meta := map[string]any{"blocked_since": start.Format(time.RFC3339), "sla_hours": limit}
			if err := e.store.OpenTicket(ctx, board.ID, &wi.ID, domain.RuleBlockedSLA, msg, meta); err != nil {
				return touched, err
			}
			touched++
		} else {
			if err := e.store.ResolveTickets(ctx, board.ID, &wi.ID, domain.RuleBlockedSLA); err != nil {
				return touched, err
			}
		}
	}
	e.log.Debug().Int64("board", board.ID).Int("blocked", len(items)).Int("escalated", touched).Msg("blocked-time sweep done")
	return touched, nil
}

// BackfillBlockedSince gives currently-blocked items that predate blocked-time
// tracking a best-effort anchor so SLA math can run on them.
func (e *Engine) BackfillBlockedSince(ctx context.Context, board domain.Board) (int, error) {
	items, err := e.store.ListWorkItems(ctx, board.ID)
	if err != nil {
		return 0, err
	}
	now := e.now().UTC()
	n := 0
	for _, wi := range items {
		if !wi.BlockedFlag || wi.BlockedSince != nil {
			continue
		}
		since := wi.DevStartedAt
		if since == nil {
			since = wi.ReadyForQAAt
		}
		if since == nil {
			since = wi.CreatedAt
		}
		if since == nil {
			since = &now
		}
		if err := e.store.SetBlockedSince(ctx, wi.ID, *since); err != nil {
			return n, err
		}
		n++
		if n >= backfillBatchCap {
			break
		}
	}
	return n, nil
}
