/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package notify

import (
	"context"
	"sort"
	"time"

	"github.com/ekesel/cbm/internal/domain"
)

const (
	maxSamplesPerRule = 5
	fallbackTopRules  = 5
)

// Store is the ticket read/annotate surface the digest needs.
type Store interface {
	ListOpenTickets(ctx context.Context, boardID int64) ([]domain.RemediationTicket, error)
	ListRecentOpenTickets(ctx context.Context, boardID int64, since time.Time) ([]domain.RemediationTicket, error)
	// WorkItemSourceIDs maps work-item row ids to their source ids for digest samples.
	WorkItemSourceIDs(ctx context.Context, ids []int64) (map[int64]string, error)
	MarkTicketsNotified(ctx context.Context, boardID int64, since, at time.Time) error
}

// RuleGroup is one digest line: a rule, its violation count in the window,
// and a few sample item identifiers for humans.
type RuleGroup struct {
	Rule    string   `json:"rule"`
	Count   int      `json:"count"`
	Samples []string `json:"samples"`
}

// CollectForBoard groups a board's open tickets for one channel. Primary
// path: tickets created or updated in the trailing window, filtered by the
// channel's rule allow-list (empty = all). If nothing is recent, fall back to
// the top rules by all-time open count so the channel never goes silent while
// violations persist.
func CollectForBoard(ctx context.Context, store Store, board domain.Board, channel domain.NotificationChannel, windowMinutes int, now time.Time) (map[string]*RuleGroup, error) {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	since := now.Add(-time.Duration(windowMinutes) * time.Minute)

	recent, err := store.ListRecentOpenTickets(ctx, board.ID, since)
	if err != nil {
		return nil, err
	}

	allowed := ruleAllowList(channel)
	grouped := map[string]*RuleGroup{}

	var wiIDs []int64
	for _, rt := range recent {
		if rt.WorkItemID != nil {
			wiIDs = append(wiIDs, *rt.WorkItemID)
		}
	}
	sourceIDs, err := store.WorkItemSourceIDs(ctx, wiIDs)
	if err != nil {
		return nil, err
	}

	for _, rt := range recent {
		if !allowed(string(rt.RuleCode)) {
			continue
		}
		g, ok := grouped[string(rt.RuleCode)]
		if !ok {
			g = &RuleGroup{Rule: string(rt.RuleCode)}
			grouped[string(rt.RuleCode)] = g
		}
		g.Count++
		tag := "n/a"
		if rt.WorkItemID != nil {
			if sid, ok := sourceIDs[*rt.WorkItemID]; ok {
				tag = sid
			}
		}
		if len(g.Samples) < maxSamplesPerRule && !contains(g.Samples, tag) {
			g.Samples = append(g.Samples, tag)
		}
	}

	if len(grouped) > 0 {
		return grouped, nil
	}

	// fallback: summarize still-open tickets by rule, top N by count
	open, err := store.ListOpenTickets(ctx, board.ID)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, rt := range open {
		if allowed(string(rt.RuleCode)) {
			counts[string(rt.RuleCode)]++
		}
	}
	type kv struct {
		rule string
		n    int
	}
	ranked := make([]kv, 0, len(counts))
	for r, n := range counts {
		ranked = append(ranked, kv{r, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n == ranked[j].n {
			return ranked[i].rule < ranked[j].rule
		}
		return ranked[i].n > ranked[j].n
	})
	for i, r := range ranked {
		if i >= fallbackTopRules {
			break
		}
		grouped[r.rule] = &RuleGroup{Rule: r.rule, Count: r.n, Samples: []string{}}
	}
	return grouped, nil
}

func ruleAllowList(channel domain.NotificationChannel) func(string) bool {
	if len(channel.Rules) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(channel.Rules))
	for _, r := range channel.Rules {
		set[r] = struct{}{}
	}
	return func(rule string) bool {
		_, ok := set[rule]
		return ok
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
