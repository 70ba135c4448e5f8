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
	"github.com/rs/zerolog"
)

// Store is what the rule engine needs from the canonical store. OpenTicket
// and ResolveTickets carry the idempotency contract: at most one non-done
// ticket per (board, work_item, rule_code); opening against an existing one
// refreshes message/meta in place, resolving marks every non-done match done.
type Store interface {
	ListWorkItems(ctx context.Context, boardID int64) ([]domain.WorkItem, error)
	ListBlockedWorkItems(ctx context.Context, boardID int64, staleAfter time.Time) ([]domain.WorkItem, error)
	SetBlockedSince(ctx context.Context, workItemID int64, since time.Time) error
	OpenTicket(ctx context.Context, boardID int64, workItemID *int64, rule domain.RuleCode, message string, meta map[string]any) error
	ResolveTickets(ctx context.Context, boardID int64, workItemID *int64, rule domain.RuleCode) error
}

type ruleFunc func(ctx context.Context, board domain.Board, cfg mapping.Config, items []domain.WorkItem) (int, error)

// Engine runs the fixed rule battery over a board's work items, opening or
// resolving remediation tickets per item per rule.
type Engine struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewEngine(store Store, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log, now: time.Now}
}

// ValidateBoard evaluates every rule once against the board's full item set
// (closed items stay in the scan; each rule decides whether to skip them) and
// returns per-rule violation counts.
func (e *Engine) ValidateBoard(ctx context.Context, board domain.Board, cfg mapping.Config) (map[domain.RuleCode]int, error) {
	items, err := e.store.ListWorkItems(ctx, board.ID)
	if err != nil {
		return nil, err
	}

	battery := []struct {
		code domain.RuleCode
		fn   ruleFunc
	}{
		{domain.RuleMissingPoints, e.ruleMissingPoints},
		{domain.RuleStuckInDev, e.ruleStuckInDev},
		{domain.RuleWaitingForQA, e.ruleWaitingForQA},
		{domain.RuleStuckInQA, e.ruleStuckInQA},
		{domain.RuleBlockedNoReason, e.ruleBlockedReason},
		{domain.RulePRRequired, e.rulePRRequired},
	}

	results := make(map[domain.RuleCode]int, len(battery))
	for _, r := range battery {
		n, err := r.fn(ctx, board, cfg, items)
		if err != nil {
			return nil, fmt.Errorf("rules: %s: %w", r.code, err)
		}
		results[r.code] = n
	}
	e.log.Debug().Int64("board", board.ID).Int("items", len(items)).Interface("violations", results).Msg("rule battery evaluated")
	return results, nil
}

func (e *Engine) daysAgo(t *time.Time) int {
	if t == nil {
		return 0
	}
	return int(e.now().UTC().Sub(*t) / (24 * time.Hour))
}

// flag opens or resolves the ticket for one (item, rule) depending on whether
// the item currently violates. The dual path clears stale violations the
// moment an item becomes compliant.
func (e *Engine) flag(ctx context.Context, board domain.Board, wi domain.WorkItem, rule domain.RuleCode, violating bool, message string, meta map[string]any) (int, error) {
	if violating {
		return 1, e.store.OpenTicket(ctx, board.ID, &wi.ID, rule, message, meta)
	}
	return 0, e.store.ResolveTickets(ctx, board.ID, &wi.ID, rule)
}

func (e *Engine) ruleMissingPoints(ctx context.Context, board domain.Board, cfg mapping.Config, items []domain.WorkItem) (int, error) {
	requireTypes := cfg.RequirePointsTypes()
	ignoreSubtasks := cfg.IgnoreSubtasks()

	count := 0
	for _, wi := range items {
		if ignoreSubtasks && wi.ItemType == domain.ItemSubtask {
			if err := e.store.ResolveTickets(ctx, board.ID, &wi.ID, domain.RuleMissingPoints); err != nil {
				return count, err
			}
			continue
		}
		if _, required := requireTypes[strings.ToLower(string(wi.ItemType))]; !required {
			if err := e.store.ResolveTickets(ctx, board.ID, &wi.ID, domain.RuleMissingPoints); err != nil {
				return count, err
			}
			continue
		}
		violating := wi.DevStartedAt != nil && wi.StoryPoints == nil
		n, err := e.flag(ctx, board, wi, domain.RuleMissingPoints, violating,
			fmt.Sprintf("Story points are required before dev starts (item: %s).", wi.SourceID), nil)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func (e *Engine) ruleStuckInDev(ctx context.Context, board domain.Board, cfg mapping.Config, items []domain.WorkItem) (int, error) {
	maxDays := cfg.MaxDevDays()
	count := 0
	for _, wi := range items {
		violating := false
		days := 0
		if wi.DevStartedAt != nil && wi.DevDoneAt == nil && !wi.Closed {
			days = e.daysAgo(wi.DevStartedAt)
			violating = days > maxDays
		}
		n, err := e.flag(ctx, board, wi, domain.RuleStuckInDev, violating,
			fmt.Sprintf("Dev in progress for %d days (> %d).", days, maxDays), nil)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func (e *Engine) ruleWaitingForQA(ctx context.Context, board domain.Board, cfg mapping.Config, items []domain.WorkItem) (int, error) {
	maxDays := cfg.MaxReadyForQADays()
	count := 0
	for _, wi := range items {
		violating := false
		days := 0
		if wi.ReadyForQAAt != nil && wi.QAStartedAt == nil && !wi.Closed {
			days = e.daysAgo(wi.ReadyForQAAt)
			violating = days > maxDays
		}
		n, err := e.flag(ctx, board, wi, domain.RuleWaitingForQA, violating,
			fmt.Sprintf("In 'Ready for QA' for %d days (> %d).", days, maxDays), nil)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func (e *Engine) ruleStuckInQA(ctx context.Context, board domain.Board, cfg mapping.Config, items []domain.WorkItem) (int, error) {
	maxDays := cfg.MaxQADays()
	count := 0
	for _, wi := range items {
		violating := false
		days := 0
		if wi.QAStartedAt != nil && wi.QAVerifiedAt == nil && wi.SignedOffAt == nil && wi.DoneAt == nil {
			days = e.daysAgo(wi.QAStartedAt)
			violating = days > maxDays
		}
		n, err := e.flag(ctx, board, wi, domain.RuleStuckInQA, violating,
			fmt.Sprintf("QA in progress for %d days (> %d).", days, maxDays), nil)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func (e *Engine) ruleBlockedReason(ctx context.Context, board domain.Board, cfg mapping.Config, items []domain.WorkItem) (int, error) {
	count := 0
	for _, wi := range items {
		violating := wi.BlockedFlag && strings.TrimSpace(wi.BlockedReason) == ""
		n, err := e.flag(ctx, board, wi, domain.RuleBlockedNoReason, violating,
			"Work item is blocked but no blocked_reason is provided.", nil)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func (e *Engine) rulePRRequired(ctx context.Context, board domain.Board, cfg mapping.Config, items []domain.WorkItem) (int, error) {
	requireTypes := cfg.RequirePRTypes()
	keywords := cfg.PRStatusKeywords()

	count := 0
	for _, wi := range items {
		if _, required := requireTypes[strings.ToLower(string(wi.ItemType))]; !required {
			if err := e.store.ResolveTickets(ctx, board.ID, &wi.ID, domain.RulePRRequired); err != nil {
				return count, err
			}
			continue
		}
		status := strings.ToLower(wi.Status)
		needsPR := false
		for _, kw := range keywords {
			if strings.Contains(status, kw) {
				needsPR = true
				break
			}
		}
		violating := needsPR && len(wi.LinkedPRs) == 0
		n, err := e.flag(ctx, board, wi, domain.RulePRRequired, violating,
			fmt.Sprintf("Status is '%s' but no linked PR found.", wi.Status), nil)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}
