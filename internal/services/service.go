/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ekesel/cbm/internal/config"
	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/etl"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/ekesel/cbm/internal/notify"
	"github.com/ekesel/cbm/internal/repo"
	"github.com/ekesel/cbm/internal/rules"
	"github.com/rs/zerolog"
)

// CardSink delivers a built digest card to one channel's webhook.
type CardSink interface {
	PostCard(ctx context.Context, webhookURL string, card map[string]any) error
}

// Service orchestrates the per-board ETL operations. Each op resolves the
// active mapping config exactly once, wraps itself in a job-run audit record,
// and is safe to re-run at-least-once: every write underneath is a keyed
// upsert.
type Service struct {
	cfg   config.Config
	log   zerolog.Logger
	repo  *repo.Repository
	sink  CardSink
	rules *rules.Engine
}

func New(cfg config.Config, log zerolog.Logger, r *repo.Repository, sink CardSink) *Service {
	return &Service{cfg: cfg, log: log, repo: r, sink: sink, rules: rules.NewEngine(r, log)}
}

// run wraps fn in a job-run audit record: counters reported back, failure
// recorded and re-raised for the scheduler's retry policy.
func (s *Service) run(ctx context.Context, jobName string, boardID *int64, mappingVersion string, fn func(runID int64) (pulled, normalized, failed int, err error)) error {
	runID, err := s.repo.StartJobRun(ctx, jobName, boardID, mappingVersion, nil)
	if err != nil {
		return fmt.Errorf("%s: start job run: %w", jobName, err)
	}
	pulled, normalized, failed, opErr := fn(runID)
	errStr := ""
	if opErr != nil {
		errStr = opErr.Error()
	}
	if err := s.repo.FinishJobRun(ctx, runID, pulled, normalized, failed, errStr); err != nil {
		s.log.Error().Err(err).Str("job", jobName).Msg("finish job run failed")
	}
	return opErr
}

// IngestRaw accepts a batch of fetched records for a board. This is the input
// boundary: connectors (or operators replaying exports) push payloads here and
// the pipeline picks them up on its next pass.
func (s *Service) IngestRaw(ctx context.Context, boardID int64, objectType string, payloads []map[string]any) (int, error) {
	board, err := s.repo.GetBoard(ctx, boardID)
	if err != nil {
		return 0, err
	}
	raws := make([]domain.RawPayload, 0, len(payloads))
	for _, p := range payloads {
		raws = append(raws, domain.RawPayload{
			Source:     board.Source,
			BoardID:    board.ID,
			ObjectType: objectType,
			ExternalID: etl.ExternalID(board.Source, p),
			Payload:    p,
		})
	}
	return s.repo.InsertRawPayloads(ctx, raws)
}

// NormalizeBoard runs the board's normalizer over its recent raw payloads.
func (s *Service) NormalizeBoard(ctx context.Context, boardID int64) (int, error) {
	board, err := s.repo.GetBoard(ctx, boardID)
	if err != nil {
		return 0, err
	}
	version, cfg, err := s.repo.ActiveMapping(ctx)
	if err != nil {
		return 0, err
	}

	normalized := 0
	err = s.run(ctx, "normalize", &boardID, version, func(int64) (int, int, int, error) {
		raws, err := s.repo.ListRecentRawPayloads(ctx, boardID, s.cfg.RawBatchLimit)
		if err != nil {
			return 0, 0, 0, err
		}
		n, err := etl.ForSource(*board, cfg, s.repo, s.log)
		if err != nil {
			return len(raws), 0, 0, err
		}
		normalized, err = n.Normalize(ctx, raws)
		return len(raws), normalized, 0, err
	})
	return normalized, err
}

// ValidateBoard runs the rule battery; per-rule counts land in the run meta.
func (s *Service) ValidateBoard(ctx context.Context, boardID int64) (map[domain.RuleCode]int, error) {
	board, err := s.repo.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	version, cfg, err := s.repo.ActiveMapping(ctx)
	if err != nil {
		return nil, err
	}

	var results map[domain.RuleCode]int
	err = s.run(ctx, "validate", &boardID, version, func(runID int64) (int, int, int, error) {
		results, err = s.rules.ValidateBoard(ctx, *board, cfg)
		if err != nil {
			return 0, 0, 0, err
		}
		violations := map[string]any{}
		for code, n := range results {
			violations[string(code)] = n
		}
		if err := s.repo.SetJobRunMeta(ctx, runID, map[string]any{"violations": violations}); err != nil {
			s.log.Error().Err(err).Msg("store violation counts failed")
		}
		return 0, 0, 0, nil
	})
	return results, err
}

// CheckSLA escalates long-blocked items for one board.
func (s *Service) CheckSLA(ctx context.Context, boardID int64) (int, error) {
	board, err := s.repo.GetBoard(ctx, boardID)
	if err != nil {
		return 0, err
	}
	version, cfg, err := s.repo.ActiveMapping(ctx)
	if err != nil {
		return 0, err
	}

	touched := 0
	err = s.run(ctx, "sla_check", &boardID, version, func(int64) (int, int, int, error) {
		touched, err = s.rules.CheckBlockedSLA(ctx, *board, cfg, s.cfg.SLALookbackDays)
		return 0, touched, 0, err
	})
	return touched, err
}

// BackfillBlockedSince anchors blocked items that predate blocked tracking.
func (s *Service) BackfillBlockedSince(ctx context.Context, boardID int64) (int, error) {
	board, err := s.repo.GetBoard(ctx, boardID)
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.run(ctx, "backfill_blocked_since", &boardID, "", func(int64) (int, int, int, error) {
		n, err = s.rules.BackfillBlockedSince(ctx, *board)
		return 0, n, 0, err
	})
	return n, err
}

// CheckAllSLAs runs the blocked-time sweep over every board. Scheduled more
// often than the full pipeline so escalations fire between syncs too.
func (s *Service) CheckAllSLAs(ctx context.Context) (int, error) {
	boards, err := s.repo.ListBoards(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range boards {
		n, err := s.CheckSLA(ctx, b.ID)
		if err != nil {
			s.log.Error().Err(err).Int64("board", b.ID).Msg("sla sweep failed")
			continue
		}
		total += n
	}
	return total, nil
}

// NotifyBoard groups open/recent tickets per active channel and hands each
// digest card to the delivery sink.
func (s *Service) NotifyBoard(ctx context.Context, boardID int64) (int, error) {
	board, err := s.repo.GetBoard(ctx, boardID)
	if err != nil {
		return 0, err
	}
	channels, err := s.repo.ListActiveChannels(ctx, boardID)
	if err != nil {
		return 0, err
	}
	if len(channels) == 0 {
		return 0, nil
	}

	sent := 0
	err = s.run(ctx, "notify", &boardID, "", func(int64) (int, int, int, error) {
		now := time.Now().UTC()
		for _, ch := range channels {
			groups, err := notify.CollectForBoard(ctx, s.repo, *board, ch, s.cfg.NotifyWindowMinutes, now)
			if err != nil {
				return 0, sent, 0, err
			}
			if len(groups) == 0 {
				continue
			}
			adminURL := s.cfg.PublicBaseURL + fmt.Sprintf("/admin/boards/%d/tickets", board.ID)
			card := notify.RemediationCard(board.Name, notify.Summary(groups), groups, adminURL)
			if err := s.sink.PostCard(ctx, ch.WebhookURL, card); err != nil {
				s.log.Error().Err(err).Str("channel", ch.Name).Msg("digest delivery failed")
				continue
			}
			sent++
		}
		if sent > 0 {
			since := now.Add(-time.Duration(s.cfg.NotifyWindowMinutes) * time.Minute)
			if err := s.repo.MarkTicketsNotified(ctx, boardID, since, now); err != nil {
				s.log.Error().Err(err).Msg("mark tickets notified failed")
			}
		}
		return 0, sent, 0, nil
	})
	return sent, err
}

// RunBoard chains normalize → validate → sla → notify for one board and
// bumps last_synced. Raw records must already exist (connectors are an
// external collaborator).
func (s *Service) RunBoard(ctx context.Context, boardID int64) error {
	if _, err := s.NormalizeBoard(ctx, boardID); err != nil {
		return err
	}
	if _, err := s.ValidateBoard(ctx, boardID); err != nil {
		return err
	}
	if _, err := s.CheckSLA(ctx, boardID); err != nil {
		return err
	}
	if _, err := s.NotifyBoard(ctx, boardID); err != nil {
		return err
	}
	return s.repo.TouchBoardSynced(ctx, boardID)
}

// RunAllBoards fans out over every board; one board failing does not stop
// the rest.
func (s *Service) RunAllBoards(ctx context.Context) (int, error) {
	boards, err := s.repo.ListBoards(ctx)
	if err != nil {
		return 0, err
	}
	ok := 0
	for _, b := range boards {
		if err := s.RunBoard(ctx, b.ID); err != nil {
			s.log.Error().Err(err).Int64("board", b.ID).Msg("board run failed")
			continue
		}
		ok++
	}
	return ok, nil
}

// PruneRaw ages out old raw payload rows.
func (s *Service) PruneRaw(ctx context.Context) (int, error) {
	n := 0
	err := s.run(ctx, "prune_raw", nil, "", func(int64) (int, int, int, error) {
		var err error
		n, err = s.repo.PruneRawPayloads(ctx, s.cfg.RawRetentionDays, s.cfg.RawBatchLimit)
		return 0, 0, n, err
	})
	return n, err
}

// ListOpenTickets backs the admin ticket view the digest links to.
func (s *Service) ListOpenTickets(ctx context.Context, boardID int64) ([]domain.RemediationTicket, error) {
	return s.repo.ListOpenTickets(ctx, boardID)
}

// GetLastRun exposes the newest job-run audit record.
func (s *Service) GetLastRun(ctx context.Context) (*domain.JobRun, error) {
	return s.repo.GetLastRun(ctx)
}

// ValidateMappingConfig checks a candidate config document; activation is
// the caller's decision based on Result.OK.
func (s *Service) ValidateMappingConfig(cfg map[string]any) mapping.Result {
	return mapping.Validate(mapping.Config(cfg))
}
