/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
	"context"
	"time"

	"github.com/ekesel/cbm/internal/config"
	"github.com/ekesel/cbm/internal/repo"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type service interface {
	RunAllBoards(ctx context.Context) (int, error)
	CheckAllSLAs(ctx context.Context) (int, error)
	PruneRaw(ctx context.Context) (int, error)
}

// Cron drives the recurring pipeline. Each entry takes a Postgres advisory
// lock first so overlapping replicas never run the same job concurrently.
type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	repo *repo.Repository
	c    *cron.Cron
}

// Advisory lock keys, one per job family.
const (
	lockETL   int64 = 727001
	lockSLA   int64 = 727002
	lockPrune int64 = 727003
)

func NewCron(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *Cron {
	loc, _ := time.LoadLocation(cfg.TZ)
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, repo: r, c: c}
	_, _ = c.AddFunc(cfg.ETLCron, cr.etl)
	_, _ = c.AddFunc(cfg.SLACron, cr.sla)
	_, _ = c.AddFunc(cfg.PruneCron, cr.prune)
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) etl() {
	cr.withLock(lockETL, "pipeline", 15*time.Minute, func(ctx context.Context) error {
		n, err := cr.svc.RunAllBoards(ctx)
		if err == nil {
			cr.log.Info().Int("boards", n).Msg("cron: pipeline done")
		}
		return err
	})
}

func (cr *Cron) sla() {
	cr.withLock(lockSLA, "sla", 5*time.Minute, func(ctx context.Context) error {
		n, err := cr.svc.CheckAllSLAs(ctx)
		if err == nil {
			cr.log.Info().Int("escalated", n).Msg("cron: sla sweep done")
		}
		return err
	})
}

func (cr *Cron) prune() {
	cr.withLock(lockPrune, "prune", 5*time.Minute, func(ctx context.Context) error {
		n, err := cr.svc.PruneRaw(ctx)
		if err == nil {
			cr.log.Info().Int("pruned", n).Msg("cron: raw prune done")
		}
		return err
	})
}

func (cr *Cron) withLock(key int64, name string, timeout time.Duration, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ok, err := cr.repo.TryAdvisoryLock(ctx, key)
	if err != nil {
		cr.log.Error().Err(err).Str("job", name).Msg("cron: lock error")
		return
	}
	if !ok {
		cr.log.Info().Str("job", name).Msg("cron: already running elsewhere")
		return
	}
	defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), key) }()
	cr.log.Info().Str("job", name).Msg("cron: start")
	if err := fn(ctx); err != nil {
		cr.log.Error().Err(err).Str("job", name).Msg("cron: job failed")
	}
}
