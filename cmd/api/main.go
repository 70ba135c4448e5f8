/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ekesel/cbm/internal/adapters/teams"
	"github.com/ekesel/cbm/internal/config"
	"github.com/ekesel/cbm/internal/http"
	"github.com/ekesel/cbm/internal/jobs"
	"github.com/ekesel/cbm/internal/logger"
	"github.com/ekesel/cbm/internal/repo"
	"github.com/ekesel/cbm/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()

	repository := repo.NewRepository(db, log)
	sink := teams.NewClient(cfg.HTTPTimeout, log)
	svc := services.New(cfg, log, repository, sink)

	router := http.NewRouter(cfg, log, svc)

	cron := jobs.NewCron(cfg, log, svc, repository)
	cron.Start()
	defer cron.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// let in-flight handlers drain
	time.Sleep(500 * time.Millisecond)
}
