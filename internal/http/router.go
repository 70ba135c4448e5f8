/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"github.com/ekesel/cbm/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc service) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, svc)

	r.GET("/healthz", h.Healthz)

	admin := r.Group("/admin")
	admin.GET("/last-run", h.LastRun)
	admin.POST("/run", h.RunNow)
	admin.POST("/boards/:id/run", h.RunBoard)
	admin.POST("/boards/:id/validate", h.ValidateBoard)
	admin.POST("/boards/:id/backfill-blocked", h.BackfillBlockedSince)
	admin.GET("/boards/:id/tickets", h.ListTickets)
	admin.POST("/boards/:id/raw", h.IngestRaw)
	admin.POST("/mappings/validate", h.ValidateMapping)

	return r
}
