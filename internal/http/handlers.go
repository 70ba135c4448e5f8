/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ekesel/cbm/internal/config"
	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type service interface {
	RunAllBoards(ctx context.Context) (int, error)
	RunBoard(ctx context.Context, boardID int64) error
	NormalizeBoard(ctx context.Context, boardID int64) (int, error)
	IngestRaw(ctx context.Context, boardID int64, objectType string, payloads []map[string]any) (int, error)
	ValidateBoard(ctx context.Context, boardID int64) (map[domain.RuleCode]int, error)
	BackfillBlockedSince(ctx context.Context, boardID int64) (int, error)
	ListOpenTickets(ctx context.Context, boardID int64) ([]domain.RemediationTicket, error)
	GetLastRun(ctx context.Context) (*domain.JobRun, error)
	ValidateMappingConfig(cfg map[string]any) mapping.Result
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.svc.GetLastRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lr)
}

// RunNow queues a full pipeline pass, detached from the request context so a
// client timeout cannot cancel it mid-board.
func (h *Handlers) RunNow(c *gin.Context) {
	go func() { _, _ = h.svc.RunAllBoards(context.Background()) }()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) RunBoard(c *gin.Context) {
	id, ok := h.boardID(c)
	if !ok {
		return
	}
	go func() { _ = h.svc.RunBoard(context.Background(), id) }()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "board_id": id})
}

// ValidateBoard runs the rule battery synchronously and returns per-rule
// violation counts.
func (h *Handlers) ValidateBoard(c *gin.Context) {
	id, ok := h.boardID(c)
	if !ok {
		return
	}
	counts, err := h.svc.ValidateBoard(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"board_id": id, "violations": counts})
}

func (h *Handlers) BackfillBlockedSince(c *gin.Context) {
	id, ok := h.boardID(c)
	if !ok {
		return
	}
	n, err := h.svc.BackfillBlockedSince(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"board_id": id, "backfilled": n})
}

// IngestRaw receives a batch of raw records for a board. The body names the
// object type once; normalizers decide per record whether it applies.
func (h *Handlers) IngestRaw(c *gin.Context) {
	id, ok := h.boardID(c)
	if !ok {
		return
	}
	var body struct {
		ObjectType string           `json:"object_type"`
		Records    []map[string]any `json:"records"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if body.ObjectType == "" || len(body.Records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "object_type and records are required"})
		return
	}
	n, err := h.svc.IngestRaw(c.Request.Context(), id, body.ObjectType, body.Records)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"board_id": id, "stored": n})
}

// ListTickets is the digest card's deep-link target.
func (h *Handlers) ListTickets(c *gin.Context) {
	id, ok := h.boardID(c)
	if !ok {
		return
	}
	tickets, err := h.svc.ListOpenTickets(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"board_id": id, "tickets": tickets})
}

// ValidateMapping dry-runs a candidate mapping config document. 200 with
// ok=false means the document parsed but failed validation; activation is a
// separate step.
func (h *Handlers) ValidateMapping(c *gin.Context) {
	var doc map[string]any
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	res := h.svc.ValidateMappingConfig(doc)
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) boardID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid board id"})
		return 0, false
	}
	return id, true
}
