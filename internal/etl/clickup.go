/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package etl

import (
	"context"
	"strings"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/rs/zerolog"
)

// ClickUpNormalizer maps ClickUp task payloads. ClickUp exposes no changelog
// here, so started_at defaults to created_at, and the item type is a title
// heuristic (no richer native taxonomy available).
type ClickUpNormalizer struct {
	board           domain.Board
	pointsFieldName string
	store           Store
	log             zerolog.Logger
}

func NewClickUpNormalizer(board domain.Board, cfg mapping.Config, store Store, log zerolog.Logger) *ClickUpNormalizer {
	return &ClickUpNormalizer{
		board:           board,
		pointsFieldName: strings.ToLower(cfg.ClickUpPointsFieldName()),
		store:           store,
		log:             log,
	}
}

func (n *ClickUpNormalizer) pointsFromCustom(customFields []any) *float64 {
	for _, cf0 := range customFields {
		cf := asMap(cf0)
		if strings.ToLower(str(cf, "name")) == n.pointsFieldName {
			return toFloat(cf["value"])
		}
	}
	return nil
}

func (n *ClickUpNormalizer) Normalize(ctx context.Context, raws []domain.RawPayload) (int, error) {
	count := 0
	for _, rp := range raws {
		if rp.Source != domain.SourceClickUp || rp.ObjectType != "task" {
			continue
		}
		t := rp.Payload

		tid := str(t, "id")
		if tid == "" {
			n.log.Debug().Int64("raw", rp.ID).Msg("clickup task without id skipped")
			continue
		}

		title := str(t, "name")
		if title == "" {
			title = "Untitled"
		}
		statusName := str(asMap(t["status"]), "status")
		if statusName == "" {
			statusName = "backlog"
		}
		itype := domain.ItemStory
		if strings.Contains(strings.ToLower(title), "bug") {
			itype = domain.ItemBug
		}

		var assignees []string
		for _, a0 := range list(t, "assignees") {
			a := asMap(a0)
			name := str(a, "username")
			if name == "" {
				name = str(a, "email")
			}
			if name == "" {
				name = anyToString(a["id"])
			}
			if name != "" {
				assignees = append(assignees, name)
			}
		}
		devOwner := ""
		if len(assignees) > 0 {
			devOwner = assignees[0]
		}

		createdAt := ParseTimestamp(t["date_created"])
		doneAt := ParseTimestamp(t["date_closed"])

		customFields := list(t, "custom_fields")
		storyPoints := n.pointsFromCustom(customFields)

		// sprint best-effort from a custom field named Sprint/Iteration
		sprintID := ""
		for _, cf0 := range customFields {
			cf := asMap(cf0)
			name := strings.ToLower(str(cf, "name"))
			if name != "sprint" && name != "iteration" {
				continue
			}
			if v := asMap(cf["value"]); v != nil {
				sprintID = anyToString(v["id"])
			} else {
				sprintID = anyToString(cf["value"])
			}
			break
		}

		wi := domain.WorkItem{
			Source:      domain.SourceClickUp,
			SourceID:    tid,
			BoardID:     n.board.ID,
			Title:       title,
			ItemType:    itype,
			StoryPoints: storyPoints,
			SprintID:    sprintID,
			ClientID:    n.board.ClientID,
			Assignees:   assignees,
			DevOwner:    devOwner,
			Status:      statusName,
			CreatedAt:   createdAt,
			StartedAt:   createdAt,
			DoneAt:      doneAt,
			Closed:      doneAt != nil,
			Meta:        map[string]any{"list_id": str(asMap(t["list"]), "id")},
		}
		if _, err := n.store.UpsertWorkItem(ctx, wi); err != nil {
			return count, err
		}
		count++
	}
	n.log.Debug().Int64("board", n.board.ID).Int("items", count).Msg("clickup normalize pass done")
	return count, nil
}
