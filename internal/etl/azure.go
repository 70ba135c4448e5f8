/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package etl

import (
	"context"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/rs/zerolog"
)

// AzureNormalizer maps Azure Boards work-item payloads (fields."System.*").
// The iteration path string is kept verbatim as the sprint id.
type AzureNormalizer struct {
	board       domain.Board
	pointsField string
	store       Store
	log         zerolog.Logger
}

func NewAzureNormalizer(board domain.Board, cfg mapping.Config, store Store, log zerolog.Logger) *AzureNormalizer {
	return &AzureNormalizer{
		board:       board,
		pointsField: cfg.AzurePointsField(),
		store:       store,
		log:         log,
	}
}

func (n *AzureNormalizer) Normalize(ctx context.Context, raws []domain.RawPayload) (int, error) {
	count := 0
	for _, rp := range raws {
		if rp.Source != domain.SourceAzure || rp.ObjectType != "work_item" {
			continue
		}
		wiRaw := rp.Payload
		fields := asMap(wiRaw["fields"])

		wid := anyToString(wiRaw["id"])
		if wid == "" {
			n.log.Debug().Int64("raw", rp.ID).Msg("azure work item without id skipped")
			continue
		}

		title := str(fields, "System.Title")
		if title == "" {
			title = "Untitled"
		}
		itype := domain.ItemType(MapItemType(str(fields, "System.WorkItemType")))
		statusName := str(fields, "System.State")
		if statusName == "" {
			statusName = "backlog"
		}

		// AssignedTo is a structured identity object or a plain string
		var assignees []string
		switch assigned := fields["System.AssignedTo"].(type) {
		case map[string]any:
			name := str(assigned, "displayName")
			if name == "" {
				name = str(assigned, "uniqueName")
			}
			if name != "" {
				assignees = append(assignees, name)
			}
		case string:
			if assigned != "" {
				assignees = append(assignees, assigned)
			}
		}
		devOwner := ""
		if len(assignees) > 0 {
			devOwner = assignees[0]
		}

		storyPoints := toFloat(fields[n.pointsField])
		createdAt := ParseTimestamp(fields["System.CreatedDate"])
		closedAt := ParseTimestamp(fields["Microsoft.VSTS.Common.ClosedDate"])
		if closedAt == nil {
			closedAt = ParseTimestamp(fields["System.ClosedDate"])
		}

		wi := domain.WorkItem{
			Source:      domain.SourceAzure,
			SourceID:    wid,
			BoardID:     n.board.ID,
			Title:       title,
			ItemType:    itype,
			StoryPoints: storyPoints,
			SprintID:    str(fields, "System.IterationPath"),
			ClientID:    n.board.ClientID,
			Assignees:   assignees,
			DevOwner:    devOwner,
			Status:      statusName,
			CreatedAt:   createdAt,
			StartedAt:   createdAt, // no changelog access here
			DoneAt:      closedAt,
			Closed:      closedAt != nil,
			Meta:        map[string]any{"rev": wiRaw["rev"]},
		}
		if _, err := n.store.UpsertWorkItem(ctx, wi); err != nil {
			return count, err
		}
		count++
	}
	n.log.Debug().Int64("board", n.board.ID).Int("items", count).Msg("azure normalize pass done")
	return count, nil
}
