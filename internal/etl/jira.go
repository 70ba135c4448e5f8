/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package etl

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/rs/zerolog"
)

// JiraNormalizer maps Jira issue payloads (fields.* plus expanded changelog)
// onto canonical work items. Step timestamps come from the earliest changelog
// transition into each configured status list.
type JiraNormalizer struct {
	board       domain.Board
	pointsField string
	cfg         mapping.Config
	store       Store
	log         zerolog.Logger
}

func NewJiraNormalizer(board domain.Board, cfg mapping.Config, store Store, log zerolog.Logger) *JiraNormalizer {
	return &JiraNormalizer{
		board:       board,
		pointsField: cfg.JiraPointsField(),
		cfg:         cfg,
		store:       store,
		log:         log,
	}
}

// statusTime finds the earliest changelog entry whose status transition
// landed on any of the target names (case-insensitive).
func statusTime(issue map[string]any, targets []string) *time.Time {
	if len(targets) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		wanted[strings.ToLower(t)] = struct{}{}
	}
	var hits []time.Time
	for _, h0 := range list(asMap(issue["changelog"]), "histories") {
		h := asMap(h0)
		when := ParseTimestamp(h["created"])
		if when == nil {
			continue
		}
		for _, it0 := range list(h, "items") {
			it := asMap(it0)
			if str(it, "field") != "status" {
				continue
			}
			if _, ok := wanted[strings.ToLower(str(it, "toString"))]; ok {
				hits = append(hits, *when)
			}
		}
	}
	return Earliest(hits)
}

func (n *JiraNormalizer) Normalize(ctx context.Context, raws []domain.RawPayload) (int, error) {
	count := 0
	for _, rp := range raws {
		if rp.Source != domain.SourceJira || rp.ObjectType != "issue" {
			continue
		}
		issue := rp.Payload
		fields := asMap(issue["fields"])

		key := str(issue, "key")
		if key == "" {
			key = str(issue, "id")
		}
		if key == "" {
			// mandatory id missing; skip, not fatal
			n.log.Debug().Int64("raw", rp.ID).Msg("jira issue without key skipped")
			continue
		}

		title := str(fields, "summary")
		if title == "" {
			title = "Untitled"
		}
		itype := domain.ItemType(MapItemType(str(asMap(fields["issuetype"]), "name")))

		assignee := asMap(fields["assignee"])
		var assignees []string
		for _, k := range []string{"displayName", "emailAddress", "accountId"} {
			if v := str(assignee, k); v != "" {
				assignees = append(assignees, v)
				break
			}
		}
		devOwner := ""
		if len(assignees) > 0 {
			devOwner = assignees[0]
		}

		storyPoints := toFloat(fields[n.pointsField])
		sprintID := jiraSprintID(fields)

		statusName := str(asMap(fields["status"]), "name")
		labels := strList(fields, "labels")
		priority := str(asMap(fields["priority"]), "name")

		createdAt := ParseTimestamp(fields["created"])
		resolutionDate := ParseTimestamp(fields["resolutiondate"])

		devStartedAt := statusTime(issue, n.cfg.JiraStatusStep("dev_started"))
		devDoneAt := statusTime(issue, n.cfg.JiraStatusStep("dev_done"))
		readyForQAAt := statusTime(issue, n.cfg.JiraStatusStep("ready_for_qa"))
		qaStartedAt := statusTime(issue, n.cfg.JiraStatusStep("qa_started"))
		qaVerifiedAt := statusTime(issue, n.cfg.JiraStatusStep("qa_verified"))
		signedOffAt := statusTime(issue, n.cfg.JiraStatusStep("signed_off"))
		readyForUATAt := statusTime(issue, n.cfg.JiraStatusStep("ready_for_uat"))
		deployedUATAt := statusTime(issue, n.cfg.JiraStatusStep("deployed_uat"))
		doneAt := resolutionDate
		if doneAt == nil {
			doneAt = statusTime(issue, n.cfg.JiraStatusStep("done"))
		}

		startedAt := devStartedAt
		if startedAt == nil {
			startedAt = createdAt
		}
		if statusName == "" {
			statusName = "backlog"
		}

		var parentID *int64
		if parentKey := str(asMap(fields["parent"]), "key"); parentKey != "" {
			pid, err := n.store.EnsureWorkItem(ctx, n.board.ID, domain.SourceJira, parentKey, "Parent "+parentKey, domain.ItemStory)
			if err != nil {
				return count, err
			}
			parentID = &pid
		}

		wi := domain.WorkItem{
			Source:        domain.SourceJira,
			SourceID:      key,
			BoardID:       n.board.ID,
			Title:         title,
			Description:   str(fields, "description"),
			ItemType:      itype,
			StoryPoints:   storyPoints,
			SprintID:      sprintID,
			ClientID:      n.board.ClientID,
			Assignees:     assignees,
			DevOwner:      devOwner,
			Status:        statusName,
			CreatedAt:     createdAt,
			StartedAt:     startedAt,
			DevStartedAt:  devStartedAt,
			DevDoneAt:     devDoneAt,
			ReadyForQAAt:  readyForQAAt,
			QAStartedAt:   qaStartedAt,
			QAVerifiedAt:  qaVerifiedAt,
			SignedOffAt:   signedOffAt,
			ReadyForUATAt: readyForUATAt,
			DeployedUATAt: deployedUATAt,
			DoneAt:        doneAt,
			Closed:        doneAt != nil,
			BlockedFlag:   ContainsBlocked(statusName, labels),
			ParentID:      parentID,
			Meta: map[string]any{
				"project":  str(asMap(fields["project"]), "key"),
				"priority": priority,
				"labels":   labels,
			},
		}
		if _, err := n.store.UpsertWorkItem(ctx, wi); err != nil {
			return count, err
		}
		count++
	}
	n.log.Debug().Int64("board", n.board.ID).Int("items", count).Msg("jira normalize pass done")
	return count, nil
}

// jiraSprintID pulls a sprint identifier from the sprint field: an object,
// or a list where the last entry wins.
func jiraSprintID(fields map[string]any) string {
	if sprint := asMap(fields["sprint"]); sprint != nil {
		if id := anyToString(sprint["id"]); id != "" {
			return id
		}
		return str(sprint, "name")
	}
	sprints := list(fields, "sprint")
	if sprints == nil {
		sprints = list(fields, "customfield_10020")
	}
	if len(sprints) == 0 {
		return ""
	}
	last := sprints[len(sprints)-1]
	if m := asMap(last); m != nil {
		return anyToString(m["id"])
	}
	return anyToString(last)
}

func anyToString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		// JSON numbers; sprint ids are integral
		return strconv.FormatInt(int64(x), 10)
	}
	return ""
}
