package etl

import (
	"context"
	"testing"
	"time"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/rs/zerolog"
)

func clickupTask(id string, body map[string]any) domain.RawPayload {
	body["id"] = id
	return domain.RawPayload{
		Source:     domain.SourceClickUp,
		BoardID:    2,
		ObjectType: "task",
		ExternalID: id,
		Payload:    body,
	}
}

func TestClickUpNormalize_PointsAndEpochMillis(t *testing.T) {
	store := newFakeStore()
	n := NewClickUpNormalizer(domain.Board{ID: 2, Source: domain.SourceClickUp}, mapping.Config{}, store, zerolog.Nop())

	raw := clickupTask("abc123", map[string]any{
		"name":   "Checkout flow",
		"status": map[string]any{"status": "in progress"},
		// ClickUp sends epoch millis as strings
		"date_created": "1709287200000",
		"assignees": []any{
			map[string]any{"username": "sam"},
			map[string]any{"email": "lee@acme.test"},
		},
		"custom_fields": []any{
			map[string]any{"name": "story points", "value": "3"},
			map[string]any{"name": "Sprint", "value": map[string]any{"id": float64(42)}},
		},
		"list": map[string]any{"id": "L9"},
	})

	if _, err := n.Normalize(context.Background(), []domain.RawPayload{raw}); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	wi := store.get(domain.SourceClickUp, "abc123")
	if wi == nil {
		t.Fatalf("task not stored")
	}
	if wi.StoryPoints == nil || *wi.StoryPoints != 3 {
		t.Fatalf("custom-field points (case-insensitive name) wrong: %v", wi.StoryPoints)
	}
	if wi.SprintID != "42" {
		t.Fatalf("sprint custom field wrong: %q", wi.SprintID)
	}
	if wi.DevOwner != "sam" || len(wi.Assignees) != 2 {
		t.Fatalf("assignees wrong: %q %v", wi.DevOwner, wi.Assignees)
	}
	if wi.CreatedAt == nil {
		t.Fatalf("date_created string millis should parse")
	}
	if wi.StartedAt == nil || !wi.StartedAt.Equal(*wi.CreatedAt) {
		t.Fatalf("started_at should default to created_at")
	}
	if wi.Meta["list_id"] != "L9" {
		t.Fatalf("list id missing from meta: %v", wi.Meta)
	}
}

func TestClickUpNormalize_BugHeuristicAndClose(t *testing.T) {
	store := newFakeStore()
	n := NewClickUpNormalizer(domain.Board{ID: 2, Source: domain.SourceClickUp}, mapping.Config{}, store, zerolog.Nop())

	raw := clickupTask("t2", map[string]any{
		"name":        "Bug: payment fails",
		"status":      map[string]any{"status": "closed"},
		"date_closed": float64(1709287200000),
	})
	if _, err := n.Normalize(context.Background(), []domain.RawPayload{raw}); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	wi := store.get(domain.SourceClickUp, "t2")
	if wi.ItemType != domain.ItemBug {
		t.Fatalf("title mentioning 'bug' should map to bug, got %s", wi.ItemType)
	}
	want := time.UnixMilli(1709287200000).UTC()
	if wi.DoneAt == nil || !wi.DoneAt.Equal(want) || !wi.Closed {
		t.Fatalf("date_closed should set done_at and closed: %v closed=%v", wi.DoneAt, wi.Closed)
	}
}
