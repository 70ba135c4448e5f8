package etl

import (
	"context"
	"testing"
	"time"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/rs/zerolog"
)

func azureItem(id float64, fields map[string]any) domain.RawPayload {
	return domain.RawPayload{
		Source:     domain.SourceAzure,
		BoardID:    3,
		ObjectType: "work_item",
		Payload:    map[string]any{"id": id, "rev": float64(7), "fields": fields},
	}
}

func TestAzureNormalize_SystemFields(t *testing.T) {
	store := newFakeStore()
	n := NewAzureNormalizer(domain.Board{ID: 3, Source: domain.SourceAzure}, mapping.Config{}, store, zerolog.Nop())

	raw := azureItem(101, map[string]any{
		"System.Title":        "Harden API",
		"System.WorkItemType": "User Story",
		"System.State":        "Active",
		"System.AssignedTo":   map[string]any{"displayName": "Rae Chen", "uniqueName": "rae@acme.test"},
		"System.CreatedDate":  "2024-02-01T08:00:00Z",
		"System.IterationPath": `Acme\Sprint 12`,
		"Microsoft.VSTS.Scheduling.StoryPoints": float64(8),
	})

	if _, err := n.Normalize(context.Background(), []domain.RawPayload{raw}); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	wi := store.get(domain.SourceAzure, "101")
	if wi == nil {
		t.Fatalf("work item not stored")
	}
	if wi.ItemType != domain.ItemStory || wi.Status != "Active" {
		t.Fatalf("type/status wrong: %s %s", wi.ItemType, wi.Status)
	}
	if wi.DevOwner != "Rae Chen" {
		t.Fatalf("identity object displayName not used: %q", wi.DevOwner)
	}
	if wi.StoryPoints == nil || *wi.StoryPoints != 8 {
		t.Fatalf("story points wrong: %v", wi.StoryPoints)
	}
	if wi.SprintID != `Acme\Sprint 12` {
		t.Fatalf("iteration path should be kept verbatim: %q", wi.SprintID)
	}
	if wi.DoneAt != nil || wi.Closed {
		t.Fatalf("open item should not be closed")
	}
}

func TestAzureNormalize_ClosedDateFallbackAndStringAssignee(t *testing.T) {
	store := newFakeStore()
	n := NewAzureNormalizer(domain.Board{ID: 3, Source: domain.SourceAzure}, mapping.Config{}, store, zerolog.Nop())

	raw := azureItem(102, map[string]any{
		"System.Title":        "Old bug",
		"System.WorkItemType": "Bug",
		"System.State":        "Closed",
		"System.AssignedTo":   "legacy.user@acme.test",
		"System.ClosedDate":   "2024-02-20T16:00:00Z",
	})
	if _, err := n.Normalize(context.Background(), []domain.RawPayload{raw}); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	wi := store.get(domain.SourceAzure, "102")
	if wi.ItemType != domain.ItemBug {
		t.Fatalf("Bug should map to bug, got %s", wi.ItemType)
	}
	if wi.DevOwner != "legacy.user@acme.test" {
		t.Fatalf("plain-string AssignedTo not handled: %q", wi.DevOwner)
	}
	want := time.Date(2024, 2, 20, 16, 0, 0, 0, time.UTC)
	if wi.DoneAt == nil || !wi.DoneAt.Equal(want) || !wi.Closed {
		t.Fatalf("System.ClosedDate fallback wrong: %v closed=%v", wi.DoneAt, wi.Closed)
	}
}
