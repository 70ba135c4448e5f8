package etl

import (
	"context"
	"time"

	"github.com/ekesel/cbm/internal/domain"
)

// fakeStore is an in-memory Store keyed like the real one: work items by
// (source, source_id), PRs by pr_id. Upserts reproduce the blocked_since
// transition rules.
type fakeStore struct {
	items  map[string]*domain.WorkItem
	prs    map[string]*domain.PR
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]*domain.WorkItem{}, prs: map[string]*domain.PR{}}
}

func itemKey(source domain.Source, sourceID string) string {
	return string(source) + "/" + sourceID
}

func (f *fakeStore) UpsertWorkItem(_ context.Context, wi domain.WorkItem) (int64, error) {
	key := itemKey(wi.Source, wi.SourceID)
	prev := f.items[key]
	var prevFlag bool
	var prevSince *time.Time
	if prev != nil {
		prevFlag, prevSince = prev.BlockedFlag, prev.BlockedSince
		wi.ID = prev.ID
		wi.LinkedPRs = prev.LinkedPRs
	} else {
		f.nextID++
		wi.ID = f.nextID
	}
	wi.BlockedSince = domain.ResolveBlockedSince(prevFlag, prevSince, wi.BlockedFlag, time.Now().UTC())
	f.items[key] = &wi
	return wi.ID, nil
}

func (f *fakeStore) EnsureWorkItem(_ context.Context, boardID int64, source domain.Source, sourceID, title string, itemType domain.ItemType) (int64, error) {
	key := itemKey(source, sourceID)
	if prev, ok := f.items[key]; ok {
		return prev.ID, nil
	}
	f.nextID++
	f.items[key] = &domain.WorkItem{
		ID: f.nextID, Source: source, SourceID: sourceID, BoardID: boardID,
		Title: title, ItemType: itemType, Status: "backlog",
	}
	return f.nextID, nil
}

func (f *fakeStore) FindWorkItem(_ context.Context, source domain.Source, sourceID string) (*domain.WorkItem, error) {
	wi, ok := f.items[itemKey(source, sourceID)]
	if !ok {
		return nil, nil
	}
	cp := *wi
	return &cp, nil
}

func (f *fakeStore) UpsertPR(_ context.Context, pr domain.PR) (int64, error) {
	if prev, ok := f.prs[pr.PRID]; ok {
		pr.ID = prev.ID
		pr.WorkItemID = prev.WorkItemID
	} else {
		f.nextID++
		pr.ID = f.nextID
	}
	f.prs[pr.PRID] = &pr
	return pr.ID, nil
}

func (f *fakeStore) AttachPR(_ context.Context, prRowID, workItemID int64, link domain.LinkedPR) error {
	for _, pr := range f.prs {
		if pr.ID == prRowID {
			pr.WorkItemID = &workItemID
		}
	}
	for _, wi := range f.items {
		if wi.ID != workItemID {
			continue
		}
		for _, l := range wi.LinkedPRs {
			if l.PRID == link.PRID {
				return nil
			}
		}
		wi.LinkedPRs = append(wi.LinkedPRs, link)
	}
	return nil
}

func (f *fakeStore) get(source domain.Source, sourceID string) *domain.WorkItem {
	return f.items[itemKey(source, sourceID)]
}
