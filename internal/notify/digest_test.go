package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ekesel/cbm/internal/domain"
)

type fakeTicketStore struct {
	tickets   []domain.RemediationTicket
	sourceIDs map[int64]string
}

func (f *fakeTicketStore) ListOpenTickets(_ context.Context, boardID int64) ([]domain.RemediationTicket, error) {
	var out []domain.RemediationTicket
	for _, rt := range f.tickets {
		if rt.BoardID == boardID && rt.Status != domain.TicketDone {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (f *fakeTicketStore) ListRecentOpenTickets(_ context.Context, boardID int64, since time.Time) ([]domain.RemediationTicket, error) {
	var out []domain.RemediationTicket
	for _, rt := range f.tickets {
		if rt.BoardID != boardID || rt.Status == domain.TicketDone {
			continue
		}
		if rt.CreatedAt.Before(since) && rt.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, rt)
	}
	return out, nil
}

func (f *fakeTicketStore) WorkItemSourceIDs(_ context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range ids {
		if sid, ok := f.sourceIDs[id]; ok {
			out[id] = sid
		}
	}
	return out, nil
}

func (f *fakeTicketStore) MarkTicketsNotified(context.Context, int64, time.Time, time.Time) error {
	return nil
}

var digestBoard = domain.Board{ID: 1, Name: "Alpha"}

func ticket(id, wiID int64, rule domain.RuleCode, at time.Time) domain.RemediationTicket {
	var wp *int64
	if wiID > 0 {
		wp = &wiID
	}
	return domain.RemediationTicket{
		ID: id, BoardID: 1, WorkItemID: wp, RuleCode: rule,
		Status: domain.TicketOpen, CreatedAt: at, UpdatedAt: at,
	}
}

func TestCollectForBoard_GroupsRecentByRule(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-3 * time.Hour)

	store := &fakeTicketStore{
		tickets: []domain.RemediationTicket{
			ticket(1, 11, domain.RuleMissingPoints, recent),
			ticket(2, 12, domain.RuleMissingPoints, recent),
			ticket(3, 13, domain.RuleStuckInDev, recent),
			ticket(4, 14, domain.RuleStuckInQA, old), // outside the window
			ticket(5, 0, domain.RuleBlockedSLA, recent),
		},
		sourceIDs: map[int64]string{11: "PROJ-11", 12: "PROJ-12", 13: "PROJ-13"},
	}
	channel := domain.NotificationChannel{ID: 1, BoardID: 1, IsActive: true}

	groups, err := CollectForBoard(context.Background(), store, digestBoard, channel, 60, now)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 rule groups, got %v", groups)
	}
	mp := groups[string(domain.RuleMissingPoints)]
	if mp == nil || mp.Count != 2 || len(mp.Samples) != 2 {
		t.Fatalf("MISSING_POINTS group wrong: %+v", mp)
	}
	if mp.Samples[0] != "PROJ-11" && mp.Samples[1] != "PROJ-11" {
		t.Fatalf("samples should carry source ids: %v", mp.Samples)
	}
	// board-level ticket has no work item; sample degrades to n/a
	bs := groups[string(domain.RuleBlockedSLA)]
	if bs == nil || len(bs.Samples) != 1 || bs.Samples[0] != "n/a" {
		t.Fatalf("nil work item should sample as n/a: %+v", bs)
	}
	if _, ok := groups[string(domain.RuleStuckInQA)]; ok {
		t.Fatalf("ticket outside the window must not appear")
	}
}

func TestCollectForBoard_RuleAllowList(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-5 * time.Minute)
	store := &fakeTicketStore{
		tickets: []domain.RemediationTicket{
			ticket(1, 11, domain.RuleMissingPoints, recent),
			ticket(2, 12, domain.RuleBlockedSLA, recent),
		},
		sourceIDs: map[int64]string{11: "PROJ-11", 12: "PROJ-12"},
	}
	channel := domain.NotificationChannel{ID: 1, BoardID: 1, Rules: []string{string(domain.RuleBlockedSLA)}}

	groups, err := CollectForBoard(context.Background(), store, digestBoard, channel, 60, now)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("allow-list should filter rules: %v", groups)
	}
	if groups[string(domain.RuleBlockedSLA)] == nil {
		t.Fatalf("allowed rule missing: %v", groups)
	}
}

func TestCollectForBoard_FallbackToTopOpenRules(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	var tickets []domain.RemediationTicket
	id := int64(1)
	add := func(rule domain.RuleCode, n int) {
		for i := 0; i < n; i++ {
			tickets = append(tickets, ticket(id, 100+id, rule, old))
			id++
		}
	}
	add(domain.RuleMissingPoints, 4)
	add(domain.RuleStuckInDev, 3)
	add(domain.RuleWaitingForQA, 2)
	add(domain.RuleStuckInQA, 2)
	add(domain.RuleBlockedNoReason, 1)
	add(domain.RulePRRequired, 1)

	store := &fakeTicketStore{tickets: tickets, sourceIDs: map[int64]string{}}
	channel := domain.NotificationChannel{ID: 1, BoardID: 1}

	groups, err := CollectForBoard(context.Background(), store, digestBoard, channel, 60, now)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(groups) != 5 {
		t.Fatalf("fallback should cap at top 5 rules, got %d", len(groups))
	}
	if g := groups[string(domain.RuleMissingPoints)]; g == nil || g.Count != 4 {
		t.Fatalf("biggest rule should survive the cut: %+v", g)
	}
	// ties rank alphabetically; BLOCKED_NO_REASON beats PR_REQUIRED at count 1
	if _, ok := groups[string(domain.RulePRRequired)]; ok {
		t.Fatalf("lowest-ranked rule should be cut: %v", groups)
	}
	if _, ok := groups[string(domain.RuleBlockedNoReason)]; !ok {
		t.Fatalf("tie should break alphabetically: %v", groups)
	}
}

func TestCollectForBoard_EmptyBoard(t *testing.T) {
	store := &fakeTicketStore{sourceIDs: map[int64]string{}}
	channel := domain.NotificationChannel{ID: 1, BoardID: 1}
	groups, err := CollectForBoard(context.Background(), store, digestBoard, channel, 60, time.Now().UTC())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("clean board should produce no groups: %v", groups)
	}
}

func TestRemediationCard(t *testing.T) {
	groups := map[string]*RuleGroup{
		string(domain.RuleMissingPoints): {Rule: string(domain.RuleMissingPoints), Count: 2, Samples: []string{"PROJ-1", "PROJ-2"}},
		string(domain.RuleBlockedSLA):    {Rule: string(domain.RuleBlockedSLA), Count: 1, Samples: []string{"PROJ-3"}},
	}
	card := RemediationCard("Alpha", Summary(groups), groups, "https://cbm.acme.test/admin/boards/1/tickets")

	if card["@type"] != "MessageCard" || card["themeColor"] != "E81123" {
		t.Fatalf("card envelope wrong: %v", card)
	}
	if card["summary"] != "3 remediation alert(s)" {
		t.Fatalf("summary wrong: %v", card["summary"])
	}
	title, _ := card["title"].(string)
	if !strings.Contains(title, "Alpha") {
		t.Fatalf("title should name the board: %q", title)
	}
	sections, _ := card["sections"].([]map[string]any)
	if len(sections) != 2 {
		t.Fatalf("expected facts + text sections: %v", card["sections"])
	}
	facts, _ := sections[0]["facts"].([]map[string]any)
	if len(facts) != 2 {
		t.Fatalf("one fact per rule: %v", facts)
	}
	// rules render sorted, BLOCKED_SLA first
	if facts[0]["name"] != string(domain.RuleBlockedSLA) || facts[0]["value"] != "1 issues" {
		t.Fatalf("fact ordering/format wrong: %v", facts[0])
	}
	actions, _ := card["potentialAction"].([]map[string]any)
	if len(actions) != 1 || actions[0]["@type"] != "OpenUri" {
		t.Fatalf("admin deep link missing: %v", actions)
	}

	bare := RemediationCard("Alpha", Summary(groups), groups, "")
	if acts, _ := bare["potentialAction"].([]map[string]any); len(acts) != 0 {
		t.Fatalf("no admin url means no action: %v", acts)
	}
}
