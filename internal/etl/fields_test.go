package etl

import (
	"testing"
	"time"

	"github.com/ekesel/cbm/internal/domain"
)

func TestParseTimestamp_EpochSecondsAndMillisAgree(t *testing.T) {
	sec := ParseTimestamp(int64(1699999999))
	ms := ParseTimestamp(int64(1699999999000))
	if sec == nil || ms == nil {
		t.Fatalf("expected both epochs to parse, got %v / %v", sec, ms)
	}
	if !sec.Equal(*ms) {
		t.Fatalf("seconds and millis should land on the same instant: %v vs %v", sec, ms)
	}
	if f := ParseTimestamp(float64(1699999999000)); f == nil || !f.Equal(*ms) {
		t.Fatalf("float64 epoch should parse identically, got %v", f)
	}
}

func TestParseTimestamp_JiraOffsetSuffix(t *testing.T) {
	a := ParseTimestamp("2024-03-01T10:00:00.000+0000")
	b := ParseTimestamp("2024-03-01T10:00:00Z")
	if a == nil || b == nil {
		t.Fatalf("expected both forms to parse, got %v / %v", a, b)
	}
	if !a.Equal(*b) {
		t.Fatalf("'+0000' and 'Z' should be the same instant: %v vs %v", a, b)
	}
	c := ParseTimestamp("2024-03-01T13:30:00.000+0330")
	if c == nil || !c.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("non-UTC offset mishandled: %v", c)
	}
}

func TestParseTimestamp_NaiveMeansUTC(t *testing.T) {
	got := ParseTimestamp("2024-03-01 10:00:00")
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("naive timestamp should be UTC: got %v", got)
	}
	if d := ParseTimestamp("2024-03-01"); d == nil || !d.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date-only should parse at midnight UTC: %v", d)
	}
}

func TestParseTimestamp_GarbageIsNil(t *testing.T) {
	for _, v := range []any{nil, "", "  ", "not-a-date", "13/01/2024", int64(0), int64(-5), time.Time{}, []any{"x"}} {
		if got := ParseTimestamp(v); got != nil {
			t.Fatalf("expected nil for %#v, got %v", v, got)
		}
	}
}

func TestEarliest(t *testing.T) {
	if Earliest(nil) != nil {
		t.Fatalf("empty slice should be nil")
	}
	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if got := Earliest([]time.Time{t1, t2, t3}); got == nil || !got.Equal(t2) {
		t.Fatalf("expected %v, got %v", t2, got)
	}
}

func TestMapItemType(t *testing.T) {
	cases := map[string]string{
		"Bug":          "bug",
		"Defect bug":   "bug",
		"Sub-task":     "subtask",
		"Subtask":      "subtask",
		"Epic":         "epic",
		"Task":         "task",
		"Story":        "story",
		"User Story":   "story",
		"Improvement":  "story",
		"":             "story",
	}
	for in, want := range cases {
		if got := MapItemType(in); got != want {
			t.Fatalf("MapItemType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContainsBlocked(t *testing.T) {
	if !ContainsBlocked("Blocked", nil) {
		t.Fatalf("status 'Blocked' should flag")
	}
	if !ContainsBlocked("In Progress", []string{"release", "BLOCKER"}) {
		t.Fatalf("label 'BLOCKER' should flag")
	}
	if ContainsBlocked("In Progress", []string{"backend"}) {
		t.Fatalf("clean item flagged")
	}
}

func TestExtractIssueKeys_JiraAndConfiguredPatterns(t *testing.T) {
	text := "PROJ-12 fixes PROJ-12 and AB-3; see cu-8675309 too"
	found := ExtractIssueKeys(text, map[string]string{
		"clickup": `cu-(\d+)`,
		"broken":  `[`,
	})
	jira := found["jira"]
	if len(jira) != 2 || jira[0] != "AB-3" || jira[1] != "PROJ-12" {
		t.Fatalf("jira keys wrong: %v", jira)
	}
	if cu := found["clickup"]; len(cu) != 1 || cu[0] != "8675309" {
		t.Fatalf("clickup capture group wrong: %v", cu)
	}
	if _, ok := found["broken"]; ok {
		t.Fatalf("invalid pattern should be skipped, not matched")
	}
	if got := ExtractIssueKeys("", nil); len(got) != 0 {
		t.Fatalf("empty text should return nothing, got %v", got)
	}
}

func TestToFloat(t *testing.T) {
	if f := toFloat(float64(3.5)); f == nil || *f != 3.5 {
		t.Fatalf("float64 not passed through: %v", f)
	}
	if f := toFloat("5"); f == nil || *f != 5 {
		t.Fatalf("numeric string not coerced: %v", f)
	}
	for _, v := range []any{"", "  ", "abc", nil, true} {
		if f := toFloat(v); f != nil {
			t.Fatalf("expected nil for %#v, got %v", v, *f)
		}
	}
}

func TestExternalID(t *testing.T) {
	cases := []struct {
		name    string
		source  domain.Source
		payload map[string]any
		want    string
	}{
		{"jira key", domain.SourceJira, map[string]any{"key": "PROJ-7", "id": "10001"}, "PROJ-7"},
		{"jira id fallback", domain.SourceJira, map[string]any{"id": "10001"}, "10001"},
		{"clickup", domain.SourceClickUp, map[string]any{"id": "86czkq"}, "86czkq"},
		{"azure numeric id", domain.SourceAzure, map[string]any{"id": float64(521)}, "521"},
		{"github pr", domain.SourceGitHub, map[string]any{
			"repo": map[string]any{"owner": "acme", "name": "shop"},
			"pr":   map[string]any{"number": float64(12)},
		}, "acme/shop#12"},
		{"github incomplete", domain.SourceGitHub, map[string]any{
			"pr": map[string]any{"number": float64(12)},
		}, ""},
		{"unknown shape", domain.SourceJira, map[string]any{}, ""},
	}
	for _, c := range cases {
		if got := ExternalID(c.source, c.payload); got != c.want {
			t.Fatalf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}
