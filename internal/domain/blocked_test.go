package domain

import (
	"testing"
	"time"
)

func TestResolveBlockedSince(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-48 * time.Hour)

	// false -> true: anchor at now
	if got := ResolveBlockedSince(false, nil, true, now); got == nil || !got.Equal(now) {
		t.Fatalf("new block should anchor at now: %v", got)
	}
	// true -> true: keep the original anchor
	if got := ResolveBlockedSince(true, &earlier, true, now); got == nil || !got.Equal(earlier) {
		t.Fatalf("existing anchor must be preserved: %v", got)
	}
	// true -> false: clear
	if got := ResolveBlockedSince(true, &earlier, false, now); got != nil {
		t.Fatalf("unblocking must clear the anchor: %v", got)
	}
	// false -> false: stays nil
	if got := ResolveBlockedSince(false, nil, false, now); got != nil {
		t.Fatalf("never-blocked item has no anchor: %v", got)
	}
	// blocked flag was set but anchor lost (legacy rows): re-anchor at now
	if got := ResolveBlockedSince(true, nil, true, now); got == nil || !got.Equal(now) {
		t.Fatalf("anchorless blocked row should re-anchor: %v", got)
	}
}
