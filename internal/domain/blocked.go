package domain

import "time"

// ResolveBlockedSince decides the new blocked_since anchor given the stored
// state and the freshly-normalized blocked flag. The anchor is set on the
// false→true transition, preserved while still blocked, cleared on unblock.
// Callers must run this inside the same transaction that re-reads the stored
// row under a lock, or concurrent normalization runs can diverge.
func ResolveBlockedSince(prevFlag bool, prevSince *time.Time, nowBlocked bool, now time.Time) *time.Time {
	if !nowBlocked {
		return nil
	}
	if prevFlag && prevSince != nil {
		return prevSince
	}
	return &now
}
