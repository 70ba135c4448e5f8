package domain

import (
	"bytes"
	"encoding/json"
)

// TicketNeedsRefresh decides whether a live remediation ticket must be
// rewritten in place after a rule re-evaluation. Messages compare verbatim.
// Meta compares per rule-provided key, through the canonical JSON encoding
// so int/float and storage round-trips do not register as changes. Keys the
// rule does not provide (such as notification stamps) are ignored here and
// must be preserved by the writer.
func TicketNeedsRefresh(curMessage, newMessage string, curMeta, newMeta map[string]any) bool {
	if curMessage != newMessage {
		return true
	}
	for k, v := range newMeta {
		cv, ok := curMeta[k]
		if !ok || !jsonValueEqual(cv, v) {
			return true
		}
	}
	return false
}

func jsonValueEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
