/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package etl

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold splits second from millisecond epochs: anything above
// it is treated as milliseconds.
const epochMillisThreshold = 10_000_000_000

var (
	offsetSuffixRe = regexp.MustCompile(`[+-]\d{4}$`)
	jiraKeyRe      = regexp.MustCompile(`([A-Z]{2,}-\d+)`)
)

// ParseTimestamp parses the timestamp encodings seen across sources: numeric
// epochs (seconds or milliseconds), ISO-8601 with a 4-digit offset suffix
// (Jira's '+0000' style), and Z-suffixed UTC strings. Naive timestamps are
// assumed UTC. Returns nil on anything unparseable; never panics.
func ParseTimestamp(val any) *time.Time {
	switch v := val.(type) {
	case nil:
		return nil
	case time.Time:
		if v.IsZero() {
			return nil
		}
		u := v.UTC()
		return &u
	case int:
		return fromEpoch(int64(v))
	case int64:
		return fromEpoch(v)
	case float64:
		return fromEpoch(int64(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		// ClickUp sends epochs as digit strings
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
		// '+0000' → '+00:00' so RFC3339 parsing accepts it
		if offsetSuffixRe.MatchString(s) {
			s = s[:len(s)-5] + s[len(s)-5:len(s)-2] + ":" + s[len(s)-2:]
		}
		// layouts without a zone parse as UTC, which matches the
		// naive-means-UTC convention
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05.999999999",
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, s); err == nil {
				u := t.UTC()
				return &u
			}
		}
		return nil
	}
	return nil
}

func fromEpoch(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	var t time.Time
	if n > epochMillisThreshold {
		t = time.UnixMilli(n).UTC()
	} else {
		t = time.Unix(n, 0).UTC()
	}
	return &t
}

// Earliest returns the minimum of the given times, nil for an empty slice.
func Earliest(times []time.Time) *time.Time {
	if len(times) == 0 {
		return nil
	}
	min := times[0]
	for _, t := range times[1:] {
		if t.Before(min) {
			min = t
		}
	}
	return &min
}

// MapItemType maps a source-native type name onto the canonical taxonomy by
// case-insensitive substring, falling back to story.
func MapItemType(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "bug"):
		return "bug"
	case strings.Contains(n, "sub-task") || strings.Contains(n, "subtask"):
		return "subtask"
	case strings.Contains(n, "epic"):
		return "epic"
	case strings.Contains(n, "task"):
		return "task"
	default:
		return "story"
	}
}

// ContainsBlocked reports whether the status name or any label mentions a
// blocker ("block" substring, case-insensitive).
func ContainsBlocked(statusName string, labels []string) bool {
	if strings.Contains(strings.ToLower(statusName), "block") {
		return true
	}
	for _, l := range labels {
		if strings.Contains(strings.ToLower(l), "block") {
			return true
		}
	}
	return false
}

// ExtractIssueKeys scans text for referenced issue keys: the built-in
// Jira-style pattern plus any configured named patterns (source → regex).
// Results per source are sorted and de-duplicated; an invalid configured
// pattern is skipped, not an error.
func ExtractIssueKeys(text string, extraPatterns map[string]string) map[string][]string {
	found := map[string][]string{}
	if text == "" {
		return found
	}
	if keys := jiraKeyRe.FindAllString(text, -1); len(keys) > 0 {
		found["jira"] = sortedUnique(keys)
	}
	for src, pat := range extraPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			continue
		}
		var hits []string
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) > 1 {
				hits = append(hits, m[1])
			} else {
				hits = append(hits, m[0])
			}
		}
		if len(hits) > 0 {
			found[src] = sortedUnique(append(found[src], hits...))
		}
	}
	return found
}

func sortedUnique(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ---- loose-map payload accessors ----

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func list(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	l, _ := m[key].([]any)
	return l
}

func strList(m map[string]any, key string) []string {
	raw := list(m, key)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// toFloat coerces JSON numbers and numeric strings; malformed values degrade
// to nil rather than failing the record.
func toFloat(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}
