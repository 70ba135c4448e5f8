/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package notify

import (
	"fmt"
	"sort"
	"strings"
)

// RemediationCard builds the Teams MessageCard document handed to the
// delivery sink: one fact per rule plus a sample line, and an optional
// deep-link action.
func RemediationCard(boardName, summary string, groups map[string]*RuleGroup, adminURL string) map[string]any {
	rules := make([]string, 0, len(groups))
	for r := range groups {
		rules = append(rules, r)
	}
	sort.Strings(rules)

	facts := make([]map[string]any, 0, len(rules))
	var textLines []string
	for _, r := range rules {
		g := groups[r]
		facts = append(facts, map[string]any{"name": g.Rule, "value": fmt.Sprintf("%d issues", g.Count)})
		if len(g.Samples) > 0 {
			samples := g.Samples
			if len(samples) > maxSamplesPerRule {
				samples = samples[:maxSamplesPerRule]
			}
			textLines = append(textLines, fmt.Sprintf("**%s** — e.g. %s", g.Rule, strings.Join(samples, ", ")))
		}
	}
	text := "See Admin for details."
	if len(textLines) > 0 {
		text = strings.Join(textLines, "\n")
	}

	card := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"summary":    summary,
		"themeColor": "E81123",
		"title":      fmt.Sprintf("⚠️ Remediation Alerts — %s", boardName),
		"sections": []map[string]any{
			{"activityTitle": summary, "facts": facts, "markdown": true},
			{"text": text, "markdown": true},
		},
		"potentialAction": []map[string]any{},
	}
	if adminURL != "" {
		card["potentialAction"] = []map[string]any{{
			"@type": "OpenUri", "name": "Open Admin",
			"targets": []map[string]any{{"os": "default", "uri": adminURL}},
		}}
	}
	return card
}

// Summary renders the one-line card summary for a set of groups.
func Summary(groups map[string]*RuleGroup) string {
	total := 0
	for _, g := range groups {
		total += g.Count
	}
	return fmt.Sprintf("%d remediation alert(s)", total)
}
