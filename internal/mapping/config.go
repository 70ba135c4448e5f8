/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package mapping

import "strings"

// Config is the active mapping/validator document, resolved once per
// operation and passed into every normalizer and rule invocation. Sections
// and keys may be absent; every accessor degrades to a built-in default.
type Config map[string]any

// Canonical pipeline steps populated from the Jira status map, in flow order.
var CanonicalSteps = []string{
	"dev_started", "dev_done", "ready_for_qa", "qa_started", "qa_verified",
	"signed_off", "ready_for_uat", "deployed_uat", "done",
}

// Process-wide defaults for validator thresholds when the active config's
// validator section is silent.
const (
	DefaultMaxDevDays        = 4
	DefaultMaxReadyForQADays = 2
	DefaultMaxQADays         = 3
	DefaultSLABlockedHours   = 48
)

func (c Config) get(path ...string) any {
	var node any = map[string]any(c)
	for _, key := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[key]
		if node == nil {
			return nil
		}
	}
	return node
}

func (c Config) str(def string, path ...string) string {
	if s, ok := c.get(path...).(string); ok && s != "" {
		return s
	}
	return def
}

func (c Config) num(def float64, path ...string) float64 {
	switch v := c.get(path...).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func (c Config) stringList(path ...string) []string {
	raw, ok := c.get(path...).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c Config) numMap(path ...string) map[string]float64 {
	raw, ok := c.get(path...).(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		}
	}
	return out
}

// ---- jira ----

func (c Config) JiraPointsField() string {
	return c.str("customfield_10016", "jira", "points_field")
}

// JiraStatusStep returns the source status names mapped to one canonical step.
func (c Config) JiraStatusStep(step string) []string {
	return c.stringList("jira", "status_map", step)
}

// ---- clickup / azure / github ----

func (c Config) ClickUpPointsFieldName() string {
	return c.str("Story Points", "clickup", "points_field_name")
}

func (c Config) AzurePointsField() string {
	return c.str("Microsoft.VSTS.Scheduling.StoryPoints", "azure", "points_field")
}

// GitHubLinkPatterns returns configured named regex patterns (source → pattern).
func (c Config) GitHubLinkPatterns() map[string]string {
	raw, ok := c.get("github", "link_patterns").(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// ---- validator thresholds ----

func (c Config) MaxDevDays() int {
	return int(c.num(DefaultMaxDevDays, "validator", "max_dev_days_without_progress"))
}

func (c Config) MaxReadyForQADays() int {
	return int(c.num(DefaultMaxReadyForQADays, "validator", "max_ready_for_qa_days"))
}

func (c Config) MaxQADays() int {
	return int(c.num(DefaultMaxQADays, "validator", "max_qa_days"))
}

func (c Config) IgnoreSubtasks() bool {
	if b, ok := c.get("validator", "ignore_when_subtask").(bool); ok {
		return b
	}
	return true
}

func (c Config) RequirePointsTypes() map[string]struct{} {
	return typeSet(c.stringList("validator", "require_points_for_types"),
		"story", "bug", "task")
}

func (c Config) RequirePRTypes() map[string]struct{} {
	return typeSet(c.stringList("validator", "require_pr_for_types"),
		"story", "bug", "task")
}

func (c Config) PRStatusKeywords() []string {
	if kw := c.stringList("validator", "pr_required_when_status_contains"); kw != nil {
		for i := range kw {
			kw[i] = strings.ToLower(kw[i])
		}
		return kw
	}
	return []string{"review", "qa", "test", "done"}
}

// ---- sla ----

func (c Config) SLABlockedHours() int {
	return int(c.num(DefaultSLABlockedHours, "sla", "blocked_hours"))
}

func (c Config) SLAByPriority() map[string]float64 { return c.numMap("sla", "by_priority") }

func (c Config) SLAByType() map[string]float64 { return c.numMap("sla", "by_type") }

func typeSet(configured []string, defaults ...string) map[string]struct{} {
	vals := configured
	if len(vals) == 0 {
		vals = defaults
	}
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}
