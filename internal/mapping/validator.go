/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package mapping

import (
	"fmt"
	"regexp"
	"strings"
)

// Issue is one validation finding, addressed by config path.
type Issue struct {
	Path string `json:"path"`
	Msg  string `json:"msg"`
}

// Result of validating a candidate mapping config. OK is true iff Errors is
// empty; warnings never block activation.
type Result struct {
	OK         bool    `json:"ok"`
	Errors     []Issue `json:"errors"`
	Warnings   []Issue `json:"warnings"`
	Normalized Config  `json:"normalized"`
}

var requiredKeys = map[string][]string{
	"jira":    {"points_field", "status_map"},
	"clickup": {"points_field_name"},
	"azure":   {"points_field"},
	"github":  {"link_patterns"},
}

var thresholdKeys = []string{
	"max_dev_days_without_progress", "max_ready_for_qa_days", "max_qa_days",
}

// Validate checks a candidate mapping config before activation. Structural
// problems become errors; coverage gaps (an unmapped canonical step, a status
// name reused across steps) become warnings.
func Validate(cfg Config) Result {
	var errors, warnings []Issue
	if cfg == nil {
		cfg = Config{}
	}
	addErr := func(path, msg string) { errors = append(errors, Issue{Path: path, Msg: msg}) }
	addWarn := func(path, msg string) { warnings = append(warnings, Issue{Path: path, Msg: msg}) }

	for _, section := range []string{"jira", "clickup", "azure", "github"} {
		sec, present := cfg[section]
		if !present {
			addErr(section, fmt.Sprintf("Missing '%s' section", section))
			continue
		}
		secMap, _ := sec.(map[string]any)
		for _, k := range requiredKeys[section] {
			if _, ok := secMap[k]; !ok {
				addErr(section+"."+k, fmt.Sprintf("Missing '%s'", k))
			}
		}
	}

	// jira
	jira, _ := cfg["jira"].(map[string]any)
	if v, ok := jira["points_field"]; ok {
		if _, isStr := v.(string); !isStr {
			addErr("jira.points_field", "Must be a string (e.g., customfield_10016)")
		}
	}
	if rawSM, ok := jira["status_map"]; ok {
		statusMap, isMap := rawSM.(map[string]any)
		if !isMap {
			addErr("jira.status_map", "Must be an object of arrays")
		} else {
			for _, step := range CanonicalSteps {
				vals, present := statusMap[step]
				if !present {
					addWarn("jira.status_map."+step, "Not mapped — timestamps for this step won't be set")
					continue
				}
				if !nonEmptyStringList(vals) {
					addErr("jira.status_map."+step, "Must be a non-empty list of status names")
				}
			}
			// a status name appearing in two steps is ambiguous for step timing
			seen := map[string]string{}
			for step, raw := range statusMap {
				arr, isList := raw.([]any)
				if !isList {
					addErr("jira.status_map."+step, "Must be a list")
					continue
				}
				for _, v := range arr {
					s, _ := v.(string)
					key := strings.ToLower(strings.TrimSpace(s))
					if key == "" {
						addErr("jira.status_map."+step, "Empty status string")
						continue
					}
					if prev, dup := seen[key]; dup && prev != step {
						addWarn("jira.status_map", fmt.Sprintf("Status '%s' appears in multiple steps: %s and %s", s, prev, step))
					} else {
						seen[key] = step
					}
				}
			}
		}
	}

	// clickup / azure
	if cu, _ := cfg["clickup"].(map[string]any); cu != nil {
		if v, ok := cu["points_field_name"]; ok {
			if _, isStr := v.(string); !isStr {
				addErr("clickup.points_field_name", "Must be a string (custom field display name)")
			}
		}
	}
	if az, _ := cfg["azure"].(map[string]any); az != nil {
		if v, ok := az["points_field"]; ok {
			if _, isStr := v.(string); !isStr {
				addErr("azure.points_field", "Must be a string (e.g., Microsoft.VSTS.Scheduling.StoryPoints)")
			}
		}
	}

	// github
	if gh, _ := cfg["github"].(map[string]any); gh != nil {
		if rawLP, ok := gh["link_patterns"]; ok {
			patterns, isMap := rawLP.(map[string]any)
			if !isMap {
				addErr("github.link_patterns", "Must be an object (name -> regex string)")
			} else {
				for name, raw := range patterns {
					pat, isStr := raw.(string)
					if !isStr {
						addErr("github.link_patterns."+name, "Must be a regex string")
						continue
					}
					if _, err := regexp.Compile(pat); err != nil {
						addErr("github.link_patterns."+name, fmt.Sprintf("Invalid regex: %v", err))
					}
				}
			}
		}
	}

	// validator thresholds (optional section)
	if rawV, present := cfg["validator"]; present {
		validator, isMap := rawV.(map[string]any)
		if !isMap {
			addErr("validator", "Must be an object with numeric thresholds")
		} else {
			for _, k := range thresholdKeys {
				v, ok := validator[k]
				if !ok {
					continue
				}
				n, isNum := asNumber(v)
				if !isNum || n < 0 {
					addErr("validator."+k, "Must be a non-negative number")
				}
			}
		}
	}

	return Result{OK: len(errors) == 0, Errors: errors, Warnings: warnings, Normalized: cfg}
}

func nonEmptyStringList(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return false
	}
	for _, x := range arr {
		s, isStr := x.(string)
		if !isStr || strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
