// Copyright 2026 The reconctl Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package severity classifies a finding entry into one of five ordered
// levels via ordered regex dictionaries with a state-based fallback. The
// function is pure, total and deterministic for a given pattern set.
package severity

import (
	"regexp"
	"strings"
)

// Level is one of the five totally-ordered severity levels.
type Level string

const (
	Critical Level = "critical"
	High     Level = "high"
	Medium   Level = "medium"
	Low      Level = "low"
	Info     Level = "info"
)

// Levels enumerates the cascade order; earlier entries win over later ones.
var Levels = []Level{Critical, High, Medium, Low, Info}

// textFields is the fixed, ordered field list concatenated into the text
// the pattern cascade scans.
var textFields = []string{
	"script_output", "output", "msg", "message", "description", "reason",
	"state", "detail",
}

// Fields is the subset of a finding entry the classifier reads from.
// Keys match textFields; absent keys are simply omitted.
type Fields map[string]string

func (f Fields) text() string {
	parts := make([]string, 0, len(textFields))
	for _, k := range textFields {
		if v, ok := f[k]; ok && v != "" {
			parts = append(parts, strings.ToLower(v))
		}
	}
	return strings.Join(parts, " ")
}

func (f Fields) state() string {
	return strings.ToLower(f["state"])
}

// Classify returns the severity level for entry, extending the built-in
// pattern cascade with any caller-supplied patterns (which are appended to,
// never replace, the built-in lists for their level).
func Classify(entry Fields, extra map[Level][]string) Level {
	state := entry.state()
	if state == "filtered" || state == "open|filtered" {
		return Low
	}

	text := entry.text()

	for _, level := range Levels {
		for _, re := range builtinPatterns[level] {
			if re.MatchString(text) {
				return level
			}
		}
		for _, pattern := range extra[level] {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				continue
			}
			if re.MatchString(text) {
				return level
			}
		}
	}

	if state == "open" {
		return Medium
	}

	return Info
}
