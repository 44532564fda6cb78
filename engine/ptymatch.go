// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"fmt"
	"regexp"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
)

const (
	// ptyTailLines is how much terminal history is fetched per check.
	ptyTailLines = 50

	// ptyMatchLines is how many trailing lines patterns are matched
	// against. Older output is only used for match context.
	ptyMatchLines = 30

	// ptyContextLines is how many lines around a match are quoted.
	ptyContextLines = 2
)

// compilePatterns compiles agent supplied patterns case-insensitively in
// multiline mode. Invalid patterns are logged and skipped; the agent still
// gets vision evaluation even if its shortcuts are broken.
func compilePatterns(logger hclog.Logger, raw []string) []compiledPattern {
	var compiled []compiledPattern
	for _, p := range raw {
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			logger.Warn("skipping invalid pty pattern", "pattern", p, "error", err)
			continue
		}
		compiled = append(compiled, compiledPattern{raw: p, re: re})
	}
	return compiled
}

// tryPtyMatch checks terminal output against the job's patterns, then for
// the criteria text itself. A non-empty result resolves the wait without a
// model call.
func tryPtyMatch(output, criteria string, patterns []compiledPattern) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}

	lines := strings.Split(output, "\n")
	tail := lines
	if len(tail) > ptyMatchLines {
		tail = tail[len(tail)-ptyMatchLines:]
	}
	tailText := strings.Join(tail, "\n")

	for _, p := range patterns {
		match := p.re.FindString(tailText)
		if match == "" {
			continue
		}
		result := fmt.Sprintf("Regex matched '%s': %s", p.raw, match)
		if context := matchContext(lines, match); context != match {
			result += " | Context: " + context
		}
		return result
	}

	if criteria != "" && strings.Contains(strings.ToLower(tailText), strings.ToLower(criteria)) {
		return fmt.Sprintf("Output matched '%s'", criteria)
	}

	return ""
}

// matchContext returns a few lines around the first line containing the
// match, joined so the result stays a single line.
func matchContext(lines []string, match string) string {
	for i, line := range lines {
		if strings.Contains(line, match) {
			start := i - ptyContextLines
			if start < 0 {
				start = 0
			}
			end := i + ptyContextLines + 1
			if end > len(lines) {
				end = len(lines)
			}
			return strings.Join(lines[start:end], " | ")
		}
	}
	return match
}
