// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Verdict is the parsed form of a model reply.
type Verdict struct {
	Resolved bool
	Detail   string
}

// verdictDetailMax caps details so wake lines and store records stay short.
const verdictDetailMax = 200

var finalJSONRe = regexp.MustCompile(`(?is)FINAL_JSON\s*:\s*(\{.*\})`)

// ParseVerdict turns a free-form model reply into a verdict. It prefers the
// structured FINAL_JSON trailer, falls back to the legacy YES/NO prefix
// form, and treats everything else, malformed input included, as still
// watching. It never fails.
func ParseVerdict(reply string) Verdict {
	text := strings.TrimSpace(reply)
	if text == "" {
		return Verdict{Detail: "Empty response"}
	}

	if m := finalJSONRe.FindStringSubmatch(text); m != nil {
		if v, ok := parseFinalJSON(text, m[1]); ok {
			return v
		}
		// Malformed JSON falls through to the legacy form.
	}

	if rest, ok := cutPrefixToken(text, "YES", false); ok {
		if rest == "" {
			rest = "Condition met"
		}
		return Verdict{Resolved: true, Detail: clampDetail(rest)}
	}

	if rest, ok := cutPrefixToken(text, "NO", true); ok {
		if rest == "" {
			rest = "Condition not yet met"
		}
		return Verdict{Detail: clampDetail(rest)}
	}

	return Verdict{Detail: clampDetail(text)}
}

func parseFinalJSON(full, raw string) (Verdict, bool) {
	var payload struct {
		Decision string `json:"decision"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Verdict{}, false
	}

	detail := strings.TrimSpace(payload.Summary)
	if detail == "" {
		detail = full
	}
	return Verdict{
		Resolved: strings.EqualFold(strings.TrimSpace(payload.Decision), "resolved"),
		Detail:   clampDetail(detail),
	}, true
}

// cutPrefixToken matches replies whose first token starts with prefix,
// case-insensitively, and returns the text after the prefix and an optional
// colon or comma. With strict set, the prefix must be followed by
// punctuation or whitespace: "NO" must not swallow "NOTHING yet", while a
// reply whose first token merely starts with YES still resolves.
func cutPrefixToken(text, prefix string, strict bool) (string, bool) {
	n := len(prefix)
	if len(text) < n || !strings.EqualFold(text[:n], prefix) {
		return "", false
	}

	rest := text[n:]
	if strict && rest != "" {
		switch rest[0] {
		case ':', ',', ' ', '\t', '\n', '\r':
		default:
			return "", false
		}
	}

	rest = strings.TrimLeft(rest, " \t")
	rest = strings.TrimPrefix(rest, ":")
	rest = strings.TrimPrefix(rest, ",")
	return strings.TrimSpace(rest), true
}

func clampDetail(s string) string {
	r := []rune(s)
	if len(r) <= verdictDetailMax {
		return s
	}
	return string(r[:verdictDetailMax])
}
