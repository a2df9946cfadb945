package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Models wrap JSON in markdown fences, lead with prose, or trail with
// commentary. The helpers below pull the payload out anyway; callers
// decide what a missing payload means.

// extractJSONBlock extracts the contents of the first ``` fenced block,
// with or without a language tag.
func extractJSONBlock(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return ""
	}
	rest := s[start+3:]
	nl := strings.Index(rest, "\n")
	if nl == -1 {
		return ""
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// extractJSONObject extracts the first brace-balanced JSON object from a
// string.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// extractJSONArray extracts the first bracket-balanced JSON array from a
// string.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// decodeObject finds the first JSON object in a model reply and
// unmarshals it into v. A fenced block wins over bare braces. On a type
// mismatch encoding/json still fills the fields it could, so callers may
// salvage partial results from v even when an error comes back.
func decodeObject(reply string, v interface{}) error {
	raw := extractJSONBlock(reply)
	if !strings.HasPrefix(raw, "{") {
		raw = extractJSONObject(reply)
	}
	if raw == "" {
		return fmt.Errorf("no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	return nil
}

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)

// parseStringList reads a JSON string array out of a model reply. When
// no parseable array is present it falls back to one entry per line,
// stripping list markers and quotes.
func parseStringList(reply string) []string {
	raw := extractJSONBlock(reply)
	if !strings.HasPrefix(raw, "[") {
		raw = extractJSONArray(reply)
	}
	if raw != "" {
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err == nil {
			return dropLong(cleanStrings(arr), 200)
		}
	}

	// Line fallback. Lines with an explicit list marker win over bare
	// lines so surrounding prose does not leak in.
	var all, marked []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		stripped := strings.Trim(listMarker.ReplaceAllString(line, ""), `",`)
		if listMarker.MatchString(line) {
			marked = append(marked, stripped)
		}
		all = append(all, stripped)
	}
	if len(marked) > 0 {
		return dropLong(cleanStrings(marked), 200)
	}
	return dropLong(cleanStrings(all), 200)
}

// cleanStrings trims entries and drops blanks.
func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// dropLong removes entries longer than max characters. Anything that
// long in a query list is leaked prose, not a query.
func dropLong(in []string, max int) []string {
	out := in[:0]
	for _, s := range in {
		if len(s) <= max {
			out = append(out, s)
		}
	}
	return out
}

// truncateString truncates a string to maxLen characters.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// tailStrings returns at most the last n entries of in.
func tailStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}
