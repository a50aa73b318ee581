package jsonutils

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	reFence         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ExtractJSON tries to extract a JSON block from LLM output.
//
// Input that is already valid JSON is returned as is, string contents
// included. Otherwise, in priority order:
// 1. Triple-backtick fenced ```json ... ``` block
// 2. The outermost {...} or [...] span, whichever opens first
//
// Only when neither yields valid JSON are invisible Unicode characters and
// trailing commas before a closing brace or bracket removed. The result is
// not guaranteed to be valid JSON.
func ExtractJSON(input string) string {
	input = strings.TrimSpace(input)
	if json.Valid([]byte(input)) {
		return input
	}
	if candidate := locate(input); json.Valid([]byte(candidate)) {
		return candidate
	}

	// Remove BOMs and invisible control characters
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\uFEFF' || r == '\u200B' || r == '\u200C' || r == '\u200D' {
			return -1 // skip
		}
		return r
	}, input))
	candidate := locate(cleaned)
	if !json.Valid([]byte(candidate)) {
		candidate = reTrailingComma.ReplaceAllString(candidate, "$1")
	}
	return strings.TrimSpace(candidate)
}

// locate picks the JSON candidate inside surrounding prose: a fenced block
// that parses, else the outermost span, else the first fenced block.
func locate(input string) string {
	fenced := ""
	if match := reFence.FindStringSubmatch(input); len(match) > 1 {
		fenced = strings.TrimSpace(match[1])
		if json.Valid([]byte(fenced)) {
			return fenced
		}
	}
	if span := outermostSpan(input); span != "" {
		if json.Valid([]byte(span)) || fenced == "" {
			return span
		}
	}
	if fenced != "" {
		return fenced
	}
	return input
}

// outermostSpan returns input from the first '{' or '[' to the last matching closer.
func outermostSpan(input string) string {
	start := strings.IndexAny(input, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if input[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(input, closer)
	if end <= start {
		return ""
	}
	return strings.TrimSpace(input[start : end+1])
}

// Unwrap converts a JSON string literal holding JSON into that inner JSON.
// Any other valid JSON document is returned unchanged.
func Unwrap(raw json.RawMessage) (json.RawMessage, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw, json.Valid(raw)
	}
	inner := ExtractJSON(s)
	if !json.Valid([]byte(inner)) {
		return nil, false
	}
	return json.RawMessage(inner), true
}

// ToJSON serializes a Go value to a JSON string with indentation.
// Returns an empty string if serialization fails.
func ToJSON(v interface{}) string {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(bytes))
}
