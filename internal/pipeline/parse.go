package pipeline

import (
	"encoding/json"
	"strings"
)

// stripFences removes a surrounding markdown code fence from a model
// response. Models asked for "ONLY valid JSON" still fence it often
// enough that parsing the body directly is worth it.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeModelJSON unmarshals a model response into v after stripping
// fences. It returns the parse error instead of failing so callers can
// record a degraded result.
func decodeModelJSON(response string, v any) error {
	return json.Unmarshal([]byte(stripFences(response)), v)
}

// mustJSON renders v as indented JSON for inclusion in a prompt. Values
// passed here are built from model output and local structs, so a
// marshal failure indicates a programming error.
func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
