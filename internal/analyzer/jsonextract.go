package analyzer

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// errNoJSON mirrors internal/extractor's ErrNoJSON; duplicated rather than
// exported across the package boundary for a ~20-line response-shape
// tolerance helper used identically by both packages' LLM calls.
var errNoJSON = errors.New("analyzer: no valid JSON found in response")

var (
	jsonCodeBlockRE = regexp.MustCompile("(?s)```(?:json)?\\s*([\\[{].*?[\\]}])\\s*```")
	jsonObjectRE    = regexp.MustCompile(`(?s)\{.*\}`)
)

// extractJSONObject pulls a JSON object out of an LLM response, tolerating a
// bare object, a ```json fenced block, or prose with an object embedded.
func extractJSONObject(response string, dst any) error {
	trimmed := strings.TrimSpace(response)
	if json.Valid([]byte(trimmed)) {
		return json.Unmarshal([]byte(trimmed), dst)
	}
	if m := jsonCodeBlockRE.FindStringSubmatch(trimmed); len(m) > 1 {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.Unmarshal([]byte(candidate), dst)
		}
	}
	if m := jsonObjectRE.FindString(trimmed); m != "" && json.Valid([]byte(m)) {
		return json.Unmarshal([]byte(m), dst)
	}
	return errNoJSON
}
