package retrieval

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// errNoJSON mirrors internal/analyzer's and internal/extractor's
// identically-named error; duplicated rather than exported across the
// package boundary for a ~20-line response-shape tolerance helper used by
// each package's own LLM call.
var errNoJSON = errors.New("retrieval: no valid JSON found in response")

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
