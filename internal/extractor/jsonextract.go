package extractor

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	jsonCodeBlockRE = regexp.MustCompile("(?s)```(?:json)?\\s*([\\[{].*?[\\]}])\\s*```")
	jsonArrayRE     = regexp.MustCompile(`(?s)\[.*\]`)
	jsonObjectRE    = regexp.MustCompile(`(?s)\{.*\}`)
)

// ErrNoJSON is returned when a model response contains no recoverable JSON.
var ErrNoJSON = errors.New("extractor: no valid JSON found in response")

// extractJSONText pulls a JSON value out of an LLM response, tolerating the
// three shapes models commonly wrap structured output in: a bare JSON value,
// a ```json fenced code block, or prose with a JSON array/object embedded in
// it. preferArray controls which bare-bracket scan runs first when the
// response isn't already valid JSON on its own.
func extractJSONText(response string, preferArray bool) (string, error) {
	trimmed := strings.TrimSpace(response)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	if m := jsonCodeBlockRE.FindStringSubmatch(trimmed); len(m) > 1 {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	scans := []*regexp.Regexp{jsonObjectRE, jsonArrayRE}
	if preferArray {
		scans = []*regexp.Regexp{jsonArrayRE, jsonObjectRE}
	}
	for _, re := range scans {
		if m := re.FindString(trimmed); m != "" && json.Valid([]byte(m)) {
			return m, nil
		}
	}

	return "", ErrNoJSON
}

// extractJSONList extracts a JSON array from response into dst ([]T). A
// bare JSON object is promoted to a single-element list, matching the
// defensive dict-to-list handling LLM extraction prompts need since models
// occasionally return one object instead of the requested array.
func extractJSONList(response string, dst any) error {
	text, err := extractJSONText(response, true)
	if err != nil {
		return err
	}
	if strings.HasPrefix(text, "{") {
		text = "[" + text + "]"
	}
	return json.Unmarshal([]byte(text), dst)
}

// extractJSONObject extracts a JSON object from response into dst (*T).
func extractJSONObject(response string, dst any) error {
	text, err := extractJSONText(response, false)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(text), dst)
}
