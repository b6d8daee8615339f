package extractor

import (
	"strings"

	"github.com/deciolog/deciolog/internal/model"
)

// findTextSpan locates verbatim in conversationText by a whitespace-
// normalized, case-insensitive substring search, then maps the match back
// onto character offsets in the original (unnormalized) text. Returns nil
// when verbatim is empty or not found — a missing span is not an error,
// just weaker grounding for that field, reflected by a lower evidence score
// in calibrateConfidence.
func findTextSpan(conversationText, verbatim string, turnIndex int) *model.TextSpan {
	if verbatim == "" || conversationText == "" {
		return nil
	}

	normVerbatim := strings.Join(strings.Fields(verbatim), " ")
	normVerbatimLower := strings.ToLower(normVerbatim)

	start, end, ok := normalizedFind(conversationText, normVerbatimLower)
	if !ok {
		return nil
	}

	return &model.TextSpan{Start: start, End: end, TurnIndex: turnIndex}
}

// normalizedFind searches for needle (already whitespace-normalized and
// lowercased) within text, walking text run-length-collapsing whitespace the
// same way strings.Fields does, and returns offsets into the ORIGINAL text.
func normalizedFind(text, needle string) (start, end int, ok bool) {
	normalized := make([]byte, 0, len(text))
	// origIndex[i] is the original-text byte offset of normalized[i].
	origIndex := make([]int, 0, len(text))

	prevSpace := true
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			if !prevSpace {
				normalized = append(normalized, ' ')
				origIndex = append(origIndex, i)
			}
			prevSpace = true
			continue
		}
		lower := c
		if lower >= 'A' && lower <= 'Z' {
			lower += 'a' - 'A'
		}
		normalized = append(normalized, lower)
		origIndex = append(origIndex, i)
		prevSpace = false
	}
	normalizedStr := strings.TrimSpace(string(normalized))
	// TrimSpace above may have removed a leading placeholder byte; rebuild
	// the index alignment by trimming origIndex to match.
	lead := len(normalized) - len(strings.TrimLeft(string(normalized), " "))
	origIndex = origIndex[lead : lead+len(normalizedStr)]

	idx := strings.Index(normalizedStr, needle)
	if idx == -1 {
		return 0, 0, false
	}
	endIdx := idx + len(needle) - 1
	if endIdx >= len(origIndex) {
		endIdx = len(origIndex) - 1
	}

	return origIndex[idx], origIndex[endIdx] + 1, true
}
