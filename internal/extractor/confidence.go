package extractor

import (
	"strings"

	"github.com/deciolog/deciolog/internal/model"
)

// calibrateConfidence applies the data-driven composite calibration:
//
//	calibrated = raw*0.4 + completeness*0.3 + evidence*0.2 + source*0.1
//
// Every term is computable from the extraction output alone — no labeled
// ground truth required. completeness is completenessScore(d); evidence
// measures whether the verbatim quote actually grounds in the source text;
// source reflects how faithfully the rationale's provenance was captured
// (thinking block > user message > inferred from assistant prose).
func calibrateConfidence(d rawDecision, author model.RationaleAuthor, conversationText string) float64 {
	completeness := completenessScore(d)
	evidence := evidenceScore(d, conversationText)
	source := sourceScore(author)

	calibrated := d.Confidence*0.4 + completeness*0.3 + evidence*0.2 + source*0.1
	if calibrated < 0 {
		calibrated = 0
	}
	if calibrated > 1 {
		calibrated = 1
	}
	return round3(calibrated)
}

func evidenceScore(d rawDecision, conversationText string) float64 {
	verbatim := d.VerbatimDecision
	if verbatim == "" {
		verbatim = d.VerbatimTrigger
	}
	if verbatim == "" || conversationText == "" {
		return 0.35
	}

	normVerbatim := strings.ToLower(strings.Join(strings.Fields(verbatim), " "))
	normText := strings.ToLower(strings.Join(strings.Fields(conversationText), " "))

	if strings.Contains(normText, normVerbatim) {
		return 1.0
	}

	words := strings.Fields(normVerbatim)
	if len(words) == 0 {
		return 0.2
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(normText, w) {
			hits++
		}
	}
	if float64(hits)/float64(len(words)) >= 0.6 {
		return 0.5
	}
	return 0.2
}

func sourceScore(author model.RationaleAuthor) float64 {
	switch author {
	case model.RationaleThinking:
		return 1.0
	case model.RationaleUser:
		return 0.85
	default:
		return 0.6
	}
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
