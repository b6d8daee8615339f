package extractor

import (
	"fmt"
	"strings"
)

// rawDecision is the shape an extraction-prompt JSON response unmarshals
// into, before defaults/validation/calibration turn it into a
// model.DecisionTrace. Field names match the prompt's JSON schema exactly.
type rawDecision struct {
	Trigger           string   `json:"trigger"`
	Context           string   `json:"context"`
	Options           []string `json:"options"`
	Decision          string   `json:"decision"`
	Rationale         string   `json:"rationale"`
	Confidence        float64  `json:"confidence"`
	Scope             string   `json:"scope"`
	Assumptions       []string `json:"assumptions"`
	VerbatimTrigger   string   `json:"verbatim_trigger"`
	VerbatimDecision  string   `json:"verbatim_decision"`
	VerbatimRationale string   `json:"verbatim_rationale"`
	TurnIndex         *int     `json:"turn_index"`

	// RawConfidence preserves the model's pre-calibration confidence once
	// Confidence has been overwritten with the calibrated value.
	RawConfidence float64 `json:"-"`
	// VerifyRejected is set by the verify pass; checked by the validation
	// gate so a rejected decision never reaches the caller.
	VerifyRejected bool `json:"-"`
}

// applyDefaults fills in zero-value fields with the same placeholders the
// extraction prompt's few-shot examples establish, so a decision missing a
// field from a sparse LLM response doesn't panic or silently compare equal
// to an empty string everywhere downstream.
func applyDefaults(d rawDecision) rawDecision {
	if strings.TrimSpace(d.Trigger) == "" {
		d.Trigger = "Unknown trigger"
	}
	if strings.TrimSpace(d.Rationale) == "" {
		d.Rationale = ""
	}
	if d.Confidence == 0 {
		d.Confidence = 0.5
	}
	if d.Options == nil {
		d.Options = []string{}
	}
	return d
}

// knownExampleTriggers are lowercased few-shot example trigger strings; the
// first is the example trigger in decisionExtractionPrompt. A response
// returning one verbatim means the model hallucinated an example instead of
// extracting from the real conversation.
var knownExampleTriggers = map[string]bool{
	"need to select a database for the project": true,
	"need to choose frontend framework":         true,
	"need to choose a styling approach":         true,
	"need for better type safety in component":  true,
}

// isValidDecision is the strict validation gate applied after extraction,
// gleaning, retry, and verify. All criteria must pass.
func isValidDecision(d rawDecision) (bool, string) {
	decisionText := strings.TrimSpace(d.Decision)
	triggerText := strings.TrimSpace(d.Trigger)

	if knownExampleTriggers[strings.ToLower(triggerText)] {
		return false, fmt.Sprintf("trigger matches known few-shot example (hallucination): %q", triggerText)
	}
	if decisionText == "" {
		return false, "empty decision field"
	}
	if len(decisionText) < 10 {
		return false, fmt.Sprintf("decision too short (%d chars): %q", len(decisionText), decisionText)
	}
	if triggerText == "" {
		return false, "empty trigger field"
	}
	if triggerText == "Unknown trigger" {
		return false, "trigger is placeholder 'Unknown trigger'"
	}
	if d.Confidence < 0.3 {
		return false, fmt.Sprintf("confidence too low (%.2f < 0.3)", d.Confidence)
	}
	return true, ""
}

// completenessScore is the fraction of {trigger, context, options, decision,
// rationale} that carries substantive content (at least 20 chars, or >5 chars
// for at least one option). A score below 0.6 triggers the gleaning pass.
func completenessScore(d rawDecision) float64 {
	const minChars = 20
	filled := 0
	for _, f := range []string{d.Trigger, d.Context, d.Decision, d.Rationale} {
		if len(strings.TrimSpace(f)) >= minChars {
			filled++
		}
	}
	for _, o := range d.Options {
		if len(o) > 5 {
			filled++
			break
		}
	}
	return float64(filled) / 5.0
}
