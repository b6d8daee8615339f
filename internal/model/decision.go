package model

import (
	"time"

	"github.com/google/uuid"
)

// Scope classifies how long a decision stays relevant before it is
// considered stale; it indexes the half-life table in scope.go.
type Scope string

const (
	ScopeStrategic     Scope = "strategic"
	ScopeArchitectural Scope = "architectural"
	ScopeLibrary       Scope = "library"
	ScopeConfig        Scope = "config"
	ScopeOperational   Scope = "operational"
	ScopeUnknown       Scope = "unknown"
)

// Source identifies where a decision originated. Agent-initiated decisions
// (via the Remember operation) carry the form "agent:<name>".
type Source string

const (
	SourceClaudeLogs Source = "claude_logs"
	SourceInterview  Source = "interview"
	SourceManual     Source = "manual"
	SourceUnknown    Source = "unknown"
)

// AgentSource builds the "agent:<name>" source value used by the Agent
// Context Service's Remember operation.
func AgentSource(name string) Source {
	return Source("agent:" + name)
}

// RationaleAuthor records which part of the conversation the decision's
// rationale was grounded on, in descending order of fidelity.
type RationaleAuthor string

const (
	RationaleThinking  RationaleAuthor = "thinking"
	RationaleUser      RationaleAuthor = "user"
	RationaleAssistant RationaleAuthor = "assistant"
)

// TextSpan locates a verbatim quote within the source conversation: a
// character offset range plus the turn it falls in, so the offsets survive
// independently of any later re-rendering of the conversation text.
type TextSpan struct {
	Start     int `json:"start"`
	End       int `json:"end"`
	TurnIndex int `json:"turn_index"`
}

// Provenance records how a DecisionTrace was produced: which extraction
// pass, which model and prompt version, and which message triggered it.
type Provenance struct {
	SourceType       Source  `json:"source_type"`
	SourcePath       string  `json:"source_path"`
	Model            string  `json:"model"`
	PromptVersion    string  `json:"prompt_version"`
	ExtractionMethod string  `json:"extraction_method"` // e.g. "core", "gleaned", "retried"
	CreatedBy        string  `json:"created_by"`        // extractor version or "agent:<name>"
	MessageIndex     int     `json:"message_index"`
	Confidence       float64 `json:"confidence"`
}

// DecisionTrace is the central node of the graph: a single extracted
// decision, its alternatives, its rationale, and its provenance.
//
// Confidence is always the calibrated value. RawConfidence is the
// pre-calibration model output, kept for analysis and verify/refine
// thresholding. DecisionTrace is immutable once saved except through the
// update operation, which bumps EditedAt/EditCount and invalidates caches.
type DecisionTrace struct {
	ID uuid.UUID `json:"id"`

	Trigger         string `json:"trigger"`
	Context         string `json:"context"`
	AgentDecision   string `json:"agent_decision"`
	AgentRationale  string `json:"agent_rationale"`
	Options         []string `json:"options"` // ordered, >= 1 entry

	Confidence    float64 `json:"confidence"`
	RawConfidence float64 `json:"raw_confidence"`

	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	EditCount int        `json:"edit_count"`

	Source      Source  `json:"source"`
	UserID      uuid.UUID `json:"user_id"`
	ProjectName *string `json:"project_name,omitempty"`
	Scope       Scope   `json:"scope"`

	VerbatimTrigger   *string   `json:"verbatim_trigger,omitempty"`
	VerbatimTriggerSpan   *TextSpan `json:"verbatim_trigger_span,omitempty"`
	VerbatimDecision  *string   `json:"verbatim_decision,omitempty"`
	VerbatimDecisionSpan  *TextSpan `json:"verbatim_decision_span,omitempty"`
	VerbatimRationale *string   `json:"verbatim_rationale,omitempty"`
	VerbatimRationaleSpan *TextSpan `json:"verbatim_rationale_span,omitempty"`

	RawRationale     string          `json:"raw_rationale"` // episode thinking-block text
	RationaleAuthor  RationaleAuthor `json:"rationale_author"`
	Assumptions      []string        `json:"assumptions,omitempty"`

	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`
	Embedding      []float32  `json:"embedding,omitempty"`

	TurnIndex  *int       `json:"turn_index,omitempty"`
	Provenance Provenance `json:"provenance"`

	// VerifyRejected is set by the verify/refine pass and checked by the
	// validation gate; it is never persisted once the gate drops the
	// decision.
	VerifyRejected bool `json:"-"`

	// ToolCallPaths carries the episode's tool-call ground-truth file
	// paths through to the Graph Writer's AFFECTS step (confidence 1.0).
	ToolCallPaths []string `json:"-"`
}

// CompletenessScore is the fraction of {trigger, context, options, decision,
// rationale} that is filled: each text field counts once it has at least 20
// characters, and options counts once it has any entry.
func (d DecisionTrace) CompletenessScore() float64 {
	const minChars = 20
	fields := []string{d.Trigger, d.Context, d.AgentDecision, d.AgentRationale}
	filled := 0
	for _, f := range fields {
		if len(f) >= minChars {
			filled++
		}
	}
	total := len(fields) + 1 // +1 for options
	if len(d.Options) > 0 {
		filled++
	}
	return float64(filled) / float64(total)
}
