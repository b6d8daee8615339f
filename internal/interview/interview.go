// Package interview implements the turn-by-turn clarification flow named in
// SPEC_FULL.md §4's Supplemented Features: an optional, additive capture
// mode that walks a user through a fixed decision-trace structure one stage
// at a time, then hands the finished transcript off to the real extraction
// pipeline instead of reimplementing its own synthesis pass.
//
// Grounded on original_source/apps/api/agents/interview.py's InterviewAgent:
// the stage enum, stage-specific prompt guidance, the count-based and
// coverage-based next-stage heuristics, and fast-mode canned fallbacks all
// carry over. The original's synthesize_decision (an ad hoc second LLM call
// that re-derives trigger/context/options/decision/rationale as JSON) does
// not: SPEC_FULL.md §4 calls for reusing "the gleaning prompt machinery from
// §4.2" — internal/extractor.Extractor already does exactly this, gleaning
// included, against a model.Episode. Finalize builds one from the interview
// transcript and calls Extractor.ExtractDecisions directly.
package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/llm"
	"github.com/deciolog/deciolog/internal/model"
)

// sourcePath is the Provenance.SourcePath value stamped on decisions
// finalized from an interview session, distinguishing them from log-derived
// decisions in queries and audits.
const sourcePath = "interview"

// generator is the subset of *llm.Client Process needs; narrowed to an
// interface so tests can inject a fake, matching internal/extractor's
// generator idiom.
type generator interface {
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)
}

// DecisionExtractor is the subset of *extractor.Extractor Finalize needs.
type DecisionExtractor interface {
	ExtractDecisions(ctx context.Context, episode model.Episode, userID uuid.UUID, sourcePath string) ([]model.DecisionTrace, error)
}

// Service runs interview sessions. It holds no per-session state itself —
// callers own the message history (typically persisted alongside whatever
// session record the HTTP layer tracks) and pass it on every call.
type Service struct {
	llmClient generator
	extractor DecisionExtractor
	logger    *slog.Logger
	fastMode  bool
}

// New returns a Service. llmClient may be nil, which forces fastMode
// (canned, stage-aware responses) regardless of the fastMode argument.
func New(llmClient *llm.Client, extractor DecisionExtractor, fastMode bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{llmClient: llmClient, extractor: extractor, fastMode: fastMode || llmClient == nil, logger: logger}
}

const systemPrompt = `You are a knowledge capture assistant helping engineers document their decisions.

Your goal is to extract a complete decision trace with these components:
1. TRIGGER - what prompted the decision
2. CONTEXT - background, constraints, environment
3. OPTIONS - alternatives considered (including rejected ones)
4. DECISION - what was ultimately chosen
5. RATIONALE - why this choice was made over others

Ask ONE question at a time. Keep responses to 2-3 sentences. Reference
what the user just said. Probe deeper when an answer is vague. You will
receive stage-specific guidance for what to focus on next.`

// Process advances the interview by one turn: it determines the current
// stage from history, then produces either an LLM-generated or canned
// stage-appropriate follow-up question. It never returns an error from the
// LLM call — a generation failure degrades to the canned fallback instead,
// since a broken interview turn should never block the conversation.
func (s *Service) Process(ctx context.Context, history []model.Message, userMessage string) (response string, stage Stage) {
	stage = nextStage(history)

	if s.fastMode {
		return fallbackResponse(stage, userMessage), stage
	}

	prompt := formatGuidance(stage) + "\n\n---\n\nCONVERSATION HISTORY:\n" +
		historyText(history, 10) + "\n\nUser: " + userMessage +
		"\n\n---\n\nRespond naturally as the interview assistant. Ask only ONE " +
		"follow-up question relevant to the current stage, in 2-3 sentences, " +
		"referencing something specific the user said."

	text, err := s.llmClient.Generate(ctx, systemPrompt+"\n\n"+prompt, llm.GenerateOptions{Temperature: 0.7})
	if err != nil {
		s.logger.Warn("interview: generation failed, using fallback", "error", err, "stage", stage)
		return fallbackResponse(stage, userMessage), stage
	}
	return text, stage
}

// Finalize builds a model.Episode from the full interview transcript and
// runs it through the real extraction pipeline (chain-of-thought pass,
// gleaning, verify/refine, validation gate) — the interview's only job was
// getting a complete enough transcript for that pipeline to work with.
func (s *Service) Finalize(ctx context.Context, userID uuid.UUID, history []model.Message) ([]model.DecisionTrace, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("interview: no extractor configured")
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("interview: empty session")
	}

	conv := &model.Conversation{Messages: history, SourceFile: sourcePath}
	episode := model.Episode{
		Conversation: conv,
		Messages:     history,
		Type:         model.EpisodeImplementation,
		StartTurn:    history[0].TurnIndex,
		EndTurn:      history[len(history)-1].TurnIndex,
	}

	decisions, err := s.extractor.ExtractDecisions(ctx, episode, userID, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("interview: finalize: %w", err)
	}
	for i := range decisions {
		decisions[i].Source = model.SourceInterview
	}
	return decisions, nil
}

func historyText(history []model.Message, lastN int) string {
	if len(history) > lastN {
		history = history[len(history)-lastN:]
	}
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = fmt.Sprintf("%s: %s", titleCase(string(m.Role)), m.Content)
	}
	return strings.Join(lines, "\n")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// fallbackResponse returns a context-aware, stage-appropriate question
// without calling an LLM: used in fast mode, and as the degradation path
// when generation fails.
func fallbackResponse(stage Stage, userMessage string) string {
	topic := topicHint(userMessage)

	switch stage {
	case StageTrigger:
		return fmt.Sprintf("Thanks for sharing%s. What was the underlying problem or need that prompted this decision — a specific event, deadline, or pain point?", topic)
	case StageContext:
		return "That helps set the scene. What constraints were you working within — team size, existing stack, timeline, or budget?"
	case StageOptions:
		return "Understood. What alternatives did you actually evaluate? Even options you quickly ruled out are worth capturing."
	case StageDecision:
		return "Good. And what was the final decision — the specific choice you made from those options?"
	case StageRationale:
		return "Almost done. Why did you choose this over the alternatives? What trade-offs tipped the balance?"
	case StageSummarizing:
		return "I have everything I need. Saving this decision to your knowledge graph now."
	default:
		return "What decision would you like to document today? Start with the problem you were trying to solve."
	}
}

// topicHint extracts the first few words of a message to reference back in
// a fallback response, giving it conversational continuity without an LLM.
func topicHint(userMessage string) string {
	words := strings.Fields(strings.TrimSpace(userMessage))
	if len(words) == 0 {
		return ""
	}
	if len(words) > 6 {
		words = words[:6]
	}
	return fmt.Sprintf(" — %q", strings.Join(words, " "))
}
