package interview

import "strings"

// Stage is one step of the interview's fixed decision-trace walkthrough.
type Stage string

const (
	StageOpening     Stage = "opening"
	StageTrigger     Stage = "trigger"
	StageContext     Stage = "context"
	StageOptions     Stage = "options"
	StageDecision    Stage = "decision"
	StageRationale   Stage = "rationale"
	StageSummarizing Stage = "summarizing"
)

// guidance is the per-stage prompt material handed to the LLM: what the
// stage is trying to capture, what to probe for, a couple of example
// questions to pick from, and failure modes to avoid.
type guidance struct {
	goal      string
	focus     []string
	questions []string
	avoid     []string
}

var stageGuidance = map[Stage]guidance{
	StageOpening: {
		goal:      "understand what decision the user wants to document",
		focus:     []string{"welcome the user", "ask one open-ended question about what they want to capture"},
		questions: []string{"What decision or choice would you like to document today?", "Tell me about a recent decision you made that you'd like to preserve."},
		avoid:     []string{"asking more than one question at once", "jumping to details before the topic is clear"},
	},
	StageTrigger: {
		goal: "find the problem or need that prompted the decision",
		focus: []string{
			"what problem or need prompted this",
			"when it came up and how urgent it was",
			"who raised the issue",
		},
		questions: []string{
			"What problem were you trying to solve?",
			"What prompted this decision — a specific event or deadline?",
			"How did you first notice this was needed?",
		},
		avoid: []string{"moving on without the root cause", "skipping the 'why now' question"},
	},
	StageContext: {
		goal: "capture the background, constraints, and environment",
		focus: []string{
			"what already existed before this decision",
			"constraints: time, budget, team skill, tech stack",
			"non-negotiable requirements",
		},
		questions: []string{
			"What was already in place before this decision?",
			"What constraints did you have to work within?",
			"Were there any non-negotiable requirements?",
		},
		avoid: []string{"assuming context from the trigger alone", "missing organizational factors"},
	},
	StageOptions: {
		goal: "surface every alternative considered, including rejected ones",
		focus: []string{
			"alternatives considered and why they were rejected",
			"whether an obvious option was ruled out",
			"any proof-of-concept or research done",
		},
		questions: []string{
			"What alternatives did you consider?",
			"Were there options you ruled out early? Why?",
			"Did you consider doing nothing, or deferring?",
		},
		avoid: []string{"accepting just one option without probing for more", "skipping why alternatives were rejected"},
	},
	StageDecision: {
		goal: "get a clear, quotable statement of what was decided",
		focus: []string{"the final decision in one sentence", "who made it and when", "consensus vs disagreement"},
		questions: []string{
			"So what did you ultimately decide?",
			"Can you state the decision in one sentence?",
			"Was this a team decision or an individual call?",
		},
		avoid: []string{"conflating the decision with its rationale", "missing who made the call"},
	},
	StageRationale: {
		goal: "understand why this option won over the alternatives",
		focus: []string{"trade-offs accepted", "risks considered", "what would change the decision later"},
		questions: []string{
			"Why did you choose this over the alternatives?",
			"What trade-offs did you accept?",
			"What would make you revisit this decision?",
		},
		avoid: []string{"accepting vague rationale like 'it was best'", "missing the conditions for revisiting it"},
	},
	StageSummarizing: {
		goal:      "confirm the complete decision trace with the user",
		focus:     []string{"read back what was captured", "ask if anything is missing", "thank them"},
		questions: []string{"Let me summarize what I captured — does this look right?", "Is there anything I missed?"},
		avoid:     []string{"ending without a readback", "missing details in the summary"},
	},
}

// formatGuidance renders one stage's guidance into the prompt section the
// LLM sees, mirroring the teacher's prompt-construction style of plain
// labeled sections rather than a templating library.
func formatGuidance(stage Stage) string {
	g, ok := stageGuidance[stage]
	if !ok {
		g = stageGuidance[StageOpening]
	}
	var b strings.Builder
	b.WriteString("CURRENT STAGE: " + strings.ToUpper(string(stage)) + "\n")
	b.WriteString("GOAL: " + g.goal + "\n\nFOCUS AREAS:\n")
	for _, f := range g.focus {
		b.WriteString("  - " + f + "\n")
	}
	b.WriteString("\nEXAMPLE QUESTIONS (pick ONE that fits the context):\n")
	for _, q := range g.questions {
		b.WriteString("  - \"" + q + "\"\n")
	}
	b.WriteString("\nAVOID:\n")
	for _, a := range g.avoid {
		b.WriteString("  - " + a + "\n")
	}
	return b.String()
}
