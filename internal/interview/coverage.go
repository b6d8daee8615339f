package interview

import (
	"strings"

	"github.com/deciolog/deciolog/internal/model"
)

// substantialResponseChars is the length a user message must exceed to
// count as real content rather than a one-word acknowledgment, mirroring
// the original interview agent's response-count heuristic.
const substantialResponseChars = 20

// coverageThreshold is how covered a stage's keyword signal needs to be
// before the interview moves past it.
const coverageThreshold = 0.4

var coveragePatterns = map[Stage][]string{
	StageTrigger: {
		"problem", "issue", "need", "require", "had to", "wanted to", "because",
		"since", "when", "started", "began", "noticed", "realized", "discovered",
		"faced", "encountered", "challenge",
	},
	StageContext: {
		"already", "existing", "current", "before", "had", "constraint", "limit",
		"budget", "deadline", "team", "experience", "skill", "environment",
		"stack", "using", "requirement",
	},
	StageOptions: {
		"option", "alternative", "considered", "looked at", "evaluated", "compared",
		"versus", " vs ", " or ", "could have", "might have", "other", "different",
		"instead", "ruled out",
	},
	StageDecision: {
		"decided", "chose", "went with", "picked", "selected", "ended up", "final",
		"ultimately", "concluded", "settled on", "we use", "we're using",
		"implemented", "adopted",
	},
	StageRationale: {
		"because", "since", "reason", "why", "benefit", "advantage", "better",
		"easier", "faster", "cheaper", "simpler", "trade-off", "tradeoff",
		"downside", "risk", "concern", "weighed", "balanced",
	},
}

// coverageDivisor scales a raw keyword hit count to a 0-1 score; tuned per
// stage since some stages have denser vocabularies than others.
var coverageDivisor = map[Stage]float64{
	StageTrigger:   5,
	StageContext:   5,
	StageOptions:   4,
	StageDecision:  3,
	StageRationale: 4,
}

// stageOrder is the order coverage gaps are checked in; the first
// under-covered stage becomes the interview's next focus.
var stageOrder = []Stage{StageTrigger, StageContext, StageOptions, StageDecision, StageRationale}

func substantialUserResponses(history []model.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == model.RoleUser && len(m.Content) > substantialResponseChars {
			n++
		}
	}
	return n
}

// nextStageByCount is the fast, deterministic fallback: it advances one
// stage per substantial user reply regardless of content, used for very
// short conversations and by nextStage when coverage is complete but its
// average is below 0.5.
func nextStageByCount(history []model.Message) Stage {
	switch substantialUserResponses(history) {
	case 0:
		return StageTrigger
	case 1:
		return StageContext
	case 2:
		return StageOptions
	case 3:
		return StageDecision
	case 4:
		return StageRationale
	default:
		return StageSummarizing
	}
}

func analyzeCoverage(history []model.Message) map[Stage]float64 {
	var userText strings.Builder
	for _, m := range history {
		if m.Role == model.RoleUser {
			userText.WriteString(strings.ToLower(m.Content))
			userText.WriteByte(' ')
		}
	}
	text := userText.String()

	coverage := make(map[Stage]float64, len(coveragePatterns))
	for stage, patterns := range coveragePatterns {
		hits := 0
		for _, p := range patterns {
			if strings.Contains(text, p) {
				hits++
			}
		}
		score := float64(hits) / coverageDivisor[stage]
		if score > 1.0 {
			score = 1.0
		}
		coverage[stage] = score
	}
	return coverage
}

// nextStage determines the interview's next stage. Short conversations use
// the count-based fallback; longer ones analyze which decision components
// are still thin on keyword coverage and focus there, moving to
// StageSummarizing once every stage clears coverageThreshold and the
// average coverage is at least 0.5.
func nextStage(history []model.Message) Stage {
	if substantialUserResponses(history) <= 1 {
		return nextStageByCount(history)
	}

	coverage := analyzeCoverage(history)
	for _, stage := range stageOrder {
		if coverage[stage] < coverageThreshold {
			return stage
		}
	}

	var total float64
	for _, v := range coverage {
		total += v
	}
	if total/float64(len(coverage)) >= 0.5 {
		return StageSummarizing
	}
	return nextStageByCount(history)
}
