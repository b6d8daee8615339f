package extractor

import "strings"

// DecisionType selects which few-shot prompt variant to run, letting each
// variant focus the model on the signals relevant to that kind of decision.
type DecisionType string

const (
	DecisionTypeArchitecture DecisionType = "architecture"
	DecisionTypeTechnology   DecisionType = "technology"
	DecisionTypeProcess      DecisionType = "process"
	DecisionTypeGeneral      DecisionType = "general"
)

var decisionTypeKeywords = map[DecisionType][]string{
	DecisionTypeArchitecture: {
		"architecture", "microservice", "monolith", "distributed", "scalability",
		"api gateway", "event-driven", "message queue", "load balancer",
	},
	DecisionTypeTechnology: {
		"framework", "library", "database", "postgres", "mongodb", "redis",
		"react", "vue", "python", "typescript", "aws", "docker",
	},
	DecisionTypeProcess: {
		"workflow", "process", "ci/cd", "deployment", "code review",
		"branching", "agile", "sprint", "release",
	},
}

// DetectDecisionType classifies text by keyword frequency, requiring at
// least 2 matches in the winning category to avoid over-committing on a
// single incidental mention. Ties and sub-threshold scores fall back to
// DecisionTypeGeneral, which uses the unspecialized extraction prompt.
func DetectDecisionType(text string) DecisionType {
	lower := strings.ToLower(text)
	scores := make(map[DecisionType]int, len(decisionTypeKeywords))
	best := DecisionTypeGeneral
	bestScore := 0

	for dtype, keywords := range decisionTypeKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				scores[dtype]++
			}
		}
	}
	tied := false
	for dtype, score := range scores {
		if score > bestScore {
			bestScore = score
			best = dtype
			tied = false
		} else if score == bestScore {
			tied = true
		}
	}
	if bestScore < 2 || tied {
		return DecisionTypeGeneral
	}
	return best
}
