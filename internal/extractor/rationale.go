package extractor

import (
	"strings"

	"github.com/deciolog/deciolog/internal/model"
)

// detectRationaleAuthor determines who/what grounds a decision's rationale,
// in descending order of fidelity:
//  1. thinking  — any message in the episode carries a thinking block
//  2. user      — the rationale text appears verbatim in a user message
//  3. assistant — default: rationale inferred from assistant prose
func detectRationaleAuthor(rationale string, messages []model.Message) model.RationaleAuthor {
	for _, m := range messages {
		if m.Thinking != nil && *m.Thinking != "" {
			return model.RationaleThinking
		}
	}

	rationale = strings.ToLower(strings.TrimSpace(rationale))
	if len(rationale) > 10 {
		for _, m := range messages {
			if m.Role != model.RoleUser {
				continue
			}
			content := strings.ToLower(m.Content)
			cutoff := min(50, len(rationale))
			if strings.Contains(content, rationale[:cutoff]) {
				return model.RationaleUser
			}
		}
	}

	return model.RationaleAssistant
}
