package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// dormantMinAge is the default minimum age (spec.md §4.5) a rejected option
// must reach before it's surfaced as a dormant alternative.
const dormantMinAge = 14 * 24 * time.Hour

// DormantAlternative is a rejected option nobody has revisited since.
type DormantAlternative struct {
	CandidateID        uuid.UUID
	ParentDecisionID   uuid.UUID
	Text               string
	RejectedAt         time.Time
	OriginalConfidence float64
	ReconsiderScore    float64
}

// ScanDormant reports CandidateDecision nodes at least minAge old (minAge <=
// 0 uses dormantMinAge) whose parent decision's entities have not been
// revisited by any later decision, ranked by reconsider_score — a blend of
// age (older options are more worth revisiting) and the original decision's
// confidence (low-confidence rejections are more worth revisiting than
// options passed over despite a strong original call).
func (a *Analyzer) ScanDormant(ctx context.Context, userID uuid.UUID, minAge time.Duration, now time.Time) ([]DormantAlternative, error) {
	if minAge <= 0 {
		minAge = dormantMinAge
	}

	rows, err := a.run(ctx, `
		MATCH (c:CandidateDecision)-[:REJECTED_BY]->(d:DecisionTrace {user_id: $user_id})
		WHERE c.rejected_at < $cutoff
		OPTIONAL MATCH (d)-[:INVOLVES]->(e:Entity)
		OPTIONAL MATCH (later:DecisionTrace {user_id: $user_id})-[:INVOLVES]->(e)
		WHERE later.id <> d.id AND later.created_at > c.rejected_at
		WITH c, d, count(DISTINCT later) AS revisits
		WHERE revisits = 0
		RETURN c.id AS candidate_id, d.id AS parent_id, c.text AS text,
			c.rejected_at AS rejected_at, d.confidence AS confidence
	`, map[string]any{"user_id": userID.String(), "cutoff": now.Add(-minAge).Format(time.RFC3339Nano)})
	if err != nil {
		return nil, fmt.Errorf("analyzer: scan dormant: %w", err)
	}

	out := make([]DormantAlternative, 0, len(rows))
	for _, row := range rows {
		candidateID, ok1 := parseRowUUID(row, "candidate_id")
		parentID, ok2 := parseRowUUID(row, "parent_id")
		if !ok1 || !ok2 {
			continue
		}
		rejectedAt := parseGraphTime(row["rejected_at"])
		confidence := asFloat(row["confidence"])

		ageDays := now.Sub(rejectedAt).Hours() / 24
		// Older and lower-confidence-original-call rejections rank higher:
		// age grows unboundedly so it's log-dampened; the confidence penalty
		// rewards options passed over by a shaky original decision.
		score := logDamp(ageDays)*0.6 + (1-confidence)*0.4

		out = append(out, DormantAlternative{
			CandidateID: candidateID, ParentDecisionID: parentID,
			Text: asString(row["text"]), RejectedAt: rejectedAt,
			OriginalConfidence: confidence, ReconsiderScore: score,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ReconsiderScore > out[j].ReconsiderScore })
	return out, nil
}

// logDamp compresses an unbounded day count into a roughly [0,1] range
// without a hard ceiling, so a 2000-day-old rejection doesn't dominate a
// 60-day-old one by 30x.
func logDamp(days float64) float64 {
	if days <= 0 {
		return 0
	}
	// 1 - 1/(1+x) saturates toward 1 as days grows, is 0 at days=0, and
	// needs no import beyond what's already pulled in by this package.
	return days / (days + 90)
}
