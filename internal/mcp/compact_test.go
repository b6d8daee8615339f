package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/deciolog/deciolog/internal/model"
)

func TestCompactDecision(t *testing.T) {
	project := "deciolog"
	editedAt := time.Now()
	d := model.DecisionTrace{
		ID:             uuid.New(),
		Trigger:        "need a cache for session state",
		AgentDecision:  "use Redis with 5min TTL",
		AgentRationale: "handles expected QPS, TTL bounds staleness",
		Confidence:     0.85,
		Scope:          model.ScopeArchitectural,
		Source:         model.SourceManual,
		CreatedAt:      time.Now(),
		ProjectName:    &project,
		EditedAt:       &editedAt,
		EditCount:      1,
		Provenance:     model.Provenance{Model: "claude-opus"}, // dropped
		Embedding:      []float32{0.1, 0.2},                    // dropped
	}

	m := compactDecision(d)

	// Kept fields.
	assert.Equal(t, d.ID, m["id"])
	assert.Equal(t, "need a cache for session state", m["trigger"])
	assert.Equal(t, "use Redis with 5min TTL", m["agent_decision"])
	assert.Equal(t, "handles expected QPS, TTL bounds staleness", m["agent_rationale"])
	assert.Equal(t, 0.85, m["confidence"])
	assert.Equal(t, model.ScopeArchitectural, m["scope"])
	assert.Equal(t, model.SourceManual, m["source"])
	assert.Equal(t, "deciolog", m["project_name"])
	assert.Equal(t, editedAt, m["edited_at"])
	assert.Equal(t, 1, m["edit_count"])

	// Dropped fields.
	_, hasProvenance := m["provenance"]
	_, hasEmbedding := m["embedding"]
	assert.False(t, hasProvenance, "provenance should be dropped")
	assert.False(t, hasEmbedding, "embedding should be dropped")
}

func TestCompactDecision_TruncatesRationale(t *testing.T) {
	long := strings.Repeat("x", 300)
	d := model.DecisionTrace{
		ID:             uuid.New(),
		Trigger:        "t",
		AgentDecision:  "d",
		AgentRationale: long,
	}

	m := compactDecision(d)
	r := m["agent_rationale"].(string)
	assert.True(t, strings.HasSuffix(r, "..."), "should be truncated")
	assert.LessOrEqual(t, len(r), maxCompactRationale+3, "should be at most maxCompactRationale + ellipsis")
}

func TestCompactDecision_OmitsUnsetOptionalFields(t *testing.T) {
	d := model.DecisionTrace{ID: uuid.New(), Trigger: "t", AgentDecision: "d"}
	m := compactDecision(d)

	_, hasProject := m["project_name"]
	_, hasEdited := m["edited_at"]
	assert.False(t, hasProject, "project_name should be omitted when nil")
	assert.False(t, hasEdited, "edited_at should be omitted when nil")
}

func TestCompactFocusedHits(t *testing.T) {
	decisionID := uuid.New()
	supersededBy := uuid.New()
	hits := []model.FocusedHit{
		{
			Result: model.SearchResult{
				Decision:      &model.DecisionTrace{ID: decisionID, Trigger: "t", AgentDecision: "d"},
				CombinedScore: 0.9,
			},
			IsCurrent:    false,
			SupersededBy: &supersededBy,
			Entities:     []model.Entity{{Name: "Postgres", Type: model.EntityTechnology}},
		},
	}

	out := compactFocusedHits(hits)
	require := assert.New(t)
	require.Len(out, 1)
	require.Equal(0.9, out[0]["combined_score"])
	require.False(out[0]["is_current"].(bool))
	require.Equal(supersededBy, out[0]["superseded_by"])
	require.NotNil(out[0]["decision"])
	require.NotNil(out[0]["entities"])
}

func TestCompactContradictions(t *testing.T) {
	pairs := []model.ContradictionPair{
		{
			A:          model.DecisionTrace{ID: uuid.New(), Trigger: "t1", AgentDecision: "use A"},
			B:          model.DecisionTrace{ID: uuid.New(), Trigger: "t2", AgentDecision: "use B"},
			Confidence: 0.8,
			Reasoning:  "mutually exclusive choices",
		},
	}

	out := compactContradictions(pairs)
	assert.Len(t, out, 1)
	assert.Equal(t, 0.8, out[0]["confidence"])
	assert.Equal(t, "mutually exclusive choices", out[0]["reasoning"])
	assert.NotNil(t, out[0]["a"])
	assert.NotNil(t, out[0]["b"])
}

func TestCompactSearchResults(t *testing.T) {
	results := []model.SearchResult{
		{Decision: &model.DecisionTrace{ID: uuid.New(), Trigger: "t", AgentDecision: "d"}, CombinedScore: 0.7, SemanticScore: 0.6},
	}

	out := compactSearchResults(results)
	assert.Len(t, out, 1)
	assert.Equal(t, 0.7, out[0]["combined_score"])
	assert.Equal(t, 0.6, out[0]["semantic_score"])
	assert.NotNil(t, out[0]["decision"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel...", truncate("hello world", 3))
	assert.Equal(t, "", truncate("", 5))
}
