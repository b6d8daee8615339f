package analyzer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/resolver"
)

// scriptedRunner is a fakeRunner-style test double (resolver_test.go's
// idiom): dispatches on a Cypher substring and returns a canned row set,
// recording every call it sees.
type scriptedRunner struct {
	calls    []call
	scripted map[string][]resolver.Row
}

type call struct {
	cypher string
	params map[string]any
}

func (r *scriptedRunner) Run(_ context.Context, cypher string, params map[string]any) ([]resolver.Row, error) {
	r.calls = append(r.calls, call{cypher: cypher, params: params})
	for substr, rows := range r.scripted {
		if strings.Contains(cypher, substr) {
			return rows, nil
		}
	}
	return nil, nil
}

func (r *scriptedRunner) callCount(substr string) int {
	n := 0
	for _, c := range r.calls {
		if strings.Contains(c.cypher, substr) {
			n++
		}
	}
	return n
}

type fakeWriter struct {
	supersedesCalls  []struct{ newer, older uuid.UUID }
	contradictsCalls []struct {
		a, b       uuid.UUID
		confidence float64
	}
}

func (f *fakeWriter) StampSupersedes(_ context.Context, newerID, olderID uuid.UUID, _ time.Time) error {
	f.supersedesCalls = append(f.supersedesCalls, struct{ newer, older uuid.UUID }{newerID, olderID})
	return nil
}

func (f *fakeWriter) WriteContradicts(_ context.Context, aID, bID uuid.UUID, confidence float64, _ string) error {
	f.contradictsCalls = append(f.contradictsCalls, struct {
		a, b       uuid.UUID
		confidence float64
	}{aID, bID, confidence})
	return nil
}

type fakeNotifier struct {
	notified []model.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n model.Notification) error {
	f.notified = append(f.notified, n)
	return nil
}

func newAnalyzer(runner resolver.Runner, writer GraphWriter, notifier Notifier) *Analyzer {
	return New(runner, nil, writer, notifier, nil)
}

func TestSavePairResultSupersedesPicksLaterAsNewer(t *testing.T) {
	writer := &fakeWriter{}
	a := newAnalyzer(&scriptedRunner{}, writer, nil)

	older := model.DecisionTrace{ID: uuid.New(), CreatedAt: time.Now().Add(-48 * time.Hour)}
	newer := model.DecisionTrace{ID: uuid.New(), CreatedAt: time.Now()}

	// Pass them in reverse (x=older, y=newer) to confirm direction is
	// determined by CreatedAt, not argument order.
	err := a.SavePairResult(context.Background(), older, newer, &PairResult{Type: relSupersedes, Confidence: 0.9})
	require.NoError(t, err)
	require.Len(t, writer.supersedesCalls, 1)
	require.Equal(t, newer.ID, writer.supersedesCalls[0].newer)
	require.Equal(t, older.ID, writer.supersedesCalls[0].older)
}

func TestSavePairResultContradictsIsSymmetric(t *testing.T) {
	writer := &fakeWriter{}
	a := newAnalyzer(&scriptedRunner{}, writer, nil)

	x := model.DecisionTrace{ID: uuid.New(), CreatedAt: time.Now()}
	y := model.DecisionTrace{ID: uuid.New(), CreatedAt: time.Now()}

	err := a.SavePairResult(context.Background(), x, y, &PairResult{Type: relContradicts, Confidence: 0.75, Reasoning: "conflict"})
	require.NoError(t, err)
	require.Len(t, writer.contradictsCalls, 1)
	require.Equal(t, x.ID, writer.contradictsCalls[0].a)
	require.Equal(t, y.ID, writer.contradictsCalls[0].b)
	require.InDelta(t, 0.75, writer.contradictsCalls[0].confidence, 1e-9)
}

func TestSavePairResultBelowConfidenceIsNoop(t *testing.T) {
	writer := &fakeWriter{}
	a := newAnalyzer(&scriptedRunner{}, writer, nil)
	x := model.DecisionTrace{ID: uuid.New()}
	y := model.DecisionTrace{ID: uuid.New()}

	err := a.SavePairResult(context.Background(), x, y, &PairResult{Type: relSupersedes, Confidence: 0.2})
	require.NoError(t, err)
	require.Empty(t, writer.supersedesCalls)
}

func TestSavePairResultNilResultIsNoop(t *testing.T) {
	writer := &fakeWriter{}
	a := newAnalyzer(&scriptedRunner{}, writer, nil)
	err := a.SavePairResult(context.Background(), model.DecisionTrace{}, model.DecisionTrace{}, nil)
	require.NoError(t, err)
	require.Empty(t, writer.supersedesCalls)
	require.Empty(t, writer.contradictsCalls)
}

func TestGroupBySharedEntitiesPartitionsByOverlap(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	decisions := []decisionRowWithEntities{
		{decisionRow: decisionRow{id: a}, entityIDs: map[string]bool{"pg": true, "redis": true}},
		{decisionRow: decisionRow{id: b}, entityIDs: map[string]bool{"pg": true, "redis": true, "go": true}},
		{decisionRow: decisionRow{id: c}, entityIDs: map[string]bool{"go": true}}, // only 1 shared with b
	}

	groups := groupBySharedEntities(decisions, 2)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)
}

func TestScanOnSaveNoopsWithoutProjectName(t *testing.T) {
	runner := &scriptedRunner{}
	a := newAnalyzer(runner, &fakeWriter{}, &fakeNotifier{})
	a.ScanOnSave(context.Background(), model.DecisionTrace{ID: uuid.New(), UserID: uuid.New()})
	require.Empty(t, runner.calls)
}

func TestValidateOrphanEntities(t *testing.T) {
	orphanID := uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"NOT (e)<-[:INVOLVES]-(:DecisionTrace)": {{"id": orphanID.String(), "name": "Stray"}},
	}}
	a := newAnalyzer(runner, nil, nil)

	issues, err := a.Validate(context.Background(), uuid.New())
	require.NoError(t, err)

	var found bool
	for _, issue := range issues {
		if issue.Kind == "orphan_entity" {
			found = true
			require.Equal(t, []uuid.UUID{orphanID}, issue.NodeIDs)
		}
	}
	require.True(t, found)
}

func TestValidateDuplicateEntitiesFlagsFuzzyMatch(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"RETURN e.id AS id, e.name AS name": {
			{"id": id1.String(), "name": "PostgresSQL"},
			{"id": id2.String(), "name": "PostgreSQL"},
		},
	}}
	a := newAnalyzer(runner, nil, nil)

	issues, err := a.Validate(context.Background(), uuid.New())
	require.NoError(t, err)

	var found bool
	for _, issue := range issues {
		if issue.Kind == "duplicate_entity" {
			found = true
		}
	}
	require.True(t, found)
}

func TestScanStaleSortsByOverdueDescending(t *testing.T) {
	now := time.Now()
	veryStale := uuid.New()
	barelyStale := uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"RETURN d.id AS id, d.scope AS scope": {
			{"id": barelyStale.String(), "scope": "operational", "agent_decision": "x", "created_at": now.Add(-15 * 24 * time.Hour).Format(time.RFC3339Nano), "last_reviewed_at": nil},
			{"id": veryStale.String(), "scope": "operational", "agent_decision": "y", "created_at": now.Add(-400 * 24 * time.Hour).Format(time.RFC3339Nano), "last_reviewed_at": nil},
			{"id": uuid.New().String(), "scope": "strategic", "agent_decision": "z", "created_at": now.Add(-15 * 24 * time.Hour).Format(time.RFC3339Nano), "last_reviewed_at": nil}, // not stale, threshold 730d
		},
	}}
	a := newAnalyzer(runner, nil, nil)

	stale, err := a.ScanStale(context.Background(), uuid.New(), now)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, veryStale, stale[0].ID)
	require.Equal(t, barelyStale, stale[1].ID)
}

func TestScanDormantSkipsRevisitedEntities(t *testing.T) {
	candidateID, parentID := uuid.New(), uuid.New()
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"WHERE revisits = 0": {
			{"candidate_id": candidateID.String(), "parent_id": parentID.String(), "text": "Use MongoDB", "rejected_at": time.Now().Add(-30 * 24 * time.Hour).Format(time.RFC3339Nano), "confidence": 0.6},
		},
	}}
	a := newAnalyzer(runner, nil, nil)

	dormant, err := a.ScanDormant(context.Background(), uuid.New(), 0, time.Now())
	require.NoError(t, err)
	require.Len(t, dormant, 1)
	require.Equal(t, candidateID, dormant[0].CandidateID)
	require.Greater(t, dormant[0].ReconsiderScore, 0.0)
}

func TestDetectCyclesDedupesByNodeSet(t *testing.T) {
	runner := &scriptedRunner{scripted: map[string][]resolver.Row{
		"[:DEPENDS_ON*2..": {
			{"names": []any{"A", "B", "C"}},
			{"names": []any{"B", "C", "A"}}, // same cycle, different starting node
		},
	}}
	a := newAnalyzer(runner, nil, nil)

	cycles, err := a.DetectCycles(context.Background(), uuid.New(), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	require.Equal(t, "error", cycles[0].Severity)
}

func TestMarkReviewedUpdatesLastReviewedAt(t *testing.T) {
	runner := &scriptedRunner{}
	a := newAnalyzer(runner, nil, nil)
	err := a.MarkReviewed(context.Background(), uuid.New(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, runner.callCount("SET d.last_reviewed_at"))
}
