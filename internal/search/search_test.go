package search

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

// fakeSearcher is a minimal in-memory Searcher used to verify that callers
// depending on the Searcher interface only need DecisionID/Score back, and
// can treat a missing index as "fall back to Neo4j" rather than a hard error.
type fakeSearcher struct {
	results []Result
	err     error
	healthy error
}

func (f *fakeSearcher) Search(ctx context.Context, userID uuid.UUID, embedding []float32, filters model.QueryFilters, limit int) ([]Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func (f *fakeSearcher) Healthy(ctx context.Context) error {
	return f.healthy
}

var _ Searcher = (*fakeSearcher)(nil)

func TestSearcher_ResultLimitRespected(t *testing.T) {
	want := []Result{
		{DecisionID: uuid.New(), Score: 0.95},
		{DecisionID: uuid.New(), Score: 0.91},
		{DecisionID: uuid.New(), Score: 0.80},
	}
	s := &fakeSearcher{results: want}

	got, err := s.Search(context.Background(), uuid.New(), []float32{0.1, 0.2}, model.QueryFilters{}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].DecisionID != want[0].DecisionID || got[1].DecisionID != want[1].DecisionID {
		t.Errorf("results out of order: got %+v", got)
	}
}

func TestSearcher_PropagatesError(t *testing.T) {
	wantErr := errors.New("index unavailable")
	s := &fakeSearcher{err: wantErr}

	_, err := s.Search(context.Background(), uuid.New(), []float32{0.1}, model.QueryFilters{}, 10)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestSearcher_Healthy(t *testing.T) {
	s := &fakeSearcher{healthy: errors.New("unreachable")}
	if err := s.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}

	s.healthy = nil
	if err := s.Healthy(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
