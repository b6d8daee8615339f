package search

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/deciolog/deciolog/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{
			name:     "https with REST port remaps to gRPC port",
			url:      "https://xyz.cloud.qdrant.io:6333",
			wantHost: "xyz.cloud.qdrant.io",
			wantPort: 6334,
			wantTLS:  true,
		},
		{
			name:     "http with explicit grpc port",
			url:      "http://localhost:6334",
			wantHost: "localhost",
			wantPort: 6334,
			wantTLS:  false,
		},
		{
			name:     "no port defaults to grpc port",
			url:      "http://localhost",
			wantHost: "localhost",
			wantPort: 6334,
			wantTLS:  false,
		},
		{
			name:    "empty url",
			url:     "",
			wantErr: true,
		},
		{
			name:    "invalid port",
			url:     "http://localhost:notaport",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseQdrantURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if host != tt.wantHost || port != tt.wantPort || useTLS != tt.wantTLS {
				t.Errorf("got (%q, %d, %v), want (%q, %d, %v)", host, port, useTLS, tt.wantHost, tt.wantPort, tt.wantTLS)
			}
		})
	}
}

func TestNewQdrantIndex_InvalidURL(t *testing.T) {
	_, err := NewQdrantIndex(QdrantConfig{URL: ""}, testLogger())
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewQdrantIndex_Valid(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:16334",
		Collection: "decisions",
		Dims:       1536,
	}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	if idx.collection != "decisions" || idx.dims != 1536 {
		t.Errorf("unexpected index config: %+v", idx)
	}
}

func TestQdrantUpsert_EmptyPoints(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{URL: "http://localhost:16334", Collection: "decisions"}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	if err := idx.Upsert(context.Background(), nil); err != nil {
		t.Errorf("Upsert with no points should be a no-op, got: %v", err)
	}
}

func TestQdrantDeleteByIDs_EmptyIDs(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{URL: "http://localhost:16334", Collection: "decisions"}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	if err := idx.DeleteByIDs(context.Background(), nil); err != nil {
		t.Errorf("DeleteByIDs with no ids should be a no-op, got: %v", err)
	}
}

func TestQdrantHealthy_CachesResult(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{URL: "http://localhost:16334", Collection: "decisions"}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	// No server listening on this port, so the first check fails and the
	// error is cached for 5s rather than re-dialing on every call.
	err1 := idx.Healthy(context.Background())
	if err1 == nil {
		t.Fatal("expected health check to fail without a server")
	}
	checkedAt := idx.lastCheck

	err2 := idx.Healthy(context.Background())
	if err2 == nil {
		t.Fatal("expected cached health error")
	}
	if idx.lastCheck != checkedAt {
		t.Error("Healthy should have used the cached result instead of re-checking")
	}
}

func TestQdrantHealthy_Concurrent(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{URL: "http://localhost:16334", Collection: "decisions"}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			_ = idx.Healthy(context.Background())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestQdrantSearch_FailsWithoutServer(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{URL: "http://localhost:16334", Collection: "decisions", Dims: 4}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	_, err = idx.Search(context.Background(), uuid.New(), []float32{0.1, 0.2, 0.3, 0.4}, model.QueryFilters{}, 10)
	if err == nil {
		t.Fatal("expected error querying qdrant with no server listening")
	}
}

func TestQdrantUpsert_FailsWithoutServer(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{URL: "http://localhost:16334", Collection: "decisions", Dims: 4}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	points := []Point{{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Scope:      model.ScopeOperational,
		Source:     model.SourceManual,
		Confidence: 0.9,
		CreatedAt:  time.Now(),
		Embedding:  []float32{0.1, 0.2, 0.3, 0.4},
	}}
	if err := idx.Upsert(context.Background(), points); err == nil {
		t.Fatal("expected error upserting to qdrant with no server listening")
	}
}

func TestQdrantDeleteByUser_FailsWithoutServer(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{URL: "http://localhost:16334", Collection: "decisions"}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	if err := idx.DeleteByUser(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error deleting by user with no server listening")
	}
}

func TestQdrantEnsureCollection_FailsWithoutServer(t *testing.T) {
	idx, err := NewQdrantIndex(QdrantConfig{URL: "http://localhost:16334", Collection: "decisions", Dims: 4}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer idx.Close()

	if err := idx.EnsureCollection(context.Background()); err == nil {
		t.Fatal("expected error ensuring collection with no server listening")
	}
}
