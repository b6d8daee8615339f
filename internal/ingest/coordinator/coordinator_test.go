package coordinator_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deciolog/deciolog/internal/ingest/coordinator"
	"github.com/deciolog/deciolog/internal/model"
)

var testRedis *redis.Client

// TestMain spins up a real Redis container, matching the teacher's
// internal/ratelimit test idiom — the Coordinator's job-state machine is
// inherently Redis-shaped (hash + TTL + a separate cancellation key) and a
// hand-rolled in-memory fake would just re-implement HSET/EXPIRE/EXISTS
// semantics worse.
func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	testRedis = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := testRedis.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping redis: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testRedis.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

type stubExtractor struct {
	decisionsPerEpisode int
}

func (s stubExtractor) ExtractDecisions(context.Context, model.Episode, uuid.UUID, string) ([]model.DecisionTrace, error) {
	out := make([]model.DecisionTrace, s.decisionsPerEpisode)
	for i := range out {
		out[i] = model.DecisionTrace{ID: uuid.New()}
	}
	return out, nil
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []model.DecisionTrace
}

func (s *recordingSaver) Save(_ context.Context, d model.DecisionTrace) (model.DecisionTrace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, d)
	return d, nil
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newTestCoordinator(t *testing.T, logsRoot string, extractor coordinator.Extractor, saver coordinator.DecisionSaver) *coordinator.Coordinator {
	t.Helper()
	testRedis.FlushDB(context.Background())
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return coordinator.New(testRedis, logsRoot, extractor, saver, nil, nil, logger)
}

type fakeAuditor struct {
	mu     sync.Mutex
	audits []model.JobAudit
}

func (f *fakeAuditor) RecordJobAudit(_ context.Context, a model.JobAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, a)
	return nil
}

func (f *fakeAuditor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audits)
}

func newTestCoordinatorWithAuditor(t *testing.T, logsRoot string, extractor coordinator.Extractor, saver coordinator.DecisionSaver, auditor coordinator.JobAuditor) *coordinator.Coordinator {
	t.Helper()
	testRedis.FlushDB(context.Background())
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return coordinator.New(testRedis, logsRoot, extractor, saver, nil, auditor, logger)
}

func writeLogFile(t *testing.T, dir, project, name, content string) string {
	t.Helper()
	projectDir := filepath.Join(dir, project)
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	path := filepath.Join(projectDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleConversation = `{"type":"message","message":{"role":"user","content":"Should we use Postgres or Mongo?"}}
{"type":"message","message":{"role":"assistant","content":"We should use Postgres because the team already knows SQL well and the workload is relational."}}
{"type":"conversation_end"}
`

func TestStatusIsIdleWithNoJob(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t, dir, stubExtractor{}, &recordingSaver{})

	progress, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, coordinator.StatusIdle, progress.Status)
}

func TestDiscoverFilesSkipsSubagentsAndAppliesFilters(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "project-a", "session1.jsonl", sampleConversation)
	writeLogFile(t, dir, "project-b", "session2.jsonl", sampleConversation)
	writeLogFile(t, dir, "project-a/subagents", "sub.jsonl", sampleConversation)

	c := newTestCoordinator(t, dir, stubExtractor{}, &recordingSaver{})

	files, err := c.DiscoverFiles(coordinator.DiscoverFilter{})
	require.NoError(t, err)
	require.Len(t, files, 2)

	filtered, err := c.DiscoverFiles(coordinator.DiscoverFilter{ProjectInclude: "project-a"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	excluded, err := c.DiscoverFiles(coordinator.DiscoverFilter{ProjectExclude: []string{"project-b"}})
	require.NoError(t, err)
	require.Len(t, excluded, 1)
}

func TestDiscoverFilesReturnsEmptyWhenRootMissing(t *testing.T) {
	c := newTestCoordinator(t, "/nonexistent/does/not/exist", stubExtractor{}, &recordingSaver{})
	files, err := c.DiscoverFiles(coordinator.DiscoverFilter{})
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestTriggerRunsJobToCompletion(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "project-a", "session1.jsonl", sampleConversation)

	saver := &recordingSaver{}
	c := newTestCoordinator(t, dir, stubExtractor{decisionsPerEpisode: 1}, saver)

	result, err := c.Trigger(context.Background(), uuid.New(), coordinator.DiscoverFilter{})
	require.NoError(t, err)
	require.True(t, result.Started)
	require.Equal(t, 1, result.TotalFiles)

	require.Eventually(t, func() bool {
		progress, err := c.Status(context.Background())
		return err == nil && (progress.Status == coordinator.StatusCompleted || progress.Status == coordinator.StatusCompletedWithError)
	}, 5*time.Second, 50*time.Millisecond)

	require.Equal(t, 1, saver.count())
}

func TestTriggerRecordsJobAudit(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "project-a", "session1.jsonl", sampleConversation)

	auditor := &fakeAuditor{}
	c := newTestCoordinatorWithAuditor(t, dir, stubExtractor{decisionsPerEpisode: 1}, &recordingSaver{}, auditor)

	_, err := c.Trigger(context.Background(), uuid.New(), coordinator.DiscoverFilter{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return auditor.count() == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestTriggerConflictsWhileRunning(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "project-a", "session1.jsonl", sampleConversation)

	c := newTestCoordinator(t, dir, stubExtractor{decisionsPerEpisode: 1}, &recordingSaver{})

	_, err := c.Trigger(context.Background(), uuid.New(), coordinator.DiscoverFilter{})
	require.NoError(t, err)

	// Force status to running directly to deterministically hit the
	// conflict branch regardless of how fast the background job finishes.
	testRedis.HSet(context.Background(), "deciolog:import:current_job", map[string]any{"status": "running"})

	_, err = c.Trigger(context.Background(), uuid.New(), coordinator.DiscoverFilter{})
	require.ErrorIs(t, err, coordinator.ErrAlreadyRunning)
}

func TestCancelWithoutRunningJobFails(t *testing.T) {
	dir := t.TempDir()
	c := newTestCoordinator(t, dir, stubExtractor{}, &recordingSaver{})
	err := c.Cancel(context.Background())
	require.ErrorIs(t, err, coordinator.ErrNotRunning)
}

func TestImportSelectedRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "project-a", "session1.jsonl", sampleConversation)
	outside := t.TempDir()
	outsidePath := writeLogFile(t, outside, "other", "evil.jsonl", sampleConversation)

	c := newTestCoordinator(t, dir, stubExtractor{decisionsPerEpisode: 1}, &recordingSaver{})

	result, err := c.ImportSelected(context.Background(), uuid.New(), []string{outsidePath}, nil)
	require.NoError(t, err)
	require.False(t, result.Started)
	require.Len(t, result.ValidationErrors, 1)
}
