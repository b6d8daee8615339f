// Package coordinator runs spec.md §4.6's single-flight ingestion job: file
// discovery, per-file/per-conversation parsing and extraction, progress
// tracking in a Redis hash, and cooperative cancellation. One job runs at a
// time per process.
//
// Grounded on original_source/apps/api/routers/ingest.py's module-level
// IMPORT_JOB_KEY/IMPORT_CANCEL_KEY Redis state machine and run_import_job
// background task, adapted from FastAPI BackgroundTasks to a plain
// detached goroutine, and on the teacher's internal/service/trace
// package's buffer/flush durability idiom for the shape of state a
// long-running ingest worker needs to expose.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deciolog/deciolog/internal/ingest/parser"
	"github.com/deciolog/deciolog/internal/ingest/segmenter"
	"github.com/deciolog/deciolog/internal/model"
)

// Status is one of the Ingestion Coordinator's job states (spec.md §4.6:
// idle -> starting -> running -> {completed, completed_with_errors,
// cancelled, error}).
type Status string

const (
	StatusIdle               Status = "idle"
	StatusStarting           Status = "starting"
	StatusRunning            Status = "running"
	StatusCompleted          Status = "completed"
	StatusCompletedWithError Status = "completed_with_errors"
	StatusCancelled          Status = "cancelled"
	StatusError              Status = "error"
)

const (
	jobKey    = "deciolog:import:current_job"
	cancelKey = "deciolog:import:cancel"

	jobTTL    = time.Hour
	cancelTTL = 5 * time.Minute
)

// ErrAlreadyRunning is returned by Trigger/ImportSelected when a job is
// already in the running state.
var ErrAlreadyRunning = errors.New("coordinator: an import is already in progress")

// ErrNotRunning is returned by Cancel when there is no running job to cancel.
var ErrNotRunning = errors.New("coordinator: no import is currently running")

// Extractor is the subset of *extractor.Extractor the coordinator needs.
type Extractor interface {
	ExtractDecisions(ctx context.Context, episode model.Episode, userID uuid.UUID, sourcePath string) ([]model.DecisionTrace, error)
}

// DecisionSaver is the subset of *graph.Writer the coordinator needs.
type DecisionSaver interface {
	Save(ctx context.Context, d model.DecisionTrace) (model.DecisionTrace, error)
}

// CacheInvalidator drops any cached Agent Context Service responses for a
// user after ingestion changes their graph. A nil CacheInvalidator is a
// no-op (implemented by internal/agentctx).
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

// JobAuditor persists a durable record of a completed job, independent of
// the Redis-backed live Progress this package tracks while a job runs. A
// nil JobAuditor is a no-op (implemented by internal/storage.DB).
type JobAuditor interface {
	RecordJobAudit(ctx context.Context, a model.JobAudit) error
}

// Progress is the job-state hash described in spec.md §4.6.
type Progress struct {
	JobID              string
	Status             Status
	TotalFiles         int
	ProcessedFiles     int
	CurrentFile        string
	DecisionsExtracted int
	Errors             []string
	StartedAt          string
	CompletedAt        string
}

// DiscoverFilter scopes file discovery by project name.
type DiscoverFilter struct {
	ProjectInclude string   // substring match, empty = no filter
	ProjectExclude []string // substrings; any match excludes the file
}

// TriggerResult summarizes the outcome of starting (or not starting) a job.
type TriggerResult struct {
	Started          bool
	JobID            string
	TotalFiles       int
	ValidationErrors []string
}

// Coordinator runs one ingestion job at a time per process.
type Coordinator struct {
	redis       *redis.Client
	logsRoot    string
	extractor   Extractor
	saver       DecisionSaver
	invalidator CacheInvalidator
	auditor     JobAuditor
	logger      *slog.Logger
}

// New returns a Coordinator rooted at logsRoot. invalidator and auditor may
// both be nil.
func New(redisClient *redis.Client, logsRoot string, extractor Extractor, saver DecisionSaver, invalidator CacheInvalidator, auditor JobAuditor, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{redis: redisClient, logsRoot: logsRoot, extractor: extractor, saver: saver, invalidator: invalidator, auditor: auditor, logger: logger}
}

// Status returns the current job's progress, or a StatusIdle Progress when
// no job has run (or the job key has expired).
func (c *Coordinator) Status(ctx context.Context) (Progress, error) {
	if c.redis == nil {
		return Progress{Status: StatusIdle}, nil
	}
	data, err := c.redis.HGetAll(ctx, jobKey).Result()
	if err != nil {
		return Progress{}, fmt.Errorf("coordinator: read job state: %w", err)
	}
	if len(data) == 0 {
		return Progress{Status: StatusIdle}, nil
	}
	return progressFromHash(data), nil
}

func progressFromHash(data map[string]string) Progress {
	p := Progress{
		JobID:       data["job_id"],
		Status:      Status(data["status"]),
		CurrentFile: data["current_file"],
		StartedAt:   data["started_at"],
		CompletedAt: data["completed_at"],
	}
	p.TotalFiles, _ = strconv.Atoi(data["total_files"])
	p.ProcessedFiles, _ = strconv.Atoi(data["processed_files"])
	p.DecisionsExtracted, _ = strconv.Atoi(data["decisions_extracted"])
	if data["errors"] != "" {
		p.Errors = strings.Split(data["errors"], "|")
	}
	return p
}

// Cancel requests cancellation of the running job. The job stops cleanly
// after its current file finishes (spec.md §4.6).
func (c *Coordinator) Cancel(ctx context.Context) error {
	progress, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if progress.Status != StatusRunning {
		return ErrNotRunning
	}
	if c.redis == nil {
		return nil
	}
	return c.redis.Set(ctx, cancelKey, "1", cancelTTL).Err()
}

func (c *Coordinator) isCancelled(ctx context.Context) bool {
	if c.redis == nil {
		return false
	}
	n, err := c.redis.Exists(ctx, cancelKey).Result()
	if err != nil {
		c.logger.Warn("coordinator: cancellation check failed", "error", err)
		return false
	}
	return n > 0
}

func (c *Coordinator) clearState(ctx context.Context) {
	if c.redis == nil {
		return
	}
	c.redis.Del(ctx, jobKey, cancelKey)
}

func (c *Coordinator) setProgress(ctx context.Context, p Progress) {
	if c.redis == nil {
		return
	}
	fields := map[string]any{
		"job_id":              p.JobID,
		"status":              string(p.Status),
		"total_files":         strconv.Itoa(p.TotalFiles),
		"processed_files":     strconv.Itoa(p.ProcessedFiles),
		"current_file":        p.CurrentFile,
		"decisions_extracted": strconv.Itoa(p.DecisionsExtracted),
		"errors":              strings.Join(p.Errors, "|"),
	}
	if p.StartedAt != "" {
		fields["started_at"] = p.StartedAt
	}
	if p.CompletedAt != "" {
		fields["completed_at"] = p.CompletedAt
	}
	if err := c.redis.HSet(ctx, jobKey, fields).Err(); err != nil {
		c.logger.Error("coordinator: write job state failed", "error", err)
		return
	}
	c.redis.Expire(ctx, jobKey, jobTTL)
}

// Trigger discovers files under logsRoot matching filter and starts a
// background import job covering all of them.
func (c *Coordinator) Trigger(ctx context.Context, userID uuid.UUID, filter DiscoverFilter) (TriggerResult, error) {
	progress, err := c.Status(ctx)
	if err != nil {
		return TriggerResult{}, err
	}
	if progress.Status == StatusRunning {
		return TriggerResult{}, ErrAlreadyRunning
	}

	files, err := c.DiscoverFiles(filter)
	if err != nil {
		return TriggerResult{}, err
	}
	if len(files) == 0 {
		return TriggerResult{Started: false}, nil
	}

	return c.startJob(ctx, userID, files, nil, nil)
}

// ImportSelected imports exactly the given paths (rejecting any not under
// logsRoot — spec.md §4.6's path-traversal guard) optionally relabeled
// under targetProject.
func (c *Coordinator) ImportSelected(ctx context.Context, userID uuid.UUID, filePaths []string, targetProject *string) (TriggerResult, error) {
	progress, err := c.Status(ctx)
	if err != nil {
		return TriggerResult{}, err
	}
	if progress.Status == StatusRunning {
		return TriggerResult{}, ErrAlreadyRunning
	}

	var valid []string
	var validationErrors []string
	for _, p := range filePaths {
		if !c.withinLogsRoot(p) {
			c.logger.Warn("coordinator: rejected path outside logs root", "path", p)
			validationErrors = append(validationErrors, fmt.Sprintf("invalid_path:%s", filepath.Base(p)))
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return TriggerResult{Started: false, ValidationErrors: validationErrors}, nil
	}

	result, err := c.startJob(ctx, userID, valid, targetProject, validationErrors)
	return result, err
}

// withinLogsRoot guards against path traversal: a selected file must
// resolve to a path under logsRoot.
func (c *Coordinator) withinLogsRoot(path string) bool {
	rel, err := filepath.Rel(c.logsRoot, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (c *Coordinator) startJob(ctx context.Context, userID uuid.UUID, files []string, targetProject *string, validationErrors []string) (TriggerResult, error) {
	c.clearState(ctx)

	jobID := uuid.New().String()
	c.setProgress(ctx, Progress{
		JobID: jobID, Status: StatusStarting, TotalFiles: len(files),
		StartedAt: time.Now().UTC().Format(time.RFC3339), Errors: validationErrors,
	})

	bgCtx := context.WithoutCancel(ctx)
	go c.runJob(bgCtx, jobID, userID, files, targetProject)

	return TriggerResult{Started: true, JobID: jobID, TotalFiles: len(files), ValidationErrors: validationErrors}, nil
}

// runJob is the detached background worker. It never returns an error to a
// caller — every failure is recorded in the job's Progress.
func (c *Coordinator) runJob(ctx context.Context, jobID string, userID uuid.UUID, files []string, targetProject *string) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("coordinator: import job panicked", "panic", rec, "job_id", jobID)
			c.setProgress(ctx, Progress{JobID: jobID, Status: StatusError, CompletedAt: time.Now().UTC().Format(time.RFC3339)})
		}
	}()

	p := parser.New(c.logsRoot)
	progress := Progress{JobID: jobID, Status: StatusRunning, TotalFiles: len(files), StartedAt: time.Now().UTC().Format(time.RFC3339)}
	c.setProgress(ctx, progress)

	seen := parser.NewDedup()
	for _, filePath := range files {
		if c.isCancelled(ctx) {
			c.logger.Info("coordinator: import job cancelled", "job_id", jobID)
			progress.Status = StatusCancelled
			progress.CompletedAt = time.Now().UTC().Format(time.RFC3339)
			c.setProgress(ctx, progress)
			return
		}
		if hash, err := parser.HashFile(filePath); err == nil && !seen.Mark(hash) {
			progress.ProcessedFiles++
			continue
		}

		progress.CurrentFile = filepath.Base(filePath)
		c.setProgress(ctx, progress)

		conversations, err := p.ParseFile(filePath)
		if err != nil {
			c.logger.Error("coordinator: parse failed", "error", err, "file", filePath)
			progress.Errors = append(progress.Errors, fmt.Sprintf("file:%s", filepath.Base(filePath)))
			progress.ProcessedFiles++
			c.setProgress(ctx, progress)
			continue
		}

		for i := range conversations {
			if c.isCancelled(ctx) {
				break
			}
			if targetProject != nil {
				conversations[i].ProjectName = targetProject
			}

			for _, episode := range segmenter.Segment(&conversations[i]) {
				decisions, err := c.extractor.ExtractDecisions(ctx, episode, userID, filePath)
				if err != nil {
					c.logger.Error("coordinator: extract failed", "error", err, "file", filePath)
					progress.Errors = append(progress.Errors, fmt.Sprintf("extract:%s", filepath.Base(filePath)))
					continue
				}
				progress.DecisionsExtracted += len(decisions)

				for _, d := range decisions {
					if _, err := c.saver.Save(ctx, d); err != nil {
						c.logger.Error("coordinator: save failed", "error", err, "file", filePath)
						progress.Errors = append(progress.Errors, fmt.Sprintf("save:%s", filepath.Base(filePath)))
					}
				}
			}

			c.setProgress(ctx, progress)
		}

		progress.ProcessedFiles++
	}

	progress.CurrentFile = ""
	progress.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	if len(progress.Errors) > 0 {
		progress.Status = StatusCompletedWithError
	} else {
		progress.Status = StatusCompleted
	}
	c.setProgress(ctx, progress)

	if c.invalidator != nil {
		if err := c.invalidator.InvalidateUser(ctx, userID); err != nil {
			c.logger.Error("coordinator: cache invalidation failed", "error", err, "user", userID)
		}
	}
	if c.auditor != nil {
		c.recordAudit(ctx, jobID, userID, progress)
	}
	c.logger.Info("coordinator: import job finished", "job_id", jobID, "files", progress.ProcessedFiles, "decisions", progress.DecisionsExtracted)
}

// recordAudit persists the job's final Progress as a durable model.JobAudit
// row. Best-effort: a failure here never affects the job's own outcome,
// it just means this run is missing from history.
func (c *Coordinator) recordAudit(ctx context.Context, jobID string, userID uuid.UUID, progress Progress) {
	startedAt, _ := time.Parse(time.RFC3339, progress.StartedAt)
	completedAt, _ := time.Parse(time.RFC3339, progress.CompletedAt)
	audit := model.JobAudit{
		ID:                 uuid.New(),
		JobID:              jobID,
		UserID:             userID,
		Status:             string(progress.Status),
		TotalFiles:         progress.TotalFiles,
		ProcessedFiles:     progress.ProcessedFiles,
		DecisionsExtracted: progress.DecisionsExtracted,
		Errors:             progress.Errors,
		StartedAt:          startedAt,
		CompletedAt:        completedAt,
	}
	if err := c.auditor.RecordJobAudit(ctx, audit); err != nil {
		c.logger.Error("coordinator: record job audit failed", "error", err, "job_id", jobID)
	}
}

// DiscoverFiles walks logsRoot for *.jsonl files, skipping any path
// containing a "subagents" segment (matching
// ClaudeLogParser.parse_all_logs's subagent skip), applying the include/
// exclude project filters.
func (c *Coordinator) DiscoverFiles(filter DiscoverFilter) ([]string, error) {
	var files []string
	err := filepath.WalkDir(c.logsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".jsonl" {
			return nil
		}
		if strings.Contains(path, "subagents") {
			return nil
		}

		projectDir := filepath.Base(filepath.Dir(path))
		if filter.ProjectInclude != "" && !strings.Contains(strings.ToLower(projectDir), strings.ToLower(filter.ProjectInclude)) {
			return nil
		}
		for _, excl := range filter.ProjectExclude {
			if strings.Contains(strings.ToLower(projectDir), strings.ToLower(excl)) {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: discover files: %w", err)
	}
	return files, nil
}
