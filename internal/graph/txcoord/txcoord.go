// Package txcoord implements a saga-style coordinator for the Graph Writer's
// write sequence: a primary write followed by a chain of best-effort derived
// writes, any of which may fail without aborting the primary (spec.md §7:
// "save failure on a derived edge does not abort the primary write").
//
// Grounded on original_source/apps/api/services/transaction_coordinator.py's
// TransactionCoordinator/SagaStep/DecisionCreationSaga: each Step pairs an
// Execute with a Compensate, steps run in order, and a failure compensates
// every previously-succeeded step in reverse. Unlike the Python original
// (which aborts the whole saga on any step failure), Coordinator.Run skips
// past failed steps tagged BestEffort so only a primary-step failure triggers rollback.
package txcoord

import (
	"context"
	"fmt"
	"log/slog"
)

// Step is one unit of work in a saga. Compensate may be nil if the step has
// no side effect worth undoing (a pure derivation that failed leaves no
// state behind).
type Step struct {
	Name       string
	BestEffort bool // failure logs and continues instead of triggering rollback
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Result reports which steps ran and which (if any) failed.
type Result struct {
	Completed []string
	Failed    string
	Err       error
}

// Coordinator runs a fixed sequence of Steps, compensating the primary chain
// on failure but tolerating best-effort step failures in place.
type Coordinator struct {
	logger *slog.Logger
}

// New returns a Coordinator. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{logger: logger}
}

// Run executes steps in order. A failing best-effort step is logged and
// skipped; the saga continues. A failing non-best-effort step triggers
// compensation of every previously-completed non-best-effort step, in
// reverse order, and Run returns the original error.
func (c *Coordinator) Run(ctx context.Context, sagaName string, steps []Step) Result {
	var completed []Step

	for _, step := range steps {
		if err := step.Execute(ctx); err != nil {
			if step.BestEffort {
				c.logger.Error("txcoord: best-effort step failed, continuing", "saga", sagaName, "step", step.Name, "error", err)
				continue
			}
			c.logger.Error("txcoord: step failed, compensating", "saga", sagaName, "step", step.Name, "error", err)
			c.compensate(ctx, sagaName, completed)
			names := make([]string, len(completed))
			for i, s := range completed {
				names[i] = s.Name
			}
			return Result{Completed: names, Failed: step.Name, Err: fmt.Errorf("txcoord: saga %q step %q: %w", sagaName, step.Name, err)}
		}
		if !step.BestEffort {
			completed = append(completed, step)
		}
	}

	names := make([]string, len(completed))
	for i, s := range completed {
		names[i] = s.Name
	}
	return Result{Completed: names}
}

func (c *Coordinator) compensate(ctx context.Context, sagaName string, completed []Step) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			c.logger.Error("txcoord: compensation failed", "saga", sagaName, "step", step.Name, "error", err)
		}
	}
}
