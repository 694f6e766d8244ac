// Package batch drives per-candidate work in fixed-size concurrent batches.
// Batches run one after another; every task of a batch starts together and
// the next batch waits for all of them. A failing or panicking task never
// cancels its siblings, and results keep the input order.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Batch size bounds. The academic service tolerates about ten candidates in
// flight, each fanning out to several invoice lookups.
const (
	MinBatchSize     = 5
	MaxBatchSize     = 10
	DefaultBatchSize = 5
)

// ClampBatchSize forces n into [MinBatchSize, MaxBatchSize]. Zero or negative
// values get DefaultBatchSize.
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n < MinBatchSize:
		return MinBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}

// Result is the settled outcome of one item.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// OK reports whether the task succeeded.
func (r Result[R]) OK() bool {
	return r.Err == nil
}

// Report summarises a run.
type Report struct {
	RunID     string        `json:"run_id"`
	Name      string        `json:"name"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Batches   int           `json:"batches"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// PanicError is recorded for a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Orchestrator holds the batch size and logger shared by runs.
type Orchestrator struct {
	batchSize int
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator. The batch size is clamped.
func NewOrchestrator(batchSize int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		batchSize: ClampBatchSize(batchSize),
		logger:    logger.With("component", "batch"),
	}
}

// BatchSize returns the effective batch size.
func (o *Orchestrator) BatchSize() int {
	return o.batchSize
}

// Run applies task to every item. The returned slice has one Result per item
// at the item's index. If ctx ends between batches, the remaining items are
// settled with the context error without being started.
func Run[T, R any](ctx context.Context, o *Orchestrator, name string, items []T, task func(ctx context.Context, item T) (R, error)) ([]Result[R], Report) {
	report := Report{
		RunID:     uuid.NewString(),
		Name:      name,
		Total:     len(items),
		StartedAt: time.Now(),
	}
	results := make([]Result[R], len(items))
	logger := o.logger.With("run_id", report.RunID, "run", name)

	logger.Info("batch run started", "items", len(items), "batch_size", o.batchSize)

	for start := 0; start < len(items); start += o.batchSize {
		end := start + o.batchSize
		if end > len(items) {
			end = len(items)
		}

		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				results[i] = Result[R]{Index: i, Err: err}
			}
			logger.Warn("batch run interrupted", "remaining", len(items)-start, "error", err)
			break
		}

		report.Batches++
		runBatch(ctx, logger, items, results, start, end, task)
		logger.Debug("batch finished", "batch", report.Batches, "from", start, "to", end-1)
	}

	for _, r := range results {
		if r.Err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}
	report.Duration = time.Since(report.StartedAt)

	logger.Info("batch run finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"batches", report.Batches,
		"duration", report.Duration.String(),
	)

	return results, report
}

func runBatch[T, R any](ctx context.Context, logger *slog.Logger, items []T, results []Result[R], start, end int, task func(context.Context, T) (R, error)) {
	var wg sync.WaitGroup

	for i := start; i < end; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// each goroutine writes only its own slot
			results[i] = settle(ctx, logger, i, items[i], task)
		}(i)
	}

	wg.Wait()
}

func settle[T, R any](ctx context.Context, logger *slog.Logger, index int, item T, task func(context.Context, T) (R, error)) (result Result[R]) {
	result.Index = index

	defer func() {
		if p := recover(); p != nil {
			result.Err = &PanicError{Value: p, Stack: debug.Stack()}
			logger.Error("batch task panicked", "index", index, "panic", p)
		}
	}()

	value, err := task(ctx, item)
	if err != nil {
		logger.Warn("batch task failed", "index", index, "error", err)
		result.Err = err
		return result
	}
	result.Value = value
	return result
}
