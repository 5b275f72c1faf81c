// Package engine implements the worker pool orchestration of §4.10: a
// fixed-size pool of goroutines that check out URLRecords from the URL
// Table and hand each to a Processor, until the table has no more todo or
// retryable error work and every worker has gone idle. Grounded on the
// teacher's engine/scheduler.go worker-pool/idle-monitor shape, replacing
// its in-process priority-queue Frontier with the URL Table's durable
// check_out/check_in state machine so the Engine has no in-memory queue to
// checkpoint.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrorctl/mirrorctl/internal/config"
	"github.com/mirrorctl/mirrorctl/internal/processor"
	"github.com/mirrorctl/mirrorctl/internal/types"
	"github.com/mirrorctl/mirrorctl/internal/urlfilter"
	"github.com/mirrorctl/mirrorctl/internal/urltable"
)

// State is the engine's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats tracks run-wide counters, read concurrently by every worker.
type Stats struct {
	RequestsSent   atomic.Int64
	RequestsFailed atomic.Int64
	ResponsesOK    atomic.Int64
	URLsEnqueued   atomic.Int64
	URLsSkipped    atomic.Int64
	ActiveWorkers  atomic.Int32
	StartTime      time.Time
}

func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"requests_sent":   s.RequestsSent.Load(),
		"requests_failed": s.RequestsFailed.Load(),
		"responses_ok":    s.ResponsesOK.Load(),
		"urls_enqueued":   s.URLsEnqueued.Load(),
		"urls_skipped":    s.URLsSkipped.Load(),
		"active_workers":  s.ActiveWorkers.Load(),
		"elapsed":         time.Since(s.StartTime).String(),
	}
}

// Engine runs a fixed pool of workers against one URL Table until the
// crawl converges, then reports the worst-severity error category seen
// (types.CategoryNone when nothing failed) for the CLI's exit code.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	table  urltable.Table
	proc   *processor.Processor
	tries  int

	dedup      *urlfilter.Dedup
	checkpoint *CheckpointManager
	gauges     GaugeMetrics

	stats         *Stats
	state         atomic.Int32
	worstCategory atomic.Int32
	idleWorkers   atomic.Int32

	paused   atomic.Bool
	resumeCh chan struct{}
	resumeMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, logger *slog.Logger, table urltable.Table, proc *processor.Processor, dedup *urlfilter.Dedup) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		table:      table,
		proc:       proc,
		tries:      cfg.Engine.Tries,
		dedup:      dedup,
		checkpoint: NewCheckpointManager(cfg.Engine.CheckpointInterval),
		stats:      &Stats{},
		resumeCh:   make(chan struct{}),
	}
}

// LoadCheckpoint restores table records, dedup state, and stats from a
// prior run's checkpoint, if one exists on disk. Call before Seed so
// already-enqueued URLs aren't duplicated.
func (e *Engine) LoadCheckpoint() error {
	return e.checkpoint.Load(e.table, e.dedup, e.stats)
}

// GaugeMetrics receives periodic worker-count/queue-depth readings, fed
// into the mirrorctl_active_workers and mirrorctl_queue_depth gauges.
// Satisfied structurally by *observability.Metrics.
type GaugeMetrics interface {
	SetActiveWorkers(n int32)
	SetQueueDepth(n int64)
}

// Metrics is the full set of counters/gauges the engine and its
// CheckpointManager feed. Satisfied structurally by *observability.Metrics.
type Metrics interface {
	CheckpointMetrics
	GaugeMetrics
}

// SetMetrics wires checkpoint-save counters and worker/queue gauges into
// the engine. Optional; a nil metrics means no-op recording.
func (e *Engine) SetMetrics(m Metrics) {
	e.checkpoint.SetMetrics(m)
	e.gauges = m
}

// Seed inserts the crawl's starting URLs as fresh todo records.
func (e *Engine) Seed(ctx context.Context, urls []string) error {
	records := make([]*types.URLRecord, 0, len(urls))
	for _, u := range urls {
		rec := types.NewURLRecord(u)
		rec.TopURL = u
		records = append(records, rec)
	}
	inserted, err := e.table.AddMany(ctx, records)
	e.stats.URLsEnqueued.Add(int64(inserted))
	return err
}

// Start launches the worker pool and the idle monitor that stops it once
// the crawl has converged.
func (e *Engine) Start(ctx context.Context) {
	e.state.Store(int32(StateRunning))
	e.stats.StartTime = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if reset, err := e.table.ResetInProgress(runCtx); err != nil {
		e.logger.Warn("reset in-progress records failed", "error", err)
	} else if reset > 0 {
		e.logger.Info("reset orphaned in-progress records to todo", "count", reset)
	}

	concurrency := e.cfg.Engine.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	e.logger.Info("engine starting", "workers", concurrency)

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.worker(runCtx, i)
	}
	go e.idleMonitor(runCtx, concurrency)
	if e.cfg.Engine.CheckpointInterval > 0 {
		go e.autoCheckpoint(runCtx)
	}
}

// Wait blocks until every worker has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.state.Store(int32(StateStopped))
	e.logger.Info("engine stopped", "stats", e.stats.Snapshot())

	if e.ExitCategory() == types.CategoryNone {
		if err := e.checkpoint.Clean(); err != nil {
			e.logger.Warn("checkpoint cleanup failed", "error", err)
		}
	} else if err := e.checkpoint.Save(e.table, e.dedup, e.stats); err != nil {
		e.logger.Warn("final checkpoint save failed", "error", err)
	}
}

// autoCheckpoint periodically persists crawl state so an interrupted run
// can resume instead of starting over.
func (e *Engine) autoCheckpoint(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Engine.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.checkpoint.Save(e.table, e.dedup, e.stats); err != nil {
				e.logger.Warn("checkpoint save failed", "error", err)
			}
		}
	}
}

// Stop requests an immediate shutdown.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Pause suspends all workers after their current fetch completes.
func (e *Engine) Pause() {
	if e.paused.CompareAndSwap(false, true) {
		e.state.Store(int32(StatePaused))
		e.logger.Info("engine paused")
	}
}

// Resume wakes every paused worker.
func (e *Engine) Resume() {
	if e.paused.CompareAndSwap(true, false) {
		e.state.Store(int32(StateRunning))
		e.resumeMu.Lock()
		close(e.resumeCh)
		e.resumeCh = make(chan struct{})
		e.resumeMu.Unlock()
		e.logger.Info("engine resumed")
	}
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) Stats() *Stats { return e.stats }

// ExitCategory returns the worst error category seen this run, folded via
// types.WorstCategory, for the CLI to map onto a process exit code.
func (e *Engine) ExitCategory() types.Category { return types.Category(e.worstCategory.Load()) }

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := e.logger.With("worker_id", id)
	idleStreak := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if e.paused.Load() {
			e.resumeMu.Lock()
			ch := e.resumeCh
			e.resumeMu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-ch:
			}
		}

		if e.cfg.Engine.MaxRequests > 0 && e.stats.RequestsSent.Load() >= int64(e.cfg.Engine.MaxRequests) {
			logger.Info("max requests reached")
			e.Stop()
			return
		}

		record, ok := e.nextRecord(ctx)
		if !ok {
			idleStreak++
			if idleStreak > 50 {
				return // idleMonitor will have cancelled ctx by now; avoid busy-looping regardless
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		idleStreak = 0

		e.stats.ActiveWorkers.Add(1)
		e.stats.RequestsSent.Add(1)
		if err := e.proc.Process(ctx, record); err != nil {
			e.stats.RequestsFailed.Add(1)
			e.recordWorstCategory(err)
			logger.Debug("processed with error", "url", record.URL, "error", err)
		} else {
			e.stats.ResponsesOK.Add(1)
		}
		e.stats.ActiveWorkers.Add(-1)
	}
}

func (e *Engine) recordWorstCategory(err error) {
	for {
		current := types.Category(e.worstCategory.Load())
		next := types.WorstCategory(current, err)
		if next == current || e.worstCategory.CompareAndSwap(int32(current), int32(next)) {
			return
		}
	}
}

// nextRecord checks out one todo record, falling back to a retryable error
// record. Error records that have exhausted their retry budget are
// released as permanently skipped instead of being handed to the
// Processor again.
func (e *Engine) nextRecord(ctx context.Context) (*types.URLRecord, bool) {
	todo, err := e.table.CheckOut(ctx, types.StatusTodo, 1)
	if err == nil && len(todo) > 0 {
		return todo[0], true
	}

	for {
		errored, err := e.table.CheckOut(ctx, types.StatusError, 1)
		if err != nil || len(errored) == 0 {
			return nil, false
		}
		rec := errored[0]
		if e.tries > 0 && rec.TryCount >= e.tries {
			_ = e.table.Release(ctx, rec.URL, types.StatusSkipped)
			e.stats.URLsSkipped.Add(1)
			continue
		}
		return rec, true
	}
}

func (e *Engine) idleMonitor(ctx context.Context, concurrency int) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	idleStreak := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			todoCount, _ := e.table.Count(ctx, types.StatusTodo)
			inProgress, _ := e.table.Count(ctx, types.StatusInProgress)
			active := e.stats.ActiveWorkers.Load()

			if e.gauges != nil {
				e.gauges.SetActiveWorkers(active)
				e.gauges.SetQueueDepth(int64(todoCount + inProgress))
			}

			if todoCount == 0 && inProgress == 0 && active == 0 {
				idleStreak++
				if idleStreak >= 3 {
					e.logger.Info("crawl converged, no more work")
					e.Stop()
					return
				}
			} else {
				idleStreak = 0
			}
		}
	}
}
