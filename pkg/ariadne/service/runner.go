package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jfarrand/ariadne/pkg/ariadne"
	"github.com/jfarrand/ariadne/pkg/ariadne/observability"
	"github.com/jfarrand/ariadne/pkg/ariadne/store"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// Runner defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Runner errors.
var (
	// ErrQueueFull indicates the run queue is at capacity.
	ErrQueueFull = errors.New("run queue full")

	// ErrRunnerClosed indicates the runner is shutting down.
	ErrRunnerClosed = errors.New("runner closed")
)

// Runner executes workflow runs on a fixed worker pool. Many workflows run
// concurrently, but at most one execution is in flight per workflow id, and
// a single workflow's steps run strictly sequentially inside its run.
type Runner struct {
	store   store.Store
	graph   *ariadne.CompiledGraph[workflow.State]
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// RunnerOption configures the runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	workers   int
	queueSize int
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// WithWorkers sets the worker pool size. Default: 4.
func WithWorkers(n int) RunnerOption {
	return func(c *runnerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize sets the pending-run queue capacity. Default: 64.
func WithQueueSize(n int) RunnerOption {
	return func(c *runnerConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithRunnerMetrics wires run metrics into executions.
func WithRunnerMetrics(m observability.MetricsRecorder) RunnerOption {
	return func(c *runnerConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithRunnerTracing wires span creation into executions.
func WithRunnerTracing(s observability.SpanManager) RunnerOption {
	return func(c *runnerConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// NewRunner creates a runner and starts its workers. ctx bounds the lifetime
// of all executions; Close drains the queue and waits for in-flight runs.
func NewRunner(ctx context.Context, st store.Store, graph *ariadne.CompiledGraph[workflow.State], logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := runnerConfig{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		metrics:   observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Runner{
		store:    st,
		graph:    graph,
		logger:   logger,
		metrics:  cfg.metrics,
		spans:    cfg.spans,
		queue:    make(chan string, cfg.queueSize),
		inflight: make(map[string]struct{}),
	}
	r.wg.Add(cfg.workers)
	for i := 0; i < cfg.workers; i++ {
		go r.worker(ctx)
	}
	return r
}

// Enqueue schedules a workflow run. Non-blocking: a full queue is reported
// to the caller rather than stalling the request path.
func (r *Runner) Enqueue(id string) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRunnerClosed
	}

	select {
	case r.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued and in-flight runs to
// finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.queue)
	r.wg.Wait()
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for id := range r.queue {
		if !r.claim(id) {
			// Another worker holds this id; the running execution will
			// persist its own outcome, so this request is redundant.
			r.logger.Warn("workflow already executing, dropping run request", "workflow_id", id)
			continue
		}
		r.run(ctx, id)
		r.release(id)
	}
}

func (r *Runner) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inflight[id]; exists {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

// run loads the record, drives the graph, and persists state after every
// node. The store write is the durability boundary: a crash between nodes
// loses at most the in-flight node's output.
func (r *Runner) run(ctx context.Context, id string) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		r.logger.Error("load workflow for execution", "workflow_id", id, "error", err)
		return
	}
	if rec.State.Status.Terminal() {
		r.logger.Warn("workflow already terminal, skipping run",
			"workflow_id", id, "status", rec.State.Status)
		return
	}

	ectx := ariadne.NewContext(ctx,
		ariadne.WithLogger(r.logger),
		ariadne.WithRunID(id),
	)

	persist := func(ctx context.Context, nodeID string, s workflow.State) error {
		rec.State = s
		return r.store.Save(ctx, rec)
	}

	runOpts := []ariadne.RunOption[workflow.State]{
		ariadne.WithPersistence(persist),
		ariadne.WithMetrics[workflow.State](r.metrics),
	}
	if r.spans != nil {
		runOpts = append(runOpts, ariadne.WithTracing[workflow.State](r.spans))
	}

	final, err := r.graph.Run(ectx, rec.State, runOpts...)
	if err != nil {
		// Node-level capability failures are folded into the state; an error
		// here means the executor itself failed (persistence, panic,
		// cancellation). Record it so the failure is observable.
		r.logger.Error("workflow execution aborted", "workflow_id", id, "error", err)
		final.Status = workflow.StatusFailed
		final.ValidationNotes = append(final.ValidationNotes, workflow.ValidationNote{
			Step:  "executor",
			Error: err.Error(),
		})
		rec.State = final
		if saveErr := r.store.Save(context.WithoutCancel(ctx), rec); saveErr != nil {
			r.logger.Error("persist aborted workflow", "workflow_id", id, "error", saveErr)
		}
		return
	}

	// Mirror the final answer into the conversation log once completed.
	if final.Status == workflow.StatusCompleted && final.Final != nil {
		final.ConversationLog = workflow.AppendMessage(final.ConversationLog, workflow.Message{
			Role:    "assistant",
			Content: final.Final.Response,
		})
		rec.State = final
		if err := r.store.Save(ctx, rec); err != nil {
			r.logger.Error("persist final conversation entry", "workflow_id", id, "error", err)
		}
	}
}
