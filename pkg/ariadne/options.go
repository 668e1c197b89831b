package ariadne

import (
	"context"

	"github.com/jfarrand/ariadne/pkg/ariadne/observability"
)

// SaveFunc persists the state reached after a node executes. It is the
// durability boundary: a crash between nodes loses at most the in-flight
// node's output. A non-nil error aborts the run with a PersistError.
type SaveFunc[S any] func(ctx context.Context, nodeID string, state S) error

// runConfig holds configuration for graph execution.
type runConfig[S any] struct {
	maxIterations  int
	persist        SaveFunc[S]
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
}

func defaultRunConfig[S any]() runConfig[S] {
	return runConfig[S]{
		maxIterations: 1000,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption[S any] func(*runConfig[S])

// WithMaxIterations caps the number of node executions per run so routing
// cycles cannot spin forever. Default: 1000.
func WithMaxIterations[S any](n int) RunOption[S] {
	return func(c *runConfig[S]) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithPersistence saves state through fn after every node execution.
func WithPersistence[S any](fn SaveFunc[S]) RunOption[S] {
	return func(c *runConfig[S]) {
		c.persist = fn
	}
}

// WithMetrics records node and run metrics through the given recorder.
func WithMetrics[S any](m observability.MetricsRecorder) RunOption[S] {
	return func(c *runConfig[S]) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables span creation for the run and each node.
func WithTracing[S any](spans observability.SpanManager) RunOption[S] {
	return func(c *runConfig[S]) {
		if spans != nil {
			c.spans = spans
			c.tracingEnabled = true
		}
	}
}
