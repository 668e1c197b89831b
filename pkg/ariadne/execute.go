package ariadne

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jfarrand/ariadne/pkg/ariadne/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph from its entry point with the given initial state.
//
// On success it returns the state after the last node executed before END.
// On error it returns the state at the point of failure, which is useful for
// diagnosis and recovery.
//
// Each iteration checks for cancellation, executes the current node, persists
// the new state when persistence is configured, then routes to the next node
// via a simple or conditional edge, until END.
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption[S]) (result S, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig[S]()
	for _, opt := range opts {
		opt(&cfg)
	}

	runID := ctx.RunID()
	logger := ctx.Logger()
	start := time.Now()

	observability.LogRunStart(logger, runID)

	var execCtx context.Context = ctx
	var runSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, runSpan = cfg.spans.StartRunSpan(ctx, "ariadne", runID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runLoop(execCtx, ctx, state, &cfg)

	duration := time.Since(start)
	cfg.metrics.RecordGraphRun(ctx, runErr == nil, duration)

	if runErr != nil {
		observability.LogRunError(logger, runID, runErr, float64(duration.Milliseconds()), lastNodeOf(runErr))
	} else {
		observability.LogRunComplete(logger, runID, float64(duration.Milliseconds()), nodeCount)
	}
	return result, runErr
}

// lastNodeOf extracts the failing node from a typed execution error.
func lastNodeOf(err error) string {
	switch e := err.(type) {
	case *StepError:
		return e.NodeID
	case *PersistError:
		return e.NodeID
	case *MaxIterationsError:
		return e.LastNodeID
	case *CancellationError:
		return e.NodeID
	}
	return ""
}

// runLoop drives execution from the entry point. tracingCtx carries span
// context; ectx is the ariadne Context handed to nodes.
func (cg *CompiledGraph[S]) runLoop(tracingCtx context.Context, ectx Context, state S, cfg *runConfig[S]) (S, int, error) {
	current := cg.entryPoint
	iterations := 0
	nodeCount := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		select {
		case <-ectx.Done():
			return state, nodeCount, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  ectx.Err(),
			}
		default:
		}

		observability.LogNodeStart(ectx.Logger(), current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()
		var nodeErr error
		state, nodeErr = cg.executeNode(ectx, current, state)
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(ectx.Logger(), current, nodeErr)
			return state, nodeCount, nodeErr
		}
		observability.LogNodeComplete(ectx.Logger(), current, float64(nodeDuration.Milliseconds()))
		nodeCount++

		if cfg.persist != nil {
			if err := cfg.persist(ectx, current, state); err != nil {
				perr := &PersistError{NodeID: current, Err: err}
				observability.LogPersistError(ectx.Logger(), current, err)
				return state, nodeCount, perr
			}
			observability.LogPersist(ectx.Logger(), current)
		}

		next, err := cg.nextNode(ectx, state, current)
		if err != nil {
			return state, nodeCount, err
		}
		current = next
	}

	return state, nodeCount, nil
}

// executeNode runs a single node with panic recovery.
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		// Unreachable after a successful Compile().
		return state, &StepError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withNodeID(nodeID)
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(nodeCtx, state)
	if err != nil {
		return result, &StepError{NodeID: nodeID, Op: "execute", Err: err}
	}
	return result, nil
}

// nextNode resolves the successor of current. Conditional edges win over
// simple edges.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)
		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}
		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}
		return next, nil
	}

	edges := cg.getEdges(current)
	if len(edges) == 0 {
		// Unreachable after a successful Compile().
		return "", &StepError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}
	return edges[0], nil
}
