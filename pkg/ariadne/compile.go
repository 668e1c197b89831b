package ariadne

import (
	"errors"
	"fmt"
	"log/slog"
)

// Compile validates the graph and returns an immutable, executable
// CompiledGraph. Validation failures are joined into a single error.
//
// Checks, in order: the entry point is set and references an existing node,
// every edge endpoint references an existing node or END, and a path from the
// entry to END exists. Unreachable nodes are logged as warnings but do not
// fail compilation.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for from, targets := range g.edges {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source %q does not exist", ErrNodeNotFound, from))
		}
		for _, to := range targets {
			if to == END {
				continue
			}
			if _, exists := g.nodes[to]; !exists {
				errs = append(errs, fmt.Errorf("%w: edge target %q does not exist", ErrNodeNotFound, to))
			}
		}
	}
	for from := range g.conditionalEdges {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source %q does not exist", ErrNodeNotFound, from))
		}
	}

	if _, exists := g.nodes[g.entryPoint]; exists && !g.hasPathToEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}

	g.warnUnreachable()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	nodes := make(map[string]NodeFunc[S], len(g.nodes))
	for id, fn := range g.nodes {
		nodes[id] = fn
	}
	edges := make(map[string][]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = append([]string(nil), targets...)
	}
	routers := make(map[string]RouterFunc[S], len(g.conditionalEdges))
	for from, r := range g.conditionalEdges {
		routers[from] = r
	}

	return &CompiledGraph[S]{
		nodes:      nodes,
		edges:      edges,
		routers:    routers,
		entryPoint: g.entryPoint,
	}, nil
}

// hasPathToEnd checks reachability of END from the entry via reverse
// propagation. Conditional edges are assumed to potentially return END.
func (g *Graph[S]) hasPathToEnd() bool {
	canReach := map[string]bool{END: true}

	for changed := true; changed; {
		changed = false
		for from, targets := range g.edges {
			if canReach[from] {
				continue
			}
			for _, to := range targets {
				if canReach[to] {
					canReach[from] = true
					changed = true
					break
				}
			}
		}
		for from := range g.conditionalEdges {
			if !canReach[from] {
				canReach[from] = true
				changed = true
			}
		}
	}
	return canReach[g.entryPoint]
}

// warnUnreachable logs nodes not reachable from the entry point. Conditional
// routers can return any node ID, so a node downstream of a conditional edge
// counts as reachable.
func (g *Graph[S]) warnUnreachable() {
	if g.entryPoint == "" {
		return
	}

	reachable := map[string]bool{g.entryPoint: true}
	queue := []string{g.entryPoint}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if _, conditional := g.conditionalEdges[current]; conditional {
			for id := range g.nodes {
				if !reachable[id] {
					reachable[id] = true
					queue = append(queue, id)
				}
			}
			continue
		}
		for _, to := range g.edges[current] {
			if to != END && !reachable[to] {
				reachable[to] = true
				queue = append(queue, to)
			}
		}
	}

	for id := range g.nodes {
		if !reachable[id] {
			slog.Warn("node is unreachable from entry", "node_id", id)
		}
	}
}

// CompiledGraph is an immutable, executable graph produced by Compile(). It
// is safe for concurrent Run() calls.
type CompiledGraph[S any] struct {
	nodes      map[string]NodeFunc[S]
	edges      map[string][]string
	routers    map[string]RouterFunc[S]
	entryPoint string
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string { return cg.entryPoint }

// NodeIDs returns all node identifiers in unspecified order.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	ids := make([]string, 0, len(cg.nodes))
	for id := range cg.nodes {
		ids = append(ids, id)
	}
	return ids
}

// HasNode reports whether a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// IsConditional reports whether the node routes through a router function.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, exists := cg.routers[id]
	return exists
}

func (cg *CompiledGraph[S]) getNode(id string) (NodeFunc[S], bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}

func (cg *CompiledGraph[S]) getRouter(id string) (RouterFunc[S], bool) {
	r, exists := cg.routers[id]
	return r, exists
}

func (cg *CompiledGraph[S]) getEdges(id string) []string {
	return cg.edges[id]
}
