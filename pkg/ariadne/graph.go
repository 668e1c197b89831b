package ariadne

import (
	"fmt"
	"strings"
	"sync"
)

// END is the terminal node identifier. Use it as an edge target or router
// result to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all graph nodes. A node receives the
// execution context and current state and returns the updated state. State is
// passed by value; nodes return a new value rather than mutating through
// pointers.
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc picks the next node for a conditional edge based on runtime
// state. It must return a valid node ID or END; anything else is a runtime
// routing error.
type RouterFunc[S any] func(ctx Context, state S) string

// Graph is a mutable builder for execution graphs. Build on one goroutine,
// then Compile() into an immutable CompiledGraph that is safe to share.
//
//	g := ariadne.NewGraph[State]().
//	    AddNode("plan", planNode).
//	    AddConditionalEdge("plan", routePlan).
//	    AddNode("research", researchNode).
//	    AddEdge("research", ariadne.END).
//	    SetEntry("plan")
type Graph[S any] struct {
	mu               sync.RWMutex
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	entryPoint       string
}

// NewGraph creates an empty graph builder for state type S.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            make(map[string]NodeFunc[S]),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]RouterFunc[S]),
	}
}

// AddNode registers a named node. Panics on empty, reserved, whitespace, or
// duplicate IDs and on nil functions: builder misuse is a programming error,
// not a runtime condition.
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if id == "" {
		panic("ariadne: node ID cannot be empty")
	}
	if lower := strings.ToLower(id); lower == "end" || lower == END {
		panic("ariadne: node ID cannot be the reserved END marker")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("ariadne: node ID cannot contain whitespace")
	}
	if fn == nil {
		panic("ariadne: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("ariadne: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	return g
}

// AddEdge adds an unconditional edge. The target may be a node ID or END.
// Edge references are validated at Compile() time so edges can be added in
// any order.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge attaches a router that decides the successor of from at
// runtime. A conditional edge takes precedence over simple edges from the
// same node.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S]) *Graph[S] {
	if router == nil {
		panic("ariadne: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = router
	return g
}

// SetEntry designates the entry point node. Validated at Compile() time.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
