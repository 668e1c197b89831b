// Package capability implements the step capabilities a workflow run
// delegates to: plan, research, and synthesize. Each capability consumes the
// current workflow state and returns a partial update; failures carry a kind
// so the caller can distinguish degradable errors from fatal ones.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// Step-kind identifiers. Plan step agents reference these names.
const (
	KindPlan       = "plan"
	KindResearch   = "research"
	KindSynthesize = "synthesize"
)

// ErrorKind classifies a capability failure.
type ErrorKind int

const (
	// ErrorParse marks generated output that failed structured parsing.
	// Capabilities normally absorb these with a local fallback.
	ErrorParse ErrorKind = iota

	// ErrorFetch marks an external fetch failure after retries. Degrades
	// to empty-results handling rather than failing the workflow.
	ErrorFetch

	// ErrorFatal marks an unrecoverable failure (misconfiguration,
	// generation backend down). The workflow transitions to failed.
	ErrorFatal
)

// String returns the kind's wire name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorParse:
		return "parse"
	case ErrorFetch:
		return "fetch"
	case ErrorFatal:
		return "fatal"
	}
	return "unknown"
}

// Error is a typed capability failure.
type Error struct {
	Step string
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("capability %q: %s error: %v", e.Step, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal wraps err as an unrecoverable failure of the named step.
func Fatal(step string, err error) *Error {
	return &Error{Step: step, Kind: ErrorFatal, Err: err}
}

// Capability is one invocable step. Invoke inspects the state and returns a
// partial update to merge; it must not mutate the state it receives.
type Capability interface {
	Name() string
	Invoke(ctx context.Context, s workflow.State) (workflow.Update, error)
}

// Registry maps step-kind names to capabilities. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Capability)}
}

// Register adds or replaces a capability under its own name.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[c.Name()] = c
}

// Get returns the capability for a step-kind and whether it exists.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[name]
	return c, ok
}

// MustGet returns the capability for a step-kind, panicking if absent.
// Intended for wiring at startup where a missing capability is a bug.
func (r *Registry) MustGet(name string) Capability {
	c, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("capability: %q not registered", name))
	}
	return c
}

// Names returns the registered step-kinds in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
