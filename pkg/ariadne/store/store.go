// Package store provides durable persistence for workflow records.
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// Record is the durable row for one workflow. Request and Fingerprint are
// immutable after creation; Status mirrors State.Status and the two are
// written atomically by Save.
type Record struct {
	ID          string                    `json:"id"`
	Request     string                    `json:"request"`
	Fingerprint []float64                 `json:"fingerprint,omitempty"`
	Status      workflow.Status           `json:"status"`
	State       workflow.State            `json:"state"`
	FinalOutput *workflow.SynthesisResult `json:"final_output,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// Fingerprint pairs a workflow id with its stored request embedding, for
// similarity queries.
type Fingerprint struct {
	ID     string
	Vector []float64
}

// QuestionStat is the append-only analytics row for one distinct
// clarification question. Best-effort telemetry, not load-bearing.
type QuestionStat struct {
	Question     string
	Category     string
	TimesAsked   int
	TimesHelpful int
	LastAsked    time.Time
}

// Store persists workflow records.
type Store interface {
	// Create inserts a new record. Returns ErrDuplicateID if the id exists.
	Create(ctx context.Context, r *Record) error

	// Get retrieves a record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]*Record, error)

	// Save writes the whole record. It derives Status and FinalOutput from
	// State, refreshes UpdatedAt, and stamps CompletedAt the first time the
	// record reaches completed. Returns ErrNotFound if the record was never
	// created.
	Save(ctx context.Context, r *Record) error

	// Delete removes a record. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Fingerprints returns the embeddings of all records with the given
	// status that have one stored.
	Fingerprints(ctx context.Context, status workflow.Status) ([]Fingerprint, error)

	// RecordQuestion bumps the ask-count for a clarification question.
	RecordQuestion(ctx context.Context, question, category string) error

	// Questions returns clarification question analytics.
	Questions(ctx context.Context) ([]QuestionStat, error)

	// Preferences returns all stored user preferences.
	Preferences(ctx context.Context) (map[string]string, error)

	// SetPreference upserts a user preference.
	SetPreference(ctx context.Context, key, value string) error

	// Close releases any resources.
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the record doesn't exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrDuplicateID indicates a Create with an id already in use.
	ErrDuplicateID = errors.New("workflow id already exists")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("workflow store closed")
)

// normalize enforces the record/state invariants before a write: Status
// mirrors State.Status, FinalOutput mirrors the state's final output, and
// CompletedAt is stamped once on completion.
func normalize(r *Record, now time.Time) {
	if r.State.Status != "" {
		r.Status = r.State.Status
	}
	r.FinalOutput = r.State.Final
	r.UpdatedAt = now
	if r.Status == workflow.StatusCompleted && r.CompletedAt == nil {
		t := now
		r.CompletedAt = &t
	}
}
