// Package service coordinates the workflow boundary: request intake with
// semantic dedup, background execution on a worker pool, status reads, and
// the feedback path that resumes a clarification-paused workflow.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jfarrand/ariadne/pkg/ariadne/llm"
	"github.com/jfarrand/ariadne/pkg/ariadne/observability"
	"github.com/jfarrand/ariadne/pkg/ariadne/simindex"
	"github.com/jfarrand/ariadne/pkg/ariadne/store"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// Controller errors.
var (
	// ErrEmptyRequest indicates a create call with no request text.
	ErrEmptyRequest = errors.New("request text is empty")

	// ErrNotAwaitingFeedback indicates feedback for a workflow that is not
	// paused at awaiting_clarification.
	ErrNotAwaitingFeedback = errors.New("workflow is not awaiting clarification")

	// ErrEmptyFeedback indicates a feedback call with no answers.
	ErrEmptyFeedback = errors.New("feedback contains no answers")
)

// CreateResult is the outcome of a workflow creation call.
type CreateResult struct {
	ID      string
	Status  workflow.Status
	Cached  bool
	Message string
}

// Controller is the boundary-facing coordinator. It owns no execution state
// itself; all durable state lives in the store and all execution happens on
// the runner.
type Controller struct {
	store     store.Store
	embedder  llm.Embedder
	index     *simindex.Index
	runner    *Runner
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	threshold float64
}

// ControllerOption configures the controller.
type ControllerOption func(*Controller)

// WithCacheThreshold overrides the similarity threshold for request dedup.
func WithCacheThreshold(t float64) ControllerOption {
	return func(c *Controller) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// WithControllerMetrics wires cache-lookup metrics.
func WithControllerMetrics(m observability.MetricsRecorder) ControllerOption {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewController creates the coordinator. The embedder may be degraded at
// runtime: embedding failures skip dedup rather than failing creation.
func NewController(st store.Store, embedder llm.Embedder, runner *Runner, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		store:     st,
		embedder:  embedder,
		index:     simindex.New(st),
		runner:    runner,
		logger:    logger,
		metrics:   observability.NoopMetrics{},
		threshold: simindex.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateWorkflow checks the similarity cache, creates the durable record,
// and schedules background execution. It returns immediately; callers poll
// GetStatus for progress.
//
// The request embedding is computed once regardless of hit or miss and
// stored with the new record for future matches. If the embedding capability
// is unavailable the cache check is skipped (fail-open) and a fresh workflow
// proceeds without a fingerprint.
func (c *Controller) CreateWorkflow(ctx context.Context, requestText string, skipCache bool) (CreateResult, error) {
	requestText = strings.TrimSpace(requestText)
	if requestText == "" {
		return CreateResult{}, ErrEmptyRequest
	}

	fingerprint, err := c.embedder.Embed(ctx, requestText)
	if err != nil {
		c.logger.Warn("embedding unavailable, skipping cache check", "error", err)
		fingerprint = nil
	}

	if !skipCache && fingerprint != nil {
		match, ok, err := c.index.Nearest(ctx, fingerprint, workflow.StatusCompleted, 1-c.threshold)
		if err != nil {
			c.logger.Warn("similarity query failed, assuming miss", "error", err)
		}
		c.metrics.RecordCacheLookup(ctx, ok)
		if ok {
			c.logger.Info("similarity cache hit",
				"workflow_id", match.ID, "distance", match.Distance)
			return CreateResult{
				ID:      match.ID,
				Status:  workflow.StatusCompleted,
				Cached:  true,
				Message: "Result retrieved from cache (high similarity found)",
			}, nil
		}
	}

	prefs, err := c.store.Preferences(ctx)
	if err != nil {
		c.logger.Warn("loading user preferences failed", "error", err)
		prefs = nil
	}

	id := uuid.NewString()
	state := workflow.State{
		WorkflowID:  id,
		Request:     requestText,
		Preferences: prefs,
		Status:      workflow.StatusPlanning,
		ConversationLog: []workflow.Message{
			{Role: "user", Content: requestText},
		},
	}
	rec := &store.Record{
		ID:          id,
		Request:     requestText,
		Fingerprint: fingerprint,
		State:       state,
	}
	if err := c.store.Create(ctx, rec); err != nil {
		return CreateResult{}, fmt.Errorf("create workflow record: %w", err)
	}

	if err := c.runner.Enqueue(id); err != nil {
		// The record stays in planning; a status poll shows it never started
		// and the caller can retry or delete.
		c.logger.Error("scheduling workflow run failed", "workflow_id", id, "error", err)
		return CreateResult{}, fmt.Errorf("schedule workflow run: %w", err)
	}

	c.logger.Info("workflow created", "workflow_id", id)
	return CreateResult{
		ID:      id,
		Status:  workflow.StatusPlanning,
		Message: "Workflow initialized and running in background",
	}, nil
}

// GetStatus returns a read-only snapshot of the workflow record.
func (c *Controller) GetStatus(ctx context.Context, id string) (*store.Record, error) {
	return c.store.Get(ctx, id)
}

// ListWorkflows returns all workflow records, newest first.
func (c *Controller) ListWorkflows(ctx context.Context) ([]*store.Record, error) {
	return c.store.List(ctx)
}

// SubmitFeedback resumes a workflow paused for clarification. The answers
// are merged into the effective request, the stale ambiguous plan is
// cleared, and the workflow re-enters at planning so the clarified request
// is replanned in light of the answers. Valid only while the workflow is in
// awaiting_clarification.
func (c *Controller) SubmitFeedback(ctx context.Context, id string, responses map[string]string) error {
	if len(responses) == 0 {
		return ErrEmptyFeedback
	}

	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.State.Status != workflow.StatusAwaitingClarification {
		return fmt.Errorf("%w: status is %s", ErrNotAwaitingFeedback, rec.State.Status)
	}

	answer := flattenResponses(responses)

	s := rec.State
	s.Request = s.Request + "\nUser clarification: " + answer
	s.PendingFeedback = responses
	s.Plan = nil
	s.Status = workflow.StatusPlanning
	s.ConversationLog = workflow.AppendMessage(s.ConversationLog, workflow.Message{
		Role:    "user",
		Content: answer,
	})
	rec.State = s

	// Persist before scheduling so a poll between the two sees planning.
	if err := c.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("persist feedback: %w", err)
	}

	if err := c.runner.Enqueue(id); err != nil {
		return fmt.Errorf("schedule workflow resume: %w", err)
	}

	c.logger.Info("workflow resumed with feedback", "workflow_id", id)
	return nil
}

// DeleteWorkflow removes the workflow record.
func (c *Controller) DeleteWorkflow(ctx context.Context, id string) error {
	return c.store.Delete(ctx, id)
}

// Questions returns clarification-question analytics.
func (c *Controller) Questions(ctx context.Context) ([]store.QuestionStat, error) {
	return c.store.Questions(ctx)
}

// Preferences returns the stored user preferences.
func (c *Controller) Preferences(ctx context.Context) (map[string]string, error) {
	return c.store.Preferences(ctx)
}

// SetPreference upserts one user preference.
func (c *Controller) SetPreference(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("preference key is empty")
	}
	return c.store.SetPreference(ctx, key, value)
}

// flattenResponses renders the feedback answers as one user-visible line.
// The conventional single-answer form uses the "clarification" key directly.
func flattenResponses(responses map[string]string) string {
	if v, ok := responses["clarification"]; ok {
		return v
	}
	keys := make([]string, 0, len(responses))
	for k := range responses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, responses[k]))
	}
	return strings.Join(parts, "; ")
}
