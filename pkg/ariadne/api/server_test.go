package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfarrand/ariadne/pkg/ariadne"
	"github.com/jfarrand/ariadne/pkg/ariadne/service"
	"github.com/jfarrand/ariadne/pkg/ariadne/store"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	return []float64{1, 0}, nil
}

type fixture struct {
	server *Server
	store  store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	graph, err := ariadne.NewGraph[workflow.State]().
		AddNode("work", func(_ ariadne.Context, s workflow.State) (workflow.State, error) {
			return workflow.Apply(s, workflow.Update{
				Status: workflow.StatusCompleted,
				Final:  &workflow.SynthesisResult{Response: "the answer", Citations: []string{}, Confidence: "high"},
			}), nil
		}).
		AddEdge("work", ariadne.END).
		SetEntry("work").
		Compile()
	require.NoError(t, err)

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	runner := service.NewRunner(context.Background(), st, graph, logger)
	t.Cleanup(runner.Close)

	controller := service.NewController(st, stubEmbedder{}, runner, logger)
	return &fixture{server: NewServer(controller, logger), store: st}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seed(t *testing.T, status workflow.Status) string {
	t.Helper()
	id := uuid.NewString()
	rec := &store.Record{
		ID:      id,
		Request: "Plan a trip.",
		State: workflow.State{
			WorkflowID: id,
			Request:    "Plan a trip.",
			Status:     status,
		},
	}
	require.NoError(t, f.store.Create(context.Background(), rec))
	return id
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decodeBody[map[string]string](t, rec))
}

func TestCreateWorkflow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/workflows", `{"text": "what is the answer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "started", resp["status"])
	id, ok := resp["workflow_id"].(string)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	// The background run completes and becomes visible through GET.
	require.Eventually(t, func() bool {
		status := f.do(http.MethodGet, "/api/v1/workflows/"+id, "")
		if status.Code != http.StatusOK {
			return false
		}
		body := decodeBody[map[string]any](t, status)
		return body["status"] == "completed"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCreateWorkflow_CacheHitReportsCompleted(t *testing.T) {
	f := newFixture(t)

	id := uuid.NewString()
	done := &store.Record{
		ID:          id,
		Request:     "what is the answer",
		Fingerprint: []float64{1, 0},
		State: workflow.State{
			WorkflowID: id,
			Request:    "what is the answer",
			Status:     workflow.StatusCompleted,
		},
	}
	require.NoError(t, f.store.Create(context.Background(), done))

	rec := f.do(http.MethodPost, "/api/v1/workflows", `{"text": "what is the answer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, id, resp["workflow_id"])
}

func TestCreateWorkflow_BadRequests(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/workflows", `{"text": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/workflows", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWorkflow_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/workflows/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/workflows/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWorkflows(t *testing.T) {
	f := newFixture(t)
	f.seed(t, workflow.StatusPlanning)
	f.seed(t, workflow.StatusCompleted)

	rec := f.do(http.MethodGet, "/api/v1/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]map[string]any](t, rec), 2)
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t, workflow.StatusAwaitingClarification)

	rec := f.do(http.MethodPost, "/api/v1/workflows/"+id+"/feedback",
		`{"responses": {"clarification": "Tokyo, $5000, 1 week"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "resumed", resp["status"])
	assert.Equal(t, id, resp["workflow_id"])
}

func TestSubmitFeedback_Errors(t *testing.T) {
	f := newFixture(t)
	running := f.seed(t, workflow.StatusResearching)
	paused := f.seed(t, workflow.StatusAwaitingClarification)

	rec := f.do(http.MethodPost, "/api/v1/workflows/"+running+"/feedback",
		`{"responses": {"clarification": "Tokyo"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/workflows/"+paused+"/feedback",
		`{"responses": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/workflows/"+uuid.NewString()+"/feedback",
		`{"responses": {"clarification": "Tokyo"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/workflows/not-a-uuid/feedback",
		`{"responses": {"clarification": "Tokyo"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteWorkflow(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t, workflow.StatusCompleted)

	rec := f.do(http.MethodDelete, "/api/v1/workflows/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/workflows/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodDelete, "/api/v1/workflows/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreferences(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPut, "/api/v1/preferences/tone", `{"value": "concise"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"tone": "concise"}, decodeBody[map[string]string](t, rec))
}

func TestQuestionAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.RecordQuestion(ctx, "Where to?", "location"))
	require.NoError(t, f.store.RecordQuestion(ctx, "Where to?", "location"))

	rec := f.do(http.MethodGet, "/api/v1/analytics/questions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[[]map[string]any](t, rec)
	require.Len(t, stats, 1)
	assert.Equal(t, "Where to?", stats[0]["question"])
	assert.Equal(t, float64(2), stats[0]["times_asked"])
	assert.Equal(t, "location", stats[0]["category"])
}
