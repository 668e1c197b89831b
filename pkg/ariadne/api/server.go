// Package api exposes the workflow service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jfarrand/ariadne/pkg/ariadne/service"
	"github.com/jfarrand/ariadne/pkg/ariadne/store"
	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// Server wraps the echo engine around the workflow controller.
type Server struct {
	echo       *echo.Echo
	controller *service.Controller
	logger     *slog.Logger
}

// NewServer builds the HTTP server and registers all routes.
func NewServer(controller *service.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{echo: e, controller: controller, logger: logger}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.echo.Group("/api/v1")

	wf := v1.Group("/workflows")
	wf.POST("", s.createWorkflow)
	wf.GET("", s.listWorkflows)
	wf.GET("/:id", s.getWorkflow)
	wf.POST("/:id/feedback", s.submitFeedback)
	wf.DELETE("/:id", s.deleteWorkflow)

	v1.GET("/analytics/questions", s.listQuestions)
	v1.GET("/preferences", s.listPreferences)
	v1.PUT("/preferences/:key", s.setPreference)

	s.echo.GET("/healthz", s.health)
}

// Start listens on addr until the server is shut down.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Echo returns the underlying engine for lifecycle control.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

type createRequest struct {
	Text      string `json:"text"`
	SkipCache bool   `json:"skip_cache"`
}

type createResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type statusResponse struct {
	WorkflowID  string                    `json:"workflow_id"`
	Status      workflow.Status           `json:"status"`
	State       workflow.State            `json:"state"`
	FinalOutput *workflow.SynthesisResult `json:"final_output,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

type feedbackRequest struct {
	Responses map[string]string `json:"responses"`
}

type feedbackResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createWorkflow(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	result, err := s.controller.CreateWorkflow(c.Request().Context(), req.Text, req.SkipCache)
	if err != nil {
		if errors.Is(err, service.ErrEmptyRequest) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		s.logger.Error("create workflow", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "workflow creation failed"})
	}

	status := "started"
	if result.Cached {
		status = "completed"
	}
	return c.JSON(http.StatusCreated, createResponse{
		WorkflowID: result.ID,
		Status:     status,
		Message:    result.Message,
	})
}

func (s *Server) listWorkflows(c echo.Context) error {
	records, err := s.controller.ListWorkflows(c.Request().Context())
	if err != nil {
		s.logger.Error("list workflows", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "listing workflows failed"})
	}

	out := make([]statusResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toStatusResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getWorkflow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	rec, err := s.controller.GetStatus(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "workflow not found"})
		}
		s.logger.Error("get workflow", "workflow_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "status lookup failed"})
	}
	return c.JSON(http.StatusOK, toStatusResponse(rec))
}

func (s *Server) submitFeedback(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	err = s.controller.SubmitFeedback(c.Request().Context(), id, req.Responses)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrEmptyFeedback):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "workflow not found"})
	case errors.Is(err, service.ErrNotAwaitingFeedback):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("submit feedback", "workflow_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "feedback submission failed"})
	}

	return c.JSON(http.StatusOK, feedbackResponse{
		WorkflowID: id,
		Status:     "resumed",
		Message:    "Feedback received, workflow resuming",
	})
}

func (s *Server) deleteWorkflow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := s.controller.DeleteWorkflow(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "workflow not found"})
		}
		s.logger.Error("delete workflow", "workflow_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "deletion failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

type questionResponse struct {
	Question     string    `json:"question"`
	Category     string    `json:"category"`
	TimesAsked   int       `json:"times_asked"`
	TimesHelpful int       `json:"times_helpful"`
	LastAsked    time.Time `json:"last_asked"`
}

func (s *Server) listQuestions(c echo.Context) error {
	stats, err := s.controller.Questions(c.Request().Context())
	if err != nil {
		s.logger.Error("list question analytics", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "analytics lookup failed"})
	}

	out := make([]questionResponse, 0, len(stats))
	for _, st := range stats {
		out = append(out, questionResponse{
			Question:     st.Question,
			Category:     st.Category,
			TimesAsked:   st.TimesAsked,
			TimesHelpful: st.TimesHelpful,
			LastAsked:    st.LastAsked,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listPreferences(c echo.Context) error {
	prefs, err := s.controller.Preferences(c.Request().Context())
	if err != nil {
		s.logger.Error("list preferences", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "preferences lookup failed"})
	}
	return c.JSON(http.StatusOK, prefs)
}

type preferenceRequest struct {
	Value string `json:"value"`
}

func (s *Server) setPreference(c echo.Context) error {
	var req preferenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if err := s.controller.SetPreference(c.Request().Context(), c.Param("key"), req.Value); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// parseID validates the id path parameter. Malformed identifiers are
// rejected at the boundary and never reach the executor.
func parseID(c echo.Context) (string, error) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid workflow ID format")
	}
	return id, nil
}

func toStatusResponse(rec *store.Record) statusResponse {
	return statusResponse{
		WorkflowID:  rec.ID,
		Status:      rec.Status,
		State:       rec.State,
		FinalOutput: rec.FinalOutput,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		CompletedAt: rec.CompletedAt,
	}
}
