// Package server exposes the packaging workflows over HTTP.
//
// Runs are driven synchronously: POST /runs returns once the workflow
// completes, fails, or parks on a human decision, and POST
// /runs/:id/resume delivers the decision and drives the run onward.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lht-media/packager/internal/persistence"
	"github.com/lht-media/packager/internal/pipeline"
	"github.com/lht-media/packager/pkg/api"
)

// Server handles HTTP requests against a workflow engine.
type Server struct {
	engine api.Engine
	logger *slog.Logger
}

// New creates a Server. A nil logger disables request logging.
func New(eng api.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{engine: eng, logger: logger}
}

// Router builds the gin router with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/assistants", s.listAssistants)
	router.POST("/runs", s.createRun)
	router.GET("/runs", s.listRuns)
	router.GET("/runs/:id", s.getRun)
	router.POST("/runs/:id/resume", s.resumeRun)
	router.POST("/runs/:id/retry", s.retryRun)

	return router
}

type createRunRequest struct {
	AssistantID string          `json:"assistant_id"`
	Input       json.RawMessage `json:"input"`
}

type resumeRunRequest struct {
	Response json.RawMessage `json:"response"`
}

// runResponse is the wire shape of a workflow instance. Output and
// Interrupt are mutually exclusive; Error is set for failed runs.
type runResponse struct {
	RunID       string                `json:"run_id"`
	Workflow    string                `json:"workflow"`
	Status      string                `json:"status"`
	PendingStep string                `json:"pending_step,omitempty"`
	State       any                   `json:"state,omitempty"`
	Output      any                   `json:"output,omitempty"`
	Interrupt   *api.InterruptRequest `json:"interrupt,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func newRunResponse(inst *api.WorkflowInstance) runResponse {
	resp := runResponse{
		RunID:       inst.ID,
		Workflow:    inst.Name,
		Status:      string(inst.Status),
		PendingStep: inst.PendingStep,
		State:       inst.State,
		Output:      inst.Output,
		Interrupt:   inst.Interrupt,
	}
	if inst.Err != nil {
		resp.Error = inst.Err.Error()
	}
	return resp
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "podcast-packager"})
}

func (s *Server) listAssistants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assistants": pipeline.Assistants()})
}

func (s *Server) createRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assistantID := req.AssistantID
	if assistantID == "" {
		assistantID = pipeline.PackagerWorkflow
	}
	input, err := pipeline.DecodeInput(assistantID, req.Input)
	if err != nil {
		s.writeError(c, err)
		return
	}

	inst, err := s.engine.Run(c.Request.Context(), assistantID, input)
	if err != nil {
		s.logger.Error("run failed", "workflow", assistantID, "error", err)
		s.writeRunError(c, inst, err)
		return
	}

	s.logger.Info("run finished", "workflow", assistantID, "run_id", inst.ID, "status", inst.Status)
	c.JSON(http.StatusOK, newRunResponse(inst))
}

func (s *Server) listRuns(c *gin.Context) {
	opts := api.InstanceListOptions{
		WorkflowName: c.Query("workflow"),
		Status:       api.Status(c.Query("status")),
	}

	instances, err := s.engine.ListInstances(c.Request.Context(), opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	runs := make([]runResponse, 0, len(instances))
	for _, inst := range instances {
		runs = append(runs, newRunResponse(inst))
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	inst, err := s.engine.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRunResponse(inst))
}

// resumeRun delivers a decision to a waiting run. The signal name is
// the type of the pending interrupt, so callers only send the response
// value.
func (s *Server) resumeRun(c *gin.Context) {
	id := c.Param("id")

	var req resumeRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := s.engine.GetInstance(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if inst.Status != api.StatusWaiting || inst.Interrupt == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "run " + id + " is not waiting for a decision",
		})
		return
	}

	var response any
	if len(req.Response) > 0 {
		if err := json.Unmarshal(req.Response, &response); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid response payload: " + err.Error()})
			return
		}
	}

	inst, err = s.engine.Signal(c.Request.Context(), id, inst.Interrupt.Type, response)
	if err != nil {
		s.logger.Error("resume failed", "run_id", id, "error", err)
		s.writeRunError(c, inst, err)
		return
	}

	s.logger.Info("run resumed", "run_id", id, "status", inst.Status)
	c.JSON(http.StatusOK, newRunResponse(inst))
}

// retryRun re-drives a failed run from its checkpoint.
func (s *Server) retryRun(c *gin.Context) {
	id := c.Param("id")

	inst, err := s.engine.Resume(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("retry failed", "run_id", id, "error", err)
		s.writeRunError(c, inst, err)
		return
	}

	s.logger.Info("run retried", "run_id", id, "status", inst.Status)
	c.JSON(http.StatusOK, newRunResponse(inst))
}

// writeRunError reports a run that finished with an error. When the
// instance is known its ID is included so the caller can retry.
func (s *Server) writeRunError(c *gin.Context, inst *api.WorkflowInstance, err error) {
	if inst == nil {
		s.writeError(c, err)
		return
	}
	c.JSON(statusForError(err), gin.H{"error": err.Error(), "run_id": inst.ID})
}

func (s *Server) writeError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, persistence.ErrInstanceNotFound),
		errors.Is(err, pipeline.ErrUnknownAssistant):
		return http.StatusNotFound
	case errors.Is(err, api.ErrNotWaiting):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
