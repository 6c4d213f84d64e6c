package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// CreateExecutionRequest is the body of POST /api/v1/executions. Either a
// clarified request (the plan is generated from templates) or an explicit
// plan must be present; when both are, the plan wins and the request only
// provides correlation metadata.
type CreateExecutionRequest struct {
	Request *models.ClarifiedRequest `json:"request,omitempty"`
	Plan    *models.WorkflowPlan     `json:"plan,omitempty"`
}

func (s *Server) handleCreateExecution(c *gin.Context) {
	var req CreateExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	executionID, err := s.executor.Execute(c.Request.Context(), req.Request, req.Plan, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": executionID})
}

func (s *Server) handleListExecutions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"executions": s.executor.ActiveExecutions()})
}

func (s *Server) handleGetExecution(c *gin.Context) {
	snapshot, err := s.executor.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handlePauseExecution(c *gin.Context) {
	if err := s.executor.Pause(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) handleResumeExecution(c *gin.Context) {
	if err := s.executor.Resume(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (s *Server) handleCancelExecution(c *gin.Context) {
	if err := s.executor.Cancel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// RollbackRequest is the body of POST /api/v1/executions/:id/rollback.
// An empty checkpoint id selects the most recent recoverable checkpoint.
type RollbackRequest struct {
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

func (s *Server) handleRollbackExecution(c *gin.Context) {
	var req RollbackRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	id := c.Param("id")
	if err := s.executor.Rollback(id, req.CheckpointID); err != nil {
		writeError(c, err)
		return
	}
	snapshot, err := s.executor.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleSkipTask(c *gin.Context) {
	if err := s.executor.SkipTask(c.Param("id"), c.Param("task_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "skipped"})
}
