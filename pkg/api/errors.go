package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dirigent-io/dirigent/pkg/models"
	"github.com/dirigent-io/dirigent/pkg/orchestrator"
	"github.com/dirigent-io/dirigent/pkg/pool"
	"github.com/dirigent-io/dirigent/pkg/store"
)

// writeError is the single translation point from domain sentinels to HTTP
// status codes. Anything unrecognized is an internal error and gets logged.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidPlan),
		errors.Is(err, models.ErrNoPlanAvailable),
		errors.Is(err, pool.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrExecutionNotFound),
		errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrNoCheckpoint),
		errors.Is(err, pool.ErrUnknownRole),
		errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrCapacity):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrExecutorStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("Unexpected API error", "error", err, "path", c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
