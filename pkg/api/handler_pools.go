package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dirigent-io/dirigent/pkg/models"
)

func (s *Server) handleListPools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pools": s.pools.Status()})
}

func (s *Server) handleGetPool(c *gin.Context) {
	pl, err := s.pools.Pool(models.AgentType(c.Param("role")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pl.Status())
}

// ScalePoolRequest is the body of POST /api/v1/pools/:role/scale. The
// target must fall inside the pool's configured min/max bounds.
type ScalePoolRequest struct {
	Instances int `json:"instances" binding:"required"`
}

func (s *Server) handleScalePool(c *gin.Context) {
	var req ScalePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	pl, err := s.pools.Pool(models.AgentType(c.Param("role")))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := pl.ForceScale(c.Request.Context(), req.Instances); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pl.Status())
}
