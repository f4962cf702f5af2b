package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evoswarm/evoswarm/internal/swarm"
)

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/agents", s.handleAgents)
		v1.GET("/agents/:id", s.handleAgent)
		v1.GET("/lineages", s.handleLineages)
		v1.GET("/mutations", s.handleMutations)
		v1.POST("/goals", s.rateLimitMiddleware(), s.handleSubmitGoal)
		v1.GET("/goals/:id", s.handleGoalResult)
		v1.POST("/control/pause", s.handlePause)
		v1.POST("/control/resume", s.handleResume)
		v1.GET("/ws", s.handleWebsocket)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.meta.Status())
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.meta.Snapshot()})
}

func (s *Server) handleAgent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return
	}
	for _, snap := range s.meta.Snapshot() {
		if snap.AgentID == id.String() {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
}

func (s *Server) handleLineages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lineages": s.meta.LineageSummaries()})
}

func (s *Server) handleMutations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mutations": s.meta.MutationHistory()})
}

type submitGoalRequest struct {
	GoalText string `json:"goal_text" binding:"required"`
}

func (s *Server) handleSubmitGoal(c *gin.Context) {
	var req submitGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.meta.SubmitGoal(req.GoalText)
	if err != nil {
		if errors.Is(err, swarm.ErrNoAgentForRequest) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"request_id": id.String(),
				"error":      err.Error(),
				"kind":       string(swarm.FailureNoAgentForRequest),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_id": id.String()})
}

func (s *Server) handleGoalResult(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	res, ok := s.meta.Result(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not ready"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handlePause(c *gin.Context) {
	s.meta.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.meta.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}
	s.hub.ServeWS(c.Writer, c.Request)
}
