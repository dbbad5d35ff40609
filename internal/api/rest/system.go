package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenEnergyCore/internal/bridge"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/system/reload
func (s *Server) reload(c *gin.Context) {
	if err := s.lm.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSystemReload, "Reload failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Configuration reloaded",
		"components": s.lm.DeviceManager().Status(),
	})
}

// GET /api/v1/cycle
func (s *Server) getCycleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.CycleStats())
}

// GET /api/v1/bridges
func (s *Server) listBridges(c *gin.Context) {
	workers := s.lm.Bridges().List()
	stats := make([]bridge.Stats, 0, len(workers))
	for _, w := range workers {
		stats = append(stats, w.Stats())
	}

	c.JSON(http.StatusOK, gin.H{
		"bridges": stats,
		"count":   len(stats),
	})
}
