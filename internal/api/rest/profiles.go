package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenEnergyCore/internal/devices"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	profiles := s.lm.ProfileLoader().Available()
	c.JSON(http.StatusOK, gin.H{
		"profiles":     profiles,
		"count":        len(profiles),
		"search_paths": s.lm.Config().Devices.SearchPaths,
	})
}

// GET /api/v1/profiles/*id
func (s *Server) getProfile(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	if id == "" {
		s.listProfiles(c)
		return
	}

	profile, err := s.lm.ProfileLoader().Load(id)
	if err != nil {
		if errors.Is(err, devices.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeProfileMissing, "Profile not found", id))
			return
		}
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse(types.CodeProfileInvalid, "Invalid profile", err.Error()))
		return
	}
	c.JSON(http.StatusOK, profile)
}
