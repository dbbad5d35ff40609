package rest

import (
	"errors"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/config"
	"github.com/KevinKickass/OpenEnergyCore/internal/types"
)

const mimeCBOR = "application/cbor"

type componentView struct {
	ID       string          `json:"id"`
	Level    string          `json:"level"`
	Factory  string          `json:"factory,omitempty"`
	Issues   []string        `json:"issues,omitempty"`
	Details  map[string]any  `json:"details,omitempty"`
	Channels []channel.Value `json:"channels,omitempty"`
}

func levelOf(c component.Component) string {
	ch, ok := c.Image().Channel(component.StateChannel)
	if !ok {
		return component.LevelOK.String()
	}
	v, ok := ch.AnyValue()
	if !ok {
		return component.LevelOK.String()
	}
	lvl, _ := v.(int32)
	return component.Level(lvl).String()
}

func viewOf(c component.Component, withChannels bool) componentView {
	v := componentView{ID: c.ID(), Level: levelOf(c)}
	if d, ok := c.(component.Describer); ok {
		v.Factory = d.Factory()
		v.Details = d.Describe()
	}
	if i, ok := c.(interface{ Issues() []string }); ok {
		v.Issues = i.Issues()
	}
	if withChannels {
		v.Channels = c.Image().Snapshot()
	}
	return v
}

// GET /api/v1/components
func (s *Server) listComponents(c *gin.Context) {
	list := s.lm.Components().List()
	views := make([]componentView, 0, len(list))
	for _, comp := range list {
		views = append(views, viewOf(comp, false))
	}

	c.JSON(http.StatusOK, gin.H{
		"components": views,
		"count":      len(views),
		"configured": s.lm.DeviceManager().Status(),
	})
}

// GET /api/v1/components/:id
func (s *Server) getComponent(c *gin.Context) {
	comp, ok := s.lm.Components().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeComponentNotFound, "Component not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, viewOf(comp, true))
}

// GET /api/v1/channels/:component/:channel
func (s *Server) getChannel(c *gin.Context) {
	addr := channel.Address{Component: c.Param("component"), Channel: c.Param("channel")}
	ch, err := s.lm.Components().Resolve(addr)
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeChannelNotFound, "Channel not found", err.Error()))
		return
	}

	value, defined := ch.AnyValue()
	pending, hasPending := ch.AnyPendingWrite()
	resp := gin.H{
		"address": addr.String(),
		"type":    ch.Type(),
		"doc":     ch.Doc(),
		"value":   value,
		"defined": defined,
	}
	if hasPending {
		resp["pending_write"] = pending
	}
	c.JSON(http.StatusOK, resp)
}

// PUT /api/v1/channels/:component/:channel
func (s *Server) writeChannel(c *gin.Context) {
	var req struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeChannelInvalid, "Invalid request body", "value required"))
		return
	}

	addr := channel.Address{Component: c.Param("component"), Channel: c.Param("channel")}
	ch, err := s.lm.Components().Resolve(addr)
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeChannelNotFound, "Channel not found", err.Error()))
		return
	}

	if err := ch.SetNextWriteAny(req.Value); err != nil {
		status, code := types.ChannelWriteError(
			errors.Is(err, channel.ErrNotWritable),
			errors.Is(err, channel.ErrOutOfRange))
		c.JSON(status, types.NewErrorResponse(code, "Write rejected", err.Error()))
		return
	}

	s.logger.Info("Channel write requested",
		zap.String("address", addr.String()),
		zap.Any("value", req.Value))

	c.JSON(http.StatusAccepted, gin.H{
		"address": addr.String(),
		"value":   req.Value,
	})
}

// GET /api/v1/processimage
func (s *Server) getProcessImage(c *gin.Context) {
	snapshot := s.lm.Components().Snapshot()

	if c.NegotiateFormat(gin.MIMEJSON, mimeCBOR) == mimeCBOR {
		data, err := cbor.Marshal(snapshot)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeImageEncoding, "Encoding failed", err.Error()))
			return
		}
		c.Data(http.StatusOK, mimeCBOR, data)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// POST /api/v1/components
func (s *Server) saveComponentConfig(c *gin.Context) {
	store := s.lm.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeStoreDisabled, "No database configured", nil))
		return
	}

	var cfg config.ComponentConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeComponentInvalid, "Invalid request body", err.Error()))
		return
	}
	if cfg.ID == "" || cfg.Factory == "" {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeComponentInvalid, "Invalid component", "id and factory required"))
		return
	}

	id, err := store.SaveComponentConfig(c.Request.Context(), cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeComponentStore, "Failed to save component", err.Error()))
		return
	}

	resp := gin.H{"id": id, "component_id": cfg.ID}
	if err := s.lm.Reload(c.Request.Context()); err != nil {
		resp["reload_error"] = err.Error()
	}
	c.JSON(http.StatusCreated, resp)
}

// DELETE /api/v1/components/:id
func (s *Server) deleteComponentConfig(c *gin.Context) {
	store := s.lm.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeStoreDisabled, "No database configured", nil))
		return
	}

	id := c.Param("id")
	if err := store.DeleteComponentConfig(c.Request.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeComponentNotFound, "Component not stored", id))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeComponentStore, "Failed to delete component", err.Error()))
		return
	}

	resp := gin.H{"message": "Component deleted"}
	if err := s.lm.Reload(c.Request.Context()); err != nil {
		resp["reload_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
