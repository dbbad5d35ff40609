package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/api/websocket"
	"github.com/KevinKickass/OpenEnergyCore/internal/auth"
	"github.com/KevinKickass/OpenEnergyCore/internal/config"
	"github.com/KevinKickass/OpenEnergyCore/internal/interfaces"
)

type Server struct {
	router     *gin.Engine
	lm         interfaces.LifecycleManager
	logger     *zap.Logger
	server     *http.Server
	wsHub      *websocket.Hub
	jwtHandler *auth.JWTHandler
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, jwtHandler *auth.JWTHandler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:     gin.New(),
		lm:         lm,
		logger:     logger,
		wsHub:      wsHub,
		jwtHandler: jwtHandler,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	authenticated := auth.Middleware(s.jwtHandler)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/reload", authenticated, auth.RequirePermission(auth.PermTechnician), s.reload)
		}

		v1.GET("/cycle", s.getCycleStats)
		v1.GET("/bridges", s.listBridges)

		// ==================== COMPONENTS ====================
		components := v1.Group("/components")
		{
			// Read operations: public on the local network
			components.GET("", s.listComponents)
			components.GET("/:id", s.getComponent)

			// Stored configuration: Admin only
			components.POST("", authenticated, auth.RequirePermission(auth.PermAdmin), s.saveComponentConfig)
			components.DELETE("/:id", authenticated, auth.RequirePermission(auth.PermAdmin), s.deleteComponentConfig)
		}

		// ==================== CHANNELS ====================
		channels := v1.Group("/channels")
		{
			channels.GET("/:component/:channel", s.getChannel)
			channels.PUT("/:component/:channel", authenticated, auth.RequirePermission(auth.PermTechnician), s.writeChannel)
		}

		v1.GET("/processimage", s.getProcessImage)

		// ==================== PROFILES ====================
		v1.GET("/profiles", s.listProfiles)
		v1.GET("/profiles/*id", s.getProfile)

		// ==================== WEBSOCKET (Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	stats := s.lm.CycleStats()
	status := http.StatusOK
	state := "ok"
	if !stats.Running {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"cycles":    stats.Cycles,
		"timestamp": time.Now().Unix(),
	})
}
