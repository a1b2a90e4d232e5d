package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/peercam/config"
	"github.com/mossy-p/peercam/internal/metrics"
	"github.com/mossy-p/peercam/internal/middleware"
	"github.com/mossy-p/peercam/internal/registry"
	"github.com/mossy-p/peercam/internal/relay"
	"github.com/mossy-p/peercam/internal/session"
	"go.uber.org/zap"
)

// Deps are the components the router serves.
type Deps struct {
	Config   *config.Config
	Registry *registry.Registry
	Relay    *relay.Relay
	Sessions *session.Coordinator
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(d.Logger.Named("http")))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.Config.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"peers":  d.Registry.Count(),
		})
	})
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/token", Login(d.Config.Admin, d.Config.JWTSecret))

		// Peer lookup (public)
		apiGroup.GET("/peers/:peerId", GetPeer(d.Registry))

		admin := apiGroup.Group("/sessions", middleware.JWTAuth(d.Config.JWTSecret))
		admin.GET("", ListSessions(d.Sessions))
		admin.GET("/:sessionId", GetSession(d.Sessions))
		admin.DELETE("/:sessionId", DeleteSession(d.Sessions))
	}

	signaling := NewSignaling(d.Registry, d.Relay, d.Sessions, d.Config.Signaling, d.Logger.Named("signaling"), d.Metrics)
	router.GET("/ws/signal", signaling.HandleSignaling)

	return router
}
