package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/identity"
	"github.com/vovakirdan/wirecall/internal/store"
)

// Deps are the collaborators the HTTP layer serves. Calls and Gatherer are optional.
type Deps struct {
	Hub      *core.Hub
	Calls    store.CallStore
	Resolver identity.Resolver
	Gatherer prometheus.Gatherer
}

// NewServer builds the HTTP server: websocket signaling, health, metrics and call history.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler(deps.Hub))
	router.GET("/ws", gin.WrapH(NewWSHandler(deps.Hub, deps.Resolver, cfg, logger)))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	if verifier, ok := deps.Resolver.(TokenVerifier); ok {
		api.Use(AuthMiddleware(verifier, logger))
	}
	api.GET("/participants/:identity/presence", presenceHandler(deps.Hub))
	if deps.Calls != nil {
		calls := NewCallsHandlers(deps.Calls, logger)
		api.GET("/calls/:id", calls.GetCall)
		api.GET("/participants/:identity/calls", calls.ListParticipantCalls)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		stats, err := hub.Stats(ctx)
		if err != nil {
			c.JSON(stdhttp.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok", "hub": stats})
	}
}

// PresenceResponse reports whether a participant can be rung right now.
type PresenceResponse struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
}

func presenceHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		identity := c.Param("identity")
		online, err := hub.Online(ctx, identity)
		if err != nil {
			c.JSON(stdhttp.StatusServiceUnavailable, ErrorResponse{Error: "hub unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, PresenceResponse{Identity: identity, Online: online})
	}
}
