package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/identity"
	"github.com/vovakirdan/wirecall/internal/metrics"
	"github.com/vovakirdan/wirecall/internal/store"
	redisstore "github.com/vovakirdan/wirecall/internal/store/redis"
	"github.com/vovakirdan/wirecall/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirecall/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	recorder        *core.CallRecorder
	store           store.CallStore
	mirror          *redisstore.PresenceMirror
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	recorder := core.NewCallRecorder(st, logger,
		core.WithRetries(cfg.PersistRetries, cfg.PersistBackoff),
		core.WithRecorderMetrics(m),
	)

	hubOpts := []core.Option{
		core.WithRingTimeout(cfg.RingTimeout),
		core.WithMetrics(m),
	}

	var mirror *redisstore.PresenceMirror
	if cfg.RedisAddr != "" {
		mirror = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.PresenceTTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := mirror.Ping(pingCtx); err != nil {
			// Presence mirroring is best effort; the server still works without it.
			logger.Warn().Err(err).Str("redis_addr", cfg.RedisAddr).Msg("redis unreachable, presence mirror will retry per update")
		}
		cancel()
		hubOpts = append(hubOpts, core.WithPresenceMirror(mirror))
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("presence mirror enabled")
	}

	var resolver identity.Resolver = identity.Trusting{}
	if cfg.JWTSecret != "" {
		resolver = identity.NewJWTResolver(identity.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
		logger.Info().Msg("identity tokens required")
	} else {
		logger.Warn().Msg("jwt_secret not set, trusting client-supplied identities")
	}

	hub := core.NewHub(recorder, logger, hubOpts...)
	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Calls:    st,
		Resolver: resolver,
		Gatherer: reg,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		recorder:        recorder,
		store:           st,
		mirror:          mirror,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	go a.recorder.Run(workCtx)
	go a.hub.Run(workCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup(stopWork)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup(stopWork)
			return err
		}

		a.cleanup(stopWork)
		return <-serverErr
	}
}

// cleanup stops the hub, flushes pending call records, then closes the store.
func (a *App) cleanup(stopWork context.CancelFunc) {
	stopWork()
	select {
	case <-a.recorder.Done():
	case <-time.After(a.shutdownTimeout):
		a.log.Warn().Msg("call recorder did not drain in time")
	}

	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
