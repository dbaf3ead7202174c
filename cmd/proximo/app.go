package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/proximo/internal/api"
	"github.com/haasonsaas/proximo/internal/auth"
	"github.com/haasonsaas/proximo/internal/config"
	"github.com/haasonsaas/proximo/internal/geolocation"
	"github.com/haasonsaas/proximo/internal/observability"
	"github.com/haasonsaas/proximo/internal/realtime"
	"github.com/haasonsaas/proximo/internal/session"
	"github.com/haasonsaas/proximo/internal/tracking"
	"github.com/haasonsaas/proximo/pkg/models"
)

// =============================================================================
// Client Wiring
// =============================================================================

// app holds the collaborators built from one configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	auth     *auth.Holder
	api      *api.Client
	channels *realtime.Manager
	provider geolocation.Provider
}

// loadConfig resolves and loads the configuration named by the --config flag.
func loadConfig(configPath string) (*config.Config, string, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config, out io.Writer, debug bool) *slog.Logger {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: out,
	})
}

// newApp wires the REST client, the credential holder, the channel manager
// and the location provider. Every component reports into one Metrics.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	provider, err := newProvider(cfg.Location)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(nil)
	holder := auth.NewHolder()
	client := api.NewClient(api.Options{
		BaseURL:  cfg.API.BaseURL(),
		Timeout:  cfg.API.Timeout,
		Retry:    cfg.API.Retry,
		Logger:   logger,
		Observer: metrics,
	}, holder)
	channels := realtime.NewManager(realtime.Options{
		URL:              cfg.RealtimeURL(),
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		PingInterval:     cfg.Realtime.PingInterval,
		PongWait:         cfg.Realtime.PongWait,
		WriteWait:        cfg.Realtime.WriteWait,
		Reconnect:        cfg.Realtime.Reconnect,
		ClientID:         "proximo-" + uuid.NewString(),
		Logger:           logger,
		Observer:         metrics,
	}, holder)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		auth:     holder,
		api:      client,
		channels: channels,
		provider: provider,
	}, nil
}

// newProvider returns the configured location source.
func newProvider(cfg config.LocationConfig) (geolocation.Provider, error) {
	switch cfg.Source {
	case config.SourceTrack:
		track, err := geolocation.LoadTrack(cfg.TrackFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load track: %w", err)
		}
		return track, nil
	default:
		p := geolocation.NewStaticProvider(models.Location{
			Latitude:  cfg.Latitude,
			Longitude: cfg.Longitude,
			Accuracy:  cfg.Accuracy,
		})
		p.JitterMeters = cfg.JitterMeters
		return p, nil
	}
}

// samplingOptions maps the location section onto sampler options.
func samplingOptions(cfg config.LocationConfig) geolocation.Options {
	return geolocation.Options{
		HighAccuracy: cfg.HighAccuracy,
		Timeout:      cfg.Timeout,
		MaxAge:       cfg.MaxAge,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	}
}

// trackingOptions builds the orchestrator options, parsing the REST fallback
// schedule. An empty schedule disables the fallback.
func trackingOptions(cfg config.LocationConfig, logger *slog.Logger, metrics *observability.Metrics) (tracking.Options, error) {
	opts := tracking.Options{
		Sampling: samplingOptions(cfg),
		Logger:   logger,
		Metrics:  metrics,
	}
	if cfg.FallbackSchedule != "" {
		schedule, err := cron.ParseStandard(cfg.FallbackSchedule)
		if err != nil {
			return opts, fmt.Errorf("invalid location.fallback_schedule: %w", err)
		}
		opts.Fallback = schedule
	}
	return opts, nil
}

// newSession builds a logged-out session on top of the app.
func (a *app) newSession(nav session.Navigator) (*session.Session, error) {
	opts, err := trackingOptions(a.cfg.Location, a.logger, a.metrics)
	if err != nil {
		return nil, err
	}
	return session.New(session.Deps{
		API:      a.api,
		Auth:     a.auth,
		Channels: a.channels,
		Sampler:  geolocation.NewSampler(a.provider, a.logger),
	}, session.Options{
		Tracking:    opts,
		TypingIdle:  a.cfg.Typing.Idle,
		TypingGrace: a.cfg.Typing.Grace,
		Navigator:   nav,
		Logger:      a.logger,
	}), nil
}

// =============================================================================
// Metrics Endpoint
// =============================================================================

// serveMetrics exposes /metrics on addr until ctx is done. An empty addr
// disables the listener.
func serveMetrics(ctx context.Context, addr string, metrics *observability.Metrics, logger *slog.Logger) (stop func(), err error) {
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
