// Package app wires the configured event store, the hub, and the
// websocket gateway into a running server.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/larder/larder/internal/api/ws"
	"github.com/larder/larder/internal/config"
	"github.com/larder/larder/internal/entity/registry"
	"github.com/larder/larder/internal/hub"
	"github.com/larder/larder/internal/server"
	"github.com/larder/larder/internal/store"
)

// App is the assembled server.
type App struct {
	cfg      *config.Config
	store    store.EventStore
	hub      *hub.Hub
	shutdown *server.ShutdownManager
	log      *logrus.Entry
}

// New builds the application from configuration: logging first, then the
// store backend, then the hub on top of it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	configureLogging(cfg.Log)

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		store:    st,
		hub:      hub.New(st, registry.Validators()),
		shutdown: server.NewShutdownManager(server.ShutdownConfig{}),
		log:      logrus.WithField("component", "app"),
	}
	// Registered first so it closes after the HTTP server stops.
	a.shutdown.RegisterCloser(st)
	return a, nil
}

// Run serves until the context is cancelled or a termination signal
// arrives, then shuts down gracefully. It blocks.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	// The websocket route is deliberately outside the shutdown
	// middleware; established connections are closed by the server
	// shutdown itself.
	mux.Handle("/api", ws.NewServer(a.hub))
	mux.Handle("/healthz", server.ShutdownMiddleware(a.shutdown)(http.HandlerFunc(a.healthz)))

	httpServer := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: mux,
		// Only the header read is bounded; body deadlines would kill
		// long-lived websocket connections.
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}
	graceful := server.NewGracefulHTTPServer(httpServer, a.shutdown)

	a.log.WithFields(logrus.Fields{
		"addr":  a.cfg.Server.Addr,
		"store": a.cfg.Store.Type,
	}).Info("server starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(graceful.ListenAndServe)
	g.Go(func() error {
		return a.shutdown.ListenForSignals(ctx)
	})
	return g.Wait()
}

func (a *App) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.EventStore, error) {
	switch cfg.Type {
	case "local":
		return store.NewSQLiteStore(cfg.Path)
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.DSN)
	case "s3":
		return store.NewS3Store(ctx, cfg.S3.Bucket, store.S3Options{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.PathStyle,
			Prefix:       cfg.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func configureLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
