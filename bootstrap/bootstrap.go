// Package bootstrap wires all dependencies and starts the application:
// configuration, logging, the relational store, entity definitions
// loaded from YAML files, and the HTTP server.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratakit/strata/adapters/clock"
	"github.com/stratakit/strata/adapters/idgen"
	"github.com/stratakit/strata/adapters/memory"
	"github.com/stratakit/strata/adapters/metrics"
	"github.com/stratakit/strata/config"
	"github.com/stratakit/strata/core/entity"
	"github.com/stratakit/strata/core/events"
	"github.com/stratakit/strata/core/registry"
	"github.com/stratakit/strata/core/schema"
	"github.com/stratakit/strata/core/storage"
	"github.com/stratakit/strata/ports"
	"github.com/stratakit/strata/web"
)

// DevSessionToken is the session token seeded in dev mode so the
// endpoints are usable without an external session service.
const DevSessionToken = "dev"

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Store      storage.Store
	Registry   *registry.Registry
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	holder *config.Holder
}

// Options customizes application wiring.
type Options struct {
	// ConfigPath is the YAML config file. When the file does not
	// exist, configuration falls back to STRATA_* environment
	// variables.
	ConfigPath string

	// Sessions overrides the dev-mode session table.
	Sessions ports.SessionResolver

	// Access overrides the dev-mode allow-all access control.
	Access ports.AccessControl

	// Broadcaster overrides the dev-mode logging broadcaster.
	Broadcaster ports.Broadcaster
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("entities", cfg.Entities.Dir).
		Msg("initializing strata")

	a := &App{
		Logger:   logger,
		Registry: registry.New(),
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initStore(cfg.Database); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	if err := a.loadEntities(cfg.Entities.Dir); err != nil {
		a.Store.Close()
		return nil, fmt.Errorf("load entities: %w", err)
	}

	a.initHTTPServer(cfg, opts)

	// Hot reload only when a real config file is present.
	if opts.ConfigPath != "" {
		if _, statErr := os.Stat(opts.ConfigPath); statErr == nil {
			if err := a.initHolder(opts.ConfigPath); err != nil {
				logger.Warn().Err(err).Msg("config hot reload unavailable")
			}
		}
	}

	return a, nil
}

// initStore opens the relational store named by the driver.
func (a *App) initStore(db config.DatabaseConfig) error {
	switch db.Driver {
	case "postgres":
		store, err := storage.NewPostgres(context.Background(), db.DSN)
		if err != nil {
			return err
		}
		a.Store = store
	default:
		store, err := storage.NewSQLite(db.DSN)
		if err != nil {
			return err
		}
		a.Store = store
	}

	a.Logger.Info().Str("driver", db.Driver).Msg("store opened")
	return nil
}

// loadEntities parses the entity definition directory, constructs a
// definition per file and builds them all.
func (a *App) loadEntities(dir string) error {
	specs, err := schema.ParseDir(dir)
	if err != nil {
		return err
	}

	ids := idgen.NewULID()
	var pruned func(string, int)
	if a.Metrics != nil {
		pruned = a.Metrics.ObservePruned
	}
	for _, spec := range specs {
		def, err := entity.New(spec, entity.Deps{
			Store:     a.Store,
			Registrar: a.Registry,
			Clock:     clock.System{},
			IDs:       ids,
			Logger:    a.Logger,
			Pruned:    pruned,
		})
		if err != nil {
			return err
		}
		a.instrumentEvents(def)
	}

	if err := a.Registry.BuildAll(context.Background()); err != nil {
		return err
	}

	if a.Metrics != nil {
		a.Metrics.EntitiesBuilt.Add(float64(len(specs)))
	}

	a.Logger.Info().Int("entities", len(specs)).Msg("entities built")
	return nil
}

// instrumentEvents counts every published lifecycle event.
func (a *App) instrumentEvents(def *entity.Definition) {
	if a.Metrics == nil {
		return
	}
	def.Events().Subscribe(events.Any, func(ctx context.Context, e events.Event) error {
		a.Metrics.EventsPublished.WithLabelValues(e.Entity, string(e.Name)).Inc()
		return nil
	})
}

// initHTTPServer wires the web handler with configured or dev-mode
// collaborators.
func (a *App) initHTTPServer(cfg *config.Config, opts Options) {
	sessions := opts.Sessions
	if sessions == nil {
		table := memory.NewSessions()
		table.Put(DevSessionToken, ports.Session{AccountID: "dev"})
		sessions = table
		a.Logger.Warn().Msg("using dev session table, do not expose publicly")
	}

	access := opts.Access
	if access == nil {
		access = memory.AllowAll{}
		a.Logger.Warn().Msg("using allow-all access control, do not expose publicly")
	}

	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = memory.NewLogBroadcaster(a.Logger)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	handler := web.NewHandler(web.Deps{
		Registry:      a.Registry,
		Sessions:      sessions,
		Access:        access,
		Broadcaster:   broadcaster,
		Metrics:       a.Metrics,
		MetricsPath:   metricsPath,
		SessionCookie: cfg.Session.Cookie,
		Logger:        a.Logger,
	})

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// initHolder enables config hot reload; log level changes apply live.
func (a *App) initHolder(path string) error {
	holder, err := config.NewHolder(path, a.Logger)
	if err != nil {
		return err
	}

	holder.OnChange(func(cfg *config.Config) {
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	})

	if err := holder.WatchFile(); err != nil {
		holder.Stop()
		return err
	}
	holder.WatchSignals()

	a.holder = holder
	return nil
}

// Run starts the HTTP server and blocks until interrupted.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	if a.holder != nil {
		a.holder.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("store close failed")
		return err
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// setupLogger builds the process logger from the logging config.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
