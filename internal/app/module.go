// Package app composes the synchronization engine: config, logging,
// storage, transport, and the coordinator, wired through fx.
package app

import (
	"context"
	"os"

	"github.com/telechat/telechat/internal/api"
	"github.com/telechat/telechat/internal/bus"
	"github.com/telechat/telechat/internal/config"
	"github.com/telechat/telechat/internal/conn"
	"github.com/telechat/telechat/internal/lock"
	"github.com/telechat/telechat/internal/logging"
	"github.com/telechat/telechat/internal/session"
	"github.com/telechat/telechat/internal/store"
	intsync "github.com/telechat/telechat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	// ServerURL overrides the configured server, mainly for testing.
	ServerURL string
}

// Module returns the fx module for the engine, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAPIClient,
			provideConnManager,
			provideCoordinator,
			NewEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &config.Config{}
	}
	if p.ServerURL != "" {
		cfg.ServerURL = p.ServerURL
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8080"
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAPIClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.ServerURL)
}

func provideConnManager(cfg *config.Config, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Config{
		URL:         cfg.WebsocketURLOrDerived(),
		BaseDelay:   cfg.Reconnect.BaseDelayOrDefault(),
		MaxDelay:    cfg.Reconnect.MaxDelayOrDefault(),
		MaxAttempts: cfg.Reconnect.MaxAttemptsOrDefault(),
	}, conn.NewWebSocketTransport(), logger)
}

func provideCoordinator(client *api.Client, db *store.DB, mgr *conn.Manager, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Coordinator {
	return intsync.NewCoordinator(client, db, mgr, b, logger, cfg.PageSizeOrDefault())
}

func registerLifecycle(lc fx.Lifecycle, engine *Engine, co *intsync.Coordinator, mgr *conn.Manager, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Drain live events for the whole engine lifetime.
			go co.Run(runCtx)

			// Headless operation: credentials from the environment let
			// the engine run as a standalone sync process.
			identifier := os.Getenv("TELECHAT_IDENTIFIER")
			password := os.Getenv("TELECHAT_PASSWORD")
			if identifier != "" && password != "" {
				if err := engine.Login(ctx, identifier, password); err != nil {
					logger.Error("auto-login failed", zap.Error(err))
				}
			} else {
				logger.Info("no credentials in environment, waiting for login")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			mgr.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
