package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/admin"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/hub"
	"github.com/matheus3301/chatsync/internal/instance"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance   string
	Config     config.ServerConfig
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideIDIssuer,
			provideGenerator,
			provideHub,
			provideHandler,
			provideAdminService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(instance.ServerLogPath(p.Instance), p.Instance)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(instance.Dir(p.Instance))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore takes the lock as a parameter so the database is never opened
// by a second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := instance.DBPath(p.Instance)
	db, err := openStore(dbPath, p.Config.ChatCount, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func openStore(path string, chatCount int, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate(logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	if err := db.SeedChats(chatCount); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed chats: %w", err)
	}
	return db, nil
}

func provideIDIssuer(db *store.DB, logger *zap.Logger) (*hub.IDIssuer, error) {
	last, err := db.MaxMessageID()
	if err != nil {
		return nil, fmt.Errorf("read max message id: %w", err)
	}
	logger.Info("message ids resume", zap.Int64("after", last))
	return hub.NewIDIssuer(last), nil
}

func provideGenerator(p Params) hub.Generator {
	return hub.NewRandomGenerator(nil, p.Config.ChatCount, p.Config.EmitMinDelay.Duration, p.Config.EmitMaxDelay.Duration)
}

func provideHub(p Params, db *store.DB, gen hub.Generator, ids *hub.IDIssuer, b *bus.Bus, logger *zap.Logger) *hub.Server {
	cfg := hub.Config{
		Host:              p.Config.Host,
		Port:              p.Config.Port,
		HeartbeatInterval: p.Config.HeartbeatInterval.Duration,
	}
	return hub.New(cfg, db, gen, ids, b, logger.Named("hub"))
}

func provideHandler(db *store.DB, h *hub.Server, logger *zap.Logger) *api.Handler {
	return api.NewHandler(db, h, logger.Named("api"))
}

func provideAdminService(h *hub.Server, logger *zap.Logger) *admin.Service {
	return admin.NewService(h, logger.Named("admin"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, h *hub.Server, handler *api.Handler, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			handler.Register(h.Router())

			// A bind failure aborts startup.
			if err := h.Start(context.Background()); err != nil {
				return err
			}

			// Start admin gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("admin server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := h.Stop(ctx); err != nil {
				logger.Warn("error stopping hub", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
