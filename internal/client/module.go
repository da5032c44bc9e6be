package client

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/instance"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/pull"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved client configuration passed to the fx module.
type Params struct {
	Instance string
	Config   config.ClientConfig
	Headless bool // log to stderr as well as the log file
}

// Module returns the fx module for the client, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("client",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			status.NewModel,
			provideCache,
			providePuller,
			provideManager,
			provideRepairer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	if p.Headless {
		return logging.New(instance.ClientLogPath(p.Instance), p.Instance)
	}
	return logging.NewFileOnly(instance.ClientLogPath(p.Instance), p.Instance)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideCache(b *bus.Bus, logger *zap.Logger) *intsync.Store {
	return intsync.NewStore(b, logger.Named("cache"))
}

func providePuller(p Params) *pull.Client {
	return pull.New(p.Config.APIURL, nil)
}

func provideManager(p Params, m *status.Machine, cache *intsync.Store, logger *zap.Logger) *conn.Manager {
	cfg := conn.Config{
		URL:          p.Config.URL,
		PingInterval: p.Config.PingInterval.Duration,
		Backoff:      conn.DefaultBackoff(),
	}
	return conn.NewManager(cfg, conn.NewWSDialer(), m, cache, logger.Named("conn"))
}

func provideRepairer(p Params, pc *pull.Client, cache *intsync.Store, b *bus.Bus, logger *zap.Logger) *Repairer {
	return NewRepairer(pc, cache, b, logger.Named("repair"), p.Config.RepairInterval.Duration, p.Config.PageSize)
}

func registerLifecycle(lc fx.Lifecycle, p Params, mgr *conn.Manager, rep *Repairer, model *status.Model, b *bus.Bus, logger *zap.Logger) {
	var stopReport func()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Repairer subscribes before the first transition to Connected.
			rep.Start(context.Background())
			if p.Headless {
				stopReport = reportStatus(b, model, logger)
			}
			mgr.Start(context.Background())
			mgr.Connect()
			logger.Info("client started", zap.String("url", p.Config.URL))
			return nil
		},
		OnStop: func(_ context.Context) error {
			mgr.Close()
			rep.Stop()
			if stopReport != nil {
				stopReport()
			}
			_ = logger.Sync()
			return nil
		},
	})
}

// reportStatus logs every change of the status label.
func reportStatus(b *bus.Bus, model *status.Model, logger *zap.Logger) func() {
	events, unsub := b.Subscribe(bus.KindStatusChanged, 16)
	done := make(chan struct{})
	go func() {
		last := ""
		for {
			select {
			case <-events:
				label := model.Snapshot().Label()
				if label != last {
					logger.Info("connection status", zap.String("status", label))
					last = label
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		unsub()
	}
}
