// Package daemon composes the long-running sync process: store, remote
// backends, sync engine, retry queue, connectivity monitor, and the
// ephemeral-signal services, all wired through fx.
package daemon

import (
	"context"
	"time"

	"github.com/thiagokf/chatd/internal/ai"
	"github.com/thiagokf/chatd/internal/bus"
	"github.com/thiagokf/chatd/internal/config"
	"github.com/thiagokf/chatd/internal/connectivity"
	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/lock"
	"github.com/thiagokf/chatd/internal/logging"
	"github.com/thiagokf/chatd/internal/presence"
	"github.com/thiagokf/chatd/internal/remote"
	"github.com/thiagokf/chatd/internal/remote/memremote"
	"github.com/thiagokf/chatd/internal/remote/redisremote"
	"github.com/thiagokf/chatd/internal/retry"
	"github.com/thiagokf/chatd/internal/session"
	"github.com/thiagokf/chatd/internal/store"
	intsync "github.com/thiagokf/chatd/internal/sync"
	"github.com/thiagokf/chatd/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const probeInterval = 5 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideIdentity,
			provideRemoteStore,
			provideSignalStore,
			provideQueue,
			provideAI,
			provideEngine,
			provideMonitor,
			provideTyping,
			providePresence,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// Missing config is a normal first run; everything has a default.
		return &config.Config{}
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.StorePath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIdentity(cfg *config.Config) identity.Provider {
	return identity.FromConfig(cfg.Identity)
}

// provideRemoteStore supplies the data plane: conversations, messages and
// receipts. The in-process store backs single-machine deployments and tests.
func provideRemoteStore() remote.Store {
	return memremote.New()
}

// provideSignalStore supplies the ephemeral-signal plane. Typing and
// presence can run against redis for multi-machine setups; the data plane is
// unaffected by the choice.
func provideSignalStore(cfg *config.Config, rs remote.Store, logger *zap.Logger) (remote.SignalStore, error) {
	if cfg.Remote.Backend == "redis" {
		logger.Info("using redis signal backend", zap.String("addr", cfg.Remote.RedisAddr))
		return redisremote.New(cfg.Remote.RedisAddr, "", 0, logger)
	}
	return rs, nil
}

func provideQueue(db *store.DB, b *bus.Bus, logger *zap.Logger) *retry.Queue {
	return retry.New(db, b, logger)
}

func provideAI(logger *zap.Logger) ai.Client {
	// No hosted AI backend is configured yet; the graceful wrapper keeps the
	// call sites honest about degradation either way.
	return ai.Graceful{Inner: ai.Noop{}, Logger: logger}
}

func provideEngine(db *store.DB, rs remote.Store, q *retry.Queue, ident identity.Provider, b *bus.Bus, aic ai.Client, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, rs, q, ident, b, aic, logger)
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	addr := cfg.Remote.RedisAddr
	if addr == "" {
		addr = "1.1.1.1:443"
	}
	return connectivity.NewMonitor(connectivity.DefaultProber(addr), b, logger, probeInterval)
}

func provideTyping(ss remote.SignalStore, ident identity.Provider, logger *zap.Logger) *typing.Service {
	return typing.NewService(ss, ident, logger)
}

func providePresence(ss remote.SignalStore, ident identity.Provider, logger *zap.Logger) *presence.Service {
	return presence.NewService(ss, ident, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, lk *lock.Lock, db *store.DB, engine *intsync.Engine, queue *retry.Queue, monitor *connectivity.Monitor, typ *typing.Service, pres *presence.Service, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			// The queue and engine reference each other; connect late.
			queue.SetReplayer(engine)
			monitor.Start(ctx)
			queue.Start(ctx)

			pres.SetOnline(ctx)

			// Bootstrap is best-effort: offline first runs retry later.
			if cfg.Bootstrap.CreatorID != "" {
				if err := engine.EnsureCreatorDM(ctx, cfg.Bootstrap.CreatorID); err != nil {
					logger.Warn("creator conversation bootstrap deferred", zap.Error(err))
				}
			}
			if len(cfg.Bootstrap.DefaultConversations) > 0 {
				if err := engine.EnsureDefaultConversations(ctx, cfg.Bootstrap.DefaultConversations); err != nil {
					logger.Warn("default conversation bootstrap deferred", zap.Error(err))
				}
			}

			// Resume watching every known conversation.
			convs, err := db.ListConversations(false, 500, 0)
			if err != nil {
				return err
			}
			for _, c := range convs {
				engine.StartWatch(ctx, c.ID)
			}

			logger.Info("daemon started", zap.Int("conversations", len(convs)))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			typ.StopAll(ctx)
			pres.SetOffline(ctx)
			queue.Stop()
			monitor.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
