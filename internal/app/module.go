package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
	"github.com/chatdesk/chatdesk/internal/cache"
	"github.com/chatdesk/chatdesk/internal/config"
	"github.com/chatdesk/chatdesk/internal/console"
	"github.com/chatdesk/chatdesk/internal/gateway"
	"github.com/chatdesk/chatdesk/internal/lock"
	"github.com/chatdesk/chatdesk/internal/logging"
	"github.com/chatdesk/chatdesk/internal/profile"
	"github.com/chatdesk/chatdesk/internal/realtime"
	"github.com/chatdesk/chatdesk/internal/status"
	intsync "github.com/chatdesk/chatdesk/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the console, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("console",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCache,
			provideCacheWriter,
			provideGateway,
			provideRealtimeManager,
			provideRouter,
			provideListReconciler,
			provideThreadReconciler,
			provideEngine,
			provideConsole,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := profile.CachePath(p.ProfileName)
	db, err := cache.Open(dbPath)
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

func provideCacheWriter(db *cache.DB, b *bus.Bus, logger *zap.Logger) *cache.Writer {
	return cache.NewWriter(db, b, logger)
}

func provideGateway(cfg *config.Config, logger *zap.Logger) intsync.Gateway {
	return gateway.NewClient(cfg.API.BaseURL, cfg.API.Token, logger)
}

func provideRealtimeManager(b *bus.Bus, logger *zap.Logger) *realtime.Manager {
	return realtime.NewManager(b, logger)
}

func provideRouter(b *bus.Bus, logger *zap.Logger) *realtime.Router {
	return realtime.NewRouter(b, logger)
}

func provideListReconciler(gw intsync.Gateway, b *bus.Bus, logger *zap.Logger) *intsync.ListReconciler {
	return intsync.NewListReconciler(gw, b, logger)
}

func provideThreadReconciler(gw intsync.Gateway, b *bus.Bus, logger *zap.Logger) *intsync.ThreadReconciler {
	return intsync.NewThreadReconciler(gw, b, logger)
}

func provideEngine(list *intsync.ListReconciler, thread *intsync.ThreadReconciler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(list, thread, machine, b, logger)
}

func provideConsole(p Params, list *intsync.ListReconciler, thread *intsync.ThreadReconciler, b *bus.Bus, logger *zap.Logger) *console.App {
	return console.NewApp(list, thread, b, logger, p.ProfileName)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, ui *console.App, cfg *config.Config,
	lk *lock.Lock, db *cache.DB, writer *cache.Writer, manager *realtime.Manager, router *realtime.Router,
	engine *intsync.Engine, list *intsync.ListReconciler, machine *status.Machine, logger *zap.Logger) {

	var unsubscribe func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Mirror reconciler snapshots into the cache and fan
			// realtime events out to both surfaces.
			writer.Start(context.Background())
			engine.Start(context.Background())

			creds := realtime.Credentials{
				Endpoint: cfg.Realtime.Endpoint,
				Key:      cfg.Realtime.Key,
			}
			if creds.Endpoint != "" && creds.Key != "" {
				_ = machine.Transition(status.Connecting)
			} else {
				logger.Info("no realtime credentials, running on REST state only")
				_ = machine.Transition(status.Degraded)
			}
			unsubscribe = manager.Subscribe(creds,
				realtime.ConversationChannel(cfg.CompanyID), router.Handlers())

			go func() {
				if err := list.LoadPage(context.Background(), 1); err != nil {
					logger.Error("initial conversation load failed", zap.Error(err))
				}
			}()

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("console error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			if unsubscribe != nil {
				unsubscribe()
			}
			manager.Close()
			engine.Stop()
			writer.Stop()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("console stopped")
			return nil
		},
	})
}
