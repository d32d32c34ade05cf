// Package daemon composes the engine into a running process.
package daemon

import (
	"context"

	"github.com/Joe3124t/pingy/internal/bus"
	"github.com/Joe3124t/pingy/internal/config"
	"github.com/Joe3124t/pingy/internal/crypto"
	"github.com/Joe3124t/pingy/internal/keyring"
	"github.com/Joe3124t/pingy/internal/lock"
	"github.com/Joe3124t/pingy/internal/logging"
	"github.com/Joe3124t/pingy/internal/media"
	"github.com/Joe3124t/pingy/internal/outbox"
	"github.com/Joe3124t/pingy/internal/overlay"
	"github.com/Joe3124t/pingy/internal/presence"
	"github.com/Joe3124t/pingy/internal/session"
	"github.com/Joe3124t/pingy/internal/store"
	intsync "github.com/Joe3124t/pingy/internal/sync"
	"github.com/Joe3124t/pingy/internal/transport"
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	Client      transport.Client
	Transcoder  media.Transcoder // optional; nil uploads originals
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCryptoEngine,
			provideKeyResolver,
			provideOverlayStore,
			providePresenceTracker,
			providePipeline,
			provideMediaCoordinator,
			provideDispatcher,
			provideSyncEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogDir(p.SessionName), p.SessionName)
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
	dbPath := session.DBPath(p.SessionName)
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

func provideCryptoEngine(p Params, logger *zap.Logger) (*crypto.Engine, error) {
	identity, err := crypto.LoadOrCreateIdentity(session.IdentityKeyPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("identity key loaded")
	return crypto.NewEngine(identity)
}

func provideKeyResolver(p Params, db *store.DB, logger *zap.Logger) *keyring.Resolver {
	return keyring.NewResolver(db, p.Client, p.Config.Engine.PeerKeyTTL.Std(), logger)
}

func provideOverlayStore(db *store.DB) *overlay.Store {
	return overlay.NewStore(db)
}

func providePresenceTracker(p Params, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(p.Config.Engine.PresenceTTL.Std(), clock.New(), b, logger)
}

func providePipeline(p Params, db *store.DB, ce *crypto.Engine, keys *keyring.Resolver, b *bus.Bus, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(db, ce, keys, p.Client, b, logger)
}

func provideMediaCoordinator(p Params, b *bus.Bus, logger *zap.Logger) *media.Coordinator {
	limits := media.Limits{
		MaxBytes:       p.Config.Engine.UploadMaxBytes,
		HDMaxDimension: p.Config.Engine.HDMaxDimension,
		SDMaxDimension: p.Config.Engine.SDMaxDimension,
	}
	return media.NewCoordinator(p.Client, p.Transcoder, limits, p.Config.Engine.UploadWorkers, b, logger)
}

func provideDispatcher(b *bus.Bus, logger *zap.Logger) *transport.Dispatcher {
	return transport.NewDispatcher(b, logger)
}

func provideSyncEngine(p Params, db *store.DB, ce *crypto.Engine, keys *keyring.Resolver, pt *presence.Tracker, b *bus.Bus, logger *zap.Logger) (*intsync.Engine, error) {
	return intsync.New(db, ce, keys, p.Client, pt, b, logger, p.Config.Engine.DecryptWorkers)
}

// registerLifecycle also takes the dispatcher so it is constructed even
// though only the transport implementation calls into it.
func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, engine *intsync.Engine, pipeline *outbox.Pipeline, tracker *presence.Tracker, _ *transport.Dispatcher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			pipeline.Start(context.Background())
			tracker.Start()
			logger.Info("engine started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			tracker.Stop()
			pipeline.Stop()
			engine.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
