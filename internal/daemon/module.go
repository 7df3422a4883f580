package daemon

import (
	"context"

	"github.com/matheus3301/feedsync/internal/api"
	"github.com/matheus3301/feedsync/internal/bus"
	"github.com/matheus3301/feedsync/internal/config"
	"github.com/matheus3301/feedsync/internal/connectivity"
	"github.com/matheus3301/feedsync/internal/gateway"
	"github.com/matheus3301/feedsync/internal/lock"
	"github.com/matheus3301/feedsync/internal/logging"
	"github.com/matheus3301/feedsync/internal/outbox"
	"github.com/matheus3301/feedsync/internal/session"
	"github.com/matheus3301/feedsync/internal/status"
	"github.com/matheus3301/feedsync/internal/store"
	intsync "github.com/matheus3301/feedsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // optional override; empty = ~/.feedsync/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideSettings,
			provideSession,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMonitor,
			provideGateway,
			provideWriter,
			provideReconciler,
			provideCoordinator,
			provideSweeper,
			provideControlService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideSettings(cfg *config.Config) (config.Settings, error) {
	return cfg.Sync.Settings()
}

func provideSession(p Params, s config.Settings) (session.Context, error) {
	sess := session.Context{Profile: p.Profile, OwnerUserID: s.OwnerUserID}
	return sess, sess.Validate()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    session.LogPath(p.Profile),
		Profile: p.Profile,
		Level:   cfg.Log.Level,
		Stderr:  !cfg.Log.Quiet,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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
	logger.Info("profile lock acquired", zap.Int("pid", l.Owner().PID))
	return l, nil
}

// provideStore depends on the lock so the cache is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideMonitor probes probe_address when one is configured. Without one
// the daemon starts online and only the control API changes that.
func provideMonitor(s config.Settings, b *bus.Bus, logger *zap.Logger) connectivity.Controllable {
	if s.ProbeAddress == "" {
		return connectivity.NewSwitch(true, b)
	}
	return connectivity.NewProber(s.ProbeAddress, s.ProbeInterval, b, logger)
}

func provideGateway(s config.Settings, logger *zap.Logger) gateway.Gateway {
	var token gateway.TokenSource
	switch {
	case s.APIToken != "":
		token = gateway.StaticToken(s.APIToken)
	case s.APIJWTSecret != "":
		token = gateway.HS256Token([]byte(s.APIJWTSecret), s.OwnerUserID)
	}
	return gateway.NewHTTPClient(s.APIBaseURL, token, logger)
}

func provideWriter(sess session.Context, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Writer {
	return outbox.NewWriter(sess, db, b, logger)
}

func provideReconciler(sess session.Context, db *store.DB, gw gateway.Gateway, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(sess, db, gw, b, logger)
}

func provideCoordinator(sess session.Context, s config.Settings, db *store.DB, gw gateway.Gateway, mon connectivity.Controllable,
	rec *intsync.Reconciler, m *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Coordinator {
	return intsync.NewCoordinator(sess, db, gw, mon, rec, m, b, intsync.OptionsFrom(s), logger)
}

func provideSweeper(s config.Settings, db *store.DB, logger *zap.Logger) *intsync.Sweeper {
	return intsync.NewSweeper(db, s.CompletedRetention, s.SweepInterval, logger)
}

func provideControlService(sess session.Context, m *status.Machine, coord *intsync.Coordinator, w *outbox.Writer,
	db *store.DB, mon connectivity.Controllable, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(sess, m, coord, w, db, mon, b, logger)
}

type lifecycleParams struct {
	fx.In

	Server      *Server
	Lock        *lock.Lock
	DB          *store.DB
	Monitor     connectivity.Controllable
	Coordinator *intsync.Coordinator
	Sweeper     *intsync.Sweeper
	Bus         *bus.Bus
	Logger      *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	var stopEvents func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			stopEvents = logEvents(p.Bus, logger)

			if prober, ok := p.Monitor.(*connectivity.Prober); ok {
				prober.Start(context.Background())
			}
			if err := p.Coordinator.Start(context.Background()); err != nil {
				return err
			}
			p.Sweeper.Start(context.Background())

			// Start gRPC server in background.
			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Server.Stop(ctx)
			p.Coordinator.Stop()
			p.Sweeper.Stop()
			if prober, ok := p.Monitor.(*connectivity.Prober); ok {
				prober.Stop()
			}
			if stopEvents != nil {
				stopEvents()
			}
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// logEvents writes status changes and drain summaries to the daemon log.
func logEvents(b *bus.Bus, logger *zap.Logger) func() {
	statusCh, unsubStatus := b.Subscribe(status.EventStatusChanged, 16)
	drainCh, unsubDrain := b.Subscribe(bus.KindSyncDrained, 16)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case evt := <-statusCh:
				if c, ok := evt.Payload.(status.StatusChange); ok {
					logger.Info("sync status", zap.String("from", string(c.From)), zap.String("to", string(c.To)))
				}
			case evt := <-drainCh:
				if r, ok := evt.Payload.(intsync.DrainResult); ok && r != (intsync.DrainResult{}) {
					logger.Info("outbox drained",
						zap.Int("completed", r.Completed),
						zap.Int("retried", r.Retried),
						zap.Int("failed", r.Failed),
						zap.Int("released", r.Released),
					)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		unsubStatus()
		unsubDrain()
	}
}
