package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/config"
	"github.com/matheus3301/campus/internal/lock"
	"github.com/matheus3301/campus/internal/logging"
	"github.com/matheus3301/campus/internal/media"
	"github.com/matheus3301/campus/internal/posts"
	"github.com/matheus3301/campus/internal/metrics"
	"github.com/matheus3301/campus/internal/projection"
	"github.com/matheus3301/campus/internal/push"
	"github.com/matheus3301/campus/internal/rpc"
	"github.com/matheus3301/campus/internal/session"
	"github.com/matheus3301/campus/internal/status"
	"github.com/matheus3301/campus/internal/store"
	"github.com/matheus3301/campus/internal/tree"
	"github.com/matheus3301/campus/internal/tree/bunt"
	"github.com/matheus3301/campus/internal/tree/redistree"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// pushRetention is how long delivered and failed pushes stay in the outbox.
const pushRetention = 7 * 24 * time.Hour

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.campus/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTree,
			provideGateway,
			provideDispatcher,
			provideUsers,
			provideMessaging,
			provideMembership,
			provideProjection,
			providePosts,
			provideMedia,
			provideCollector,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore opens campus.db. It always holds the push outbox; the tree
// lives there too under the sqlite backend. Taking the lock first keeps a
// second daemon from touching the file.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(session.AppDBPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideTree(p Params, cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) (*tree.Tree, error) {
	var backend tree.Backend
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		backend = db.TreeBackend()
	case config.BackendBunt:
		path := cfg.Store.Path
		if path == "" {
			path = session.TreeDBPath(p.SessionName)
		}
		bb, err := bunt.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open bunt tree %s: %w", path, err)
		}
		backend = bb
	case config.BackendRedis:
		rb, err := redistree.Open(cfg.Store.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("open redis tree: %w", err)
		}
		backend = rb
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	t := tree.New(backend, b, logger)
	logger.Info("tree backend ready", zap.String("backend", cfg.Store.Backend), zap.String("origin", t.Origin()))
	return t, nil
}

// provideGateway picks the push transport. An AMQP broker that cannot be
// reached falls back to the noop gateway; registerLifecycle then reports
// the daemon as degraded.
func provideGateway(cfg *config.Config, logger *zap.Logger) push.Gateway {
	switch cfg.Push.Gateway {
	case config.GatewayAMQP:
		gw, err := push.DialAMQP(cfg.Push.AMQPURL, cfg.Push.Exchange, 10*time.Second, logger)
		if err != nil {
			logger.Error("amqp push gateway unavailable", zap.Error(err))
			return push.NewNoopGateway("amqp unavailable", logger)
		}
		return gw
	case config.GatewayHTTP:
		url := cfg.Push.URL
		if url == "" {
			url = push.DefaultURL
		}
		return push.NewHTTPGateway(url)
	default:
		return push.NewNoopGateway("push disabled", logger)
	}
}

func provideDispatcher(cfg *config.Config, db *store.DB, gw push.Gateway, b *bus.Bus, logger *zap.Logger) *push.Dispatcher {
	return push.NewDispatcher(db, gw, b, logger, cfg.Push.QueueSize)
}

func provideUsers(t *tree.Tree) *chat.Users {
	return chat.NewUsers(t)
}

func provideMessaging(t *tree.Tree, users *chat.Users, d *push.Dispatcher, logger *zap.Logger) *chat.Messaging {
	return chat.NewMessaging(t, users, d, logger)
}

func provideMembership(t *tree.Tree, users *chat.Users, m *chat.Messaging, logger *zap.Logger) *chat.Membership {
	return chat.NewMembership(t, users, m, logger)
}

// provideProjection returns nil when the session has no signed-in user.
func provideProjection(p Params, cfg *config.Config, t *tree.Tree, users *chat.Users, logger *zap.Logger) (*projection.Projection, error) {
	userID := cfg.UserID(p.SessionName)
	if userID == "" {
		logger.Warn("no user signed in; chat list disabled")
		return nil, nil
	}
	return projection.New(t, users, userID, 0, logger)
}

func providePosts(t *tree.Tree, users *chat.Users, logger *zap.Logger) *posts.Service {
	return posts.NewService(t, users, logger.Named("posts"))
}

// provideMedia returns nil when uploads are not configured.
func provideMedia(cfg *config.Config, logger *zap.Logger) (*media.Store, error) {
	s, err := media.New(media.Config{
		Endpoint:  cfg.Media.Endpoint,
		Bucket:    cfg.Media.Bucket,
		AccessKey: cfg.Media.AccessKey,
		SecretKey: cfg.Media.SecretKey,
		Secure:    cfg.Media.Secure,
		PublicURL: cfg.Media.PublicURL,
	}, logger)
	if errors.Is(err, media.ErrDisabled) {
		return nil, nil
	}
	return s, err
}

func provideCollector(b *bus.Bus) *metrics.Collector {
	return metrics.NewCollector(b)
}

func provideService(
	p Params,
	cfg *config.Config,
	m *status.Machine,
	t *tree.Tree,
	users *chat.Users,
	msg *chat.Messaging,
	mem *chat.Membership,
	proj *projection.Projection,
	timeline *posts.Service,
	db *store.DB,
	gw push.Gateway,
	mediaStore *media.Store,
	logger *zap.Logger,
) *rpc.Service {
	return rpc.NewService(rpc.Deps{
		Session:     p.SessionName,
		UserID:      cfg.UserID(p.SessionName),
		Backend:     cfg.Store.Backend,
		PushGateway: gw.Name(),
		Machine:     m,
		Tree:        t,
		Users:       users,
		Messaging:   msg,
		Membership:  mem,
		Projection:  proj,
		Posts:       timeline,
		Pushes:      db,
		Media:       mediaStore,
		Logger:      logger,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	t *tree.Tree,
	gw push.Gateway,
	dispatcher *push.Dispatcher,
	proj *projection.Projection,
	mediaStore *media.Store,
	collector *metrics.Collector,
	machine *status.Machine,
	logger *zap.Logger,
) {
	var metricsSrv *metrics.Server
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = machine.Transition(status.Connecting)
			var degraded []string

			// Forward writes made by other processes (redis backend only).
			if err := t.Start(context.Background()); err != nil {
				logger.Error("change feed unavailable", zap.Error(err))
				degraded = append(degraded, "change feed unavailable")
			}

			collector.Start(context.Background())

			if n, err := db.PrunePushes(ctx, time.Now().Add(-pushRetention)); err != nil {
				logger.Warn("prune push outbox failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("pruned push outbox", zap.Int64("count", n))
			}
			dispatcher.Start(context.Background())
			if gw.Name() == "noop" && cfg.Push.Gateway != config.GatewayNoop {
				degraded = append(degraded, cfg.Push.Gateway+" push gateway unavailable")
			}

			if mediaStore != nil {
				if err := mediaStore.EnsureBucket(ctx); err != nil {
					logger.Error("media storage unavailable", zap.Error(err))
					degraded = append(degraded, "media storage unavailable")
				}
			}

			if proj != nil {
				proj.Start(context.Background())
			}

			if cfg.MetricsAddr != "" {
				metricsSrv = metrics.NewServer(cfg.MetricsAddr, logger)
				if err := metricsSrv.Start(); err != nil {
					logger.Error("metrics server failed", zap.Error(err))
					metricsSrv = nil
					degraded = append(degraded, "metrics unavailable")
				}
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if len(degraded) > 0 {
				_ = machine.Degrade(strings.Join(degraded, "; "))
				logger.Warn("daemon degraded", zap.Strings("reasons", degraded))
			} else {
				_ = machine.Transition(status.Ready)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if metricsSrv != nil {
				if err := metricsSrv.Stop(ctx); err != nil {
					logger.Warn("error stopping metrics server", zap.Error(err))
				}
			}
			if proj != nil {
				proj.Stop()
			}
			dispatcher.Stop()
			collector.Stop()
			if err := gw.Close(); err != nil {
				logger.Warn("error closing push gateway", zap.Error(err))
			}
			if err := t.Close(); err != nil {
				logger.Warn("error closing tree", zap.Error(err))
			}
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
