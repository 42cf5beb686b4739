// Package app is the orchestrator that ties the backend together: storage,
// auth, sessions, the handler registry, dispatch, and the mode-appropriate
// transport.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ecan-ai/ecan/internal/auth"
	"github.com/ecan-ai/ecan/internal/config"
	"github.com/ecan-ai/ecan/internal/dispatch"
	"github.com/ecan-ai/ecan/internal/eventbus"
	"github.com/ecan-ai/ecan/internal/handlers"
	"github.com/ecan-ai/ecan/internal/provider"
	"github.com/ecan-ai/ecan/internal/push"
	"github.com/ecan-ai/ecan/internal/registry"
	"github.com/ecan-ai/ecan/internal/server"
	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/internal/store"
	"github.com/ecan-ai/ecan/internal/syncqueue"
	"github.com/ecan-ai/ecan/internal/token"
	"github.com/ecan-ai/ecan/internal/transport"
)

// App is the backend process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store      store.Store
	tokens     *token.Manager
	sessions   *session.Manager
	bus        *eventbus.Bus
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	transports *transport.Manager
	notifier   *push.Notifier
	queue      *syncqueue.Queue
	uploader   *syncqueue.Uploader

	// Embedded-mode pieces; nil in web mode.
	host     *provider.HostState
	embedded *transport.Embedded

	// Web-mode pieces; nil in embedded mode.
	ws      *transport.WS
	httpSrv *server.Server
}

// New wires the backend from configuration.
func New(cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	tokens := token.NewManager(cfg.Auth.TokenTTL.Duration, logger)
	sessions := session.NewManager(cfg.Session.Timeout.Duration, logger)
	bus := eventbus.New()
	sessions.SetCallbacks(
		func(uc *session.UserContext) { bus.PublishType(eventbus.SessionCreated, uc.ToMap()) },
		func(uc *session.UserContext) { bus.PublishType(eventbus.SessionDestroyed, uc.ToMap()) },
		func(uc *session.UserContext) { bus.PublishType(eventbus.SessionExpired, uc.ToMap()) },
	)

	var google auth.GoogleVerifier
	if cfg.Auth.GoogleJWKSURL != "" {
		gp, err := auth.NewGoogleProvider(cfg.Auth.GoogleJWKSURL, cfg.Auth.GoogleIssuer)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init google verifier: %w", err)
		}
		google = gp
	}
	svc := auth.NewService(db, tokens, sessions, google, logger)

	queue, err := syncqueue.Open(cfg.Sync.CacheDir, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sync queue: %w", err)
	}
	var uploader *syncqueue.Uploader
	if cfg.Sync.RemoteURL != "" {
		replicator := syncqueue.NewHTTPReplicator(cfg.Sync.RemoteURL, nil, nil)
		uploader = syncqueue.NewUploader(queue, replicator, cfg.Sync.Interval.Duration, cfg.Sync.MaxRetries, logger)
		uploader.OnTaskFailed(func(task syncqueue.Task) {
			bus.PublishType(eventbus.SyncTaskFailed, task)
		})
	}

	a := &App{
		cfg:        cfg,
		logger:     logger.With("component", "app"),
		store:      db,
		tokens:     tokens,
		sessions:   sessions,
		bus:        bus,
		queue:      queue,
		uploader:   uploader,
		transports: transport.NewManager(),
	}

	var ready registry.Readiness
	if cfg.Mode == config.ModeEmbedded {
		a.host = provider.NewHostState(0)
		ready = registry.NewReadyGate(a.host)
	} else {
		ready = registry.AlwaysReady{}
	}

	reg := registry.New(
		registry.TokenValidatorFunc(func(v string) bool {
			_, ok := tokens.Validate(v)
			return ok
		}),
		ready,
		logger,
	)
	handlers.Register(reg, handlers.Deps{
		Auth:     svc,
		Resolver: provider.NewResolver(cfg.Mode, a.host, sessions, logger),
		Sync:     queue,
		Ready:    ready,
		Version:  version,
		TokenTTL: cfg.Auth.TokenTTL.Duration,
		Logger:   logger,
	})
	a.registry = reg

	a.dispatcher = dispatch.New(reg, sessions, 0, logger)

	switch cfg.Mode {
	case config.ModeEmbedded:
		emb := transport.NewEmbedded(0, logger)
		emb.SetMessageHandler(a.dispatcher.HandleMessage)
		a.embedded = emb
		a.transports.SetActive(emb)
	case config.ModeWeb:
		ws := transport.NewWS(sessions, logger, transport.WSOptions{
			AllowedOrigins: cfg.WS.AllowedOrigins,
			MaxFrameBytes:  cfg.WS.MaxFrameBytes,
		})
		ws.SetFrameHandler(a.dispatcher.HandleFrame)
		ws.SetConnHooks(
			func(connID string) { bus.PublishType(eventbus.ClientConnected, map[string]any{"conn_id": connID}) },
			func(connID string) { bus.PublishType(eventbus.ClientGone, map[string]any{"conn_id": connID}) },
		)
		a.ws = ws
		a.transports.SetActive(ws)
		a.httpSrv = server.New(sessions, db, ws, server.Options{
			Addr:           cfg.WS.Addr(),
			Mode:           cfg.Mode,
			AllowedOrigins: cfg.WS.AllowedOrigins,
		}, logger)
	}

	a.dispatcher.SetSender(a.transports)
	a.notifier = push.NewNotifier(a.transports, sessions, logger)
	return a, nil
}

// Registry exposes the handler registry so the hosting shell can add its
// own methods before Run.
func (a *App) Registry() *registry.Registry { return a.registry }

// Host returns the embedded shell state, or nil in web mode.
func (a *App) Host() *provider.HostState { return a.host }

// Embedded returns the in-process transport, or nil in web mode.
func (a *App) Embedded() *transport.Embedded { return a.embedded }

// Notifier returns the push channel.
func (a *App) Notifier() *push.Notifier { return a.notifier }

// Queue returns the offline sync queue.
func (a *App) Queue() *syncqueue.Queue { return a.queue }

// Bus returns the process event bus.
func (a *App) Bus() *eventbus.Bus { return a.bus }

// Run starts background tasks and the transport, then blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.tokens.StartSweeper(a.cfg.Auth.SweepInterval.Duration)
	a.sessions.StartCleanupTask(a.cfg.Session.CleanupInterval.Duration)
	if a.uploader != nil {
		a.uploader.Start(ctx)
	}

	if err := a.transports.Active().Start(ctx); err != nil {
		a.shutdown()
		return fmt.Errorf("start transport: %w", err)
	}

	go a.forwardEvents(ctx)

	a.logger.Info("backend running", "mode", a.cfg.Mode)

	var err error
	if a.httpSrv != nil {
		err = a.httpSrv.Run(ctx)
	} else {
		<-ctx.Done()
		err = ctx.Err()
	}

	a.shutdown()
	return err
}

func (a *App) shutdown() {
	a.logger.Info("shutting down")
	if a.uploader != nil {
		a.uploader.Stop()
	}
	a.dispatcher.Wait()
	_ = a.transports.Active().Stop()
	a.tokens.StopSweeper()
	a.sessions.StopCleanupTask()
	a.bus.Close()
	_ = a.store.Close()
	a.logger.Info("shutdown complete")
}

// forwardEvents relays selected bus events to connected frontends as
// system_event pushes.
func (a *App) forwardEvents(ctx context.Context) {
	ch := a.bus.Subscribe(
		eventbus.SessionCreated,
		eventbus.SessionDestroyed,
		eventbus.SessionExpired,
		eventbus.SyncTaskFailed,
	)
	defer a.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			var data any
			if len(ev.Data) > 0 {
				_ = json.Unmarshal(ev.Data, &data)
			}
			if _, err := a.notifier.Broadcast("system_event", map[string]any{
				"event": ev.Type,
				"data":  data,
			}); err != nil {
				a.logger.Debug("event push skipped", "event", ev.Type, "error", err)
			}
		}
	}
}
