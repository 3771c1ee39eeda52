// Package app wires the service components together with explicit
// dependency injection and coordinates their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/PetaTalenta/notification-service/internal/api"
	"github.com/PetaTalenta/notification-service/internal/authclient"
	"github.com/PetaTalenta/notification-service/internal/config"
	"github.com/PetaTalenta/notification-service/internal/consumer"
	"github.com/PetaTalenta/notification-service/internal/dispatcher"
	"github.com/PetaTalenta/notification-service/internal/logging"
	"github.com/PetaTalenta/notification-service/internal/store"
	"github.com/PetaTalenta/notification-service/internal/websocket"
)

// Application coordinates all service components. Initialization follows
// dependency order: Store → Registry → Dispatcher → Auth → WebSocket →
// Consumer → API → HTTP.
type Application struct {
	config     *config.Config
	log        zerolog.Logger
	store      *store.Store // nil when the audit store is disabled
	registry   *websocket.Registry
	dispatcher *dispatcher.Dispatcher
	wsHandler  *websocket.Handler
	consumer   *consumer.Consumer
	apiServer  *api.Server
	httpServer *http.Server
}

func New(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	var auditStore *store.Store
	if cfg.Store.Enabled {
		s, err := store.Open(cfg.Store.Path, log)
		if err != nil {
			return nil, fmt.Errorf("open delivery audit store: %w", err)
		}
		auditStore = s
	}

	registry := websocket.NewRegistry()

	dispatcherOpts := []dispatcher.Option{}
	if auditStore != nil {
		dispatcherOpts = append(dispatcherOpts, dispatcher.WithRecorder(auditStore))
	}
	eventDispatcher := dispatcher.New(registry, log, dispatcherOpts...)

	verifier := authclient.New(cfg.Auth.ServiceURL, log)
	gate := websocket.NewGate(verifier, registry, cfg.WebSocket.AuthWindow, cfg.Auth.RequestTimeout, log)

	wsHandler := websocket.NewHandler(registry, gate, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, log)

	eventConsumer := consumer.New(cfg.AMQP, eventDispatcher, log)

	var deliveryLog api.DeliveryLog
	if auditStore != nil {
		deliveryLog = auditStore
	}
	apiServer := api.NewServer(
		eventDispatcher,
		registry,
		wsHandler,
		eventConsumer,
		deliveryLog,
		cfg.Auth.InternalSecret,
		wsHandler.HandleWebSocket,
		log,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		store:      auditStore,
		registry:   registry,
		dispatcher: eventDispatcher,
		wsHandler:  wsHandler,
		consumer:   eventConsumer,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the broker consumer and the HTTP server. A broker that is
// down at startup is not fatal: the consumer keeps reconnecting in the
// background while the webhook path serves normally.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.httpServer.Addr).Msg("starting notification service")

	if err := app.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start event consumer: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.consumer.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("notification service started")
		return nil
	case <-ctx.Done():
		app.consumer.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP → Consumer → Store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down notification service")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	app.consumer.Stop()

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.log.Warn().Err(err).Msg("audit store shutdown error")
		}
	}

	app.log.Info().Msg("notification service shutdown complete")
	return nil
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
