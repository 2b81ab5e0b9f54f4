package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"go-txstream-sse/internal/application/facade"
	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/infrastructure/auth"
	"go-txstream-sse/internal/infrastructure/config"
	"go-txstream-sse/internal/infrastructure/hub"
	"go-txstream-sse/internal/infrastructure/logger"
	"go-txstream-sse/internal/infrastructure/metrics"
	"go-txstream-sse/internal/infrastructure/relay"
	"go-txstream-sse/internal/infrastructure/server"
	"go-txstream-sse/internal/infrastructure/store"
)

func main() {
	ctx := context.Background()
	sctx := WithSignal(ctx)

	cfg, err := config.Load()
	if err != nil {
		logger.NewLogrusLogger(logger.NewDefaultConfig()).Fatalf("failed to load config: %v", err)
	}

	log := logger.NewLogrusLogger(logger.NewConfig(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput, cfg.LogFile))

	app, err := newApplication(sctx, cfg, log)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	if err := app.Run(sctx); err != nil {
		log.Errorf("failed to run application: %v", err)
		os.Exit(1)
	}
}

type Application struct {
	logger  logger.Logger
	httpSrv server.Server
	hub     *hub.Hub
	relay   relay.Relay
	store   *store.PostgresStore
}

func newApplication(ctx context.Context, cfg *config.Config, log logger.Logger) (*Application, error) {
	validator, err := domain.NewTxRefValidator(cfg.TxRefPrefix)
	if err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	txStore, err := store.Open(openCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	hubInstance := hub.New(hub.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleAfter:        cfg.StaleAfter,
	}, log, nil, metrics.NewHubMetrics(registry))

	rel, err := relay.New(relay.Options{
		Driver:   cfg.RelayDriver,
		RedisURL: cfg.RedisURL,
		NATSURL:  cfg.NATSURL,
	}, hubInstance, log)
	if err != nil {
		txStore.Close()
		return nil, err
	}

	identity := auth.NewSupabaseResolver(cfg.SupabaseURL, cfg.SupabaseAnonKey, nil, log)
	access := facade.NewStreamAccessService(validator, identity, txStore, log)

	router := InitRouter(routerDeps{
		cfg:       cfg,
		log:       log,
		hub:       hubInstance,
		access:    access,
		publisher: rel,
		validator: validator,
		registry:  registry,
	})

	return &Application{
		logger:  log.WithField("app", "txstream"),
		httpSrv: server.NewHTTPServer(cfg.HTTPAddr, router, log),
		hub:     hubInstance,
		relay:   rel,
		store:   txStore,
	}, nil
}

func (app *Application) Run(ctx context.Context) error {
	// Start the hub before accepting streams.
	if err := app.hub.Start(ctx); err != nil {
		return err
	}

	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return app.httpSrv.Start(gctx)
	})

	eg.Go(func() error {
		if err := app.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-gctx.Done()

		gracefulshutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()

		// Stop hub first so open streams return before the server drains.
		if err := app.hub.Stop(gracefulshutdownCtx); err != nil {
			app.logger.Errorf("failed to stop hub: %v", err)
		}
		if err := app.relay.Close(); err != nil {
			app.logger.Errorf("failed to close relay: %v", err)
		}
		if err := app.store.Close(); err != nil {
			app.logger.Errorf("failed to close store: %v", err)
		}

		return app.httpSrv.Stop(gracefulshutdownCtx)
	})

	return eg.Wait()
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
