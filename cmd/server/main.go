package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger := logging.L()
		logger.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(cfg.Log)
	logger := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Driver, err)
	}
	defer closeBackend()

	stores, err := chat.OpenStores(ctx, backend, chat.StoresConfig{
		HistoryLimit: cfg.Storage.HistoryLimit,
		Options: []store.Option{
			store.WithFlushDelay(cfg.Storage.FlushDelay),
			store.WithLogger(logger),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open chat stores: %w", err)
	}

	hub := server.NewHub(*cfg, stores, logger)
	go hub.Run()

	handler := logging.HTTPMiddleware(logger)(server.SetupRoutes(hub))
	httpServer := server.CreateServer(cfg.Port, handler)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.StartServer(httpServer, logger)
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return errors.Join(
			server.ShutdownServer(shutdownCtx, httpServer, hub),
			stores.Close(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}

// openBackend builds the document backend selected by cfg.Driver.
func openBackend(ctx context.Context, cfg server.StorageConfig, logger zerolog.Logger) (store.Backend, func(), error) {
	switch cfg.Driver {
	case server.StorageDriverRedis:
		b, err := store.NewRedisBackend(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("address", cfg.Redis.Address).Msg("Using redis storage")
		return b, func() { _ = b.Close() }, nil
	default:
		b, err := store.NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("dir", b.Dir()).Msg("Using file storage")
		return b, func() {}, nil
	}
}
