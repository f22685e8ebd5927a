package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"traffic-fines-service/internal/config"
	"traffic-fines-service/internal/db"
	httphandler "traffic-fines-service/internal/http"
	"traffic-fines-service/internal/intake"
	"traffic-fines-service/internal/ledger"
	"traffic-fines-service/internal/metrics"
	"traffic-fines-service/internal/repository"
	"traffic-fines-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	store, gdb, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	l, err := ledger.Open(ctx, store,
		ledger.WithLogger(log.With().Str("component", "ledger").Logger()),
		ledger.WithStoreTimeout(cfg.Ledger.StoreTimeout),
		ledger.WithLoadRetry(cfg.Ledger.LoadAttempts, 0),
	)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	finesService := service.NewFinesService(l, log.With().Str("component", "service").Logger())

	if cfg.Ledger.SeedPath != "" {
		n, err := finesService.ImportLegacy(ctx, cfg.Ledger.SeedPath)
		if err != nil {
			return fmt.Errorf("seed ledger: %w", err)
		}
		if n > 0 {
			log.Info().Int("records", n).Str("path", cfg.Ledger.SeedPath).Msg("seeded ledger")
		}
	}

	if cfg.AMQP.Enabled {
		consumer := intake.NewConsumer(cfg.AMQP, finesService, log)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start detection consumer: %w", err)
		}
		defer consumer.Close()
	}

	gin.SetMode(cfg.Server.Mode)
	auth := httphandler.NewAuthenticator(cfg.Auth)
	router := httphandler.NewRouter(cfg, log.With().Str("component", "http").Logger())
	handler := httphandler.NewHandler(finesService, auth, log)
	handler.Register(router, auth.Middleware())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("store", store.Name()).
			Int("records", l.Count()).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config, log zerolog.Logger) (repository.Store, *gorm.DB, error) {
	switch cfg.Ledger.Backend {
	case config.BackendPostgres:
		gdb, err := db.Open(cfg.DB, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresStore(gdb), gdb, nil
	default:
		return repository.NewFileStore(cfg.Ledger.Path), nil, nil
	}
}
