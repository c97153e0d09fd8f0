package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bilancio/internal/amqp"
	"bilancio/internal/config"
	httpapi "bilancio/internal/http"
	"bilancio/internal/identity"
	"bilancio/internal/ledger"
	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	logger.Info("Starting bilancio")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository",
			log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	// The change feed is optional; without AMQP the ledger still works, the
	// mirror worker just never hears about new transactions.
	var publisher ledger.ChangePublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("AMQP change feed enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP change feed disabled - no AMQP_URL provided")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := identity.NewLocalProvider(store)
	svc := ledger.New(store, publisher)
	go svc.Watch(ctx, provider)

	user, err := provider.SignInAnonymously(ctx)
	if err != nil {
		logger.Error("Failed to sign in", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Session established", log.FieldUserID, user.ID)

	if err := svc.EnsureCycleConfig(ctx, user.ID, cfg.DefaultCycle()); err != nil {
		logger.Error("Failed to apply default cycle config", log.FieldError, err)
		os.Exit(1)
	}

	srv := httpapi.NewServer(":"+cfg.Port, svc, services.NewForwarder(store), logger)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", log.FieldError, err)
		}
		cancel()
	}()

	logger.Info("Listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", log.FieldError, err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutdown complete")
}
