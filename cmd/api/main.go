package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/api"
	"github.com/ntbank/corebank/internal/config"
	"github.com/ntbank/corebank/internal/logger"
	"github.com/ntbank/corebank/internal/service"
	"github.com/ntbank/corebank/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	if err := store.RunMigrations(cfg.DB.DSN); err != nil {
		zlog.Fatal("migrations failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := store.New(ctx, cfg.DB.DSN)
	if err != nil {
		zlog.Fatal("could not connect to database", zap.Error(err))
	}
	defer ledger.Close()

	rate, err := cfg.InterestRate()
	if err != nil {
		zlog.Fatal("invalid interest rate", zap.Error(err))
	}

	accounts := service.NewAccountService(ledger, zlog)
	transfers := service.NewTransferService(ledger, zlog, cfg.Retry.Attempts, cfg.Retry.BaseDelay)
	interest := service.NewInterestService(ledger, zlog, rate, cfg.Interest.BatchSize)

	go interest.Run(ctx, cfg.Interest.Interval)
	go sweepStaleIntents(ctx, zlog, transfers, cfg.Intent.SweepInterval, cfg.Intent.TTL)

	handler := api.NewHandler(accounts, transfers, zlog)
	router := api.NewRouter(handler, ledger, []byte(cfg.JWT.Secret), zlog)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
	zlog.Info("server stopped")
}

func sweepStaleIntents(ctx context.Context, zlog *zap.Logger, transfers *service.TransferService, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := transfers.ExpireStaleIntents(ctx, ttl); err != nil {
				zlog.Error("stale intent sweep failed", zap.Error(err))
			}
		}
	}
}
