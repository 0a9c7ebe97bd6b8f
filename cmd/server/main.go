// Package main runs the marketplace backend server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/mintforge/market-layer/internal/app"
	ledgerdomain "github.com/mintforge/market-layer/internal/app/domain/ledger"
	"github.com/mintforge/market-layer/internal/app/httpapi"
	"github.com/mintforge/market-layer/internal/app/ledger"
	"github.com/mintforge/market-layer/internal/app/marketplace"
	"github.com/mintforge/market-layer/internal/app/storage/memory"
	"github.com/mintforge/market-layer/internal/app/storage/postgres"
	"github.com/mintforge/market-layer/internal/config"
	"github.com/mintforge/market-layer/pkg/logger"

	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return fmt.Errorf("configure stores: %w", err)
	}
	if db != nil {
		defer db.Close()
	}

	market, err := buildMarketplace(cfg, log)
	if err != nil {
		return fmt.Errorf("configure marketplace client: %w", err)
	}

	ledgerSvc, err := buildLedger(cfg, stores, log)
	if err != nil {
		return fmt.Errorf("configure ledger: %w", err)
	}

	application, err := app.New(stores, app.Options{
		Market:            market,
		Ledger:            ledgerSvc,
		CurrencyCode:      cfg.Settlement.CurrencyCode,
		RewardAmount:      cfg.Settlement.RewardAmount,
		VerifyOwnership:   cfg.Settlement.VerifyOwnership,
		ReconcileSchedule: cfg.Settlement.ReconcileSchedule,
	}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	handler := httpapi.NewHandler(application, cfg.Uploads.Dir, cfg.Uploads.BaseURL)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
	return nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_DSN not set; using in-memory storage")
		mem := memory.New()
		return app.Stores{Assets: mem, Holders: mem, Transfers: mem}, nil, nil
	}

	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}

	if err := postgres.Migrate(db.DB); err != nil {
		db.Close()
		return app.Stores{}, nil, err
	}

	store := postgres.New(db)
	return app.Stores{Assets: store, Holders: store, Transfers: store}, db, nil
}

func buildMarketplace(cfg *config.Config, log *logger.Logger) (marketplace.Client, error) {
	timeout := time.Duration(cfg.Marketplace.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.Marketplace.RequestsPerSecond > 0 {
		burst := cfg.Marketplace.Burst
		if burst <= 0 {
			burst = cfg.Marketplace.RequestsPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Marketplace.RequestsPerSecond), burst)
	}

	return marketplace.NewHTTPClient(
		&http.Client{Timeout: timeout},
		cfg.Marketplace.BaseURL,
		cfg.Marketplace.APIKey,
		cfg.Marketplace.CollectionID,
		limiter,
		log,
	)
}

func buildLedger(cfg *config.Config, stores app.Stores, log *logger.Logger) (*ledger.Service, error) {
	if cfg.Ledger.RPCURL == "" || len(cfg.Ledger.SignerKey) == 0 {
		log.Warn("ledger RPC URL or signer key not set; on-chain transfers disabled")
		return nil, nil
	}

	signer, err := ledger.NewSignerFromJSON(cfg.Ledger.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	return ledger.New(
		rpc.New(cfg.Ledger.RPCURL),
		signer,
		ledgerdomain.Mint{Address: cfg.Ledger.MintAddress, Decimals: cfg.Ledger.MintDecimals},
		stores.Transfers,
		log,
	)
}
