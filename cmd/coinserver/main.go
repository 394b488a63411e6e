// Command coinserver runs the coin ledger HTTP service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/R3E-Network/coin_service/internal/chain"
	"github.com/R3E-Network/coin_service/internal/config"
	"github.com/R3E-Network/coin_service/internal/httpapi"
	"github.com/R3E-Network/coin_service/internal/platform/migrations"
	"github.com/R3E-Network/coin_service/internal/storage"
	"github.com/R3E-Network/coin_service/internal/storage/memory"
	"github.com/R3E-Network/coin_service/internal/storage/postgres"
	"github.com/R3E-Network/coin_service/pkg/logger"
	"github.com/R3E-Network/coin_service/services/accounts"
	"github.com/R3E-Network/coin_service/services/audit"
	"github.com/R3E-Network/coin_service/services/batch"
	"github.com/R3E-Network/coin_service/services/ledger"
	"github.com/R3E-Network/coin_service/services/pool"
)

func main() {
	configPath := flag.String("config", "config/coin.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "coinserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := chain.NewClient(ctx, chain.Config{
		RPCURL:         cfg.Chain.RPCURL,
		RequestTimeout: cfg.Chain.CallTimeout,
		PollInterval:   cfg.Chain.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("connect chain: %w", err)
	}
	defer client.Close()

	tokenHash, err := chain.ParseContractHash(cfg.Chain.TokenContract)
	if err != nil {
		return fmt.Errorf("token contract: %w", err)
	}
	token := chain.NewTokenContract(client, tokenHash)

	var vault ledger.Vault
	if cfg.Chain.VaultContract != "" {
		vaultHash, err := chain.ParseContractHash(cfg.Chain.VaultContract)
		if err != nil {
			return fmt.Errorf("vault contract: %w", err)
		}
		vault = chain.NewVaultContract(client, vaultHash, cfg.Chain.DepositMethod)
	} else {
		log.Warn("no vault contract configured, cheques are disabled")
	}

	poolManager := pool.New(store, log.Named("pool"), pool.WithReserved(cfg.Chain.TreasuryAddress))
	if err := reconcilePool(ctx, poolManager, cfg.Pool.SourcePath, log); err != nil {
		return err
	}

	var identity accounts.IdentityProvider
	if cfg.Identity.URL != "" {
		identity = accounts.NewHTTPIdentityProvider(cfg.Identity.URL, cfg.Identity.Timeout)
	}
	accountService := accounts.New(store, poolManager, identity, log.Named("accounts"))

	locks, err := ledger.ParseLockPolicy(cfg.Ledger.Locks)
	if err != nil {
		return err
	}
	engine := ledger.NewEngine(ledger.Config{
		Treasury: chain.Signer{
			Address:    cfg.Chain.TreasuryAddress,
			PrivateKey: cfg.Chain.TreasuryPrivateKey,
		},
		CallTimeout: cfg.Chain.CallTimeout,
		Locks:       locks,
	}, accountService, token, vault, log.Named("ledger"))
	auditor := audit.New(store, store, nil, log.Named("audit"))
	audited := ledger.NewAudited(engine, auditor)

	batches := batch.New(audited, cfg.Batch.Workers, log.Named("batch"))

	var refresher *ledger.Refresher
	if cfg.Ledger.RefreshCron != "" {
		refresher, err = ledger.NewRefresher(engine, cfg.Ledger.RefreshCron, log.Named("refresher"))
		if err != nil {
			return fmt.Errorf("ledger.refresh_cron: %w", err)
		}
		refresher.Start()
	}

	api := httpapi.NewServer(httpapi.Deps{
		Ledger:   audited,
		Batches:  batches,
		Accounts: accountService,
		History:  store,
	}, httpapi.Config{
		RateLimit: float64(cfg.Server.RateLimit),
		RateBurst: cfg.Server.RateBurst,
	}, log.Named("http"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("coin service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if refresher != nil {
		refresher.Stop(shutdownCtx)
	}
	if err := batches.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("batch fills still running at shutdown")
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (storage.Store, func(), error) {
	if cfg.DSN == "" {
		log.Warn("no database configured, using in-memory store")
		return memory.New(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("database migrations applied")
	}
	return postgres.New(db), func() { db.Close() }, nil
}

func reconcilePool(ctx context.Context, m *pool.Manager, path string, log *logger.Logger) error {
	source, err := pool.LoadSource(path)
	if err != nil {
		return fmt.Errorf("load pool source: %w", err)
	}
	for _, key := range source.Skipped {
		log.WithField("key", key).Warn("pool source entry has no recognised role")
	}

	report, err := m.Reconcile(ctx, source.Accounts)
	if err != nil {
		return fmt.Errorf("reconcile pool: %w", err)
	}
	log.WithField("bound", report.Bound).
		WithField("rebound", report.Rebound).
		WithField("kept", report.Kept).
		WithField("removed", report.Removed).
		WithField("free", report.Free).
		WithField("unbound", report.Unbound).
		Info("chain account pool reconciled")
	return nil
}
