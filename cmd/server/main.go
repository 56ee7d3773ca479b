package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"paivamoda/backend/internal/cache"
	"paivamoda/backend/internal/config"
	"paivamoda/backend/internal/httpapi"
	"paivamoda/backend/internal/logging"
	"paivamoda/backend/internal/service"
	"paivamoda/backend/internal/store"
	"paivamoda/backend/internal/store/memory"
	pgstore "paivamoda/backend/internal/store/postgres"
	sqlitestore "paivamoda/backend/internal/store/sqlite"
	"paivamoda/backend/internal/xid"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn(".env not loaded", zap.Error(envErr))
	}
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("repository unavailable", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}

	var receivables cache.ReceivablesCache = cache.NoopReceivablesCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReceivablesCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			receivables = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	saleIDs, err := xid.NewSaleIDs(cfg.SnowflakeNode)
	if err != nil {
		logger.Fatal("sale id generator", zap.Int64("node", cfg.SnowflakeNode), zap.Error(err))
	}

	svc, err := service.New(repo, service.Options{
		Cache:              receivables,
		CacheTTL:           time.Duration(cfg.ReceivablesCacheTTLSeconds) * time.Second,
		SaleIDs:            saleIDs,
		Location:           cfg.Location(),
		StoreName:          cfg.StoreName,
		RecoveryPassphrase: cfg.RecoveryPassphrase,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal("service", zap.Error(err))
	}
	if _, err := svc.EnsureAdmin(ctx, cfg.SeedAdminPassword); err != nil {
		logger.Fatal("no users yet; set SEED_ADMIN_PASSWORD to create the first admin", zap.Error(err))
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS backend listening", zap.String("addr", cfg.Address()), zap.String("store", cfg.StoreName))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openRepository picks the store named by STORE_BACKEND. DATABASE_URL being
// set with the postgres backend never falls back to another store.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, []func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
		if cfg.MigrateOnStart {
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case config.BackendSQLite, "":
		db, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: sqlite", zap.String("path", cfg.SQLitePath))
		return db, []func() error{db.Close}, nil
	case config.BackendMemory:
		logger.Warn("repository: in-memory, data is lost on restart")
		return memory.NewSeeded(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.RecoveryPassphrase != "" && len(cfg.RecoveryPassphrase) < 8 {
		return fmt.Errorf("RECOVERY_PASSPHRASE must be at least 8 characters when set")
	}
	return nil
}
