package main

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"paivamoda/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", RecoveryPassphrase: "abc"})
	if err == nil {
		t.Fatalf("expected short recovery passphrase to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", RecoveryPassphrase: "paiva-recupera"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryBackends(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	repo, closers, err := openRepository(ctx, config.Config{StoreBackend: config.BackendMemory}, logger)
	if err != nil || repo == nil {
		t.Fatalf("memory backend: %v", err)
	}
	if len(closers) != 0 {
		t.Fatalf("memory backend has nothing to close, got %d closers", len(closers))
	}

	path := filepath.Join(t.TempDir(), "paivamoda.db")
	repo, closers, err = openRepository(ctx, config.Config{StoreBackend: config.BackendSQLite, SQLitePath: path}, logger)
	if err != nil || repo == nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			t.Fatalf("close sqlite: %v", err)
		}
	}

	if _, _, err := openRepository(ctx, config.Config{StoreBackend: config.BackendPostgres}, logger); err == nil {
		t.Fatalf("expected postgres without DATABASE_URL to fail")
	}
	if _, _, err := openRepository(ctx, config.Config{StoreBackend: "mongo"}, logger); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}
