package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rpattn/beneficiary/internal/domain"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.QueueDriver != QueueMemory {
		t.Fatalf("expected memory queue, got %q", cfg.QueueDriver)
	}
	if cfg.IndividualSchema != domain.DefaultIndividualSchema {
		t.Fatalf("expected default individual schema")
	}
	if cfg.EnableMakerChecker {
		t.Fatalf("maker-checker should default to off")
	}
	if cfg.Database.DBName != "social_registry" {
		t.Fatalf("expected default db name, got %q", cfg.Database.DBName)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  host: db.internal
  port: 6543
http:
  addr: ":9090"
  shutdown_timeout: 3s
queue:
  driver: redis
workers: 4
individual:
  enable_maker_checker: true
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DB_PASSWORD", "from-env")
	t.Setenv("APP_WORKERS", "8")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Fatalf("database overrides not applied: %+v", cfg.Database)
	}
	if cfg.Database.Password != "from-env" {
		t.Fatalf("expected DB_PASSWORD override, got %q", cfg.Database.Password)
	}
	if cfg.Workers != 8 {
		t.Fatalf("expected APP_WORKERS override, got %d", cfg.Workers)
	}
	if cfg.QueueDriver != QueueRedis {
		t.Fatalf("expected redis queue, got %q", cfg.QueueDriver)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("expected 3s shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
	if !cfg.EnableMakerChecker {
		t.Fatalf("expected maker-checker enabled")
	}
}

func TestValidate_RejectsUnknownDrivers(t *testing.T) {
	base := AppConfig{Storage: StorageMemory, QueueDriver: QueueMemory, Workers: 1, IndividualSchema: "{}"}
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := base
	bad.QueueDriver = "kafka"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unknown queue driver")
	}

	bad = base
	bad.Storage = "sqlite"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unknown storage driver")
	}

	bad = base
	bad.Workers = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero workers")
	}
}
