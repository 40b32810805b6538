package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"media-catalog/internal/config"
)

func TestValidateConfigValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, config.Default())

	if !validateConfig(path) {
		t.Error("validateConfig rejected the default configuration")
	}
}

func TestValidateConfigInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = ""
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, cfg)

	if validateConfig(path) {
		t.Error("validateConfig accepted a configuration with an empty database path")
	}
}

func TestValidateConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if validateConfig(path) {
		t.Error("validateConfig accepted a malformed file")
	}
}

func TestConfigPathEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/tmp/custom.json")
	if got := configPath(); got != "/tmp/custom.json" {
		t.Errorf("configPath() = %q", got)
	}

	t.Setenv("CONFIG_PATH", "")
	if got := configPath(); got != "config.json" {
		t.Errorf("configPath() = %q, want default", got)
	}
}

func TestDatabasePathEnvOverride(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/other.db")
	if got := databasePath(); got != "/tmp/other.db" {
		t.Errorf("databasePath() = %q", got)
	}

	t.Setenv("DATABASE_PATH", "")
	if got := databasePath(); got != defaultDatabasePath {
		t.Errorf("databasePath() = %q, want default", got)
	}
}

func writeConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}
