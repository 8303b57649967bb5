package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := loadConfig(serverOptions{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Transport != "stdio" {
		t.Errorf("transport = %q, want stdio", cfg.Server.Transport)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := "server:\n  transport: stdio\n  address: \":8080\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := loadConfig(serverOptions{
		configPath: path,
		transport:  "http",
		address:    ":9999",
	})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Transport != "http" {
		t.Errorf("transport = %q, flag must override file", cfg.Server.Transport)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("address = %q, flag must override file", cfg.Server.Address)
	}
}

func TestLoadConfig_MissingFileIsAnError(t *testing.T) {
	_, err := loadConfig(serverOptions{configPath: filepath.Join(t.TempDir(), "absent.yaml")})
	if err == nil {
		t.Fatal("expected an error for an explicit missing config file")
	}
}
