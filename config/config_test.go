package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Quiesce.Idle != 800*time.Millisecond {
		t.Errorf("Quiesce.Idle = %v, want 800ms", cfg.Quiesce.Idle)
	}
	if cfg.Quiesce.Timeout != 25*time.Second {
		t.Errorf("Quiesce.Timeout = %v, want 25s", cfg.Quiesce.Timeout)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled {
		t.Error("Auth.Enabled should default to true")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quietpage.yaml")
	yml := `
server:
  port: 9090
quiesce:
  idle: 1s
  timeout: 40s
scraper:
  blocked_resource_types: [Image, Stylesheet]
auth:
  api_keys: [file-key]
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("QUIETPAGE_TIMEOUT", "30s")
	t.Setenv("QUIETPAGE_API_KEYS", "a, b ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090 from file", cfg.Server.Port)
	}
	if cfg.Quiesce.Idle != time.Second {
		t.Errorf("Quiesce.Idle = %v, want 1s from file", cfg.Quiesce.Idle)
	}
	if cfg.Quiesce.Timeout != 30*time.Second {
		t.Errorf("Quiesce.Timeout = %v, want 30s from env", cfg.Quiesce.Timeout)
	}
	if want := []string{"Image", "Stylesheet"}; !reflect.DeepEqual(cfg.Scraper.BlockedResourceTypes, want) {
		t.Errorf("BlockedResourceTypes = %v, want %v", cfg.Scraper.BlockedResourceTypes, want)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(cfg.Auth.APIKeys, want) {
		t.Errorf("APIKeys = %v, want %v", cfg.Auth.APIKeys, want)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default kept", cfg.Server.Host)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestEnvHelpers_IgnoreMalformed(t *testing.T) {
	t.Setenv("QUIETPAGE_PORT", "not-a-number")
	t.Setenv("QUIETPAGE_IDLE", "soon")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want fallback 8080", cfg.Server.Port)
	}
	if cfg.Quiesce.Idle != 800*time.Millisecond {
		t.Errorf("Quiesce.Idle = %v, want fallback 800ms", cfg.Quiesce.Idle)
	}
}
