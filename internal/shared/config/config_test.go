package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"ENV", "ANALYSIS_BACKEND", "OBJECT_STORE", "ANALYSIS_TIMEOUT", "STUB_DELAY", "API_KEYS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Env != "dev" {
		t.Fatalf("expected dev env, got %q", cfg.Env)
	}
	if cfg.Backend != "stub" {
		t.Fatalf("expected stub backend, got %q", cfg.Backend)
	}
	if cfg.ObjectStoreType != "local" {
		t.Fatalf("expected local store, got %q", cfg.ObjectStoreType)
	}
	if cfg.AnalysisTimeout != 0 {
		t.Fatalf("expected no timeout, got %s", cfg.AnalysisTimeout)
	}
	if cfg.StubDelay != 2*time.Second {
		t.Fatalf("expected 2s stub delay, got %s", cfg.StubDelay)
	}
	if len(cfg.APIKeys) != 0 {
		t.Fatalf("expected no api keys, got %v", cfg.APIKeys)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "prod")
	t.Setenv("ANALYSIS_BACKEND", "Gini")
	t.Setenv("ANALYSIS_TIMEOUT", "45s")
	t.Setenv("API_KEYS", " k1, ,k2 ")
	t.Setenv("EVENT_BUFFER", "not-a-number")

	cfg := Load()
	if cfg.Env != "production" {
		t.Fatalf("expected production, got %q", cfg.Env)
	}
	if cfg.Backend != "remote" {
		t.Fatalf("expected remote backend, got %q", cfg.Backend)
	}
	if cfg.AnalysisTimeout != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %s", cfg.AnalysisTimeout)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "k1" || cfg.APIKeys[1] != "k2" {
		t.Fatalf("unexpected api keys: %v", cfg.APIKeys)
	}
	if cfg.EventBuffer != 16 {
		t.Fatalf("expected default event buffer on parse error, got %d", cfg.EventBuffer)
	}
}

func TestLoadEnvFilesDoesNotOverrideSetValues(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	content := "# comment\nSTUB_DELAY=\"5s\"\nPORT=9999\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("STUB_DELAY", "")

	cfg := Load()
	if cfg.Port != "7070" {
		t.Fatalf("expected explicit PORT to win, got %q", cfg.Port)
	}
	if cfg.StubDelay != 5*time.Second {
		t.Fatalf("expected STUB_DELAY from .env, got %s", cfg.StubDelay)
	}
}
