package config

import (
	"os"
	"testing"
)

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VectorStore.Backend != "embedded" {
		t.Fatalf("expected default embedded backend, got %q", cfg.VectorStore.Backend)
	}
	if cfg.Research.RecursionLimit != 20000 {
		t.Fatalf("expected default recursion limit 20000, got %d", cfg.Research.RecursionLimit)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	key := "VECTOR_STORE_BACKEND"
	old, hadOld := os.LookupEnv(key)
	defer func() {
		if hadOld {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	}()

	_ = os.Setenv(key, "qdrant")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VectorStore.Backend != "qdrant" {
		t.Fatalf("expected env override to win, got %q", cfg.VectorStore.Backend)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err != nil {
		t.Fatalf("missing config file should fall back to defaults, got error: %v", err)
	}
}
