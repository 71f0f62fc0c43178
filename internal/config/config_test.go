package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadClampsRetryAndCacheSettings(t *testing.T) {
	t.Setenv("TX_MAX_ATTEMPTS", "0")
	t.Setenv("TX_BACKOFF_MS", "garbage")
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "-3")

	cfg := Load()
	if cfg.TxMaxAttempts != 5 {
		t.Fatalf("expected TX_MAX_ATTEMPTS fallback 5, got %d", cfg.TxMaxAttempts)
	}
	if cfg.TxBackoffMS != 25 {
		t.Fatalf("expected TX_BACKOFF_MS fallback 25, got %d", cfg.TxBackoffMS)
	}
	if cfg.StockCacheTTLSeconds != 15 {
		t.Fatalf("expected STOCK_CACHE_TTL_SECONDS fallback 15, got %d", cfg.StockCacheTTLSeconds)
	}
}
