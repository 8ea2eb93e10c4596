package config

import "testing"

func TestLoadDoesNotInjectWeakSecretDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("GATEWAY_WEBHOOK_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.GatewayWebhookSecret != "" {
		t.Fatalf("expected empty GATEWAY_WEBHOOK_SECRET when unset, got %q", cfg.GatewayWebhookSecret)
	}
}

func TestLoadFallsBackOnBadSearchWindow(t *testing.T) {
	t.Setenv("SESSION_SEARCH_WINDOW_HOURS", "not-a-number")

	cfg := Load()
	if cfg.SessionSearchWindowHours != 24 {
		t.Fatalf("expected default search window 24, got %d", cfg.SessionSearchWindowHours)
	}
}
