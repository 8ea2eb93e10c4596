package main

import (
	"testing"

	"belanjaku/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRequiresWebhookSecretWithLiveKey(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		GatewayAPIKey: "sk_live_abc",
	})
	if err == nil {
		t.Fatalf("expected missing webhook secret to be rejected when gateway key is set")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:           "0123456789abcdef0123456789abcdef",
		GatewayAPIKey:        "sk_live_abc",
		GatewayWebhookSecret: "whsec_0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
