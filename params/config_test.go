package params

import (
	"errors"
	"strings"
	"testing"

	"github.com/uhyunpark/hlrelay/pkg/errs"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("HYPERLIQUID_API_URL", "https://example.test/")
	t.Setenv("HYPERLIQUID_NETWORK", "Testnet")
	t.Setenv("REGISTRY_BACKEND", "pebble")
	t.Setenv("REGISTRY_PATH", "data/registry")
	t.Setenv("ABORT_ON_SIGNER_MISMATCH", "true")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("VAULT_ADDRESS", "0xAbCdEf0000000000000000000000000000000001")

	cfg, err := LoadFromEnv("testdata/missing.env")
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Exchange.APIURL != "https://example.test" {
		t.Errorf("api url = %q", cfg.Exchange.APIURL)
	}
	if cfg.IsMainnet() {
		t.Error("expected testnet")
	}
	if cfg.Registry.Backend != "pebble" || cfg.Registry.Path != "data/registry" {
		t.Errorf("registry = %+v", cfg.Registry)
	}
	if !cfg.Signing.AbortOnMismatch {
		t.Error("abort on mismatch should be set")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Errorf("cors origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Exchange.VaultAddress != "0xabcdef0000000000000000000000000000000001" {
		t.Errorf("vault address not lowercased: %s", cfg.Exchange.VaultAddress)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Exchange.Network = "Devnet"
	cfg.Registry.Backend = "postgres"
	cfg.Signing.ServerKey = "YOUR_API_PRIVATE_KEY_HERE"

	err := cfg.Validate()
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	for _, want := range []string{"HYPERLIQUID_NETWORK", "REGISTRY_BACKEND", "API_WALLET_PRIVATE_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err.Error(), want)
		}
	}
}
