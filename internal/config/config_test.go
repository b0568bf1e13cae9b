package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, `
database_url: "postgres://localhost/test"
chains:
  - chain_id: 1
    name: ethereum
    rpc_endpoints: ["https://rpc.example/1"]
    exchange_address: "0x0000000000000000000000000000000000dEaD"
    rpc_rate_limit: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Global.GasHeadroomNum != 12 || cfg.Global.GasHeadroomDen != 10 {
		t.Errorf("gas headroom default = %d/%d, want 12/10", cfg.Global.GasHeadroomNum, cfg.Global.GasHeadroomDen)
	}
	if cfg.Global.PriceHeadroomNum != 11 || cfg.Global.PriceHeadroomDen != 10 {
		t.Errorf("price headroom default = %d/%d, want 11/10", cfg.Global.PriceHeadroomNum, cfg.Global.PriceHeadroomDen)
	}
	if len(cfg.Chains) != 1 || cfg.Chains[0].Name != "ethereum" {
		t.Fatalf("unexpected chains: %+v", cfg.Chains)
	}
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	path := writeTempConfig(t, `
chains:
  - chain_id: 1
    name: ethereum
    rpc_endpoints: ["https://rpc.example/1"]
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing database_url")
	}
}

func TestLoadRejectsChainWithoutEndpoints(t *testing.T) {
	path := writeTempConfig(t, `
database_url: "postgres://localhost/test"
chains:
  - chain_id: 1
    name: ethereum
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for chain with no rpc_endpoints")
	}
}

func TestEnvOverridesLayerOnTopOfYAML(t *testing.T) {
	path := writeTempConfig(t, `
database_url: "postgres://localhost/test"
chains:
  - chain_id: 1
    name: ethereum
    rpc_endpoints: ["https://rpc.example/1"]
`)

	t.Setenv("MAX_GAS_LIMIT", "30000000")
	t.Setenv("CHAIN_0_RPC", "https://rpc.override/a, https://rpc.override/b")
	t.Setenv("CHAIN_0_RPC_RATE_LIMIT", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Global.MaxGasLimit != 30_000_000 {
		t.Errorf("MaxGasLimit = %d, want 30000000", cfg.Global.MaxGasLimit)
	}
	want := []string{"https://rpc.override/a", "https://rpc.override/b"}
	if len(cfg.Chains[0].RPCEndpoints) != 2 || cfg.Chains[0].RPCEndpoints[0] != want[0] || cfg.Chains[0].RPCEndpoints[1] != want[1] {
		t.Errorf("RPCEndpoints = %v, want %v", cfg.Chains[0].RPCEndpoints, want)
	}
	if cfg.Chains[0].RPCRateLimit != 25 {
		t.Errorf("RPCRateLimit = %v, want 25", cfg.Chains[0].RPCRateLimit)
	}
}
