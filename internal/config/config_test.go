package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fortiblox/stackvm/internal/types"
	"github.com/fortiblox/stackvm/pkg/resultstore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stackvm.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.VM.MaxSteps != 0 {
		t.Errorf("VM.MaxSteps = %d, want 0 (unbounded)", cfg.VM.MaxSteps)
	}
	if cfg.Store.Backend != resultstore.BackendNone {
		t.Errorf("Store.Backend = %q, want none", cfg.Store.Backend)
	}
	if cfg.RPC.MaxSteps == 0 || cfg.GRPC.MaxSteps == 0 {
		t.Error("server step budgets must be finite by default")
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[vm]
max_steps = 5000
hash = "sha3-256"

[store]
backend = "bolt"
path = "/tmp/results.db"
sync_writes = true

[rpc]
addr = "127.0.0.1:8899"
log_requests = true

[grpc]
addr = ":9999"
max_steps = 77

[dashboard]
enabled = true
port = 8181
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.VM.MaxSteps != 5000 || cfg.VM.Hash != "sha3-256" {
		t.Errorf("VM = %+v", cfg.VM)
	}
	if cfg.Store.Backend != "bolt" || cfg.Store.Path != "/tmp/results.db" || !cfg.Store.SyncWrites {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.RPC.Addr != "127.0.0.1:8899" || !cfg.RPC.LogRequests {
		t.Errorf("RPC = %+v", cfg.RPC)
	}
	// Unset keys keep their defaults.
	if cfg.RPC.MaxRequestSize != Default().RPC.MaxRequestSize {
		t.Errorf("RPC.MaxRequestSize = %d, want default", cfg.RPC.MaxRequestSize)
	}

	ec := cfg.ExecutorConfig()
	if ec.MaxSteps != 5000 || ec.Hash != types.HashSHA3256 {
		t.Errorf("ExecutorConfig() = %+v", ec)
	}
	sc := cfg.ResultStoreConfig()
	if sc.Backend != resultstore.BackendBolt || !sc.SyncWrites {
		t.Errorf("ResultStoreConfig() = %+v", sc)
	}
	if rc := cfg.RPCServerConfig(); rc.Addr != "127.0.0.1:8899" || !rc.LogRequests {
		t.Errorf("RPCServerConfig() = %+v", rc)
	}
	if dc := cfg.DashboardServerConfig(); !cfg.Dashboard.Enabled || dc.Port != 8181 || dc.BindAddress != "127.0.0.1" {
		t.Errorf("DashboardServerConfig() = %+v, enabled %v", dc, cfg.Dashboard.Enabled)
	}
	if gc := cfg.GRPCServerConfig(); gc.Addr != ":9999" || gc.MaxSteps != 77 {
		t.Errorf("GRPCServerConfig() = %+v", gc)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{"syntax", "[vm\nmax_steps = 1", false},
		{"unknown key", "[vm]\nmax_stepz = 1", true},
		{"unknown hash", "[vm]\nhash = \"md5\"", true},
		{"unknown backend", "[store]\nbackend = \"redis\"", true},
		{"missing path", "[store]\nbackend = \"badger\"", true},
		{"bad port", "[dashboard]\nport = 70000", true},
	}

	for _, tt := range tests {
		_, err := Load(writeConfig(t, tt.content))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if got := errors.Is(err, ErrInvalidConfig); got != tt.invalid {
			t.Errorf("%s: errors.Is(ErrInvalidConfig) = %v, want %v (%v)", tt.name, got, tt.invalid, err)
		}
	}

	_, err := Load(writeConfig(t, "[vm]\nmax_stepz = 1"))
	if err == nil || !strings.Contains(err.Error(), "vm.max_stepz") {
		t.Errorf("unknown key error = %v, want it to name vm.max_stepz", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}
