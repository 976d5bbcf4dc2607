// Package config loads stackvm settings from a TOML file.
//
// Example:
//
//	[vm]
//	max_steps = 1000000
//	hash = "blake3"
//
//	[store]
//	backend = "bolt"
//	path = "/var/lib/stackvm/results.db"
//	sync_writes = false
//
//	[rpc]
//	addr = ":8899"
//	log_requests = true
//	max_request_size = 2097152
//
//	[grpc]
//	addr = ":9090"
//
//	[dashboard]
//	enabled = true
//	bind_address = "127.0.0.1"
//	port = 8080
//
// Command-line flags override values loaded from the file.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fortiblox/stackvm/internal/types"
	"github.com/fortiblox/stackvm/pkg/dashboard"
	"github.com/fortiblox/stackvm/pkg/executor"
	"github.com/fortiblox/stackvm/pkg/remote"
	"github.com/fortiblox/stackvm/pkg/resultstore"
	"github.com/fortiblox/stackvm/pkg/rpc"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full stackvm configuration.
type Config struct {
	VM    VMConfig    `toml:"vm"`
	Store StoreConfig `toml:"store"`
	RPC   RPCConfig   `toml:"rpc"`
	GRPC  GRPCConfig  `toml:"grpc"`

	Dashboard DashboardConfig `toml:"dashboard"`
}

// VMConfig configures program execution.
type VMConfig struct {
	// MaxSteps bounds local runs. Zero means no bound.
	MaxSteps uint64 `toml:"max_steps"`

	// Hash selects the ProgramID digest.
	Hash string `toml:"hash"`
}

// StoreConfig configures the result cache.
type StoreConfig struct {
	Backend    string `toml:"backend"`
	Path       string `toml:"path"`
	SyncWrites bool   `toml:"sync_writes"`
}

// RPCConfig configures the JSON-RPC server.
type RPCConfig struct {
	Addr           string `toml:"addr"`
	LogRequests    bool   `toml:"log_requests"`
	MaxRequestSize int64  `toml:"max_request_size"`
	MaxSteps       uint64 `toml:"max_steps"`
}

// GRPCConfig configures the gRPC server.
type GRPCConfig struct {
	Addr        string `toml:"addr"`
	LogRequests bool   `toml:"log_requests"`
	MaxSteps    uint64 `toml:"max_steps"`
}

// DashboardConfig configures the web dashboard.
type DashboardConfig struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// Default returns the built-in configuration: unbounded local runs, no
// result cache, servers disabled.
func Default() Config {
	rpcDefaults := rpc.DefaultConfig()
	dashDefaults := dashboard.DefaultConfig()
	return Config{
		VM: VMConfig{
			Hash: string(types.DefaultHash),
		},
		Store: StoreConfig{
			Backend: resultstore.BackendNone,
		},
		RPC: RPCConfig{
			MaxRequestSize: rpcDefaults.MaxRequestSize,
			MaxSteps:       rpcDefaults.MaxSteps,
		},
		GRPC: GRPCConfig{
			MaxSteps: remote.DefaultMaxSteps,
		},
		Dashboard: DashboardConfig{
			BindAddress: dashDefaults.BindAddress,
			Port:        dashDefaults.Port,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return cfg, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if _, err := types.ParseHashAlgorithm(c.VM.Hash); err != nil {
		return fmt.Errorf("%w: vm.hash: %v", ErrInvalidConfig, err)
	}

	switch c.Store.Backend {
	case "", resultstore.BackendNone, resultstore.BackendMemory:
	case resultstore.BackendBolt, resultstore.BackendBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for the %s backend", ErrInvalidConfig, c.Store.Backend)
		}
	default:
		return fmt.Errorf("%w: store.backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("%w: dashboard.port %d out of range", ErrInvalidConfig, c.Dashboard.Port)
	}

	if c.RPC.MaxRequestSize < 0 {
		return fmt.Errorf("%w: rpc.max_request_size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ExecutorConfig returns the executor settings.
func (c Config) ExecutorConfig() executor.Config {
	return executor.Config{
		MaxSteps: c.VM.MaxSteps,
		Hash:     types.HashAlgorithm(c.VM.Hash),
	}
}

// ResultStoreConfig returns the result cache settings.
func (c Config) ResultStoreConfig() resultstore.Config {
	return resultstore.Config{
		Backend:    c.Store.Backend,
		Path:       c.Store.Path,
		SyncWrites: c.Store.SyncWrites,
	}
}

// RPCServerConfig returns the JSON-RPC server settings.
func (c Config) RPCServerConfig() rpc.Config {
	cfg := rpc.DefaultConfig()
	cfg.Addr = c.RPC.Addr
	cfg.LogRequests = c.RPC.LogRequests
	if c.RPC.MaxRequestSize > 0 {
		cfg.MaxRequestSize = c.RPC.MaxRequestSize
	}
	cfg.MaxSteps = c.RPC.MaxSteps
	return cfg
}

// GRPCServerConfig returns the gRPC server settings.
func (c Config) GRPCServerConfig() remote.ServerConfig {
	cfg := remote.DefaultServerConfig()
	cfg.Addr = c.GRPC.Addr
	cfg.LogRequests = c.GRPC.LogRequests
	cfg.MaxSteps = c.GRPC.MaxSteps
	return cfg
}

// DashboardServerConfig returns the dashboard settings.
func (c Config) DashboardServerConfig() dashboard.Config {
	cfg := dashboard.DefaultConfig()
	if c.Dashboard.BindAddress != "" {
		cfg.BindAddress = c.Dashboard.BindAddress
	}
	if c.Dashboard.Port != 0 {
		cfg.Port = c.Dashboard.Port
	}
	return cfg
}
