// stackvm runs bytecode programs for the stackvm stack machine.
//
// Usage:
//
//	stackvm [flags] <program.bin>    run a program and print its result
//	stackvm -disasm <program.bin>    print the program's disassembly
//	stackvm -rpc-addr :8899          serve JSON-RPC (and/or -grpc-addr for gRPC)
//	stackvm -dashboard -rpc-addr :8899
//	stackvm -remote host1:9090,host2:9090 <program.bin>
//
// Programs may be raw bytecode or a zstd frame containing it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fortiblox/stackvm/internal/config"
	"github.com/fortiblox/stackvm/pkg/dashboard"
	"github.com/fortiblox/stackvm/pkg/executor"
	"github.com/fortiblox/stackvm/pkg/loader"
	"github.com/fortiblox/stackvm/pkg/remote"
	"github.com/fortiblox/stackvm/pkg/resultstore"
	"github.com/fortiblox/stackvm/pkg/rpc"
	"github.com/fortiblox/stackvm/pkg/vm"
)

// Version information
var (
	Version   = rpc.Version
	GitCommit = "dev"
)

// Configuration flags
var (
	configPath  = flag.String("config", "", "Path to a TOML configuration file")
	maxSteps    = flag.Uint64("max-steps", 0, "Maximum instructions per run (0 = unlimited)")
	trace       = flag.Bool("trace", false, "Log every executed instruction")
	disasm      = flag.Bool("disasm", false, "Print the program's disassembly instead of running it")
	hashAlg     = flag.String("hash", "blake3", "Program ID digest: blake3, sha3-256")
	storeKind   = flag.String("store", "none", "Result cache backend: none, memory, bolt, badger")
	storePath   = flag.String("store-path", "", "Result cache file (bolt) or directory (badger)")
	rpcAddr     = flag.String("rpc-addr", "", "Serve JSON-RPC on this address")
	grpcAddr    = flag.String("grpc-addr", "", "Serve gRPC on this address")
	remoteAddr  = flag.String("remote", "", "Execute on remote gRPC servers (comma-separated) instead of locally")
	dashEnabled = flag.Bool("dashboard", false, "Serve the web dashboard")
	dashPort    = flag.Int("dashboard-port", 8080, "Dashboard port")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <program.bin>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("stackvm %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.RPC.Addr != "" || cfg.GRPC.Addr != "" || cfg.Dashboard.Enabled {
		if err := serve(cfg); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	program, err := loader.New(loader.DefaultConfig()).LoadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to load program: %v", err)
	}

	if *disasm {
		instrs, err := vm.Disassemble(program)
		fmt.Print(vm.Listing(instrs))
		if err != nil {
			log.Fatalf("Disassembly stopped: %v", err)
		}
		return
	}

	var result int32
	if *remoteAddr != "" {
		result, err = runRemote(program, cfg)
	} else {
		result, err = runLocal(program, cfg)
	}
	if err != nil {
		log.Fatalf("Execution failed: %v", err)
	}
	fmt.Println(result)
}

// loadConfig merges the configuration file with explicitly set flags.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-steps":
			cfg.VM.MaxSteps = *maxSteps
		case "hash":
			cfg.VM.Hash = *hashAlg
		case "store":
			cfg.Store.Backend = *storeKind
		case "store-path":
			cfg.Store.Path = *storePath
		case "rpc-addr":
			cfg.RPC.Addr = *rpcAddr
		case "grpc-addr":
			cfg.GRPC.Addr = *grpcAddr
		case "dashboard":
			cfg.Dashboard.Enabled = *dashEnabled
		case "dashboard-port":
			cfg.Dashboard.Port = *dashPort
		}
	})

	return cfg, cfg.Validate()
}

// newExecutor opens the result cache and builds an executor around it.
func newExecutor(cfg config.Config) (*executor.Executor, resultstore.Store, error) {
	store, err := resultstore.Open(cfg.ResultStoreConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("open result store: %w", err)
	}

	execCfg := cfg.ExecutorConfig()
	if *trace {
		execCfg.Trace = traceInstruction
	}

	exec, err := executor.New(execCfg, store)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return exec, store, nil
}

func traceInstruction(ev vm.TraceEvent) {
	in := vm.Instruction{Offset: ev.Offset, Op: ev.Op, Operand: ev.Operand}
	log.Printf("[TRACE] %-24s stack=%v", in, ev.Stack)
}

func runLocal(program []byte, cfg config.Config) (int32, error) {
	exec, store, err := newExecutor(cfg)
	if err != nil {
		return 0, err
	}
	if store != nil {
		defer store.Close()
	}

	res, err := exec.Execute(context.Background(), program)
	if err != nil {
		if kind := executor.ErrorKind(err); kind != "" {
			return 0, fmt.Errorf("%s: %w", kind, err)
		}
		return 0, err
	}
	if res.Cached {
		log.Printf("[STORE] Served %s from cache", res.ProgramID)
	}
	return res.Value, nil
}

func runRemote(program []byte, cfg config.Config) (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var endpoints []string
	for _, ep := range strings.Split(*remoteAddr, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}

	pool, err := remote.DialPool(ctx, endpoints, remote.DefaultClientConfig(""))
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	resp, err := pool.ExecuteWithLimit(ctx, program, cfg.VM.MaxSteps)
	if err != nil {
		return 0, err
	}
	return resp.Result, nil
}

// serve runs the configured servers until SIGINT or SIGTERM.
func serve(cfg config.Config) error {
	log.Printf("Starting stackvm %s", Version)

	exec, store, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		log.Printf("[STORE] Caching results in %s backend %s", cfg.Store.Backend, cfg.Store.Path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	if cfg.RPC.Addr != "" {
		server := rpc.New(cfg.RPCServerConfig(), exec)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				errCh <- fmt.Errorf("rpc: %w", err)
				cancel()
			}
		}()
	}

	if cfg.GRPC.Addr != "" {
		server := remote.NewServer(cfg.GRPCServerConfig(), exec)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
				cancel()
			}
		}()
	}

	if cfg.Dashboard.Enabled {
		dash, err := dashboard.New(cfg.DashboardServerConfig(), exec)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("dashboard: %w", err)
		}
		log.Printf("Dashboard available at http://%s", dash.Address())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Start(ctx); err != nil {
				errCh <- fmt.Errorf("dashboard: %w", err)
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	log.Println("Shutdown complete")
	return errors.Join(errs...)
}
