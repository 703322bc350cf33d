// bci: bytecode interpreter
//
// Runs a bytecode file, prints its disassembly, or serves the JSON-RPC and
// gRPC APIs over a persistent program store and run journal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fortiblox/bci/pkg/dashboard"
	"github.com/fortiblox/bci/pkg/executor"
	"github.com/fortiblox/bci/pkg/grpcapi"
	"github.com/fortiblox/bci/pkg/programstore"
	"github.com/fortiblox/bci/pkg/rpc"
	"github.com/fortiblox/bci/pkg/runlog"
	"github.com/fortiblox/bci/pkg/vm"
	"golang.org/x/sync/errgroup"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Exit codes.
const (
	exitOK    = 0
	exitFault = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bci", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: bci [flags] program.bin\n       bci -serve [flags]\n\n")
		fs.PrintDefaults()
	}

	cfg := defaultConfig()
	fs.Uint64Var(&cfg.MaxSteps, "max-steps", cfg.MaxSteps, "Step limit per run (0 = unlimited for files, default limit when serving)")
	fs.BoolVar(&cfg.Permissive, "permissive", cfg.Permissive, "Truncate oversized programs instead of faulting")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Data directory for the program store and run journal")
	fs.StringVar(&cfg.RPCAddr, "rpc-addr", cfg.RPCAddr, "JSON-RPC listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address (empty disables gRPC)")
	fs.StringVar(&cfg.DashAddr, "dashboard-addr", cfg.DashAddr, "Web dashboard listen address (empty disables the dashboard)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent runs in a batch")
	fs.BoolVar(&cfg.LogRequests, "log-requests", cfg.LogRequests, "Log every RPC call")
	configPath := fs.String("config", "", "TOML file overriding flag values")
	disasm := fs.Bool("disasm", false, "Print a listing instead of running")
	trace := fs.Bool("trace", false, "Trace each instruction to stderr")
	serve := fs.Bool("serve", false, "Serve JSON-RPC and gRPC")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if *showVersion {
		fmt.Fprintf(stdout, "bci %s (%s)\n", Version, GitCommit)
		return exitOK
	}

	if *configPath != "" {
		if err := overlayFile(&cfg, *configPath); err != nil {
			fmt.Fprintf(stderr, "bci: %v\n", err)
			return exitUsage
		}
	}

	if *serve {
		if err := serveAll(ctx, cfg); err != nil {
			fmt.Fprintf(stderr, "bci: %v\n", err)
			return exitFault
		}
		return exitOK
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	code, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "bci: %v\n", err)
		return exitUsage
	}

	if *disasm {
		if _, err := io.WriteString(stdout, vm.DisassembleString(code)); err != nil {
			fmt.Fprintf(stderr, "bci: write output: %v\n", err)
			return exitFault
		}
		return exitOK
	}

	return runFile(ctx, cfg, code, *trace, stdout, stderr)
}

// runFile executes code, streaming PRINT output to stdout.
func runFile(ctx context.Context, cfg config, code []byte, trace bool, stdout, stderr io.Writer) int {
	w := bufio.NewWriter(stdout)
	opts := vm.Options{
		Output:     w,
		MaxSteps:   cfg.MaxSteps,
		Permissive: cfg.Permissive,
	}
	if trace {
		opts.Trace = func(ins vm.Instruction, sp int) {
			fmt.Fprintf(stderr, "%04x %-16s sp=%d\n", ins.Offset, ins, sp)
		}
	}

	out := vm.NewInterpreter(opts).Run(ctx, code)
	flushErr := w.Flush()

	if f := out.Fault; f != nil {
		fmt.Fprintf(stderr, "fault: %s at ip=%d\n", f.Kind(), f.IP)
		return exitFault
	}
	if flushErr != nil {
		fmt.Fprintf(stderr, "bci: write output: %v\n", flushErr)
		return exitFault
	}
	return exitOK
}

// serveAll opens the stores under cfg.DataDir and serves until ctx ends.
func serveAll(ctx context.Context, cfg config) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting bci %s", Version)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	programs, err := programstore.Open(programstore.DefaultConfig(filepath.Join(cfg.DataDir, "programs.db")))
	if err != nil {
		return fmt.Errorf("open program store: %w", err)
	}
	defer programs.Close()

	journal, err := runlog.Open(runlog.DefaultConfig(filepath.Join(cfg.DataDir, "runs")))
	if err != nil {
		return fmt.Errorf("open run journal: %w", err)
	}
	defer journal.Close()

	log.Printf("Program store: %d programs, run journal: %d runs", programs.Count(), journal.Count())

	execConfig := executor.DefaultConfig()
	if cfg.MaxSteps > 0 {
		execConfig.MaxSteps = cfg.MaxSteps
	}
	execConfig.Permissive = cfg.Permissive
	execConfig.Workers = cfg.Workers
	execConfig.KeepOutput = cfg.KeepOutput
	exec := executor.New(execConfig, programs, journal)

	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Addr = cfg.RPCAddr
	rpcConfig.LogRequests = cfg.LogRequests
	rpcServer := rpc.New(rpcConfig, exec, programs, journal)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("JSON-RPC listening on %s", cfg.RPCAddr)
		return rpcServer.Start(gctx)
	})

	if cfg.GRPCAddr != "" {
		grpcConfig := grpcapi.DefaultConfig()
		grpcConfig.Addr = cfg.GRPCAddr
		grpcConfig.LogRequests = cfg.LogRequests
		grpcServer := grpcapi.New(grpcConfig, exec, journal)
		g.Go(func() error {
			log.Printf("gRPC listening on %s", cfg.GRPCAddr)
			return grpcServer.Start(gctx)
		})
	}

	if cfg.DashAddr != "" {
		dashConfig := dashboard.DefaultConfig()
		dashConfig.Addr = cfg.DashAddr
		dash, err := dashboard.New(dashConfig, exec, programs, journal)
		if err != nil {
			return fmt.Errorf("create dashboard: %w", err)
		}
		g.Go(func() error {
			log.Printf("Dashboard listening on %s", cfg.DashAddr)
			return dash.Start(gctx)
		})
	}

	err = g.Wait()
	stats := exec.Stats()
	log.Printf("Served %d runs (%d completed, %d faulted)", stats.Runs, stats.Completed, stats.Faulted)
	log.Println("bci stopped")
	return err
}
