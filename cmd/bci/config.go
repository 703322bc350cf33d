package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/fortiblox/bci/pkg/executor"
)

// config is the command configuration. Flags fill it first; a TOML file
// given with -config then overrides the keys it defines.
type config struct {
	MaxSteps    uint64 `toml:"max_steps"`
	Permissive  bool   `toml:"permissive"`
	DataDir     string `toml:"data_dir"`
	RPCAddr     string `toml:"rpc_addr"`
	GRPCAddr    string `toml:"grpc_addr"`
	DashAddr    string `toml:"dashboard_addr"`
	Workers     int    `toml:"workers"`
	KeepOutput  bool   `toml:"keep_output"`
	LogRequests bool   `toml:"log_requests"`
}

func defaultConfig() config {
	return config{
		MaxSteps:   0,
		DataDir:    "./bci-data",
		RPCAddr:    ":8899",
		GRPCAddr:   ":8900",
		Workers:    executor.DefaultConfig().Workers,
		KeepOutput: true,
	}
}

// overlayFile decodes path over cfg. Keys absent from the file keep their
// flag values.
func overlayFile(cfg *config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var file config
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
	}

	if md.IsDefined("max_steps") {
		cfg.MaxSteps = file.MaxSteps
	}
	if md.IsDefined("permissive") {
		cfg.Permissive = file.Permissive
	}
	if md.IsDefined("data_dir") {
		cfg.DataDir = file.DataDir
	}
	if md.IsDefined("rpc_addr") {
		cfg.RPCAddr = file.RPCAddr
	}
	if md.IsDefined("grpc_addr") {
		cfg.GRPCAddr = file.GRPCAddr
	}
	if md.IsDefined("dashboard_addr") {
		cfg.DashAddr = file.DashAddr
	}
	if md.IsDefined("workers") {
		cfg.Workers = file.Workers
	}
	if md.IsDefined("keep_output") {
		cfg.KeepOutput = file.KeepOutput
	}
	if md.IsDefined("log_requests") {
		cfg.LogRequests = file.LogRequests
	}
	return nil
}
