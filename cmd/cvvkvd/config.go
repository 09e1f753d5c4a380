package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// peerConfig names one other replica daemon this one should talk to.
type peerConfig struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// config is the daemon's configuration, generalizing the teacher's flag
// set in cmd/server/main.go with a YAML file a deployment can check in,
// the way the teacher uses gopkg.in/yaml.v3 as its structured
// configuration format elsewhere in the pack.
type config struct {
	ReplicaID string       `yaml:"replica_id"`
	HTTPAddr  string       `yaml:"http_addr"`
	GRPCAddr  string       `yaml:"grpc_addr"`
	Peers     []peerConfig `yaml:"peers"`

	StorageMode string `yaml:"storage_mode"`
	StoragePath string `yaml:"storage_path"`

	// AntiEntropySchedule is a standard 5-field cron expression, e.g.
	// "*/5 * * * *" to sync once every five minutes.
	AntiEntropySchedule string `yaml:"anti_entropy_schedule"`
}

func defaultConfig() config {
	return config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":9090",
		StorageMode:         "memory",
		AntiEntropySchedule: "*/5 * * * *",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cvvkvd: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cvvkvd: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with any flags the operator explicitly passed,
// the same override-over-file precedence the teacher's cmd/server uses
// between its flag defaults and runtime arguments.
func applyFlags(cfg config, fs *flag.FlagSet) config {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			cfg.ReplicaID = f.Value.String()
		case "http":
			cfg.HTTPAddr = f.Value.String()
		case "grpc":
			cfg.GRPCAddr = f.Value.String()
		case "storage-mode":
			cfg.StorageMode = f.Value.String()
		case "storage-path":
			cfg.StoragePath = f.Value.String()
		case "anti-entropy":
			cfg.AntiEntropySchedule = f.Value.String()
		}
	})
	return cfg
}
