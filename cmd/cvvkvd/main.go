// Command cvvkvd runs a single causal+ replica as a long-running daemon:
// an HTTP API for clients (create/read/update/delete/sync) and a gRPC
// listener for peer-to-peer replication traffic, generalizing the
// teacher's cmd/server/main.go from a federated SQL server to a
// replicated KV daemon.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/cvvkv/cvvkv/internal/bus"
	"github.com/cvvkv/cvvkv/internal/kvstore"
	"github.com/cvvkv/cvvkv/internal/replica"
	"github.com/cvvkv/cvvkv/internal/version"
)

func main() {
	fs := flag.NewFlagSet("cvvkvd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.String("id", "", "this replica's id (generated if empty)")
	fs.String("http", "", "address for the client HTTP API")
	fs.String("grpc", "", "address for the peer gRPC listener")
	fs.String("storage-mode", "", "memory | disk | hybrid")
	fs.String("storage-path", "", "root directory for disk/hybrid storage")
	fs.String("anti-entropy", "", "cron schedule for anti-entropy sync rounds")
	peers := fs.String("peers", "", "comma-separated id=addr pairs, e.g. BB=localhost:9091,CC=localhost:9092")
	fs.Parse(os.Args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("cvvkvd: %v", err)
	}
	cfg = applyFlags(cfg, fs)

	if cfg.ReplicaID == "" {
		cfg.ReplicaID = string(replica.NewReplicaID())
	}

	for _, p := range parsePeers(*peers) {
		cfg.Peers = append(cfg.Peers, p)
	}

	mode, err := kvstore.ParseStorageMode(cfg.StorageMode)
	if err != nil {
		log.Fatalf("cvvkvd: %v", err)
	}
	store, err := kvstore.Open(kvstore.Config{Mode: mode, Path: cfg.StoragePath})
	if err != nil {
		log.Fatalf("cvvkvd: open storage: %v", err)
	}
	defer store.Close()

	gb := bus.NewGRPCBus()
	for _, p := range cfg.Peers {
		gb.AddPeer(version.ReplicaID(p.ID), p.Addr)
	}

	rep := replica.New(version.ReplicaID(cfg.ReplicaID), gb, store)

	peerIDs := make([]version.ReplicaID, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peerIDs = append(peerIDs, version.ReplicaID(p.ID))
	}
	scheduler := replica.NewAntiEntropyScheduler(rep, peerIDs)
	if cfg.AntiEntropySchedule != "" {
		if err := scheduler.Start(cfg.AntiEntropySchedule); err != nil {
			log.Fatalf("cvvkvd: start anti-entropy scheduler: %v", err)
		}
		defer scheduler.Stop()
	}

	go func() {
		if err := gb.Serve(cfg.GRPCAddr); err != nil {
			log.Fatalf("cvvkvd: gRPC server: %v", err)
		}
	}()

	srv := &server{replica: rep, store: store, replicaID: cfg.ReplicaID}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", srv.handleStatus)
	mux.HandleFunc("/v1/sync/", srv.handleSync)
	mux.HandleFunc("/v1/keys/", srv.handleKey)

	log.Printf("cvvkvd: replica %s listening http=%s grpc=%s", cfg.ReplicaID, cfg.HTTPAddr, cfg.GRPCAddr)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, mux))
}

func parsePeers(s string) []peerConfig {
	if s == "" {
		return nil
	}
	var out []peerConfig
	for _, pair := range strings.Split(s, ",") {
		idAddr := strings.SplitN(pair, "=", 2)
		if len(idAddr) != 2 {
			continue
		}
		out = append(out, peerConfig{ID: idAddr[0], Addr: idAddr[1]})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
