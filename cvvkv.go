// Package cvvkv is a thin public facade over the causal+ key-value
// engine, generalizing the teacher's root tinysql.go facade: embedders
// who want the replication core as a library, rather than running the
// cvvkvd daemon, import this package instead of reaching into internal/.
package cvvkv

import (
	"github.com/cvvkv/cvvkv/internal/bus"
	"github.com/cvvkv/cvvkv/internal/kvstore"
	"github.com/cvvkv/cvvkv/internal/record"
	"github.com/cvvkv/cvvkv/internal/replica"
	"github.com/cvvkv/cvvkv/internal/version"
)

// Re-exported core types, so callers never need to import internal/version
// or internal/record directly.
type (
	ReplicaID     = version.ReplicaID
	Version       = version.Version
	VersionVector = version.VersionVector
	VersionSet    = version.VersionSet
	ReadTuple     = record.ReadTuple
)

// Re-exported error types.
type (
	NoSuchKeyError        = replica.NoSuchKeyError
	DuplicateKeyError     = replica.DuplicateKeyError
	ConcurrentUpdateError = replica.ConcurrentUpdateError
)

// ErrFutureDependency is returned when a caller cites dependent versions
// this replica has not yet learned about.
var ErrFutureDependency = replica.ErrFutureDependency

// NewVersionVector returns an empty VersionVector.
func NewVersionVector() *VersionVector { return version.NewVersionVector() }

// NewReplicaID generates a fresh, globally unique replica identifier.
func NewReplicaID() ReplicaID { return replica.NewReplicaID() }

// StorageMode selects how a Replica's store persists data.
type StorageMode = kvstore.StorageMode

const (
	StorageMemory = kvstore.ModeMemory
	StorageDisk   = kvstore.ModeDisk
	StorageHybrid = kvstore.ModeHybrid
)

// MessageBus is the collaborator replicas use to exchange protocol
// messages; NewLocalBus and NewManualLocalBus satisfy it for in-process
// use, GRPCBus for networked deployments.
type MessageBus = bus.MessageBus

// NewLocalBus returns an in-process, auto-dispatching MessageBus, useful
// for embedding several replicas in one process (tests, simulations).
func NewLocalBus() MessageBus { return bus.NewLocalBus() }

// NewManualLocalBus returns an in-process MessageBus whose delivery is
// driven explicitly, for deterministic tests of replication behavior.
func NewManualLocalBus() *bus.LocalBus { return bus.NewManualLocalBus() }

// NewGRPCBus returns a MessageBus that exchanges protocol messages with
// peers over gRPC. Call AddPeer for each remote replica, then Serve to
// start accepting incoming traffic.
func NewGRPCBus() *bus.GRPCBus { return bus.NewGRPCBus() }

// Replica is one causal+ replica: a deterministic state machine driven
// by client calls and by messages delivered from peers over a
// MessageBus.
type Replica = replica.Replica

// NewReplica constructs a fresh Replica with empty history, backed by
// store and communicating over b. id must be globally unique and never
// reused; NewReplicaID generates a suitable one.
func NewReplica(id ReplicaID, b MessageBus, store *kvstore.Store) *Replica {
	return replica.New(id, b, store)
}

// OpenStore opens a persistent key-value store per cfg, suitable for
// passing to NewReplica.
func OpenStore(cfg kvstore.Config) (*kvstore.Store, error) {
	return kvstore.Open(cfg)
}

// StoreConfig configures a Store's backend.
type StoreConfig = kvstore.Config

// AntiEntropyScheduler periodically drives anti-entropy sync rounds
// against a replica's peers.
type AntiEntropyScheduler = replica.AntiEntropyScheduler

// NewAntiEntropyScheduler returns a scheduler that syncs r against peers
// once started.
func NewAntiEntropyScheduler(r *Replica, peers []ReplicaID) *AntiEntropyScheduler {
	return replica.NewAntiEntropyScheduler(r, peers)
}
