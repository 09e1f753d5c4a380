// Package version implements the Concise Version Vector (CVV) metadata
// algebra: Version, VersionVector, and VersionSet.
//
// What: a per-replica monotonic counter scheme for tracking causal history
// without storing one entry per write. A VersionVector records, for each
// replica, the counter of its most recent write known to a reader. A
// VersionSet goes further, recording a contiguous prefix per replica plus a
// sparse set of out-of-order "extras" above it, so that gaps created by
// reordered delivery can be represented compactly.
// How: every type here is a plain Go struct with map-backed storage and
// explicit locking left to the caller (mutation happens under the owning
// Replica's update lock, never internally).
// Why: causal+ consistency needs a way to compare "did replica A see
// everything replica B had written as of some point" cheaply; a vector of
// per-replica counters answers that in O(replicas) instead of O(writes).
package version

import "fmt"

// ReplicaID names a replica in the cluster. Replica identifiers are never
// reused once assigned.
type ReplicaID string

// Version identifies one write: the replica that performed it and that
// replica's local counter value at the time.
type Version struct {
	Replica ReplicaID
	Counter uint64
}

// String renders a Version as "replica:counter", e.g. "AA:7".
func (v Version) String() string {
	return fmt.Sprintf("%s:%d", v.Replica, v.Counter)
}

// IsZero reports whether v is the zero Version (no replica, counter 0).
// The zero Version never identifies a real write; it shows up as the
// sentinel "no version yet" value.
func (v Version) IsZero() bool {
	return v.Replica == "" && v.Counter == 0
}

// Equal reports whether two versions identify the same write.
func (v Version) Equal(o Version) bool {
	return v.Replica == o.Replica && v.Counter == o.Counter
}
