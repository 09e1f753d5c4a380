// Package record implements the per-key object model and the visibility
// engine that decides, for a given replica, which sibling versions of an
// object are currently observable.
//
// What: an ObjectRecord holds every sibling ObjectVersion the local
// replica has not yet pruned. A nil Value marks a tombstone (a delete).
// An ObjectVersion's Timestamp may be elided (nil) once the replica's own
// knowledge has advanced enough that the timestamp can always be
// reconstructed from committedVisible; FilterVisibleVersions and the
// replica's insertObject (internal/replica) cooperate to keep that
// invariant intact.
// How: plain structs over internal/version's Version/VersionVector types;
// all mutation happens under the owning replica's update lock, mirroring
// the reference implementation's locking discipline.
package record

import "github.com/cvvkv/cvvkv/internal/version"

// ObjectVersion is one sibling write of an object: the version that
// identifies it, the (possibly elided) causal timestamp at the time it was
// written, and its value. A nil Value represents a tombstone.
type ObjectVersion struct {
	Version   version.Version
	Timestamp *version.VersionVector
	Value     []byte
}

// IsTombstone reports whether this version represents a deletion.
func (ov *ObjectVersion) IsTombstone() bool {
	return ov.Value == nil
}

// Clone returns an independent deep copy of ov.
func (ov *ObjectVersion) Clone() *ObjectVersion {
	if ov == nil {
		return nil
	}
	out := &ObjectVersion{Version: ov.Version}
	if ov.Timestamp != nil {
		out.Timestamp = ov.Timestamp.Clone()
	}
	if ov.Value != nil {
		out.Value = append([]byte(nil), ov.Value...)
	}
	return out
}

// ObjectRecord is the set of sibling versions currently retained for one
// key. Concurrent writes accumulate siblings here until a later write
// (made by some replica, causally after all of them) supersedes them.
type ObjectRecord struct {
	Versions []*ObjectVersion
}

// NewObjectRecord returns an empty record.
func NewObjectRecord() *ObjectRecord {
	return &ObjectRecord{}
}

// Clone returns an independent deep copy of rec, including every sibling
// version. This is what a KV backend must hand back from Load/return from
// Save to satisfy the "independent copies" contract (see internal/kvstore).
func (rec *ObjectRecord) Clone() *ObjectRecord {
	if rec == nil {
		return nil
	}
	out := &ObjectRecord{Versions: make([]*ObjectVersion, len(rec.Versions))}
	for i, ov := range rec.Versions {
		out.Versions[i] = ov.Clone()
	}
	return out
}

// ReadTuple is what Replica.Read returns: the surviving values and the
// version vector a caller must cite as dependent_versions on its next
// Update/Delete for this key. A read whose survivors are all tombstones
// returns an empty ReadTuple; a tombstone surviving beside a live sibling
// appears in Values as nil.
type ReadTuple struct {
	DependentVersions *version.VersionVector
	Values            [][]byte
}

// IsEmpty reports whether the read found nothing (no key, or every
// sibling was a tombstone).
func (rt ReadTuple) IsEmpty() bool {
	return len(rt.Values) == 0
}
