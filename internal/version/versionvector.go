package version

import (
	"fmt"
	"sort"
	"strings"
)

// VersionVector maps each replica to the highest counter value from that
// replica known to the vector's owner. A replica absent from the map is
// equivalent to counter 0.
//
// VersionVector is mutated in place by Update/IncVersion, matching the
// reference implementation's semantics: callers that need an independent
// copy must call Clone explicitly.
type VersionVector struct {
	counters map[ReplicaID]uint64
}

// NewVersionVector returns an empty vector.
func NewVersionVector() *VersionVector {
	return &VersionVector{counters: make(map[ReplicaID]uint64)}
}

// GetVersion returns the counter this vector holds for replica r, or 0 if
// the replica has never been recorded.
func (vv *VersionVector) GetVersion(r ReplicaID) uint64 {
	if vv == nil {
		return 0
	}
	return vv.counters[r]
}

// HasVersion reports whether vv's counter for v.Replica is at least
// v.Counter, i.e. whether the write identified by v is reflected in vv.
func (vv *VersionVector) HasVersion(v Version) bool {
	return vv.GetVersion(v.Replica) >= v.Counter
}

// UpdateVersion raises vv's counter for r to max(current, counter). It
// never lowers a counter.
func (vv *VersionVector) UpdateVersion(r ReplicaID, counter uint64) {
	if counter > vv.counters[r] {
		vv.counters[r] = counter
	}
}

// Update raises vv's counter for v.Replica to max(current, v.Counter).
func (vv *VersionVector) Update(v Version) {
	vv.UpdateVersion(v.Replica, v.Counter)
}

// IncVersion increments r's counter by one and returns the resulting
// Version. This is how a replica mints a new version for a local write.
func (vv *VersionVector) IncVersion(r ReplicaID) Version {
	next := vv.counters[r] + 1
	vv.counters[r] = next
	return Version{Replica: r, Counter: next}
}

// Merge raises every counter in vv to the pointwise maximum of vv and o. It
// mutates vv; o is left untouched.
func (vv *VersionVector) Merge(o *VersionVector) {
	if o == nil {
		return
	}
	for r, c := range o.counters {
		vv.UpdateVersion(r, c)
	}
}

// Dominates reports whether vv's counter is >= o's counter for every
// replica o knows about, i.e. vv has seen everything o has seen.
func (vv *VersionVector) Dominates(o *VersionVector) bool {
	if o == nil {
		return true
	}
	for r, c := range o.counters {
		if vv.GetVersion(r) < c {
			return false
		}
	}
	return true
}

// DominatesVersion reports whether vv has seen v.
func (vv *VersionVector) DominatesVersion(v Version) bool {
	return vv.HasVersion(v)
}

// Clone returns an independent deep copy of vv.
func (vv *VersionVector) Clone() *VersionVector {
	out := NewVersionVector()
	if vv == nil {
		return out
	}
	for r, c := range vv.counters {
		out.counters[r] = c
	}
	return out
}

// Equal reports whether vv and o hold identical counters (a replica with
// counter 0 is equivalent to being absent).
func (vv *VersionVector) Equal(o *VersionVector) bool {
	return vv.Dominates(o) && o.Dominates(vv)
}

// Replicas returns the replica ids vv has a nonzero counter for, sorted for
// deterministic output.
func (vv *VersionVector) Replicas() []ReplicaID {
	out := make([]ReplicaID, 0, len(vv.counters))
	for r := range vv.counters {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders vv as "{AA:3 BB:1}", replicas in sorted order.
func (vv *VersionVector) String() string {
	if vv == nil || len(vv.counters) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(vv.counters))
	for _, r := range vv.Replicas() {
		parts = append(parts, fmt.Sprintf("%s:%d", r, vv.counters[r]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// MarshalJSON implements json.Marshaler as a flat replica->counter object.
func (vv *VersionVector) MarshalJSON() ([]byte, error) {
	return marshalCounters(vv.counters)
}

// UnmarshalJSON implements json.Unmarshaler.
func (vv *VersionVector) UnmarshalJSON(data []byte) error {
	m, err := unmarshalCounters(data)
	if err != nil {
		return err
	}
	vv.counters = m
	return nil
}

// GobEncode implements gob.GobEncoder. VersionVector's backing map is
// unexported, so gob cannot encode it field-by-field; we route through the
// same flat JSON representation used for the wire format instead.
func (vv *VersionVector) GobEncode() ([]byte, error) {
	return marshalCounters(vv.counters)
}

// GobDecode implements gob.GobDecoder.
func (vv *VersionVector) GobDecode(data []byte) error {
	m, err := unmarshalCounters(data)
	if err != nil {
		return err
	}
	vv.counters = m
	return nil
}
