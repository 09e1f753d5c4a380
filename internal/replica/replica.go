// Package replica implements the causal+ replica state machine: local
// reads and writes, the visibility engine's integration point
// (insert_object), message dispatch, and the sync requestor/responder
// protocol.
//
// What: Replica holds the four pieces of state the algebra in
// internal/version and internal/record are built around: knowledge (a
// VersionSet), visible and committedVisible (VersionVectors), plus a
// handle to the persistent store and the message bus collaborators.
// How: every mutating operation is serialized through a single
// sync.Mutex (updateLock), matching the reference implementation's
// threading.Lock discipline; reads may also need the lock because
// filtering visible versions can latch (widen) the visible vector as a
// side effect.
// Why: a single lock per replica keeps the causal invariants
// (knowledge.DominatesVV(visible), visible.Dominates(committedVisible),
// and the self-replica counters all matching) easy to reason about; the
// protocol is designed so replicas never need to coordinate with each
// other while holding it.
package replica

import (
	"log"
	"sync"

	"github.com/cvvkv/cvvkv/internal/bus"
	"github.com/cvvkv/cvvkv/internal/record"
	"github.com/cvvkv/cvvkv/internal/version"
)

// Store is the persistent KV collaborator a Replica delegates object
// storage to. internal/kvstore.Store satisfies this.
type Store interface {
	Get(key string) (*record.ObjectRecord, error)
	Put(key string, rec *record.ObjectRecord) error
	Delete(key string) error
	Keys() ([]string, error)
}

// Replica is one causal+ replica: a deterministic state machine driven by
// client calls (Create/Read/Update/Delete) and by messages delivered from
// other replicas over the bus.
type Replica struct {
	id  version.ReplicaID
	bus bus.MessageBus
	db  Store

	updateLock sync.Mutex

	knowledge        *version.VersionSet
	committedVisible *version.VersionVector
	visible          *version.VersionVector

	sync syncRequestorState

	logger *log.Logger
}

// New constructs a fresh Replica with empty history. id must be globally
// unique and never reused.
func New(id version.ReplicaID, b bus.MessageBus, db Store) *Replica {
	r := &Replica{
		id:               id,
		bus:              b,
		db:               db,
		knowledge:        version.NewVersionSet(),
		committedVisible: version.NewVersionVector(),
		logger:           log.New(log.Writer(), "replica["+string(id)+"] ", log.LstdFlags),
	}
	r.visible = r.committedVisible.Clone()
	b.Register(id, r.DeliverMessage)
	return r
}

// ID returns this replica's identifier.
func (r *Replica) ID() version.ReplicaID { return r.id }

// Read returns the currently visible values for key and the version
// vector a subsequent Update/Delete must cite as dependent_versions. If
// the key does not exist, or every sibling is a tombstone, the returned
// ReadTuple is empty.
func (r *Replica) Read(key string) (record.ReadTuple, error) {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	rec, err := r.db.Get(key)
	if err != nil {
		return record.ReadTuple{}, err
	}
	if rec == nil {
		return record.ReadTuple{}, nil
	}

	depVV, survivors := record.FilterVisibleVersions(rec, r.knowledge, r.visible)

	values := make([][]byte, 0, len(survivors))
	anyValue := false
	for _, ov := range survivors {
		values = append(values, ov.Value)
		if ov.Value != nil {
			anyValue = true
		}
	}
	if !anyValue {
		return record.ReadTuple{}, nil
	}
	return record.ReadTuple{DependentVersions: depVV, Values: values}, nil
}

// Create creates a new object under key with value. It fails with
// DuplicateKeyError if key already has a visible value on this replica.
// If the only thing visible is a tombstone (a prior delete), the create
// is recorded as causally after that deletion.
func (r *Replica) Create(key string, value []byte) (version.Version, error) {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	r.logger.Printf("create(%q)", key)

	rec, err := r.db.Get(key)
	if err != nil {
		return version.Version{}, err
	}

	var dependentVersions *version.VersionVector
	if rec != nil {
		depVV, survivors := record.FilterVisibleVersions(rec, r.knowledge, r.visible)
		for _, ov := range survivors {
			if !ov.IsTombstone() {
				return version.Version{}, &DuplicateKeyError{Key: key}
			}
		}
		dependentVersions = depVV
	} else {
		dependentVersions = version.NewVersionVector()
		rec = record.NewObjectRecord()
	}
	return r.localUpdate(rec, key, value, dependentVersions)
}

// Update changes the value of an existing object. dependentVersions must
// be the vector returned by the caller's last Read of the same key.
func (r *Replica) Update(key string, value []byte, dependentVersions *version.VersionVector) (version.Version, error) {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	r.logger.Printf("update(%q)", key)

	rec, err := r.db.Get(key)
	if err != nil {
		return version.Version{}, err
	}
	if rec == nil {
		return version.Version{}, &NoSuchKeyError{Key: key}
	}
	return r.localUpdate(rec, key, value, dependentVersions)
}

// Delete removes the object identified by key. It is a no-op if the key
// does not exist on this replica.
func (r *Replica) Delete(key string, dependentVersions *version.VersionVector) error {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	r.logger.Printf("delete(%q)", key)

	rec, err := r.db.Get(key)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	_, err = r.localUpdate(rec, key, nil, dependentVersions)
	return err
}

// localUpdate is the central write routine shared by Create/Update/Delete:
// it validates the caller's dependent_versions against what's actually
// visible, mints a new version, inserts it, and broadcasts an Update
// message. Caller must hold updateLock.
func (r *Replica) localUpdate(rec *record.ObjectRecord, key string, value []byte, dependentVersions *version.VersionVector) (version.Version, error) {
	visibleVV, _ := record.FilterVisibleVersions(rec, r.knowledge, r.visible)

	if !r.visible.Dominates(dependentVersions) {
		return version.Version{}, ErrFutureDependency
	}
	if !visibleVV.Equal(dependentVersions) {
		return version.Version{}, &ConcurrentUpdateError{Key: key}
	}

	ver := r.visible.IncVersion(r.id)
	timestamp := r.visible.Clone()

	objVer := &record.ObjectVersion{Version: ver, Timestamp: timestamp, Value: value}
	broadcastCopy := &record.ObjectVersion{Version: ver, Timestamp: timestamp.Clone(), Value: append([]byte(nil), value...)}

	r.insertObject(rec, key, objVer)

	r.bus.Broadcast(r.id, &bus.UpdateMessage{Key: key, ObjVer: broadcastCopy})

	return ver, nil
}

// insertObject folds a new (or newly received) ObjectVersion into rec,
// reconstructs elided timestamps for the record's existing siblings where
// needed, re-derives visibility, prunes versions no longer needed, and
// persists the result. Caller must hold updateLock.
func (r *Replica) insertObject(rec *record.ObjectRecord, key string, objVer *record.ObjectVersion) {
	for _, ov := range rec.Versions {
		if ov.Timestamp == nil {
			// Safe to replace with committedVisible: it satisfies every
			// constraint a discarded timestamp must satisfy.
			ov.Timestamp = r.committedVisible.Clone()
		}
	}

	rec.Versions = append(rec.Versions, objVer)
	r.knowledge.InsertVersion(objVer.Version)
	if r.knowledge.DominatesVV(objVer.Timestamp) {
		r.visible.Merge(objVer.Timestamp)
	}

	visibleVV, _ := record.FilterVisibleVersions(rec, r.knowledge, r.visible)

	kept := make([]*record.ObjectVersion, 0, len(rec.Versions))
	for _, ov := range rec.Versions {
		if visibleVV.GetVersion(ov.Version.Replica) == ov.Version.Counter {
			// Still the surviving version for this replica: keep it.
			kept = append(kept, ov)
			continue
		}
		if !r.visible.DominatesVersion(ov.Version) {
			kept = append(kept, ov)
		}
		// Otherwise: visible, but not in visibleVV (i.e. superseded),
		// so safe to prune.
	}
	rec.Versions = kept

	record.DiscardTimestampForReplacementVV(rec, r.visible)

	if err := r.db.Put(key, rec); err != nil {
		r.logger.Printf("insertObject(%q): store put failed: %v", key, err)
	}
	r.commitVisible()
}

// commitVisible advances committedVisible up to visible. Caller must hold
// updateLock.
func (r *Replica) commitVisible() {
	r.committedVisible.Merge(r.visible)
}
