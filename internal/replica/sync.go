package replica

import (
	"github.com/google/uuid"

	"github.com/cvvkv/cvvkv/internal/bus"
	"github.com/cvvkv/cvvkv/internal/record"
	"github.com/cvvkv/cvvkv/internal/version"
)

// syncRequestorState tracks an in-flight anti-entropy sync this replica
// requested from a peer. Only one sync may be in flight at a time; the
// cookie guards against a stale response from a sync that has already
// finished (or been superseded) being applied.
type syncRequestorState struct {
	inProgress    bool
	peer          version.ReplicaID
	cookie        uint32
	peerVisible   *version.VersionVector
	peerKnowledge *version.VersionSet
}

// RequestSync asks peer for a full anti-entropy sync. It is a no-op if a
// sync from any peer is already in progress.
func (r *Replica) RequestSync(peer version.ReplicaID) {
	r.updateLock.Lock()
	if r.sync.inProgress {
		r.logger.Printf("sync from %s already in progress, skipping request to %s", r.sync.peer, peer)
		r.updateLock.Unlock()
		return
	}
	r.sync = syncRequestorState{
		inProgress: true,
		peer:       peer,
		cookie:     uuid.New().ID(),
	}
	cookie := r.sync.cookie
	knowledge := r.knowledge.Clone()
	r.updateLock.Unlock()

	r.logger.Printf("requesting state sync from %s", peer)
	r.bus.Send(r.id, peer, &bus.SyncRequestMessage{Cookie: cookie, RequestorKnowledge: knowledge})
}

// processSyncRequest is the responder side: it answers a peer's sync
// request with a Setup message (this replica's knowledge and
// committed-visible vector, the replacement timestamp for this round),
// then one Data message per version the requestor doesn't already know,
// then a Complete message.
//
// The implementation assumes (as the reference implementation does) that
// some prefix of these messages is delivered in order to the requestor.
// A Data or Complete message that reaches the requestor before Setup
// abandons the round, and a later round resends what it missed. A round
// whose Complete never arrives stays in progress, and RequestSync ignores
// further requests until it completes.
func (r *Replica) processSyncRequest(requestor version.ReplicaID, msg *bus.SyncRequestMessage) {
	r.updateLock.Lock()
	knowledge := r.knowledge.Clone()
	committedVisible := r.committedVisible.Clone()
	keys, err := r.db.Keys()
	if err != nil {
		r.updateLock.Unlock()
		r.logger.Printf("processSyncRequest: list keys failed: %v", err)
		return
	}
	type pendingVersion struct {
		key    string
		objVer *record.ObjectVersion
	}
	var pending []pendingVersion
	for _, k := range keys {
		rec, err := r.db.Get(k)
		if err != nil || rec == nil {
			continue
		}
		record.DiscardTimestampForReplacementVV(rec, committedVisible)
		for _, ov := range rec.Versions {
			if msg.RequestorKnowledge.HasVersion(ov.Version) {
				continue
			}
			pending = append(pending, pendingVersion{key: k, objVer: ov.Clone()})
		}
	}
	r.updateLock.Unlock()

	r.bus.Send(r.id, requestor, &bus.SyncSetupMessage{
		Cookie:          msg.Cookie,
		ServerKnowledge: knowledge,
		ServerVisible:   committedVisible,
	})
	for _, p := range pending {
		r.bus.Send(r.id, requestor, &bus.SyncDataMessage{Cookie: msg.Cookie, Key: p.key, ObjVer: p.objVer})
	}
	r.bus.Send(r.id, requestor, &bus.SyncCompleteMessage{Cookie: msg.Cookie})
}

// fromPeer reports whether a sync-response message actually belongs to
// the currently in-flight request (matching peer and cookie). Caller must
// hold updateLock.
func (r *Replica) fromPeer(sender version.ReplicaID, cookie uint32) bool {
	return r.sync.inProgress && sender == r.sync.peer && cookie == r.sync.cookie
}

func (r *Replica) processSyncResponseSetup(sender version.ReplicaID, msg *bus.SyncSetupMessage) {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()
	if !r.fromPeer(sender, msg.Cookie) {
		return
	}
	if !msg.ServerKnowledge.DominatesVV(msg.ServerVisible) {
		r.logger.Printf("sync setup from %s carries inconsistent snapshot, dropping", sender)
		return
	}
	r.sync.peerKnowledge = msg.ServerKnowledge
	r.sync.peerVisible = msg.ServerVisible
}

func (r *Replica) processSyncResponseData(sender version.ReplicaID, msg *bus.SyncDataMessage) {
	r.updateLock.Lock()
	if !r.fromPeer(sender, msg.Cookie) {
		r.updateLock.Unlock()
		return
	}
	if r.sync.peerKnowledge == nil {
		// Data arrived before this round's Setup. Without the server's
		// visible vector there is no replacement timestamp for elided
		// timestamps, and silently skipping the payload would let this
		// round's Complete claim versions we never stored. Abandon the
		// round; a later one resends everything.
		r.sync = syncRequestorState{}
		r.updateLock.Unlock()
		return
	}
	if r.knowledge.HasVersion(msg.ObjVer.Version) {
		r.updateLock.Unlock()
		return
	}
	if msg.ObjVer.Timestamp == nil {
		msg.ObjVer.Timestamp = r.sync.peerVisible.Clone()
	}

	rec, err := r.db.Get(msg.Key)
	if err != nil {
		// Abandon the round rather than let its Complete claim a
		// version that never landed.
		r.sync = syncRequestorState{}
		r.updateLock.Unlock()
		r.logger.Printf("processSyncResponseData(%q): store get failed, abandoning sync: %v", msg.Key, err)
		return
	}
	if rec == nil {
		rec = record.NewObjectRecord()
	}
	r.insertObject(rec, msg.Key, msg.ObjVer)
	r.updateLock.Unlock()
}

func (r *Replica) processSyncResponseComplete(sender version.ReplicaID, msg *bus.SyncCompleteMessage) {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()
	if !r.fromPeer(sender, msg.Cookie) {
		return
	}
	if r.sync.peerKnowledge == nil {
		// Complete arrived before Setup: nothing useful was merged this
		// round, so abandon it and let a later round retry.
		r.sync = syncRequestorState{}
		return
	}

	r.logger.Printf("sync from %s completed", r.sync.peer)

	// Merge the peer's knowledge into ours. This fills in version-number
	// gaps for versions the peer knew about that no longer exist (e.g.
	// they were pruned after being superseded).
	r.knowledge.Merge(r.sync.peerKnowledge)
	r.visible.Merge(r.sync.peerVisible)
	r.commitVisible()

	r.sync = syncRequestorState{}
}
