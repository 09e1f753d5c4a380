package replica

import (
	"github.com/cvvkv/cvvkv/internal/bus"
	"github.com/cvvkv/cvvkv/internal/record"
	"github.com/cvvkv/cvvkv/internal/version"
)

// DeliverMessage is the callback registered with the message bus. It
// dispatches each protocol message type to its handler, mirroring the
// reference implementation's deliver_message.
func (r *Replica) DeliverMessage(sender version.ReplicaID, msg any) {
	switch m := msg.(type) {
	case *bus.UpdateMessage:
		r.processUpdate(sender, m)
	case *bus.SyncRequestMessage:
		r.processSyncRequest(sender, m)
	case *bus.SyncSetupMessage:
		r.processSyncResponseSetup(sender, m)
	case *bus.SyncDataMessage:
		r.processSyncResponseData(sender, m)
	case *bus.SyncCompleteMessage:
		r.processSyncResponseComplete(sender, m)
	default:
		r.logger.Printf("received unknown message type from %s: %T", sender, msg)
	}
}

// processUpdate folds a broadcast Update message into local state, unless
// this replica already knows about that version (a duplicate delivery).
func (r *Replica) processUpdate(sender version.ReplicaID, msg *bus.UpdateMessage) {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	if r.knowledge.HasVersion(msg.ObjVer.Version) {
		return
	}

	rec, err := r.db.Get(msg.Key)
	if err != nil {
		r.logger.Printf("processUpdate(%q): store get failed: %v", msg.Key, err)
		return
	}
	if rec == nil {
		rec = record.NewObjectRecord()
	}
	r.insertObject(rec, msg.Key, msg.ObjVer)
}
