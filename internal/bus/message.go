// Package bus is the message-bus collaborator replicas communicate
// through. It is intentionally outside the causal-consistency core: the
// core only requires at-least-once, unordered delivery with a
// deliver_message callback (see internal/replica), never a particular
// transport.
//
// What: the five wire message types from the causal replication protocol
// (Update, SyncRequest, SyncSetup, SyncData, SyncComplete), a MessageBus
// interface, an in-process LocalBus for tests and simulation, and a
// GRPCBus for real inter-daemon transport.
// How: LocalBus dispatches through a small worker pool (generalizing the
// teacher's internal/storage WorkerPool/ConcurrencyManager pattern) so
// delivery is concurrent and explicitly makes no ordering guarantee;
// GRPCBus reuses the teacher's manual (protobuf-free) gRPC ServiceDesc and
// JSON codec approach from cmd/server/main.go.
package bus

import (
	"github.com/cvvkv/cvvkv/internal/record"
	"github.com/cvvkv/cvvkv/internal/version"
)

// ReplicaID names a replica participating in the bus.
type ReplicaID = version.ReplicaID

// Kind discriminates the message types carried in an Envelope, needed
// because Go has no tagged-union type the way the reference
// implementation's dynamically typed messages do.
type Kind uint8

const (
	KindUpdate Kind = iota
	KindSyncRequest
	KindSyncSetup
	KindSyncData
	KindSyncComplete
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "Update"
	case KindSyncRequest:
		return "SyncRequest"
	case KindSyncSetup:
		return "SyncSetup"
	case KindSyncData:
		return "SyncData"
	case KindSyncComplete:
		return "SyncComplete"
	default:
		return "Unknown"
	}
}

// UpdateMessage propagates one freshly written ObjectVersion to every
// other replica via Broadcast.
type UpdateMessage struct {
	Key    string
	ObjVer *record.ObjectVersion
}

// SyncRequestMessage asks a peer to start an anti-entropy sync, carrying
// the requestor's current knowledge so the peer can decide what it is
// missing.
type SyncRequestMessage struct {
	Cookie             uint32
	RequestorKnowledge *version.VersionSet
}

// SyncSetupMessage begins a sync response, carrying the responder's
// knowledge and committed-visible vector (used as the replacement
// timestamp for any elided-timestamp versions sent in this sync round).
type SyncSetupMessage struct {
	Cookie         uint32
	ServerKnowledge *version.VersionSet
	ServerVisible   *version.VersionVector
}

// SyncDataMessage carries one object version being sent during a sync.
type SyncDataMessage struct {
	Cookie uint32
	Key    string
	ObjVer *record.ObjectVersion
}

// SyncCompleteMessage marks the end of a sync round.
type SyncCompleteMessage struct {
	Cookie uint32
}

// Envelope wraps exactly one of the message types above, tagged by Kind,
// for transports (like GRPCBus) that need a single concrete type to
// serialize.
type Envelope struct {
	Kind         Kind
	Update       *UpdateMessage       `json:",omitempty"`
	SyncRequest  *SyncRequestMessage  `json:",omitempty"`
	SyncSetup    *SyncSetupMessage    `json:",omitempty"`
	SyncData     *SyncDataMessage     `json:",omitempty"`
	SyncComplete *SyncCompleteMessage `json:",omitempty"`
}

// Unwrap returns the concrete message the envelope carries, as `any`, for
// dispatch by the receiving replica.
func (e Envelope) Unwrap() any {
	switch e.Kind {
	case KindUpdate:
		return e.Update
	case KindSyncRequest:
		return e.SyncRequest
	case KindSyncSetup:
		return e.SyncSetup
	case KindSyncData:
		return e.SyncData
	case KindSyncComplete:
		return e.SyncComplete
	default:
		return nil
	}
}

// Wrap builds an Envelope around one of the concrete message types.
func Wrap(msg any) Envelope {
	switch m := msg.(type) {
	case *UpdateMessage:
		return Envelope{Kind: KindUpdate, Update: m}
	case *SyncRequestMessage:
		return Envelope{Kind: KindSyncRequest, SyncRequest: m}
	case *SyncSetupMessage:
		return Envelope{Kind: KindSyncSetup, SyncSetup: m}
	case *SyncDataMessage:
		return Envelope{Kind: KindSyncData, SyncData: m}
	case *SyncCompleteMessage:
		return Envelope{Kind: KindSyncComplete, SyncComplete: m}
	default:
		return Envelope{}
	}
}
