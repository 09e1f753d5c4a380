package bus

import (
	"sort"
	"sync"
)

// LocalBus is an in-process MessageBus for tests and single-process
// multi-replica simulation, generalizing the reference implementation's
// FakeMessageBus. In auto-dispatch mode (the default) it delivers
// messages concurrently through a worker pool, so delivery order across
// different destinations is never guaranteed, matching the real
// network's contract. In manual mode, messages queue up per destination
// and a test drives delivery explicitly with DeliverOne/DeliverOneTo/
// DeliverAll/Reorder/DropAll to exercise specific interleavings.
type LocalBus struct {
	mu      sync.Mutex
	members map[ReplicaID]DeliverFunc
	manual  bool
	queues  map[ReplicaID][]pendingMessage
	disp    *dispatcher
}

type pendingMessage struct {
	sender ReplicaID
	msg    any
}

// NewLocalBus returns an auto-dispatching LocalBus backed by a small
// worker pool.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		members: make(map[ReplicaID]DeliverFunc),
		queues:  make(map[ReplicaID][]pendingMessage),
		disp:    newDispatcher(4),
	}
}

// NewManualLocalBus returns a LocalBus whose delivery is entirely driven
// by test code.
func NewManualLocalBus() *LocalBus {
	return &LocalBus{
		members: make(map[ReplicaID]DeliverFunc),
		queues:  make(map[ReplicaID][]pendingMessage),
		manual:  true,
	}
}

func (b *LocalBus) Register(id ReplicaID, deliver DeliverFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[id] = deliver
}

// cloneMessage deep-copies the mutable payload of a message so that no
// two destinations (or the sender and a destination) ever alias the same
// ObjectVersion. Receivers mutate delivered messages in place (timestamp
// restoration and elision), so sharing a pointer across queues would
// corrupt later deliveries.
func cloneMessage(msg any) any {
	switch m := msg.(type) {
	case *UpdateMessage:
		return &UpdateMessage{Key: m.Key, ObjVer: m.ObjVer.Clone()}
	case *SyncDataMessage:
		return &SyncDataMessage{Cookie: m.Cookie, Key: m.Key, ObjVer: m.ObjVer.Clone()}
	case *SyncRequestMessage:
		return &SyncRequestMessage{Cookie: m.Cookie, RequestorKnowledge: m.RequestorKnowledge.Clone()}
	default:
		return msg
	}
}

func (b *LocalBus) Broadcast(sender ReplicaID, msg any) {
	b.mu.Lock()
	dests := make([]ReplicaID, 0, len(b.members))
	for id := range b.members {
		if id != sender {
			dests = append(dests, id)
		}
	}
	b.mu.Unlock()
	for _, d := range dests {
		b.Send(sender, d, msg)
	}
}

func (b *LocalBus) Send(sender, dest ReplicaID, msg any) {
	msg = cloneMessage(msg)
	if b.manual {
		b.mu.Lock()
		b.queues[dest] = append(b.queues[dest], pendingMessage{sender: sender, msg: msg})
		b.mu.Unlock()
		return
	}
	b.mu.Lock()
	deliver, ok := b.members[dest]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.disp.submit(deliveryJob{sender: sender, dest: deliver, msg: msg})
}

// Stop shuts down the worker pool backing an auto-dispatch LocalBus. Safe
// to call on a manual bus (a no-op).
func (b *LocalBus) Stop() {
	if b.disp != nil {
		b.disp.stop()
	}
}

func (b *LocalBus) sortedDests() []ReplicaID {
	out := make([]ReplicaID, 0, len(b.queues))
	for id := range b.queues {
		if len(b.queues[id]) > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DeliverOneTo delivers dest's single oldest pending message and reports
// whether one was delivered. Manual mode only.
func (b *LocalBus) DeliverOneTo(dest ReplicaID) bool {
	b.mu.Lock()
	q := b.queues[dest]
	if len(q) == 0 {
		b.mu.Unlock()
		return false
	}
	m := q[0]
	b.queues[dest] = q[1:]
	deliver, ok := b.members[dest]
	b.mu.Unlock()
	if !ok {
		return false
	}
	deliver(m.sender, m.msg)
	return true
}

// DeliverOne delivers one pending message (destinations drained in
// sorted-id order) and reports whether one was delivered. Manual mode
// only.
func (b *LocalBus) DeliverOne() bool {
	b.mu.Lock()
	dests := b.sortedDests()
	b.mu.Unlock()
	for _, d := range dests {
		if b.DeliverOneTo(d) {
			return true
		}
	}
	return false
}

// DeliverAll delivers every pending message, including any newly queued
// as a side effect of delivering earlier ones, until no queue has
// anything left.
func (b *LocalBus) DeliverAll() {
	for b.DeliverOne() {
	}
}

// Reorder reverses dest's pending queue, to deterministically exercise
// the protocol's tolerance for out-of-order delivery.
func (b *LocalBus) Reorder(dest ReplicaID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[dest]
	for i, j := 0, len(q)-1; i < j; i, j = i+1, j-1 {
		q[i], q[j] = q[j], q[i]
	}
}

// DropAll discards every currently pending message.
func (b *LocalBus) DropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = make(map[ReplicaID][]pendingMessage)
}

// PendingCount reports how many messages are queued for manual delivery
// across all destinations.
func (b *LocalBus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}
