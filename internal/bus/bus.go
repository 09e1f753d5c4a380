package bus

// DeliverFunc is how a replica registers to receive messages: called with
// the sending replica's id and the message it sent, exactly matching the
// reference implementation's deliver_message(sender_id, msg) signature.
type DeliverFunc func(sender ReplicaID, msg any)

// MessageBus is the collaborator replicas use to exchange protocol
// messages. Implementations only need to guarantee at-least-once,
// unordered delivery to a registered member; the causal algebra in
// internal/replica is built to tolerate drops, duplicates, and reorder.
type MessageBus interface {
	// Register associates a replica id with the callback that should
	// receive messages sent or broadcast to it.
	Register(id ReplicaID, deliver DeliverFunc)

	// Broadcast sends msg to every registered member except sender.
	Broadcast(sender ReplicaID, msg any)

	// Send sends msg to exactly one destination replica.
	Send(sender, dest ReplicaID, msg any)
}
