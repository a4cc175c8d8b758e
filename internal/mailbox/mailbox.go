// Package mailbox implements the ordered single consumer queues envelopes
// travel through. Producers push from any thread; the owning child's proc
// is the only consumer and is woken through the registered waker.
package mailbox

// Mailbox is an ordered queue of envelopes bound to one child. Envelopes
// pushed by the same producer are popped in push order; delivery is at
// most once, a disposed mailbox hands its leftovers back exactly once.
type Mailbox interface {
	// Push enqueues a message. Bounded mailboxes return ErrBackpressure
	// when full; a disposed mailbox returns ErrGone.
	Push(msg interface{}) error
	// TryPop dequeues without blocking.
	TryPop() (interface{}, bool)
	Len() int
	// SetWaker registers the consumer's wake callback, invoked after every
	// successful push. The callback must be idempotent.
	SetWaker(wake func())
	// DrainAll empties the mailbox without closing it and returns the
	// drained messages. The owning group calls it while the consumer is
	// down, when a restart policy drops queued envelopes while keeping the
	// mailbox itself alive.
	DrainAll() []interface{}
	// Dispose closes the mailbox and returns whatever was still queued, so
	// pending ask replies can be resolved as failed.
	Dispose() []interface{}
	Disposed() bool
}
