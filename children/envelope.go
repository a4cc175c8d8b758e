package children

import (
	"sync/atomic"
	"time"

	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/registry"
)

// Envelope is the typed message container that travels through mailboxes.
// Envelopes are moved, never shared: once pushed, only the recipient
// touches them.
type Envelope struct {
	// Sender identifies the message origin, the zero Path for senders out
	// of the supervision tree.
	Sender registry.Path
	// Msg is the type erased user payload.
	Msg interface{}
	// ReplyTo carries the one-shot reply slot of an ask, nil for a tell.
	ReplyTo *Reply
}

const (
	replyPending int32 = iota
	replyResolved
	replyAbandoned
)

type replyOutcome struct {
	value interface{}
	err   error
}

// Reply is a single producer single consumer one-shot slot. The replier
// sends exactly one value or never does; an abandoned slot drops late
// replies on the floor.
type Reply struct {
	ch    chan replyOutcome
	state atomic.Int32
}

func NewReply() *Reply {
	return &Reply{ch: make(chan replyOutcome, 1)}
}

// Send resolves the slot with a value. It reports false when the slot was
// already resolved or the asker gave up.
func (r *Reply) Send(value interface{}) bool {
	if !r.state.CompareAndSwap(replyPending, replyResolved) {
		return false
	}
	r.ch <- replyOutcome{value: value}
	return true
}

func (r *Reply) fail(err error) bool {
	if !r.state.CompareAndSwap(replyPending, replyResolved) {
		return false
	}
	r.ch <- replyOutcome{err: err}
	return true
}

// Await blocks until the reply arrives or the deadline expires. A zero
// timeout waits forever.
func (r *Reply) Await(timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		out := <-r.ch
		return out.value, out.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-r.ch:
		return out.value, out.err
	case <-timer.C:
		// mark abandoned so a late reply is dropped, unless it raced us in
		if !r.state.CompareAndSwap(replyPending, replyAbandoned) {
			out := <-r.ch
			return out.value, out.err
		}
		return nil, errors.ErrTimeout
	}
}

// failEnvelopes resolves the reply slots of undeliverable envelopes.
func failEnvelopes(msgs []interface{}, err error) {
	for _, m := range msgs {
		if env, ok := m.(Envelope); ok && env.ReplyTo != nil {
			env.ReplyTo.fail(err)
		}
	}
}
