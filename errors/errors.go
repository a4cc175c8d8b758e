// Package errors defines the error values surfaced by the runtime's
// messaging operations. Tell returns nil, ErrBackpressure, ErrGone or
// ErrShuttingDown. Ask may additionally resolve with ErrTimeout,
// ErrNoReply or ErrRecipientFailed.
package errors

import "errors"

var (
	// ErrBackpressure is returned by tell when a bounded mailbox is full.
	ErrBackpressure = errors.New("mailbox full")

	// ErrGone is returned when a reference is stale, either the path is not
	// registered anymore or the generation doesn't match the current one.
	ErrGone = errors.New("reference is gone")

	// ErrNoReply is resolved by an ask future when the recipient dropped the
	// reply channel without sending a value.
	ErrNoReply = errors.New("no reply")

	// ErrTimeout is resolved by an ask future when its deadline expired.
	ErrTimeout = errors.New("ask timeout")

	// ErrRecipientFailed is resolved when the recipient panicked or errored
	// before handling the message. The message is not redelivered.
	ErrRecipientFailed = errors.New("recipient failed")

	// ErrShuttingDown is returned when the runtime is terminating.
	ErrShuttingDown = errors.New("runtime is shutting down")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
