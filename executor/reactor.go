package executor

import "time"

const reactorPollSlice = time.Millisecond

// Interest describes the readiness events a registration cares about.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// WakerToken identifies a reactor registration.
type WakerToken uint64

// Reactor is the boundary to the proactive I/O layer. The executor polls
// it whenever every worker would otherwise park, so pending I/O events can
// wake suspended procs.
type Reactor interface {
	Register(fd uintptr, interest Interest) (WakerToken, error)
	PollEvents(deadline time.Duration)
}
