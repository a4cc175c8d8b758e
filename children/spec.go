package children

import (
	"fmt"

	"github.com/rs/xid"

	"github.com/hedisam/goproc/internal/mailbox"
	"github.com/hedisam/goproc/supervision"
)

// Handler processes one user message on behalf of a child. Returning an
// error escapes the handler and faults the child; errors the handler can
// deal with are its own concern.
type Handler func(ctx *Context, msg interface{}) error

// Init is the child's factory. It runs on the child's first poll, for the
// first start and again for every restart, so per incarnation state lives
// in the closure it returns.
type Init func() (Handler, error)

// Spec is the frozen declaration of a children group: n identical children
// behind a dispatcher, supervised together.
type Spec struct {
	Name           string
	Redundancy     int
	Dispatcher     Dispatcher
	Strategy       supervision.Strategy
	RestartPolicy  supervision.RestartPolicy
	MailboxCap     uint64
	// MailboxCaps overrides MailboxCap per child index when set.
	MailboxCaps    []uint64
	DrainOnRestart bool
	Init           Init
}

// NewSpec declares a group running init with a single child and round
// robin dispatch. Chain the With setters to adjust; they copy the spec,
// declarations already handed to a supervisor stay frozen.
func NewSpec(init Init) Spec {
	return Spec{
		Name:          xid.New().String(),
		Redundancy:    1,
		Dispatcher:    RoundRobin,
		RestartPolicy: supervision.DefaultRestartPolicy(),
		MailboxCap:    mailbox.DefaultCap,
		Init:          init,
	}
}

func (s Spec) WithName(name string) Spec {
	s.Name = name
	return s
}

// WithRedundancy sets how many identical children the group runs.
func (s Spec) WithRedundancy(n int) Spec {
	s.Redundancy = n
	return s
}

func (s Spec) WithDispatcher(d Dispatcher) Spec {
	s.Dispatcher = d
	return s
}

func (s Spec) WithStrategy(strategy supervision.Strategy) Spec {
	s.Strategy = strategy
	return s
}

func (s Spec) WithRestartPolicy(p supervision.RestartPolicy) Spec {
	s.RestartPolicy = p
	return s
}

// WithMailboxCap bounds each child's mailbox. Zero declares a mailbox that
// rejects everything, which is only useful in tests.
func (s Spec) WithMailboxCap(capacity uint64) Spec {
	s.MailboxCap = capacity
	return s
}

// WithMailboxCaps bounds the children's mailboxes individually, by child
// index. Children past the slice keep the group wide capacity.
func (s Spec) WithMailboxCaps(caps ...uint64) Spec {
	s.MailboxCaps = caps
	return s
}

func (s Spec) mailboxCap(idx int) uint64 {
	if idx < len(s.MailboxCaps) {
		return s.MailboxCaps[idx]
	}
	return s.MailboxCap
}

// WithDrainOnRestart drops queued envelopes when a child restarts instead
// of preserving them.
func (s Spec) WithDrainOnRestart() Spec {
	s.DrainOnRestart = true
	return s
}

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("group name could not be empty")
	}
	if s.Redundancy < 1 {
		return fmt.Errorf("group %s: redundancy must be at least 1", s.Name)
	}
	if s.Init == nil {
		return fmt.Errorf("group %s: init could not be nil", s.Name)
	}
	if s.RestartPolicy.MaxRestarts < 0 {
		return fmt.Errorf("group %s: invalid max restarts %d", s.Name, s.RestartPolicy.MaxRestarts)
	}
	return nil
}
