// Package proc implements the lightweight process abstraction: a unit of
// supervised work with lifecycle hooks, a stable identifier and panic
// containment at the proc boundary.
package proc

import "sync/atomic"

var idCounter atomic.Uint64

// ID is an opaque monotonically assigned identifier, unique process wide.
type ID uint64

// NextID assigns a fresh proc id.
func NextID() ID {
	return ID(idCounter.Add(1))
}

// Hook runs against the proc's stack at a lifecycle transition.
type Hook func(stack *Stack)

// CompleteHook receives the proc's result, or a ShuttingDown / Cancelled
// marker when the proc never produced one.
type CompleteHook func(stack *Stack, result interface{})

// PanicHook receives the stringified panic payload.
type PanicHook func(stack *Stack, payload string)

// Stack is the configuration attached to a proc before spawning. All hooks
// are optional. Stacks are plain values; a clone shares nothing with its
// origin except plain values, each gets its own cancellation token.
type Stack struct {
	pid           ID
	token         *Token
	beforeStart   Hook
	afterComplete CompleteHook
	afterPanic    PanicHook
	afterRestart  Hook
	restarted     bool
}

func NewStack() Stack {
	return Stack{pid: NextID(), token: newToken()}
}

func (s Stack) WithPID(pid ID) Stack {
	s.pid = pid
	return s
}

func (s Stack) WithBeforeStart(fn Hook) Stack {
	s.beforeStart = fn
	return s
}

func (s Stack) WithAfterComplete(fn CompleteHook) Stack {
	s.afterComplete = fn
	return s
}

func (s Stack) WithAfterPanic(fn PanicHook) Stack {
	s.afterPanic = fn
	return s
}

func (s Stack) WithAfterRestart(fn Hook) Stack {
	s.afterRestart = fn
	return s
}

// Restarted flags the stack so the first poll fires AfterRestart instead of
// BeforeStart. Supervisors set it when re-spawning a child from its factory.
func (s Stack) Restarted() Stack {
	s.restarted = true
	return s
}

// Clone returns a copy of the stack with a fresh pid and cancellation token.
func (s Stack) Clone() Stack {
	s.pid = NextID()
	s.token = newToken()
	return s
}

func (s *Stack) PID() ID {
	return s.pid
}

// Token returns the stack's cooperative cancellation token.
func (s *Stack) Token() *Token {
	return s.token
}

// Token is a cooperative cancellation flag checked at every suspension
// point of the owning proc.
type Token struct {
	cancelled atomic.Bool
}

func newToken() *Token {
	return &Token{}
}

func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}
