package proc

import (
	"fmt"
	"sync/atomic"
)

// State of a proc. Pending until the first poll, then Running until a
// terminal state is reached.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StatePanicked
	StateCancelled
)

// scheduling status, the waker collapses multiple wakes before the next
// poll into a single reschedule
const (
	schedIdle int32 = iota
	schedQueued
	schedRunning
	schedRunningWoken
)

// Poll is the outcome of a single step of a proc.
type Poll struct {
	done  bool
	value interface{}
	err   error
}

// Pending suspends the proc until its waker fires.
func Pending() Poll {
	return Poll{}
}

// Done completes the proc with a value.
func Done(value interface{}) Poll {
	return Poll{done: true, value: value}
}

// Fail completes the proc with an error.
func Fail(err error) Poll {
	return Poll{done: true, err: err}
}

// Func is the work a proc drives. It is polled on whichever worker picked
// the proc up, so everything it captures must be safe to move between
// worker threads. Returning Pending suspends until the context's waker
// fires again.
type Func func(ctx *Context) Poll

// ShuttingDown marks the result handed to AfterComplete when the executor
// drops a proc during shutdown.
type ShuttingDown struct{}

// Cancelled marks the result handed to AfterComplete when the proc
// observed its cancellation token.
type Cancelled struct{}

// Failure is the panic marker a join handle resolves with when the proc's
// work panicked. Awaiting never re-panics.
type Failure struct {
	PID     ID
	Payload string
}

func (f Failure) Error() string {
	return fmt.Sprintf("proc %d panicked: %s", f.PID, f.Payload)
}

// Proc is a handle to executing work. It exclusively owns its stack and
// the function it drives.
type Proc struct {
	id       ID
	stack    Stack
	fn       Func
	state    atomic.Int32
	sched    atomic.Int32
	started  bool
	schedule func(*Proc)
	handle   *Handle
	ctx      Context
	home     atomic.Value
}

// SetHome records the worker that last ran this proc so wakes can
// reschedule it cache affine. Opaque to this package.
func (p *Proc) SetHome(h interface{}) {
	p.home.Store(h)
}

func (p *Proc) Home() interface{} {
	return p.home.Load()
}

// New builds a proc together with its join handle. schedule is invoked by
// the waker to put the proc back on a run queue; the executor supplies it.
func New(fn Func, stack Stack, schedule func(*Proc)) (*Proc, *Handle) {
	p := &Proc{
		id:       stack.pid,
		stack:    stack,
		fn:       fn,
		schedule: schedule,
	}
	p.ctx = Context{proc: p}
	p.handle = newHandle(p)
	return p, p.handle
}

func (p *Proc) PID() ID {
	return p.id
}

func (p *Proc) State() State {
	return State(p.state.Load())
}

// Stack exposes the proc's stack to lifecycle hooks and the executor.
func (p *Proc) Stack() *Stack {
	return &p.stack
}

// Wake schedules the proc if it isn't queued already. Wakes are idempotent:
// any number of wakes before the next poll collapse into one reschedule.
func (p *Proc) Wake() {
	for {
		switch s := p.sched.Load(); s {
		case schedIdle:
			if p.sched.CompareAndSwap(schedIdle, schedQueued) {
				p.schedule(p)
				return
			}
		case schedQueued, schedRunningWoken:
			return
		case schedRunning:
			if p.sched.CompareAndSwap(schedRunning, schedRunningWoken) {
				return
			}
		}
	}
}

// Run executes one step of the proc on the calling worker. Panics unwind no
// further than this boundary.
func (p *Proc) Run() {
	if p.terminal() {
		return
	}
	p.sched.Store(schedRunning)

	if !p.started {
		p.started = true
		p.state.Store(int32(StateRunning))
		if p.stack.restarted {
			if p.stack.afterRestart != nil {
				p.stack.afterRestart(&p.stack)
			}
		} else if p.stack.beforeStart != nil {
			p.stack.beforeStart(&p.stack)
		}
	}

	if p.stack.token.Cancelled() {
		p.finishCancelled()
		return
	}

	poll := p.step()
	if p.terminal() {
		// step panicked and the recover path already sealed the proc
		return
	}
	if poll.done {
		p.finishCompleted(poll.value, poll.err)
		return
	}

	// suspended. go idle, unless a wake arrived while running
	if p.sched.CompareAndSwap(schedRunning, schedIdle) {
		return
	}
	if p.sched.CompareAndSwap(schedRunningWoken, schedQueued) {
		p.schedule(p)
	}
}

func (p *Proc) step() (poll Poll) {
	defer func() {
		if r := recover(); r != nil {
			p.finishPanicked(fmt.Sprint(r))
		}
	}()
	return p.fn(&p.ctx)
}

// Drain seals a proc the executor dropped during shutdown. AfterComplete
// still runs, with a ShuttingDown marker.
func (p *Proc) Drain(err error) {
	if !p.seal(StateCompleted) {
		return
	}
	if p.stack.afterComplete != nil {
		p.stack.afterComplete(&p.stack, ShuttingDown{})
	}
	p.handle.resolve(Result{Err: err})
}

func (p *Proc) terminal() bool {
	switch State(p.state.Load()) {
	case StateCompleted, StatePanicked, StateCancelled:
		return true
	}
	return false
}

// seal transitions to a terminal state exactly once, so terminal hooks
// can't double fire when a drain races a finishing poll.
func (p *Proc) seal(st State) bool {
	for {
		cur := p.state.Load()
		switch State(cur) {
		case StateCompleted, StatePanicked, StateCancelled:
			return false
		}
		if p.state.CompareAndSwap(cur, int32(st)) {
			return true
		}
	}
}

func (p *Proc) finishCompleted(value interface{}, err error) {
	if !p.seal(StateCompleted) {
		return
	}
	if p.stack.afterComplete != nil {
		result := value
		if err != nil {
			result = err
		}
		p.stack.afterComplete(&p.stack, result)
	}
	p.handle.resolve(Result{Value: value, Err: err})
}

func (p *Proc) finishPanicked(payload string) {
	if !p.seal(StatePanicked) {
		return
	}
	if p.stack.afterPanic != nil {
		p.stack.afterPanic(&p.stack, payload)
	}
	p.handle.resolve(Result{Err: Failure{PID: p.id, Payload: payload}})
}

func (p *Proc) finishCancelled() {
	if !p.seal(StateCancelled) {
		return
	}
	if p.stack.afterComplete != nil {
		p.stack.afterComplete(&p.stack, Cancelled{})
	}
	p.handle.resolve(Result{Value: Cancelled{}})
}

// Context is handed to the proc's Func on every poll.
type Context struct {
	proc *Proc
}

func (c *Context) PID() ID {
	return c.proc.id
}

// Cancelled reports whether the proc's cancellation token tripped. Work
// that loops without suspending should check it between iterations.
func (c *Context) Cancelled() bool {
	return c.proc.stack.token.Cancelled()
}

// Waker returns an idempotent reschedule func safe to call from any thread.
func (c *Context) Waker() func() {
	p := c.proc
	return p.Wake
}

// Yield wakes the proc again and suspends, handing the worker back.
func (c *Context) Yield() Poll {
	c.proc.Wake()
	return Pending()
}
