package proc

import (
	"context"
	"sync"
)

// Result is what a join handle resolves with. A panicked proc resolves
// with Err set to a Failure value, it never re-panics on await.
type Result struct {
	Value interface{}
	Err   error
}

// Handle is the one-shot join handle of a proc. Dropping it detaches the
// proc, only Cancel stops the work.
type Handle struct {
	proc *Proc
	done chan struct{}
	once sync.Once
	res  Result
}

func newHandle(p *Proc) *Handle {
	return &Handle{proc: p, done: make(chan struct{})}
}

func (h *Handle) resolve(res Result) {
	h.once.Do(func() {
		h.res = res
		close(h.done)
	})
}

func (h *Handle) PID() ID {
	return h.proc.id
}

func (h *Handle) State() State {
	return h.proc.State()
}

// Await blocks until the proc reaches a terminal state or ctx expires.
func (h *Handle) Await(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// TryResult returns the result if the proc already terminated.
func (h *Handle) TryResult() (Result, bool) {
	select {
	case <-h.done:
		return h.res, true
	default:
		return Result{}, false
	}
}

// Done is closed once the proc reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel trips the proc's cancellation token and wakes it so the next poll
// observes the token and resolves Cancelled. Terminal hooks still run.
func (h *Handle) Cancel() {
	h.proc.stack.token.Cancel()
	h.proc.Wake()
}
