package executor

import (
	"time"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/hedisam/goproc/proc"
)

const (
	localQueueCap   = 256
	injectorCap     = 8192
	injectorDrainK  = 16
	stealRetryLimit = 4
)

// localQueue is a worker owned run queue. The owner pops; pushes come from
// the owner and from wakers on any thread rescheduling a proc homed here;
// other workers take from it only through steal. The ring buffer is MPMC
// safe.
type localQueue struct {
	q *queue.RingBuffer
}

func newLocalQueue() *localQueue {
	return &localQueue{q: queue.NewRingBuffer(localQueueCap)}
}

// push enqueues at the back. ok is false when the queue is full and the
// caller must spill into the injector.
func (l *localQueue) push(p *proc.Proc) bool {
	ok, err := l.q.Offer(p)
	return ok && err == nil
}

// pop takes from the front without blocking.
func (l *localQueue) pop() *proc.Proc {
	item, err := l.q.Poll(time.Nanosecond)
	if err != nil {
		return nil
	}
	return item.(*proc.Proc)
}

func (l *localQueue) len() uint64 {
	return l.q.Len()
}

func (l *localQueue) dispose() {
	l.q.Dispose()
}

// stealHalf moves up to half of the victim's queue into the thief's,
// returning one proc to run right away. A proc that fits neither queue is
// handed to spill; it is already scheduled so it must land somewhere.
func (l *localQueue) stealHalf(into *localQueue, spill func(*proc.Proc)) *proc.Proc {
	n := l.len() / 2
	if n == 0 {
		n = 1
	}
	first := l.pop()
	if first == nil {
		return nil
	}
	for i := uint64(1); i < n; i++ {
		p := l.pop()
		if p == nil {
			break
		}
		if !into.push(p) {
			spill(p)
			break
		}
	}
	return first
}

// injector is the global MPMC queue procs land on when spawned off-worker
// or spilled from a full local queue.
type injector struct {
	q *queue.RingBuffer
}

func newInjector() *injector {
	return &injector{q: queue.NewRingBuffer(injectorCap)}
}

func (in *injector) push(p *proc.Proc) {
	if ok, err := in.q.Offer(p); ok || err != nil {
		return
	}
	// saturated. rare enough that blocking the producer is acceptable
	_ = in.q.Put(p)
}

func (in *injector) pop() *proc.Proc {
	item, err := in.q.Poll(time.Nanosecond)
	if err != nil {
		return nil
	}
	return item.(*proc.Proc)
}

func (in *injector) len() uint64 {
	return in.q.Len()
}

func (in *injector) dispose() {
	in.q.Dispose()
}
