package mailbox

import (
	"sync"
	"sync/atomic"

	mpsc "github.com/t3rm1n4l/go-mpscqueue"

	"github.com/hedisam/goproc/errors"
)

type mpscMailbox struct {
	q        *mpsc.MPSCQueue
	disposed atomic.Bool
	mu       sync.RWMutex
	wake     func()
}

// Unbounded returns an MPSC backed mailbox that never backpressures.
// Supervisor event queues use it so fault events can't be dropped.
func Unbounded() Mailbox {
	return &mpscMailbox{q: mpsc.New()}
}

func (m *mpscMailbox) Push(msg interface{}) error {
	if m.disposed.Load() {
		return errors.ErrGone
	}
	m.q.Push(msg)
	m.mu.RLock()
	wake := m.wake
	m.mu.RUnlock()
	if wake != nil {
		wake()
	}
	return nil
}

func (m *mpscMailbox) TryPop() (interface{}, bool) {
	if m.q.Size() == 0 {
		return nil, false
	}
	return m.q.Pop(), true
}

func (m *mpscMailbox) Len() int {
	return int(m.q.Size())
}

func (m *mpscMailbox) SetWaker(wake func()) {
	m.mu.Lock()
	m.wake = wake
	m.mu.Unlock()
}

func (m *mpscMailbox) DrainAll() []interface{} {
	var drained []interface{}
	for m.q.Size() != 0 {
		drained = append(drained, m.q.Pop())
	}
	return drained
}

func (m *mpscMailbox) Dispose() []interface{} {
	if !m.disposed.CompareAndSwap(false, true) {
		return nil
	}
	var leftovers []interface{}
	for m.q.Size() != 0 {
		leftovers = append(leftovers, m.q.Pop())
	}
	return leftovers
}

func (m *mpscMailbox) Disposed() bool {
	return m.disposed.Load()
}
