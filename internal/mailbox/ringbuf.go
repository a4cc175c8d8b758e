package mailbox

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/hedisam/goproc/errors"
)

// DefaultCap is the bounded mailbox capacity used when a group spec
// doesn't pick one.
const DefaultCap = 1024

type ringBufMailbox struct {
	q        *queue.RingBuffer
	capacity uint64
	disposed atomic.Bool
	mu       sync.RWMutex
	wake     func()
}

// Bounded returns a ring buffer backed mailbox. A zero capacity mailbox
// accepts nothing, every push reports backpressure.
func Bounded(capacity uint64) Mailbox {
	m := &ringBufMailbox{capacity: capacity}
	if capacity > 0 {
		m.q = queue.NewRingBuffer(capacity)
	}
	return m
}

func (m *ringBufMailbox) Push(msg interface{}) error {
	if m.disposed.Load() {
		return errors.ErrGone
	}
	if m.capacity == 0 {
		return errors.ErrBackpressure
	}
	ok, err := m.q.Offer(msg)
	if err != nil {
		return errors.ErrGone
	}
	if !ok {
		return errors.ErrBackpressure
	}
	m.mu.RLock()
	wake := m.wake
	m.mu.RUnlock()
	if wake != nil {
		wake()
	}
	return nil
}

func (m *ringBufMailbox) TryPop() (interface{}, bool) {
	if m.capacity == 0 || m.disposed.Load() {
		return nil, false
	}
	item, err := m.q.Poll(time.Nanosecond)
	if err != nil {
		return nil, false
	}
	return item, true
}

func (m *ringBufMailbox) Len() int {
	if m.capacity == 0 {
		return 0
	}
	return int(m.q.Len())
}

func (m *ringBufMailbox) SetWaker(wake func()) {
	m.mu.Lock()
	m.wake = wake
	m.mu.Unlock()
}

func (m *ringBufMailbox) DrainAll() []interface{} {
	if m.capacity == 0 || m.disposed.Load() {
		return nil
	}
	var drained []interface{}
	for {
		item, err := m.q.Poll(time.Nanosecond)
		if err != nil {
			return drained
		}
		drained = append(drained, item)
	}
}

func (m *ringBufMailbox) Dispose() []interface{} {
	if !m.disposed.CompareAndSwap(false, true) {
		return nil
	}
	if m.capacity == 0 {
		return nil
	}
	var leftovers []interface{}
	for {
		item, err := m.q.Poll(time.Nanosecond)
		if err != nil {
			break
		}
		leftovers = append(leftovers, item)
	}
	m.q.Dispose()
	return leftovers
}

func (m *ringBufMailbox) Disposed() bool {
	return m.disposed.Load()
}
