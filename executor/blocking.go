package executor

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedisam/goproc/errors"
)

const (
	defaultBlockingCap  = 512
	defaultBlockingIdle = 10 * time.Second
	blockingBacklog     = 1024
)

// blockingPool runs synchronous work on its own dynamically sized set of
// threads. It starts empty, grows on demand up to a cap and shrinks after
// an idle timeout.
type blockingPool struct {
	tasks    chan func()
	size     atomic.Int32
	idle     atomic.Int32
	cap      int32
	idleTTL  time.Duration
	stopped  atomic.Bool
	done     chan struct{}
	logger   zerolog.Logger
}

func newBlockingPool(cfg Config, logger zerolog.Logger) *blockingPool {
	capacity := int32(cfg.BlockingCap)
	if capacity <= 0 {
		capacity = defaultBlockingCap
	}
	idleTTL := cfg.BlockingIdle
	if idleTTL <= 0 {
		idleTTL = defaultBlockingIdle
	}
	return &blockingPool{
		tasks:   make(chan func(), blockingBacklog),
		cap:     capacity,
		idleTTL: idleTTL,
		done:    make(chan struct{}),
		logger:  logger.With().Str("pool", "blocking").Logger(),
	}
}

func (b *blockingPool) submit(fn func()) error {
	if b.stopped.Load() {
		return errors.ErrShuttingDown
	}
	// grow when nobody is idle and the cap allows it
	if b.idle.Load() == 0 {
		if n := b.size.Add(1); n <= b.cap {
			go b.thread()
		} else {
			b.size.Add(-1)
		}
	}
	select {
	case b.tasks <- fn:
		return nil
	case <-b.done:
		return errors.ErrShuttingDown
	}
}

func (b *blockingPool) thread() {
	defer b.size.Add(-1)
	timer := time.NewTimer(b.idleTTL)
	defer timer.Stop()
	for {
		b.idle.Add(1)
		select {
		case fn, ok := <-b.tasks:
			b.idle.Add(-1)
			if !ok {
				return
			}
			fn()
		case <-timer.C:
			b.idle.Add(-1)
			return
		case <-b.done:
			b.idle.Add(-1)
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.idleTTL)
	}
}

func (b *blockingPool) shutdown() {
	if !b.stopped.CompareAndSwap(false, true) {
		return
	}
	close(b.done)
}

// threads reports the current pool size.
func (b *blockingPool) threads() int32 {
	return b.size.Load()
}
