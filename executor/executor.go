// Package executor implements the SMP work-stealing pool procs run on: a
// set of cache affine worker threads with local run queues, a global
// injector, a dynamically sized blocking pool and park/wake machinery.
package executor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/proc"
)

// Config tunes the pool. Zero values fall back to defaults.
type Config struct {
	// Parallelism is the number of worker threads, default is the count of
	// online logical cores.
	Parallelism int
	// BlockingCap bounds the blocking pool size, default 512.
	BlockingCap int
	// BlockingIdle is how long a blocking thread lingers idle before it
	// exits, default 10s.
	BlockingIdle time.Duration
	Logger       zerolog.Logger
	// Reactor, when set, is polled whenever every worker would otherwise
	// park. The proactive I/O layer supplies it.
	Reactor Reactor
}

// Executor owns the workers and the spawning primitives.
type Executor struct {
	parallelism int
	workers     []*worker
	injector    *injector
	sleepers    *sleepers
	blocking    *blockingPool
	reactor     Reactor
	logger      zerolog.Logger
	wg          sync.WaitGroup
	stopped     atomic.Bool
}

// New builds and starts the pool.
func New(cfg Config) *Executor {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	e := &Executor{
		parallelism: parallelism,
		injector:    newInjector(),
		sleepers:    newSleepers(),
		reactor:     cfg.Reactor,
		logger:      cfg.Logger.With().Str("system", "executor").Logger(),
	}
	e.blocking = newBlockingPool(cfg, e.logger)
	e.workers = make([]*worker, parallelism)
	for i := range e.workers {
		e.workers[i] = newWorker(i, e)
	}
	for _, w := range e.workers {
		e.wg.Add(1)
		go w.run()
	}
	e.logger.Debug().Int("parallelism", parallelism).Msg("executor started")
	return e
}

// Spawn submits fn with its stack and returns the join handle. Spawn to
// first poll is happens-before.
func (e *Executor) Spawn(fn proc.Func, stack proc.Stack) (*proc.Handle, error) {
	if e.stopped.Load() {
		return nil, errors.ErrShuttingDown
	}
	p, handle := proc.New(fn, stack, e.schedule)
	p.Wake()
	return handle, nil
}

// schedule is the waker's reschedule target. A proc that already ran on a
// worker goes back to that worker's queue for cache affinity, everything
// else lands on the injector and wakes a sleeper.
func (e *Executor) schedule(p *proc.Proc) {
	if e.stopped.Load() {
		p.Drain(errors.ErrShuttingDown)
		return
	}
	if h, ok := p.Home().(*worker); ok {
		h.schedule(p)
		return
	}
	e.injector.push(p)
	e.sleepers.wakeOne()
}

// SpawnBlocking runs fn on the blocking pool, meant for synchronous work
// that would otherwise stall a worker. Blocking threads are never stolen
// from.
func (e *Executor) SpawnBlocking(fn func()) error {
	if e.stopped.Load() {
		return errors.ErrShuttingDown
	}
	return e.blocking.submit(fn)
}

// Shutdown signals the workers, drains the remaining procs (their
// AfterComplete hooks run with a ShuttingDown marker) and joins the
// threads.
func (e *Executor) Shutdown() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	e.sleepers.wakeAll()
	e.wg.Wait()

	for p := e.injector.pop(); p != nil; p = e.injector.pop() {
		p.Drain(errors.ErrShuttingDown)
	}
	for _, w := range e.workers {
		for p := w.local.pop(); p != nil; p = w.local.pop() {
			p.Drain(errors.ErrShuttingDown)
		}
		w.local.dispose()
	}
	e.injector.dispose()
	e.blocking.shutdown()
	e.logger.Debug().Msg("executor stopped")
}

func (e *Executor) stopping() bool {
	return e.stopped.Load()
}

// Parallelism reports the worker count.
func (e *Executor) Parallelism() int {
	return e.parallelism
}

// WorkerLoads reports how many proc polls each worker has executed. A proc
// that yields is counted once per poll.
func (e *Executor) WorkerLoads() []uint64 {
	loads := make([]uint64, len(e.workers))
	for i, w := range e.workers {
		loads[i] = w.processed.Load()
	}
	return loads
}

// WorkerNodes reports the NUMA node each worker recorded at pin time, -1
// where the worker could not be pinned or the platform has no affinity
// support. A pinned linux worker whose cpu has no sysfs node entry
// reports node 0.
func (e *Executor) WorkerNodes() []int {
	nodes := make([]int, len(e.workers))
	for i, w := range e.workers {
		nodes[i] = w.node
	}
	return nodes
}
