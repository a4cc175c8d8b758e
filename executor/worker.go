package executor

import (
	"math/rand"
	"runtime"
	"sync/atomic"

	"github.com/hedisam/goproc/proc"
)

const (
	spinLimit = 6
)

// worker owns a pinned thread, a local run queue and a park handle. Other
// workers reach its queue only through stealing.
type worker struct {
	id     int
	exec   *Executor
	local  *localQueue
	parkCh chan struct{}
	// cpu this worker is pinned to and the NUMA node it belongs to,
	// recorded once at thread start
	cpu  int
	node int
	rng  *rand.Rand
	// proc polls executed by this worker, for load introspection
	processed atomic.Uint64
}

func newWorker(id int, e *Executor) *worker {
	return &worker{
		id:     id,
		exec:   e,
		local:  newLocalQueue(),
		parkCh: make(chan struct{}, 1),
		rng:    rand.New(rand.NewSource(int64(id)*2654435761 + 1)),
		node:   -1,
	}
}

// run is the worker thread's main loop. The thread is locked and pinned so
// the local queue and the procs it allocates stay on one core's cache and
// NUMA node.
func (w *worker) run() {
	defer w.exec.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.cpu = w.id % runtime.NumCPU()
	if node, err := pin(w.cpu); err == nil {
		w.node = node
	} else {
		w.exec.logger.Debug().Err(err).Int("worker", w.id).Msg("cpu pinning unavailable")
	}

	backoff := 0
	for {
		if w.exec.stopping() {
			return
		}

		if p := w.local.pop(); p != nil {
			w.execute(p)
			backoff = 0
			continue
		}

		if p := w.search(); p != nil {
			w.execute(p)
			backoff = 0
			continue
		}

		// exponential backoff spin before parking
		if backoff < spinLimit {
			for i := 0; i < 1<<uint(backoff); i++ {
				runtime.Gosched()
			}
			backoff++
			continue
		}
		w.park()
		backoff = 0
	}
}

// search tries to steal a batch from a random victim, then drains the
// global injector. Victim order is randomized to avoid convoy effects.
func (w *worker) search() *proc.Proc {
	w.exec.sleepers.startSearch()
	p := w.steal()
	if p == nil {
		p = w.drainInjector()
	}
	w.exec.sleepers.stopSearch(p != nil)
	return p
}

func (w *worker) steal() *proc.Proc {
	workers := w.exec.workers
	n := len(workers)
	if n < 2 {
		return nil
	}
	start := w.rng.Intn(n)
	for attempt := 0; attempt < stealRetryLimit; attempt++ {
		for i := 0; i < n; i++ {
			victim := workers[(start+i)%n]
			if victim == w {
				continue
			}
			if p := victim.local.stealHalf(w.local, w.exec.injector.push); p != nil {
				return p
			}
		}
		if w.exec.injector.len() > 0 {
			return nil
		}
	}
	return nil
}

func (w *worker) drainInjector() *proc.Proc {
	first := w.exec.injector.pop()
	if first == nil {
		return nil
	}
	for i := 1; i < injectorDrainK; i++ {
		p := w.exec.injector.pop()
		if p == nil {
			break
		}
		if !w.local.push(p) {
			// no room locally, put it back for the next drainer
			w.exec.injector.push(p)
			break
		}
	}
	return first
}

func (w *worker) execute(p *proc.Proc) {
	p.SetHome(w)
	p.Run()
	w.processed.Add(1)
}

// park blocks the worker until new work wakes it. After registering, the
// work sources are re-checked once so a push racing the registration can't
// strand its proc.
func (w *worker) park() {
	s := w.exec.sleepers
	s.register(w)
	if w.local.len() > 0 || w.exec.injector.len() > 0 || w.exec.stopping() {
		s.cancelPark(w)
		return
	}
	// the last worker going to sleep polls the reactor instead of parking
	// outright, so pending I/O events can wake the pool
	if s.parkedCount() == w.exec.parallelism {
		if r := w.exec.reactor; r != nil {
			s.cancelPark(w)
			r.PollEvents(reactorPollSlice)
			return
		}
	}
	s.park(w)
}

// schedule puts p on this worker's local queue, spilling half into the
// injector when full.
func (w *worker) schedule(p *proc.Proc) {
	if w.local.push(p) {
		w.exec.sleepers.wakeOne()
		return
	}
	// overflow: drain half of the local queue into the injector, then retry
	n := w.local.len() / 2
	for i := uint64(0); i < n; i++ {
		spilled := w.local.pop()
		if spilled == nil {
			break
		}
		w.exec.injector.push(spilled)
	}
	if !w.local.push(p) {
		w.exec.injector.push(p)
	}
	w.exec.sleepers.wakeOne()
}
