package executor

import (
	"sync"
	"sync/atomic"
)

// sleepers tracks parked and searching workers. The invariant it protects:
// while any work is outstanding at least one worker stays searching, so a
// wake can never be lost between a producer's push and a worker's park.
type sleepers struct {
	mu        sync.Mutex
	parked    []*worker
	searching atomic.Int32
}

func newSleepers() *sleepers {
	return &sleepers{}
}

// startSearch marks a worker as searching before it probes victims and the
// injector.
func (s *sleepers) startSearch() {
	s.searching.Add(1)
}

// stopSearch unmarks a searching worker. found reports whether it got work;
// the last searcher that found work wakes a peer so searching pressure is
// kept while the queues are non empty.
func (s *sleepers) stopSearch(found bool) {
	last := s.searching.Add(-1) == 0
	if found && last {
		s.wakeOne()
	}
}

func (s *sleepers) searchers() int32 {
	return s.searching.Load()
}

// park blocks an already registered worker until a wake arrives. The
// caller registers first, must re-check its work sources after registering
// and call cancelPark if anything showed up.
func (s *sleepers) park(w *worker) {
	<-w.parkCh
}

func (s *sleepers) register(w *worker) {
	s.mu.Lock()
	s.parked = append(s.parked, w)
	s.mu.Unlock()
}

// cancelPark removes a registered worker that found work before blocking.
// It may have been woken concurrently, drain the token so the next park
// doesn't fall through.
func (s *sleepers) cancelPark(w *worker) {
	s.mu.Lock()
	for i, pw := range s.parked {
		if pw == w {
			s.parked = append(s.parked[:i], s.parked[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	select {
	case <-w.parkCh:
	default:
	}
}

// wakeOne unparks a single worker, if any is parked.
func (s *sleepers) wakeOne() {
	s.mu.Lock()
	if len(s.parked) == 0 {
		s.mu.Unlock()
		return
	}
	w := s.parked[len(s.parked)-1]
	s.parked = s.parked[:len(s.parked)-1]
	s.mu.Unlock()
	select {
	case w.parkCh <- struct{}{}:
	default:
	}
}

// wakeAll unparks every worker, used on shutdown.
func (s *sleepers) wakeAll() {
	s.mu.Lock()
	parked := s.parked
	s.parked = nil
	s.mu.Unlock()
	for _, w := range parked {
		select {
		case w.parkCh <- struct{}{}:
		default:
		}
	}
}

// parkedCount reports how many workers are currently parked.
func (s *sleepers) parkedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}
