// Package supervisor implements the supervision tree: parents observing
// faults from their children groups and nested supervisors and applying a
// restart strategy under a rate limited window.
package supervisor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedisam/goproc/children"
	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/executor"
	"github.com/hedisam/goproc/internal/mailbox"
	"github.com/hedisam/goproc/proc"
	"github.com/hedisam/goproc/registry"
	"github.com/hedisam/goproc/supervision"
	"github.com/hedisam/goproc/sysmsg"
)

// State tracks the supervisor's lifecycle.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Restarting
	Stopping
	Stopped
)

// entry is the runtime side of one declared child.
type entry struct {
	spec  entrySpec
	path  registry.Path
	gen   uint64
	group *children.Group
	sup   *Supervisor
	alive atomic.Bool
	// queued for respawn once its stop completes
	restartPending bool
}

// commands routed into the supervisor's own proc
type supStop struct {
	kill bool
}

type attach struct {
	spec entrySpec
	done chan attachReply
}

type attachReply struct {
	group *children.Group
	sup   *Supervisor
	err   error
}

// Supervisor owns its children groups and nested supervisors. All
// supervision logic runs single threaded inside its own proc; children
// post events through a send-only handle, never a back-pointer.
type Supervisor struct {
	path    registry.Path
	gen     uint64
	spec    Spec
	reg     *registry.Registry
	exec    *executor.Executor
	logger  zerolog.Logger
	events  mailbox.Mailbox
	// mu guards the entries slice and each entry's group/sup pointers for
	// readers outside the supervisor's proc. The supervision logic itself
	// stays single threaded.
	mu      sync.RWMutex
	entries []*entry
	window  *supervision.Window
	state   atomic.Int32
	notify  func(sysmsg.SystemMessage)
	handle  *proc.Handle

	// restart and stop bookkeeping, touched only from the supervisor's poll
	stopQueue  []int
	restartSet map[int]bool
	stopping   bool
	killing    bool
	terminated bool
}

// Start materializes a frozen supervisor spec under a parent path.
// Children and nested supervisors start in declared order. notify posts
// the supervisor's own Faulted/Stopped events one level up; the root
// passes nil.
func Start(
	spec Spec,
	parent registry.Path,
	generation uint64,
	reg *registry.Registry,
	exec *executor.Executor,
	logger zerolog.Logger,
	notify func(sysmsg.SystemMessage),
) (*Supervisor, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if notify == nil {
		notify = func(sysmsg.SystemMessage) {}
	}
	s := &Supervisor{
		path:   parent.Child(spec.Name),
		gen:    generation,
		spec:   spec,
		reg:    reg,
		exec:   exec,
		logger: logger.With().Str("supervisor", spec.Name).Logger(),
		events: mailbox.Unbounded(),
		window: supervision.NewWindow(spec.RestartPolicy),
		notify: notify,
	}
	s.state.Store(int32(Starting))

	if err := s.spawnLoop(); err != nil {
		return nil, err
	}
	for _, es := range spec.entries {
		ent := &entry{spec: es, path: s.path.Child(es.name())}
		if err := s.startEntry(ent); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.entries = append(s.entries, ent)
		s.mu.Unlock()
	}
	s.reg.Register(s.path, s.gen, s.events)
	s.state.Store(int32(Running))
	s.logger.Debug().Str("path", s.path.String()).Int("children", len(s.entries)).Msg("supervisor started")
	return s, nil
}

func (s *Supervisor) spawnLoop() error {
	stack := proc.NewStack().
		WithAfterPanic(func(_ *proc.Stack, payload string) {
			s.state.Store(int32(Stopped))
			s.notify(sysmsg.Faulted{
				Who:        s.path.String(),
				Generation: s.gen,
				Reason:     sysmsg.Reason{Type: sysmsg.Panic, Details: payload},
			})
		})
	handle, err := s.exec.Spawn(s.poll, stack)
	if err != nil {
		return err
	}
	s.handle = handle
	return nil
}

// startEntry materializes one declared child at the entry's current
// generation. The notify closure is the only channel back up the tree.
func (s *Supervisor) startEntry(ent *entry) error {
	var (
		group *children.Group
		sup   *Supervisor
		err   error
	)
	switch ent.spec.kind {
	case entryGroup:
		group, err = children.StartGroup(
			ent.spec.group, s.path, ent.gen, s.reg, s.exec, s.logger, s.eventSink())
	case entrySupervisor:
		sup, err = Start(
			ent.spec.sup, s.path, ent.gen, s.reg, s.exec, s.logger, s.eventSink())
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	if group != nil {
		ent.group = group
	}
	if sup != nil {
		ent.sup = sup
	}
	ent.alive.Store(true)
	ent.restartPending = false
	s.mu.Unlock()
	return nil
}

// eventSink returns the send-only handle children use to reach this
// supervisor.
func (s *Supervisor) eventSink() func(sysmsg.SystemMessage) {
	return func(msg sysmsg.SystemMessage) {
		_ = s.events.Push(msg)
	}
}

func (s *Supervisor) poll(ctx *proc.Context) proc.Poll {
	s.events.SetWaker(ctx.Waker())
	for {
		msg, ok := s.events.TryPop()
		if !ok {
			if s.terminated {
				return proc.Done(sysmsg.Normal)
			}
			return proc.Pending()
		}
		switch ev := msg.(type) {
		case sysmsg.Faulted:
			s.onFaulted(ev)
		case sysmsg.Stopped:
			s.onStopped(ev)
		case supStop:
			s.onStop(ev.kill)
		case attach:
			s.onAttach(ev)
		}
		if s.terminated {
			return proc.Done(sysmsg.Normal)
		}
	}
}

func (s *Supervisor) entryIndex(who string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, ent := range s.entries {
		if ent.path.String() == who {
			return i
		}
	}
	return -1
}

// onFaulted applies the supervision strategy. The faulted subject is
// already down, what the strategy decides is which siblings go down with
// it before the respawns.
func (s *Supervisor) onFaulted(ev sysmsg.Faulted) {
	idx := s.entryIndex(ev.Who)
	if idx < 0 {
		return
	}
	ent := s.entries[idx]
	if ent.restartPending {
		// the entry faulted while its strategy driven stop was in flight,
		// count it as the awaited down
		ent.restartPending = false
		s.entryDown(idx)
		return
	}
	if !ent.alive.Load() {
		return
	}
	ent.alive.Store(false)

	switch State(s.state.Load()) {
	case Stopping:
		s.entryDown(idx)
		return
	case Running, Restarting:
	default:
		return
	}
	s.logger.Debug().Str("subject", ev.Who).Str("reason", ev.Reason.Type).Msg("child faulted")

	if !s.window.Record(time.Now()) {
		s.exhaust()
		return
	}
	if s.restartSet == nil {
		s.restartSet = make(map[int]bool)
	}
	s.state.Store(int32(Restarting))

	switch s.spec.Strategy {
	case supervision.OneForAll:
		s.queueStops(0, len(s.entries)-1, idx)
	case supervision.RestForOne:
		s.queueStops(idx, len(s.entries)-1, idx)
	default:
		s.restartSet[idx] = true
	}
	s.advance()
}

// queueStops marks [from, to] for restart and queues the live siblings for
// a stop in reverse declared order.
func (s *Supervisor) queueStops(from, to, faultIdx int) {
	for i := to; i >= from; i-- {
		s.restartSet[i] = true
		if i == faultIdx || !s.entries[i].alive.Load() {
			continue
		}
		s.stopQueue = append(s.stopQueue, i)
	}
}

// advance drives the stop queue one entry at a time, then respawns the
// restart set in declared order. Stops are sequential so siblings go down
// in strict reverse declared order.
func (s *Supervisor) advance() {
	if len(s.stopQueue) > 0 {
		idx := s.stopQueue[0]
		ent := s.entries[idx]
		if s.stopping {
			s.stopEntry(ent, s.killing)
		} else {
			// a strategy driven stop, the entry comes back up afterwards
			ent.restartPending = true
			s.stopEntry(ent, true)
		}
		return
	}
	if s.restartSet != nil {
		s.respawnSet()
		return
	}
	if s.stopping {
		s.finishStop()
	}
}

func (s *Supervisor) stopEntry(ent *entry, kill bool) {
	var err error
	switch {
	case ent.group != nil:
		if kill {
			err = ent.group.Ref().Kill()
		} else {
			err = ent.group.Ref().Stop()
		}
	case ent.sup != nil:
		if kill {
			err = ent.sup.Ref().Kill()
		} else {
			err = ent.sup.Ref().Stop()
		}
	default:
		err = errors.ErrGone
	}
	if err != nil {
		// already down, synthesize the completion
		ent.restartPending = false
		ent.alive.Store(false)
		s.entryDown(s.entryIndex(ent.path.String()))
	}
}

// entryDown records a completed stop and drives the next step.
func (s *Supervisor) entryDown(idx int) {
	if idx < 0 {
		return
	}
	s.entries[idx].alive.Store(false)
	if len(s.stopQueue) > 0 && s.stopQueue[0] == idx {
		s.stopQueue = s.stopQueue[1:]
	}
	s.advance()
}

func (s *Supervisor) respawnSet() {
	for i := 0; i < len(s.entries); i++ {
		if !s.restartSet[i] {
			continue
		}
		ent := s.entries[i]
		ent.gen++
		if err := s.startEntry(ent); err != nil {
			s.logger.Error().Err(err).Str("child", ent.path.String()).Msg("respawn failed")
		}
	}
	s.restartSet = nil
	s.state.Store(int32(Running))
	if s.stopping {
		// a stop arrived mid restart
		s.onStop(s.killing)
	}
}

// onStopped handles a child subtree reporting a clean stop, including a
// group that exhausted its window under an on-exhaustion policy of stop.
func (s *Supervisor) onStopped(ev sysmsg.Stopped) {
	idx := s.entryIndex(ev.Who)
	if idx < 0 {
		return
	}
	ent := s.entries[idx]
	if ent.restartPending {
		ent.restartPending = false
		s.entryDown(idx)
		return
	}
	ent.alive.Store(false)
	if State(s.state.Load()) == Stopping {
		s.entryDown(idx)
	}
}

// onStop terminates the supervisor and its subtree, entries stopping in
// reverse declared order, one at a time.
func (s *Supervisor) onStop(kill bool) {
	switch State(s.state.Load()) {
	case Stopped:
		return
	case Restarting:
		// defer until the restart settles
		s.stopping = true
		s.killing = kill
		return
	}
	s.state.Store(int32(Stopping))
	s.stopping = true
	s.killing = kill
	s.restartSet = nil
	s.stopQueue = s.stopQueue[:0]
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].alive.Load() {
			s.stopQueue = append(s.stopQueue, i)
		}
	}
	if len(s.stopQueue) == 0 {
		s.finishStop()
		return
	}
	s.advance()
}

func (s *Supervisor) finishStop() {
	s.reg.Unregister(s.path, s.gen)
	s.state.Store(int32(Stopped))
	s.terminated = true
	s.stopping = false
	s.notify(sysmsg.Stopped{Who: s.path.String(), Reason: sysmsg.Reason{Type: sysmsg.Normal}})
	s.logger.Debug().Str("path", s.path.String()).Msg("supervisor stopped")
}

// exhaust stops every child and fires the on-exhaustion policy: escalate
// posts a fault to the parent, stop reports Stopped instead.
func (s *Supervisor) exhaust() {
	s.logger.Debug().Str("path", s.path.String()).Msg("restart window exhausted")
	for i := len(s.entries) - 1; i >= 0; i-- {
		ent := s.entries[i]
		if ent.alive.Load() {
			s.killEntryQuietly(ent)
		}
		ent.alive.Store(false)
	}
	s.reg.Unregister(s.path, s.gen)
	s.state.Store(int32(Stopped))
	s.terminated = true

	if s.spec.RestartPolicy.OnExhaustion == supervision.Escalate {
		s.notify(sysmsg.Faulted{
			Who:        s.path.String(),
			Generation: s.gen,
			Reason:     sysmsg.Reason{Type: sysmsg.ExhaustedRestarts},
		})
		return
	}
	s.notify(sysmsg.Stopped{Who: s.path.String(), Reason: sysmsg.Reason{Type: sysmsg.ExhaustedRestarts}})
}

func (s *Supervisor) killEntryQuietly(ent *entry) {
	switch {
	case ent.group != nil:
		_ = ent.group.Ref().Kill()
	case ent.sup != nil:
		_ = ent.sup.Ref().Kill()
	}
}

// onAttach starts a new entry at runtime, appended after the declared
// ones.
func (s *Supervisor) onAttach(ev attach) {
	if State(s.state.Load()) != Running {
		ev.done <- attachReply{err: errors.ErrShuttingDown}
		return
	}
	name := ev.spec.name()
	for _, ent := range s.entries {
		if ent.spec.name() == name {
			ev.done <- attachReply{err: fmt.Errorf("a child named %s already exists", name)}
			return
		}
	}
	ent := &entry{spec: ev.spec, path: s.path.Child(name)}
	if err := s.startEntry(ent); err != nil {
		ev.done <- attachReply{err: err}
		return
	}
	s.mu.Lock()
	s.entries = append(s.entries, ent)
	s.mu.Unlock()
	ev.done <- attachReply{group: ent.group, sup: ent.sup}
}

// StartChildren attaches a children group to a running supervisor.
func (s *Supervisor) StartChildren(spec children.Spec) (children.GroupRef, error) {
	done := make(chan attachReply, 1)
	if err := s.events.Push(attach{spec: entrySpec{kind: entryGroup, group: spec}, done: done}); err != nil {
		return children.GroupRef{}, errors.ErrGone
	}
	reply := <-done
	if reply.err != nil {
		return children.GroupRef{}, reply.err
	}
	return reply.group.Ref(), nil
}

// StartSupervisor attaches a nested supervisor to a running supervisor.
func (s *Supervisor) StartSupervisor(spec Spec) (Ref, error) {
	done := make(chan attachReply, 1)
	if err := s.events.Push(attach{spec: entrySpec{kind: entrySupervisor, sup: spec}, done: done}); err != nil {
		return Ref{}, errors.ErrGone
	}
	reply := <-done
	if reply.err != nil {
		return Ref{}, reply.err
	}
	return reply.sup.Ref(), nil
}

// Group resolves a declared children group by name.
func (s *Supervisor) Group(name string) (children.GroupRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ent := range s.entries {
		if ent.group != nil && ent.spec.name() == name {
			return ent.group.Ref(), nil
		}
	}
	return children.GroupRef{}, errors.ErrGone
}

// Sub resolves a declared nested supervisor by name.
func (s *Supervisor) Sub(name string) (Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ent := range s.entries {
		if ent.sup != nil && ent.spec.name() == name {
			return ent.sup.Ref(), nil
		}
	}
	return Ref{}, errors.ErrGone
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) Path() registry.Path {
	return s.path
}
