package children

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/executor"
	"github.com/hedisam/goproc/internal/mailbox"
	"github.com/hedisam/goproc/proc"
	"github.com/hedisam/goproc/registry"
	"github.com/hedisam/goproc/supervision"
	"github.com/hedisam/goproc/sysmsg"
)

// GroupState tracks the group's lifecycle.
type GroupState int32

const (
	GroupIdle GroupState = iota
	GroupStarting
	GroupRunning
	GroupRestarting
	GroupStopping
	GroupStopped
)

// internal events routed into the group's own proc
type childFault struct {
	idx    int
	gen    uint64
	reason sysmsg.Reason
}

type childDown struct {
	idx int
	gen uint64
}

type childStopped struct {
	idx int
	gen uint64
}

type groupStop struct {
	kill bool
}

// Group manages n identical children behind a dispatcher and applies the
// group's supervision strategy when one faults. All supervision decisions
// run single threaded inside the group's own proc.
type Group struct {
	path     registry.Path
	gen      uint64
	spec     Spec
	reg      *registry.Registry
	exec     *executor.Executor
	logger   zerolog.Logger
	events   mailbox.Mailbox
	children []*childSlot
	window   *supervision.Window
	rr       atomic.Uint64
	state    atomic.Int32
	// notify posts Faulted/Stopped one level up, to the parent supervisor
	notify func(sysmsg.SystemMessage)
	handle *proc.Handle

	// restart bookkeeping, touched only from the group's poll
	restartSet   map[int]bool
	pendingDowns int
	pendingStops int
	terminated   bool
}

// StartGroup materializes a frozen group spec under a parent path. notify
// receives the group's Faulted and Stopped events; the parent supervisor
// routes them into its own event queue.
func StartGroup(
	spec Spec,
	parent registry.Path,
	generation uint64,
	reg *registry.Registry,
	exec *executor.Executor,
	logger zerolog.Logger,
	notify func(sysmsg.SystemMessage),
) (*Group, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	g := &Group{
		path:   parent.Child(spec.Name),
		gen:    generation,
		spec:   spec,
		reg:    reg,
		exec:   exec,
		logger: logger.With().Str("group", spec.Name).Logger(),
		events: mailbox.Unbounded(),
		window: supervision.NewWindow(spec.RestartPolicy),
		notify: notify,
	}
	g.state.Store(int32(GroupStarting))

	g.children = make([]*childSlot, spec.Redundancy)
	for i := range g.children {
		g.children[i] = &childSlot{
			idx:   i,
			path:  g.path.Child(fmt.Sprintf("%s#%d", spec.Name, i)),
			userq: mailbox.Bounded(spec.mailboxCap(i)),
		}
	}

	if err := g.spawnLoop(); err != nil {
		return nil, err
	}
	// children start in declared order
	for _, c := range g.children {
		if err := g.spawnChild(c, false); err != nil {
			return nil, err
		}
	}
	g.reg.Register(g.path, g.gen, groupInbox{g: g})
	g.state.Store(int32(GroupRunning))
	g.logger.Debug().Str("path", g.path.String()).Int("redundancy", spec.Redundancy).Msg("group started")
	return g, nil
}

// spawnLoop starts the group's own event proc. A panic inside the loop is
// a supervision bug, it escalates to the parent as a fault.
func (g *Group) spawnLoop() error {
	stack := proc.NewStack().
		WithAfterPanic(func(_ *proc.Stack, payload string) {
			g.state.Store(int32(GroupStopped))
			g.notify(sysmsg.Faulted{
				Who:        g.path.String(),
				Generation: g.gen,
				Reason:     sysmsg.Reason{Type: sysmsg.Panic, Details: payload},
			})
		})
	handle, err := g.exec.Spawn(g.poll, stack)
	if err != nil {
		return err
	}
	g.handle = handle
	return nil
}

func (g *Group) poll(ctx *proc.Context) proc.Poll {
	g.events.SetWaker(ctx.Waker())
	for {
		msg, ok := g.events.TryPop()
		if !ok {
			if g.terminated {
				return proc.Done(sysmsg.Normal)
			}
			return proc.Pending()
		}
		switch ev := msg.(type) {
		case childFault:
			g.onFault(ev)
		case childDown:
			g.onDown(ev)
		case childStopped:
			g.onStopped(ev)
		case groupStop:
			g.onStop(ev.kill)
		}
		if g.terminated {
			return proc.Done(sysmsg.Normal)
		}
	}
}

func (g *Group) onFault(ev childFault) {
	c := g.children[ev.idx]
	if c.gen.Load() != ev.gen {
		return
	}
	if c.pendingRestart {
		// the child raced its own cancellation with a panic; either way it
		// is down now, count it as the awaited down and don't touch the
		// restart window twice
		g.onDown(childDown{idx: ev.idx, gen: ev.gen})
		return
	}
	switch GroupState(g.state.Load()) {
	case GroupStopping:
		// a fault while stopping counts as that child being down
		g.onStopped(childStopped{idx: ev.idx, gen: ev.gen})
		return
	case GroupRunning, GroupRestarting:
	default:
		return
	}
	g.logger.Debug().
		Str("child", c.path.String()).
		Str("reason", ev.reason.Type).
		Msg("child faulted")

	if !g.window.Record(time.Now()) {
		g.exhaust()
		return
	}
	if g.restartSet == nil {
		g.restartSet = make(map[int]bool)
	}
	g.state.Store(int32(GroupRestarting))

	switch g.spec.Strategy {
	case supervision.OneForAll:
		g.stopForRestart(0, len(g.children)-1, ev.idx)
	case supervision.RestForOne:
		g.stopForRestart(ev.idx, len(g.children)-1, ev.idx)
	default:
		g.restartSet[ev.idx] = true
	}
	if g.pendingDowns == 0 {
		g.respawnSet()
	}
}

// stopForRestart cancels the slots in [from, to] in reverse declared order
// and queues them for respawn. faultIdx is already down.
func (g *Group) stopForRestart(from, to, faultIdx int) {
	for i := to; i >= from; i-- {
		c := g.children[i]
		g.restartSet[i] = true
		if i == faultIdx || !c.alive.Load() {
			continue
		}
		c.pendingRestart = true
		g.pendingDowns++
		c.handle.Cancel()
	}
}

// respawnSet restarts the queued slots in declared order, each with a
// fresh generation. Mailboxes are preserved unless the spec drains them.
func (g *Group) respawnSet() {
	for i := 0; i < len(g.children); i++ {
		if !g.restartSet[i] {
			continue
		}
		c := g.children[i]
		c.gen.Add(1)
		if g.spec.DrainOnRestart {
			failEnvelopes(c.userq.DrainAll(), errors.ErrRecipientFailed)
		}
		if err := g.spawnChild(c, true); err != nil {
			g.logger.Error().Err(err).Str("child", c.path.String()).Msg("respawn failed")
		}
	}
	g.restartSet = nil
	g.state.Store(int32(GroupRunning))
}

func (g *Group) onDown(ev childDown) {
	c := g.children[ev.idx]
	if c.gen.Load() != ev.gen {
		return
	}
	if GroupState(g.state.Load()) == GroupStopping {
		g.onStopped(childStopped{idx: ev.idx, gen: ev.gen})
		return
	}
	if !c.pendingRestart {
		return
	}
	c.pendingRestart = false
	g.pendingDowns--
	if g.pendingDowns == 0 && g.restartSet != nil {
		g.respawnSet()
	}
}

func (g *Group) onStopped(ev childStopped) {
	c := g.children[ev.idx]
	if c.gen.Load() != ev.gen {
		return
	}
	if GroupState(g.state.Load()) != GroupStopping {
		// a child finished cleanly on its own, it stays down
		g.reg.Unregister(c.path, ev.gen)
		return
	}
	g.pendingStops--
	if g.pendingStops <= 0 {
		g.finishStop()
	}
}

// onStop terminates the whole group: children are stopped in reverse
// declared order, gracefully unless kill is set.
func (g *Group) onStop(kill bool) {
	if GroupState(g.state.Load()) == GroupStopped {
		return
	}
	g.state.Store(int32(GroupStopping))
	g.pendingStops = 0
	for i := len(g.children) - 1; i >= 0; i-- {
		c := g.children[i]
		if !c.alive.Load() {
			continue
		}
		g.pendingStops++
		if kill {
			c.handle.Cancel()
		} else if err := c.sysq.Push(sysmsg.Stop{Parent: g.path.String()}); err != nil {
			// command queue already gone, force it down
			c.handle.Cancel()
		}
	}
	if g.pendingStops == 0 {
		g.finishStop()
	}
}

func (g *Group) finishStop() {
	for _, c := range g.children {
		g.reg.Unregister(c.path, c.gen.Load())
		failEnvelopes(c.userq.Dispose(), errors.ErrRecipientFailed)
		c.sysq.Dispose()
	}
	g.reg.Unregister(g.path, g.gen)
	g.state.Store(int32(GroupStopped))
	g.terminated = true
	g.notify(sysmsg.Stopped{Who: g.path.String(), Reason: sysmsg.Reason{Type: sysmsg.Normal}})
	g.logger.Debug().Str("path", g.path.String()).Msg("group stopped")
}

// exhaust fires the restart policy's on-exhaustion behavior: the children
// stop either way, what differs is how the parent hears about it.
func (g *Group) exhaust() {
	g.logger.Debug().Str("path", g.path.String()).Msg("restart window exhausted")
	for i := len(g.children) - 1; i >= 0; i-- {
		c := g.children[i]
		if c.alive.Load() {
			c.handle.Cancel()
		}
		g.reg.Unregister(c.path, c.gen.Load())
		failEnvelopes(c.userq.Dispose(), errors.ErrRecipientFailed)
		c.sysq.Dispose()
	}
	g.reg.Unregister(g.path, g.gen)
	g.state.Store(int32(GroupStopped))
	g.terminated = true

	if g.spec.RestartPolicy.OnExhaustion == supervision.Escalate {
		g.notify(sysmsg.Faulted{
			Who:        g.path.String(),
			Generation: g.gen,
			Reason:     sysmsg.Reason{Type: sysmsg.ExhaustedRestarts},
		})
		return
	}
	g.notify(sysmsg.Stopped{Who: g.path.String(), Reason: sysmsg.Reason{Type: sysmsg.ExhaustedRestarts}})
}

// State reports the group's lifecycle state.
func (g *Group) State() GroupState {
	return GroupState(g.state.Load())
}

// Path returns the group's registered path.
func (g *Group) Path() registry.Path {
	return g.path
}
