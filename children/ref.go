package children

import (
	"time"

	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/registry"
	"github.com/hedisam/goproc/sysmsg"
)

// Cloner lets broadcast payloads copy themselves per recipient. Payloads
// that don't implement it are shared and must be treated read only.
type Cloner interface {
	Clone() interface{}
}

// Ref is a weak handle to a single child. It pins the generation observed
// at creation: once the child restarts, every operation reports ErrGone.
type Ref struct {
	reg  *registry.Registry
	path registry.Path
	gen  uint64
}

// Tell enqueues a message fire and forget. It never blocks the caller.
func (r Ref) Tell(msg interface{}) error {
	return r.TellFrom(registry.Path{}, msg)
}

// TellFrom is Tell with an explicit sender path, used by children
// messaging each other.
func (r Ref) TellFrom(sender registry.Path, msg interface{}) error {
	inbox, err := r.reg.Resolve(r.path, r.gen)
	if err != nil {
		return err
	}
	return inbox.Push(Envelope{Sender: sender, Msg: msg})
}

// Ask enqueues a message with a one-shot reply slot and awaits the reply.
// A zero timeout waits forever. Asking yourself from inside a handler
// deadlocks, re-entrant sends enqueue and the reply can only be produced
// by the very handler that is blocked.
func (r Ref) Ask(msg interface{}, timeout time.Duration) (interface{}, error) {
	reply := NewReply()
	inbox, err := r.reg.Resolve(r.path, r.gen)
	if err != nil {
		return nil, err
	}
	if err := inbox.Push(Envelope{Msg: msg, ReplyTo: reply}); err != nil {
		return nil, err
	}
	return reply.Await(timeout)
}

// Stop commands the child to drain its mailbox and terminate.
func (r Ref) Stop() error {
	inbox, err := r.reg.Resolve(r.path, r.gen)
	if err != nil {
		return err
	}
	return inbox.Push(sysmsg.Stop{})
}

// Kill terminates the child without draining.
func (r Ref) Kill() error {
	inbox, err := r.reg.Resolve(r.path, r.gen)
	if err != nil {
		return err
	}
	return inbox.Push(sysmsg.Kill{})
}

func (r Ref) Path() registry.Path {
	return r.path
}

func (r Ref) Generation() uint64 {
	return r.gen
}

// GroupRef is a weak handle to a children group. Tells route through the
// group's dispatcher.
type GroupRef struct {
	group *Group
	gen   uint64
}

// Ref hands out the group's current reference.
func (g *Group) Ref() GroupRef {
	return GroupRef{group: g, gen: g.gen}
}

// Refs snapshots a reference per child at its current generation.
func (g *Group) Refs() []Ref {
	refs := make([]Ref, len(g.children))
	for i, c := range g.children {
		refs[i] = Ref{reg: g.reg, path: c.path, gen: c.gen.Load()}
	}
	return refs
}

func (r GroupRef) Path() registry.Path {
	return r.group.path
}

// Tell routes one message through the group's dispatcher. With a Broadcast
// dispatcher it behaves like Broadcast and reports the first failure.
func (r GroupRef) Tell(msg interface{}) error {
	if r.stale() {
		return errors.ErrGone
	}
	return r.group.dispatch(Envelope{Msg: msg})
}

// Ask routes through the dispatcher to a single child and awaits its
// reply. Asking a Broadcast dispatched group is rejected, a one-shot
// reply can't fan in.
func (r GroupRef) Ask(msg interface{}, timeout time.Duration) (interface{}, error) {
	if r.stale() {
		return nil, errors.ErrGone
	}
	g := r.group
	if g.spec.Dispatcher == Broadcast {
		return nil, errors.ErrNoReply
	}
	idx := g.pick()[0]
	c := g.children[idx]
	return Ref{reg: g.reg, path: c.path, gen: c.gen.Load()}.Ask(msg, timeout)
}

// BroadcastResult aggregates one delivery outcome per child path.
type BroadcastResult map[string]error

// Ok reports whether every delivery succeeded.
func (br BroadcastResult) Ok() bool {
	for _, err := range br {
		if err != nil {
			return false
		}
	}
	return true
}

// Broadcast fans msg out to every child. Deliveries are independent:
// partial success surfaces per child in the aggregate, a full mailbox as
// ErrBackpressure, a child mid restart or down as ErrGone.
func (r GroupRef) Broadcast(msg interface{}) (BroadcastResult, error) {
	if r.stale() {
		return nil, errors.ErrGone
	}
	g := r.group
	result := make(BroadcastResult, len(g.children))
	for i := range g.children {
		payload := msg
		if c, ok := msg.(Cloner); ok {
			payload = c.Clone()
		}
		result[g.children[i].path.String()] = g.deliver(i, Envelope{Msg: payload})
	}
	return result, nil
}

// Stop terminates the group gracefully, children stop in reverse declared
// order after draining.
func (r GroupRef) Stop() error {
	if r.stale() {
		return errors.ErrGone
	}
	return r.group.events.Push(groupStop{})
}

// Kill terminates the group without draining.
func (r GroupRef) Kill() error {
	if r.stale() {
		return errors.ErrGone
	}
	return r.group.events.Push(groupStop{kill: true})
}

func (r GroupRef) stale() bool {
	if r.group == nil {
		return true
	}
	if GroupState(r.group.state.Load()) == GroupStopped {
		return true
	}
	return r.gen != r.group.gen
}

// deliver pushes one envelope into a child's user queue, Gone when the
// child is down or mid restart.
func (g *Group) deliver(idx int, env Envelope) error {
	c := g.children[idx]
	if !c.alive.Load() {
		return errors.ErrGone
	}
	return c.userq.Push(env)
}

// dispatch routes one envelope per the group's dispatcher, reporting the
// first failed delivery.
func (g *Group) dispatch(env Envelope) error {
	var firstErr error
	for _, idx := range g.pick() {
		if err := g.deliver(idx, env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// groupInbox is what the group registers at its path: envelopes route
// through the dispatcher to a child, supervision traffic lands on the
// group's own event queue.
type groupInbox struct {
	g *Group
}

func (gi groupInbox) Push(msg interface{}) error {
	if env, ok := msg.(Envelope); ok {
		return gi.g.dispatch(env)
	}
	switch msg.(type) {
	case sysmsg.Stop:
		return gi.g.events.Push(groupStop{})
	case sysmsg.Kill:
		return gi.g.events.Push(groupStop{kill: true})
	}
	return gi.g.events.Push(msg)
}
