package supervisor

import (
	"github.com/hedisam/goproc/children"
	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/registry"
)

// Ref is a weak handle to a running supervisor.
type Ref struct {
	sup *Supervisor
	gen uint64
}

func (s *Supervisor) Ref() Ref {
	return Ref{sup: s, gen: s.gen}
}

func (r Ref) Path() registry.Path {
	if r.sup == nil {
		return registry.Path{}
	}
	return r.sup.path
}

func (r Ref) State() State {
	if r.sup == nil {
		return Stopped
	}
	return r.sup.State()
}

// Stop terminates the supervisor's subtree gracefully.
func (r Ref) Stop() error {
	if r.stale() {
		return errors.ErrGone
	}
	return r.sup.events.Push(supStop{})
}

// Kill terminates the subtree without draining mailboxes.
func (r Ref) Kill() error {
	if r.stale() {
		return errors.ErrGone
	}
	return r.sup.events.Push(supStop{kill: true})
}

// Broadcast fans msg out to every children group in the subtree. Results
// aggregate per child path across all groups.
func (r Ref) Broadcast(msg interface{}) (children.BroadcastResult, error) {
	if r.stale() {
		return nil, errors.ErrGone
	}
	out := make(children.BroadcastResult)
	r.sup.broadcast(msg, out)
	return out, nil
}

func (s *Supervisor) broadcast(msg interface{}, out children.BroadcastResult) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ent := range s.entries {
		switch {
		case ent.group != nil:
			if !ent.alive.Load() {
				out[ent.path.String()] = errors.ErrGone
				continue
			}
			res, err := ent.group.Ref().Broadcast(msg)
			if err != nil {
				out[ent.path.String()] = err
				continue
			}
			for path, e := range res {
				out[path] = e
			}
		case ent.sup != nil:
			if !ent.alive.Load() {
				out[ent.path.String()] = errors.ErrGone
				continue
			}
			ent.sup.broadcast(msg, out)
		}
	}
}

func (r Ref) stale() bool {
	if r.sup == nil {
		return true
	}
	if r.sup.State() == Stopped {
		return true
	}
	return r.gen != r.sup.gen
}
