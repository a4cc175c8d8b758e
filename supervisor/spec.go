package supervisor

import (
	"fmt"

	"github.com/rs/xid"

	"github.com/hedisam/goproc/children"
	"github.com/hedisam/goproc/supervision"
)

type entryKind int32

const (
	entryGroup entryKind = iota
	entrySupervisor
)

// entrySpec is one declared child of a supervisor, a children group or a
// nested supervisor. Declaration order is start order.
type entrySpec struct {
	kind  entryKind
	group children.Spec
	sup   Spec
}

func (e entrySpec) name() string {
	if e.kind == entryGroup {
		return e.group.Name
	}
	return e.sup.Name
}

// Spec is the frozen declaration of a supervisor: its strategy, restart
// policy and children in declared order.
type Spec struct {
	Name          string
	Strategy      supervision.Strategy
	RestartPolicy supervision.RestartPolicy
	entries       []entrySpec
}

// NewSpec declares a supervisor with a one for one strategy and the
// default restart policy.
func NewSpec() Spec {
	return Spec{
		Name:          xid.New().String(),
		RestartPolicy: supervision.DefaultRestartPolicy(),
	}
}

func (s Spec) WithName(name string) Spec {
	s.Name = name
	return s
}

func (s Spec) WithStrategy(strategy supervision.Strategy) Spec {
	s.Strategy = strategy
	return s
}

func (s Spec) WithRestartPolicy(p supervision.RestartPolicy) Spec {
	s.RestartPolicy = p
	return s
}

// WithChildren appends children groups, in declared order.
func (s Spec) WithChildren(groups ...children.Spec) Spec {
	entries := make([]entrySpec, 0, len(s.entries)+len(groups))
	entries = append(entries, s.entries...)
	for _, g := range groups {
		entries = append(entries, entrySpec{kind: entryGroup, group: g})
	}
	s.entries = entries
	return s
}

// WithSupervisor appends nested supervisors, in declared order.
func (s Spec) WithSupervisor(subs ...Spec) Spec {
	entries := make([]entrySpec, 0, len(s.entries)+len(subs))
	entries = append(entries, s.entries...)
	for _, sub := range subs {
		entries = append(entries, entrySpec{kind: entrySupervisor, sup: sub})
	}
	s.entries = entries
	return s
}

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("supervisor name could not be empty")
	}
	if s.Strategy < supervision.OneForOne || s.Strategy > supervision.RestForOne {
		return fmt.Errorf("supervisor %s: invalid strategy %d", s.Name, s.Strategy)
	}
	if s.RestartPolicy.MaxRestarts < 0 {
		return fmt.Errorf("supervisor %s: invalid max restarts %d", s.Name, s.RestartPolicy.MaxRestarts)
	}
	seen := make(map[string]bool, len(s.entries))
	for _, e := range s.entries {
		if seen[e.name()] {
			return fmt.Errorf("supervisor %s: duplicate child name %s", s.Name, e.name())
		}
		seen[e.name()] = true
	}
	return nil
}
