package children

import "math/rand"

// Dispatcher selects which child of a group receives a tell.
type Dispatcher int32

const (
	// RoundRobin walks the children with an atomic counter.
	RoundRobin Dispatcher = iota
	// Random picks a child uniformly.
	Random
	// Broadcast delivers to every child of the group.
	Broadcast
)

func (d Dispatcher) String() string {
	switch d {
	case RoundRobin:
		return "round_robin"
	case Random:
		return "random"
	case Broadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// pick resolves a tell to child indexes. Broadcast returns all of them.
func (g *Group) pick() []int {
	n := len(g.children)
	switch g.spec.Dispatcher {
	case Random:
		return []int{rand.Intn(n)}
	case Broadcast:
		idxs := make([]int, n)
		for i := range idxs {
			idxs[i] = i
		}
		return idxs
	default:
		return []int{int(g.rr.Add(1)-1) % n}
	}
}
