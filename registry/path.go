package registry

import (
	"strings"
	"sync"

	"github.com/Workiva/go-datastructures/trie/ctrie"
)

// paths are interned process wide so cloning a Path copies a single pointer
// and comparing two paths compares pointers, not bytes. lookups on the
// ctrie are lock free, the mutex only serializes first-time inserts so two
// racing interns can't produce distinct pointers for the same path.
var interner = struct {
	sync.Mutex
	table *ctrie.Ctrie
}{table: ctrie.New(nil)}

func intern(s string) *string {
	if v, ok := interner.table.Lookup([]byte(s)); ok {
		return v.(*string)
	}
	interner.Lock()
	defer interner.Unlock()
	if v, ok := interner.table.Lookup([]byte(s)); ok {
		return v.(*string)
	}
	p := &s
	interner.table.Insert([]byte(s), p)
	return p
}

// Path is an interned hierarchical actor name such as
// /root/supervisor_a/group_b/child_c#7. Paths are cheap to clone and
// compare and are the routing keys of the registry.
type Path struct {
	s *string
}

// Root returns the path of the root supervisor.
func Root() Path {
	return Path{s: intern("/root")}
}

// PathOf interns an absolute path string.
func PathOf(s string) Path {
	return Path{s: intern(s)}
}

// Child returns the interned path of a child element under p.
func (p Path) Child(elem string) Path {
	return Path{s: intern(p.String() + "/" + elem)}
}

func (p Path) String() string {
	if p.s == nil {
		return ""
	}
	return *p.s
}

// Equal compares two interned paths by pointer.
func (p Path) Equal(other Path) bool {
	return p.s == other.s
}

// IsZero reports whether p is the zero value, not a registered path.
func (p Path) IsZero() bool {
	return p.s == nil
}

// Elem returns the last element of the path.
func (p Path) Elem() string {
	s := p.String()
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Parent returns the path one level up, or the zero Path for the root.
func (p Path) Parent() Path {
	s := p.String()
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return Path{}
	}
	return Path{s: intern(s[:i])}
}
