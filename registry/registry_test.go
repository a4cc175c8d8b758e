package registry

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedisam/goproc/errors"
)

type fakeInbox struct {
	received []interface{}
}

func (f *fakeInbox) Push(msg interface{}) error {
	f.received = append(f.received, msg)
	return nil
}

func TestPathInterning(t *testing.T) {
	a := PathOf("/root/sup_a/group_b")
	b := Root().Child("sup_a").Child("group_b")
	assert.True(t, a.Equal(b), "same path interns to the same pointer")
	assert.Equal(t, "/root/sup_a/group_b", a.String())
	assert.Equal(t, "group_b", a.Elem())
	assert.True(t, a.Parent().Equal(PathOf("/root/sup_a")))

	c := a.Child("child_c#7")
	assert.Equal(t, "child_c#7", c.Elem())
	assert.False(t, c.Equal(a))
}

func TestRootParentIsZero(t *testing.T) {
	assert.True(t, Root().Parent().IsZero())
	assert.Equal(t, "", Path{}.String())
}

func TestRegisterLookupResolve(t *testing.T) {
	reg := New(zerolog.Nop())
	p := Root().Child("worker#0")
	inbox := &fakeInbox{}

	reg.Register(p, 1, inbox)
	entry, err := reg.Lookup(p)
	require.NoError(t, err)
	assert.EqualValues(t, 1, entry.Generation)

	resolved, err := reg.Resolve(p, 1)
	require.NoError(t, err)
	require.NoError(t, resolved.Push("hello"))
	assert.Equal(t, []interface{}{"hello"}, inbox.received)
}

func TestStaleGenerationIsGone(t *testing.T) {
	reg := New(zerolog.Nop())
	p := Root().Child("worker#1")
	reg.Register(p, 1, &fakeInbox{})
	reg.Register(p, 2, &fakeInbox{})

	_, err := reg.Resolve(p, 1)
	require.ErrorIs(t, err, errors.ErrGone)

	_, err = reg.Resolve(p, 2)
	require.NoError(t, err)
}

func TestUnregisterGuardsGeneration(t *testing.T) {
	reg := New(zerolog.Nop())
	p := Root().Child("worker#2")
	reg.Register(p, 2, &fakeInbox{})

	// a stale unregister from a dead incarnation must not evict the new one
	reg.Unregister(p, 1)
	_, err := reg.Lookup(p)
	require.NoError(t, err)

	reg.Unregister(p, 2)
	_, err = reg.Lookup(p)
	require.ErrorIs(t, err, errors.ErrGone)
}

func TestLookupUnknownPath(t *testing.T) {
	reg := New(zerolog.Nop())
	_, err := reg.Lookup(PathOf("/root/nobody"))
	require.ErrorIs(t, err, errors.ErrGone)
}
