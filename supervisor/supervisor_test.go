package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedisam/goproc/children"
	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/executor"
	"github.com/hedisam/goproc/registry"
	"github.com/hedisam/goproc/supervision"
	"github.com/hedisam/goproc/sysmsg"
)

func testEnv(t *testing.T) (*executor.Executor, *registry.Registry) {
	t.Helper()
	exec := executor.New(executor.Config{Parallelism: 2})
	t.Cleanup(exec.Shutdown)
	return exec, registry.New(zerolog.Nop())
}

// initCounter counts group materializations, keyed by group name.
type initCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newInitCounter() *initCounter {
	return &initCounter{counts: make(map[string]int)}
}

func (c *initCounter) init(name string, handler children.Handler) children.Init {
	return func() (children.Handler, error) {
		c.mu.Lock()
		c.counts[name]++
		c.mu.Unlock()
		return handler, nil
	}
}

func (c *initCounter) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func echo(ctx *children.Context, msg interface{}) error {
	if msg == "ping" {
		ctx.Reply("pong")
	}
	return nil
}

func panicky(ctx *children.Context, msg interface{}) error {
	if msg == "boom" {
		panic("kaboom")
	}
	return echo(ctx, msg)
}

// escalating declares a group that faults upward on the first child panic.
func escalating(name string, counter *initCounter) children.Spec {
	return children.NewSpec(counter.init(name, panicky)).
		WithName(name).
		WithRestartPolicy(supervision.RestartPolicy{
			MaxRestarts:  0,
			Within:       time.Second,
			OnExhaustion: supervision.Escalate,
		})
}

func TestStartDeclaredOrderAndState(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	sup, err := Start(
		NewSpec().WithName("sup_a").
			WithChildren(
				children.NewSpec(counter.init("g1", echo)).WithName("g1"),
				children.NewSpec(counter.init("g2", echo)).WithName("g2"),
			),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, Running, sup.State())
	assert.Equal(t, "/sup_a", sup.Path().String())

	require.Eventually(t, func() bool {
		return counter.count("g1") == 1 && counter.count("g2") == 1
	}, 2*time.Second, 5*time.Millisecond)

	// both groups are reachable through the tree
	g1, err := sup.Group("g1")
	require.NoError(t, err)
	reply, err := g1.Ask("ping", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestOneForOneRestartsOnlySubject(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	sup, err := Start(
		NewSpec().WithName("sup_one").
			WithStrategy(supervision.OneForOne).
			WithChildren(escalating("ga", counter), escalating("gb", counter)),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.NoError(t, err)

	ga, err := sup.Group("ga")
	require.NoError(t, err)
	require.NoError(t, ga.Tell("boom"))

	require.Eventually(t, func() bool {
		return counter.count("ga") == 2
	}, 3*time.Second, 5*time.Millisecond, "the faulted group is re-materialized")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, counter.count("gb"), "the sibling is untouched")
	assert.Equal(t, Running, sup.State())
}

func TestOneForAllRestartsEverySibling(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	sup, err := Start(
		NewSpec().WithName("sup_all").
			WithStrategy(supervision.OneForAll).
			WithChildren(escalating("ga", counter), escalating("gb", counter), escalating("gc", counter)),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.NoError(t, err)

	gb, err := sup.Group("gb")
	require.NoError(t, err)
	require.NoError(t, gb.Tell("boom"))

	require.Eventually(t, func() bool {
		return counter.count("ga") == 2 && counter.count("gb") == 2 && counter.count("gc") == 2
	}, 3*time.Second, 5*time.Millisecond, "every sibling stops and restarts")
	assert.Equal(t, Running, sup.State())
}

func TestRestForOneRestartsSubjectAndLaterSiblings(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	sup, err := Start(
		NewSpec().WithName("sup_rest").
			WithStrategy(supervision.RestForOne).
			WithChildren(escalating("ga", counter), escalating("gb", counter), escalating("gc", counter)),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.NoError(t, err)

	gb, err := sup.Group("gb")
	require.NoError(t, err)
	require.NoError(t, gb.Tell("boom"))

	require.Eventually(t, func() bool {
		return counter.count("gb") == 2 && counter.count("gc") == 2
	}, 3*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, counter.count("ga"), "siblings declared before the subject are untouched")
}

func TestSupervisorExhaustionEscalates(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	var mu sync.Mutex
	var events []sysmsg.SystemMessage
	notify := func(msg sysmsg.SystemMessage) {
		mu.Lock()
		events = append(events, msg)
		mu.Unlock()
	}

	sup, err := Start(
		NewSpec().WithName("sup_frail").
			WithRestartPolicy(supervision.RestartPolicy{
				MaxRestarts:  0,
				Within:       time.Second,
				OnExhaustion: supervision.Escalate,
			}).
			WithChildren(escalating("ga", counter)),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), notify)
	require.NoError(t, err)

	ga, err := sup.Group("ga")
	require.NoError(t, err)
	require.NoError(t, ga.Tell("boom"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if f, ok := ev.(sysmsg.Faulted); ok && f.Reason.Type == sysmsg.ExhaustedRestarts {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "exhaustion escalates one level, explicitly")
	assert.Equal(t, Stopped, sup.State())
}

func TestSupervisorExhaustionStopPolicy(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	var mu sync.Mutex
	var events []sysmsg.SystemMessage
	notify := func(msg sysmsg.SystemMessage) {
		mu.Lock()
		events = append(events, msg)
		mu.Unlock()
	}

	sup, err := Start(
		NewSpec().WithName("sup_stopper").
			WithRestartPolicy(supervision.RestartPolicy{
				MaxRestarts:  0,
				Within:       time.Second,
				OnExhaustion: supervision.Stop,
			}).
			WithChildren(escalating("ga", counter)),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), notify)
	require.NoError(t, err)

	ga, err := sup.Group("ga")
	require.NoError(t, err)
	require.NoError(t, ga.Tell("boom"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if s, ok := ev.(sysmsg.Stopped); ok && s.Reason.Type == sysmsg.ExhaustedRestarts {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "the parent hears Stopped, not Faulted")

	mu.Lock()
	for _, ev := range events {
		_, isFault := ev.(sysmsg.Faulted)
		assert.False(t, isFault)
	}
	mu.Unlock()
	assert.Equal(t, Stopped, sup.State())
}

func TestNestedSupervisorFaultStaysOneLevel(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	// inner supervisor escalates immediately, outer absorbs and restarts it
	inner := NewSpec().WithName("inner").
		WithRestartPolicy(supervision.RestartPolicy{
			MaxRestarts:  0,
			Within:       time.Second,
			OnExhaustion: supervision.Escalate,
		}).
		WithChildren(escalating("leaf", counter))

	outer, err := Start(
		NewSpec().WithName("outer").WithSupervisor(inner),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.NoError(t, err)

	innerRef, err := outer.Sub("inner")
	require.NoError(t, err)
	assert.Equal(t, "/outer/inner", innerRef.Path().String())

	leaf, err := reg.Lookup(registry.PathOf("/outer/inner/leaf"))
	require.NoError(t, err)
	require.NoError(t, leaf.Inbox.Push(children.Envelope{Msg: "boom"}))

	require.Eventually(t, func() bool {
		return counter.count("leaf") == 2
	}, 3*time.Second, 5*time.Millisecond, "the outer supervisor re-materializes the escalated inner tree")
	assert.Equal(t, Running, outer.State())
}

func TestSupervisorStopTearsDownSubtree(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	sup, err := Start(
		NewSpec().WithName("sup_bye").
			WithChildren(
				children.NewSpec(counter.init("g1", echo)).WithName("g1"),
				children.NewSpec(counter.init("g2", echo)).WithName("g2"),
			),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.NoError(t, err)

	ref := sup.Ref()
	require.NoError(t, ref.Stop())

	require.Eventually(t, func() bool { return sup.State() == Stopped }, 3*time.Second, 5*time.Millisecond)

	_, err = reg.Lookup(registry.PathOf("/sup_bye"))
	require.ErrorIs(t, err, errors.ErrGone)
	_, err = reg.Lookup(registry.PathOf("/sup_bye/g1"))
	require.ErrorIs(t, err, errors.ErrGone)
	assert.ErrorIs(t, ref.Stop(), errors.ErrGone)
}

func TestStartChildrenAtRuntime(t *testing.T) {
	exec, reg := testEnv(t)
	counter := newInitCounter()

	sup, err := Start(NewSpec().WithName("sup_dyn"), registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.NoError(t, err)

	g, err := sup.StartChildren(children.NewSpec(counter.init("late", echo)).WithName("late"))
	require.NoError(t, err)

	reply, err := g.Ask("ping", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)

	_, err = sup.StartChildren(children.NewSpec(counter.init("late", echo)).WithName("late"))
	require.Error(t, err, "duplicate names are rejected")
}

func TestBroadcastThroughTree(t *testing.T) {
	exec, reg := testEnv(t)

	rec := struct {
		mu    sync.Mutex
		count int
	}{}
	init := func() (children.Handler, error) {
		return func(ctx *children.Context, msg interface{}) error {
			rec.mu.Lock()
			rec.count++
			rec.mu.Unlock()
			return nil
		}, nil
	}

	sup, err := Start(
		NewSpec().WithName("sup_fan").
			WithChildren(
				children.NewSpec(init).WithName("g1").WithRedundancy(2),
				children.NewSpec(init).WithName("g2").WithRedundancy(3),
			),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.NoError(t, err)

	result, err := sup.Ref().Broadcast("to-everyone")
	require.NoError(t, err)
	assert.Len(t, result, 5)
	assert.True(t, result.Ok())

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.count == 5
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSpecValidation(t *testing.T) {
	exec, reg := testEnv(t)

	_, err := Start(NewSpec().WithName(""), registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.Error(t, err)

	_, err = Start(
		NewSpec().WithName("dup").
			WithChildren(
				children.NewSpec(func() (children.Handler, error) { return echo, nil }).WithName("same"),
				children.NewSpec(func() (children.Handler, error) { return echo, nil }).WithName("same"),
			),
		registry.Path{}, 0, reg, exec, zerolog.Nop(), nil)
	require.Error(t, err, "duplicate child names in one supervisor are rejected")
}
