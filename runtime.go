package goproc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedisam/goproc/children"
	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/executor"
	"github.com/hedisam/goproc/registry"
	"github.com/hedisam/goproc/supervisor"
)

const stopGrace = 5 * time.Second

// Runtime owns the process wide pieces: the executor, the registry and the
// root supervisor. Everything is in memory, Stop tears it all down.
type Runtime struct {
	cfg     Config
	logger  zerolog.Logger
	exec    *executor.Executor
	reg     *registry.Registry
	root    *supervisor.Supervisor
	started atomic.Bool
	stopped atomic.Bool
}

// New builds a runtime from a validated config. Nothing runs until Start.
func New(cfg Config) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: cfg.newLogger(),
	}
}

// Start spins up the executor workers, the registry and the root
// supervisor.
func (r *Runtime) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	r.exec = executor.New(executor.Config{
		Parallelism:  r.cfg.Parallelism,
		BlockingCap:  r.cfg.BlockingCap,
		BlockingIdle: r.cfg.BlockingIdle.Duration,
		Logger:       r.logger,
	})
	r.reg = registry.New(r.logger)

	root, err := supervisor.Start(
		supervisor.NewSpec().WithName("root"),
		registry.Path{}, 0, r.reg, r.exec, r.logger, nil)
	if err != nil {
		r.exec.Shutdown()
		return err
	}
	r.root = root
	r.logger.Info().Msg("runtime started")
	return nil
}

// Stop gracefully stops the supervision tree, then shuts the executor
// down. Procs still queued at that point run their completion hooks with
// a shutting down marker.
func (r *Runtime) Stop() {
	if !r.started.Load() || !r.stopped.CompareAndSwap(false, true) {
		return
	}
	if err := r.root.Ref().Stop(); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		for r.root.State() != supervisor.Stopped {
			if ctx.Err() != nil {
				r.logger.Warn().Msg("stop grace elapsed, forcing shutdown")
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	r.exec.Shutdown()
	r.logger.Info().Msg("runtime stopped")
}

// Supervisor attaches a supervisor declared by spec under the root.
func (r *Runtime) Supervisor(spec supervisor.Spec) (supervisor.Ref, error) {
	if err := r.ready(); err != nil {
		return supervisor.Ref{}, err
	}
	return r.root.StartSupervisor(spec)
}

// Children attaches a top level children group under the root.
func (r *Runtime) Children(spec children.Spec) (children.GroupRef, error) {
	if err := r.ready(); err != nil {
		return children.GroupRef{}, err
	}
	return r.root.StartChildren(spec)
}

// Broadcast fans msg out to every child of every group in the tree.
func (r *Runtime) Broadcast(msg interface{}) (children.BroadcastResult, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.root.Ref().Broadcast(msg)
}

// Tell routes a message to whatever currently lives at path.
func (r *Runtime) Tell(path string, msg interface{}) error {
	if err := r.ready(); err != nil {
		return err
	}
	entry, err := r.reg.Lookup(registry.PathOf(path))
	if err != nil {
		return err
	}
	return entry.Inbox.Push(children.Envelope{Msg: msg})
}

// Ask routes a message to path and awaits the reply. A zero timeout waits
// forever.
func (r *Runtime) Ask(path string, msg interface{}, timeout time.Duration) (interface{}, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	entry, err := r.reg.Lookup(registry.PathOf(path))
	if err != nil {
		return nil, err
	}
	reply := children.NewReply()
	if err := entry.Inbox.Push(children.Envelope{Msg: msg, ReplyTo: reply}); err != nil {
		return nil, err
	}
	return reply.Await(timeout)
}

// Executor exposes the underlying pool, for spawning plain procs and
// blocking work next to the supervision tree.
func (r *Runtime) Executor() *executor.Executor {
	return r.exec
}

// Registry exposes the path registry.
func (r *Runtime) Registry() *registry.Registry {
	return r.reg
}

// Root returns the root supervisor's reference.
func (r *Runtime) Root() supervisor.Ref {
	return r.root.Ref()
}

func (r *Runtime) ready() error {
	if !r.started.Load() || r.stopped.Load() {
		return errors.ErrShuttingDown
	}
	return nil
}
