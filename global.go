package goproc

import (
	"sync"
	"time"

	"github.com/hedisam/goproc/children"
	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/supervisor"
)

// the package level API is a convenience layer over one default Runtime.
// Prefer passing a Runtime value explicitly; this exists for small
// programs and examples.
var defaultRuntime struct {
	sync.Mutex
	rt *Runtime
}

// Init prepares the default runtime with the given config. Calling Start
// without Init uses DefaultConfig.
func Init(cfg Config) {
	defaultRuntime.Lock()
	defer defaultRuntime.Unlock()
	defaultRuntime.rt = New(cfg)
}

// Start starts the default runtime.
func Start() error {
	defaultRuntime.Lock()
	if defaultRuntime.rt == nil {
		defaultRuntime.rt = New(DefaultConfig())
	}
	rt := defaultRuntime.rt
	defaultRuntime.Unlock()
	return rt.Start()
}

// Stop stops the default runtime and forgets it, a later Start builds a
// fresh one.
func Stop() {
	defaultRuntime.Lock()
	rt := defaultRuntime.rt
	defaultRuntime.rt = nil
	defaultRuntime.Unlock()
	if rt != nil {
		rt.Stop()
	}
}

func current() (*Runtime, error) {
	defaultRuntime.Lock()
	defer defaultRuntime.Unlock()
	if defaultRuntime.rt == nil {
		return nil, errors.ErrShuttingDown
	}
	return defaultRuntime.rt, nil
}

// Children attaches a children group to the default runtime's root.
func Children(spec children.Spec) (children.GroupRef, error) {
	rt, err := current()
	if err != nil {
		return children.GroupRef{}, err
	}
	return rt.Children(spec)
}

// Supervisor attaches a supervisor to the default runtime's root.
func Supervisor(spec supervisor.Spec) (supervisor.Ref, error) {
	rt, err := current()
	if err != nil {
		return supervisor.Ref{}, err
	}
	return rt.Supervisor(spec)
}

// Broadcast fans msg out through the default runtime's tree.
func Broadcast(msg interface{}) (children.BroadcastResult, error) {
	rt, err := current()
	if err != nil {
		return nil, err
	}
	return rt.Broadcast(msg)
}

// Tell routes a message by path through the default runtime.
func Tell(path string, msg interface{}) error {
	rt, err := current()
	if err != nil {
		return err
	}
	return rt.Tell(path, msg)
}

// Ask routes a message by path and awaits the reply.
func Ask(path string, msg interface{}, timeout time.Duration) (interface{}, error) {
	rt, err := current()
	if err != nil {
		return nil, err
	}
	return rt.Ask(path, msg, timeout)
}
