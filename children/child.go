package children

import (
	"sync/atomic"

	"github.com/hedisam/goproc/errors"
	"github.com/hedisam/goproc/internal/mailbox"
	"github.com/hedisam/goproc/proc"
	"github.com/hedisam/goproc/registry"
	"github.com/hedisam/goproc/sysmsg"
)

// childSlot is one supervised element of a group: a mailbox pair, the
// executing proc and a generation counter. The slot survives restarts, the
// proc doesn't.
type childSlot struct {
	idx  int
	path registry.Path
	gen  atomic.Uint64
	// userq carries envelopes and is preserved across restarts by default.
	// sysq carries supervision commands and is drained at respawn so a
	// stale kill can't leak into the next incarnation.
	userq  mailbox.Mailbox
	sysq   mailbox.Mailbox
	handle *proc.Handle
	alive  atomic.Bool
	// cur is the envelope being handled. Only the child's poll and its
	// terminal hooks touch it, both run on the proc's worker.
	cur *Envelope
	// pendingRestart marks a slot stopped by a strategy, its down event
	// triggers the respawn
	pendingRestart bool
}

// inboxAdapter is what the slot registers as its path's inbox: system
// messages route to the command queue, everything else to the user queue.
type inboxAdapter struct {
	slot *childSlot
}

func (a inboxAdapter) Push(msg interface{}) error {
	if _, ok := msg.(sysmsg.SystemMessage); ok {
		return a.slot.sysq.Push(msg)
	}
	return a.slot.userq.Push(msg)
}

// spawnChild starts a fresh incarnation of the slot at its current generation.
func (g *Group) spawnChild(c *childSlot, restarted bool) error {
	gen := c.gen.Load()
	if c.sysq == nil {
		c.sysq = mailbox.Unbounded()
	} else {
		// a stale command aimed at the previous incarnation must not leak
		// into this one
		c.sysq.DrainAll()
	}
	c.cur = nil

	var handler Handler
	inited := false
	stopping := false
	cctx := &Context{group: g, path: c.path, gen: gen}

	pollFn := func(ctx *proc.Context) proc.Poll {
		if !inited {
			// wire the waker before touching the queues so a push racing
			// this poll can't be stranded
			wake := ctx.Waker()
			c.userq.SetWaker(wake)
			c.sysq.SetWaker(wake)
			h, err := g.spec.Init()
			if err != nil {
				return proc.Fail(err)
			}
			handler = h
			inited = true
		}
		for {
			if ctx.Cancelled() {
				return ctx.Yield()
			}
			if msg, ok := c.sysq.TryPop(); ok {
				switch msg.(type) {
				case sysmsg.Stop:
					// keep draining the user queue, terminate once empty
					stopping = true
				case sysmsg.Kill:
					return proc.Done(sysmsg.KillReason)
				}
				continue
			}
			msg, ok := c.userq.TryPop()
			if !ok {
				if stopping {
					return proc.Done(sysmsg.Normal)
				}
				return proc.Pending()
			}
			env, isEnv := msg.(Envelope)
			if !isEnv {
				continue
			}
			c.cur = &env
			cctx.env = &env
			err := handler(cctx, env.Msg)
			cctx.env = nil
			c.cur = nil
			if err != nil {
				if env.ReplyTo != nil {
					env.ReplyTo.fail(errors.ErrRecipientFailed)
				}
				return proc.Fail(err)
			}
			if env.ReplyTo != nil {
				// resolves only when the handler never replied
				env.ReplyTo.fail(errors.ErrNoReply)
			}
		}
	}

	stack := proc.NewStack().
		WithAfterPanic(func(_ *proc.Stack, payload string) {
			if c.cur != nil && c.cur.ReplyTo != nil {
				c.cur.ReplyTo.fail(errors.ErrRecipientFailed)
			}
			c.alive.Store(false)
			_ = g.events.Push(childFault{
				idx:    c.idx,
				gen:    gen,
				reason: sysmsg.Reason{Type: sysmsg.Panic, Details: payload},
			})
		}).
		WithAfterComplete(func(_ *proc.Stack, result interface{}) {
			c.alive.Store(false)
			switch r := result.(type) {
			case error:
				// escaped handler error or failed init
				_ = g.events.Push(childFault{
					idx:    c.idx,
					gen:    gen,
					reason: sysmsg.Reason{Type: sysmsg.Errored, Details: r},
				})
			case proc.Cancelled:
				_ = g.events.Push(childDown{idx: c.idx, gen: gen})
			case proc.ShuttingDown:
				// executor is going away, nothing to route
			default:
				_ = g.events.Push(childStopped{idx: c.idx, gen: gen})
			}
		})
	if restarted {
		stack = stack.Restarted()
	}

	handle, err := g.exec.Spawn(pollFn, stack)
	if err != nil {
		return err
	}
	c.handle = handle
	c.alive.Store(true)
	c.pendingRestart = false
	g.reg.Register(c.path, gen, inboxAdapter{slot: c})
	return nil
}

// Context is handed to a child's handler with every message.
type Context struct {
	group *Group
	path  registry.Path
	gen   uint64
	env   *Envelope
}

// Reply resolves the ask behind the current message. It reports false for
// a tell, a second reply, or an asker that already gave up.
func (c *Context) Reply(value interface{}) bool {
	if c.env == nil || c.env.ReplyTo == nil {
		return false
	}
	return c.env.ReplyTo.Send(value)
}

// Sender is the path of the current message's origin, the zero Path for
// anonymous senders.
func (c *Context) Sender() registry.Path {
	if c.env == nil {
		return registry.Path{}
	}
	return c.env.Sender
}

// Self returns a reference to this child. Sends through it always enqueue,
// a child asking itself must not block on the reply inside its handler.
func (c *Context) Self() Ref {
	return Ref{reg: c.group.reg, path: c.path, gen: c.gen}
}

func (c *Context) Path() registry.Path {
	return c.path
}

func (c *Context) Generation() uint64 {
	return c.gen
}
