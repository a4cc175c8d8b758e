// Package goproc is a fault-tolerant actor runtime: a hierarchical
// supervision tree layered over a work-stealing SMP executor running
// lightweight processes with lifecycle hooks.
//
// A Runtime ties the pieces together: the executor workers, the path
// registry and a root supervisor everything else hangs off. Children
// groups declare n identical children behind a dispatcher; supervisors
// declare groups and nested supervisors with a restart strategy. Messages
// move through bounded per child mailboxes with tell, ask and broadcast,
// delivered at most once.
//
//	rt := goproc.New(goproc.DefaultConfig())
//	rt.Start()
//	defer rt.Stop()
//
//	grp, _ := rt.Children(children.NewSpec(func() (children.Handler, error) {
//		return func(ctx *children.Context, msg interface{}) error {
//			if msg == "ping" {
//				ctx.Reply("pong")
//			}
//			return nil
//		}, nil
//	}).WithRedundancy(4))
//
//	reply, _ := grp.Ask("ping", time.Second)
package goproc
