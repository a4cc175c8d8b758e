package goproc

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// NodeID names a cluster peer.
type NodeID string

// RemoteEnvelope is the wire form of a message crossing hosts. The
// distributed layer owns serialization, the core only routes by path.
type RemoteEnvelope struct {
	// Path of the recipient on the destination node
	Path string
	// Sender path on the origin node
	Sender string
	Msg    interface{}
}

// ClusterTransport is the boundary to the cluster layer. The core consumes
// it when attached: inbound envelopes are delivered to the local registry
// by path, at most once, with no ordering across distinct senders.
type ClusterTransport interface {
	Send(node NodeID, env RemoteEnvelope) error
	// Recv blocks for the next inbound envelope and returns an error once
	// the transport is closed.
	Recv() (RemoteEnvelope, error)
}

// AttachCluster starts pumping inbound envelopes from the transport into
// the local tree. It returns immediately; the pump stops when the
// transport's Recv fails or ctx is cancelled.
func (r *Runtime) AttachCluster(ctx context.Context, transport ClusterTransport) error {
	if err := r.ready(); err != nil {
		return err
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			env, err := transport.Recv()
			if err != nil {
				return err
			}
			if err := r.Tell(env.Path, env.Msg); err != nil {
				// undeliverable remote messages are dropped, at most once
				// delivery makes that the only honest option
				r.logger.Debug().Err(err).Str("path", env.Path).Msg("dropped remote envelope")
			}
		}
	})
	go func() {
		if err := eg.Wait(); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("cluster pump stopped")
		}
	}()
	return nil
}
