// Package salibp2p carries consensus messages over a libp2p gossipsub topic.
package salibp2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Host is a libp2p host and a pubsub connection.
type Host struct {
	h p2phost.Host

	ps *pubsub.PubSub
}

// HostOptions holds libp2p configuration for the host and pubsub value.
type HostOptions struct {
	// Options are passed to libp2p.New.
	Options []libp2p.Option

	// PubSubOptions are passed to pubsub.NewGossipSub.
	PubSubOptions []pubsub.Option
}

func NewHost(ctx context.Context, opts HostOptions) (*Host, error) {
	h, err := libp2p.New(opts.Options...)
	if err != nil {
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h, opts.PubSubOptions...)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	return &Host{
		h:  h,
		ps: ps,
	}, nil
}

// Libp2pHost returns the underlying libp2p host value.
func (h *Host) Libp2pHost() p2phost.Host {
	return h.h
}

// PubSub returns the underlying libp2p pubsub value.
func (h *Host) PubSub() *pubsub.PubSub {
	return h.ps
}

// P2PAddrs returns h's listen addresses with its peer ID appended,
// in the form accepted by [*Host.Connect].
func (h *Host) P2PAddrs() ([]ma.Multiaddr, error) {
	id, err := ma.NewComponent("p2p", h.h.ID().String())
	if err != nil {
		return nil, fmt.Errorf("failed to build p2p component: %w", err)
	}

	listen := h.h.Addrs()
	out := make([]ma.Multiaddr, len(listen))
	for i, a := range listen {
		out[i] = a.Encapsulate(id)
	}
	return out, nil
}

// Connect dials every remote address in addrs,
// each of which must include a /p2p/ peer ID component.
func (h *Host) Connect(ctx context.Context, addrs ...string) error {
	for _, s := range addrs {
		maddr, err := ma.NewMultiaddr(s)
		if err != nil {
			return fmt.Errorf("failed to parse multiaddr %q: %w", s, err)
		}

		ai, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return fmt.Errorf("failed to get peer info from %q: %w", s, err)
		}

		if err := h.h.Connect(ctx, *ai); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", ai.ID, err)
		}
	}
	return nil
}

// Close closes the underlying libp2p host and returns its error.
func (h *Host) Close() error {
	return h.h.Close()
}
