package salibp2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saqueue"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// TopicConsensus is the gossipsub topic carrying every consensus message.
const TopicConsensus = "gsa/consensus/v1"

// Connection bridges the consensus topic and a pair of message queues.
//
// Messages received on Outbound are published to the topic.
// Messages published by other peers are decoded and offered to Inbound;
// when Inbound is full, they are dropped.
type Connection struct {
	log *slog.Logger

	codec sacodec.MarshalCodec

	h *Host

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	inbound, outbound *saqueue.Queue

	cancel context.CancelFunc
	wg     sync.WaitGroup

	disconnectOnce sync.Once
	disconnected   chan struct{}
}

// NewConnection joins the consensus topic on h
// and starts bridging it to inbound and outbound.
func NewConnection(
	ctx context.Context,
	log *slog.Logger,
	h *Host,
	codec sacodec.MarshalCodec,
	inbound, outbound *saqueue.Queue,
) (*Connection, error) {
	ps := h.PubSub()

	c := &Connection{
		log: log,

		codec: codec,

		h: h,

		inbound:  inbound,
		outbound: outbound,

		disconnected: make(chan struct{}),
	}

	// The validator is registered before joining,
	// so no message reaches the subscription undecoded.
	if err := ps.RegisterTopicValidator(TopicConsensus, c.validate); err != nil {
		return nil, fmt.Errorf("failed to register consensus topic validator: %w", err)
	}

	topic, err := ps.Join(TopicConsensus)
	if err != nil {
		return nil, fmt.Errorf("failed to join consensus topic: %w", err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to consensus topic: %w", err)
	}

	c.topic = topic
	c.sub = sub

	if err := waitForSubscriptions(ctx, ps, TopicConsensus); err != nil {
		sub.Cancel()
		return nil, err
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.publishOutbound(ctx)
	go c.receive(ctx)

	return c, nil
}

// validate decodes every message on the topic,
// so that only well-formed messages propagate.
// The decoded message is kept as the pubsub validator data.
func (c *Connection) validate(_ context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	if from == c.h.Libp2pHost().ID() {
		// Our own message; the engine has already accepted it.
		return pubsub.ValidationAccept
	}

	var m saconsensus.Message
	if err := c.codec.UnmarshalMessage(msg.Data, &m); err != nil {
		c.log.Debug("Rejecting undecodable consensus message", "from", from, "err", err)
		return pubsub.ValidationReject
	}

	switch m.Topic() {
	case saconsensus.TopicCandidate, saconsensus.TopicValidation, saconsensus.TopicRatification:
		if err := m.VerifySignature(); err != nil {
			c.log.Debug("Rejecting consensus message with bad signature", "from", from, "msg", m, "err", err)
			return pubsub.ValidationReject
		}
	case saconsensus.TopicValidationQuorum, saconsensus.TopicQuorum:
		// Step votes are verified against the committee by the phase handlers.
	default:
		c.log.Debug("Rejecting consensus message with local-only topic", "from", from, "topic", m.Topic())
		return pubsub.ValidationReject
	}

	msg.ValidatorData = m
	return pubsub.ValidationAccept
}

func (c *Connection) publishOutbound(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.outbound.Closed():
			c.log.Info("Outbound queue closed; no longer publishing")
			return

		case m := <-c.outbound.C():
			b, err := c.codec.MarshalMessage(m)
			if err != nil {
				c.log.Warn("Failed to marshal outbound message; cannot publish", "msg", m, "err", err)
				continue
			}

			if err := c.topic.Publish(ctx, b); err != nil {
				c.log.Warn("Failed to publish consensus message", "msg", m, "err", err)
			}
		}
	}
}

func (c *Connection) receive(ctx context.Context) {
	defer c.wg.Done()

	self := c.h.Libp2pHost().ID()
	for {
		pm, err := c.sub.Next(ctx)
		if err != nil {
			// Context cancellation or subscription cancellation.
			if !errors.Is(err, context.Canceled) && !errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				c.log.Info("Quitting consensus subscription due to error", "err", err)
			}
			return
		}

		if pm.ReceivedFrom == self {
			continue
		}

		m, ok := pm.ValidatorData.(saconsensus.Message)
		if !ok {
			c.log.Error("BUG: consensus message missing validator data", "from", pm.ReceivedFrom)
			continue
		}

		if !c.inbound.TrySend(m) {
			c.log.Debug("Dropped inbound consensus message on full queue", "msg", m)
		}
	}
}

// Host returns c's underlying Host.
func (c *Connection) Host() *Host {
	return c.h
}

// TopicPeers returns the peers known to be subscribed to the consensus topic.
func (c *Connection) TopicPeers() []peer.ID {
	return c.topic.ListPeers()
}

// Disconnect stops the background goroutines, leaves the topic,
// and closes the host.
func (c *Connection) Disconnect() {
	c.disconnectOnce.Do(func() {
		c.cancel()

		_ = c.h.PubSub().UnregisterTopicValidator(TopicConsensus)

		c.sub.Cancel()
		c.wg.Wait()

		if err := c.topic.Close(); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Info("Error closing consensus topic during disconnect", "err", err)
		}

		if err := c.h.Close(); err != nil {
			c.log.Info("Error closing connection host", "err", err)
		}

		close(c.disconnected)
	})
}

// Disconnected returns a channel that is closed
// once Disconnect has completed.
func (c *Connection) Disconnected() <-chan struct{} {
	return c.disconnected
}

// waitForSubscriptions polls ps until it reports every topic in topics.
// There is no synchronous notification for a ready subscription.
func waitForSubscriptions(ctx context.Context, ps *pubsub.PubSub, topics ...string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var have []string
	for {
		have = ps.GetTopics()
		if containsAll(have, topics) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf(
				"not all subscriptions ready: have: %s; want: %s: %w",
				strings.Join(have, ", "),
				strings.Join(topics, ", "),
				context.Cause(ctx),
			)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func containsAll(have, want []string) bool {
	for _, t := range want {
		if !slices.Contains(have, t) {
			return false
		}
	}
	return true
}
