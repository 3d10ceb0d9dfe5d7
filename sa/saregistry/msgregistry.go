package saregistry

import (
	"fmt"
	"sync"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// ErrNoSigner is returned by [*MsgRegistry.PutMsg] for a message without a signer.
var ErrNoSigner = saconsensus.ErrNoSigner

// SignerAlreadyEnqueuedError is returned by [*MsgRegistry.PutMsg]
// when the signer already has a message queued for the same round and step.
type SignerAlreadyEnqueuedError struct {
	Signer gcrypto.PubKey
	Round  uint64
	Step   uint16
}

func (e SignerAlreadyEnqueuedError) Error() string {
	return fmt.Sprintf(
		"signer %x already has a message enqueued for round %d step %d",
		e.Signer.PubKeyBytes(), e.Round, e.Step,
	)
}

type roundStep struct {
	Round uint64
	Step  uint16
}

type stepQueue struct {
	msgs    []saconsensus.Message
	signers map[string]struct{}
}

// MsgRegistry holds messages that arrived before their step,
// keyed by round and step index, with at most one message per signer in each slot.
//
// MsgRegistry is safe for concurrent use.
type MsgRegistry struct {
	mu     sync.Mutex
	queues map[roundStep]*stepQueue
}

func NewMsgRegistry() *MsgRegistry {
	return &MsgRegistry{
		queues: make(map[roundStep]*stepQueue),
	}
}

// PutMsg enqueues msg under its round and step.
func (r *MsgRegistry) PutMsg(msg saconsensus.Message) error {
	if msg.Signer == nil {
		return ErrNoSigner
	}

	key := roundStep{Round: msg.Header.Round, Step: msg.Step()}
	id := gcrypto.KeyID(msg.Signer)

	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.queues[key]
	if q == nil {
		q = &stepQueue{signers: make(map[string]struct{})}
		r.queues[key] = q
	}

	if _, ok := q.signers[id]; ok {
		return SignerAlreadyEnqueuedError{Signer: msg.Signer, Round: key.Round, Step: key.Step}
	}

	q.signers[id] = struct{}{}
	q.msgs = append(q.msgs, msg)
	return nil
}

// DrainMsgByRoundStep removes and returns every message queued for round and step,
// in insertion order.
// It returns nil if nothing was queued.
func (r *MsgRegistry) DrainMsgByRoundStep(round uint64, step uint16) []saconsensus.Message {
	key := roundStep{Round: round, Step: step}

	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.queues[key]
	if q == nil {
		return nil
	}
	delete(r.queues, key)
	return q.msgs
}

// RemoveBefore discards every queued message for rounds earlier than round,
// and returns how many were discarded.
func (r *MsgRegistry) RemoveBefore(round uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, q := range r.queues {
		if k.Round < round {
			n += len(q.msgs)
			delete(r.queues, k)
		}
	}
	return n
}

// Len returns the total number of queued messages.
func (r *MsgRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, q := range r.queues {
		n += len(q.msgs)
	}
	return n
}

// Counts returns the number of queued messages per round and step index.
func (r *MsgRegistry) Counts() map[uint64]map[uint16]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uint64]map[uint16]int)
	for k, q := range r.queues {
		if out[k.Round] == nil {
			out[k.Round] = make(map[uint16]int)
		}
		out[k.Round][k.Step] = len(q.msgs)
	}
	return out
}
