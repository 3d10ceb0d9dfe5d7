package saconsensus

import (
	"context"
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto"
)

// Header is the common routing information of every consensus message.
type Header struct {
	Round         uint64
	Iteration     uint8
	PrevBlockHash Hash
}

// Topic identifies the payload kind of a [Message].
type Topic uint8

const (
	TopicUnknown Topic = iota
	TopicCandidate
	TopicValidation
	TopicRatification
	TopicValidationQuorum
	TopicQuorum

	// TopicValidationResult is never sent over the network.
	// Validation handlers return it to hand their result to the Ratification step.
	TopicValidationResult
)

func (t Topic) String() string {
	switch t {
	case TopicUnknown:
		return "Unknown"
	case TopicCandidate:
		return "Candidate"
	case TopicValidation:
		return "Validation"
	case TopicRatification:
		return "Ratification"
	case TopicValidationQuorum:
		return "ValidationQuorum"
	case TopicQuorum:
		return "Quorum"
	case TopicValidationResult:
		return "ValidationResult"
	default:
		return fmt.Sprintf("Topic(%d)", uint8(t))
	}
}

// StepName returns the step kind a message of topic t belongs to.
func (t Topic) StepName() StepName {
	switch t {
	case TopicValidation, TopicValidationQuorum, TopicValidationResult:
		return StepValidation
	case TopicRatification, TopicQuorum:
		return StepRatification
	default:
		return StepProposal
	}
}

// Payload is the closed set of message bodies:
// [Candidate], [Validation], [Ratification], [ValidationQuorum], [Quorum], and [ValidationResult].
type Payload interface {
	Topic() Topic

	isPayload()
}

// Message is a signed consensus message.
// Messages are treated as immutable values once created.
//
// The zero Message, with a nil Payload, is the empty sentinel
// returned by a step that ended without a result.
type Message struct {
	Header Header

	// Signer is nil for messages synthesized locally,
	// such as validation results or quorums.
	Signer    gcrypto.PubKey
	Signature []byte

	Payload Payload
}

// IsEmpty reports whether m is the empty sentinel.
func (m Message) IsEmpty() bool {
	return m.Payload == nil
}

func (m Message) Topic() Topic {
	if m.Payload == nil {
		return TopicUnknown
	}
	return m.Payload.Topic()
}

// StepName returns the kind of step m belongs to.
func (m Message) StepName() StepName {
	return m.Topic().StepName()
}

// Step returns the round-global step index of m.
func (m Message) Step() uint16 {
	return m.StepName().ToStep(m.Header.Iteration)
}

// SignBytes returns the bytes covered by m's signature,
// or nil if m's topic is not individually signed.
func (m Message) SignBytes() []byte {
	switch p := m.Payload.(type) {
	case Candidate:
		h := p.Block.Hash()
		return signBytes(m.Header, TopicCandidate, VoteKind(0), h)
	case Validation:
		return VoteSignBytes(m.Header, TopicValidation, p.Vote)
	case Ratification:
		return VoteSignBytes(m.Header, TopicRatification, p.Vote)
	default:
		return nil
	}
}

// Sign returns a copy of m signed by signer.
func Sign(ctx context.Context, signer gcrypto.Signer, m Message) (Message, error) {
	b := m.SignBytes()
	if b == nil {
		return Message{}, fmt.Errorf("messages with topic %s are not signed", m.Topic())
	}

	sig, err := signer.Sign(ctx, b)
	if err != nil {
		return Message{}, fmt.Errorf("failed to sign %s message: %w", m.Topic(), err)
	}

	m.Signer = signer.PubKey()
	m.Signature = sig
	return m, nil
}

// VerifySignature checks m's signature against its signer.
func (m Message) VerifySignature() error {
	if m.Signer == nil {
		return ErrNoSigner
	}
	b := m.SignBytes()
	if b == nil {
		return fmt.Errorf("messages with topic %s are not signed", m.Topic())
	}
	if !m.Signer.Verify(b, m.Signature) {
		return gcrypto.ErrInvalidSignature
	}
	return nil
}

func (m Message) String() string {
	if m.IsEmpty() {
		return "Message(empty)"
	}
	return fmt.Sprintf("%s(round=%d iter=%d)", m.Topic(), m.Header.Round, m.Header.Iteration)
}
