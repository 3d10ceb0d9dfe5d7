// Package sajson is a JSON [sacodec.MarshalCodec].
//
// Public keys are encoded through a [*gcrypto.Registry],
// so the set of supported key types is decided at runtime.
package sajson

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

type MarshalCodec struct {
	CryptoRegistry *gcrypto.Registry
}

func (c MarshalCodec) MarshalMessage(m saconsensus.Message) ([]byte, error) {
	jm, err := c.toJSONMessage(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jm)
}

func (c MarshalCodec) UnmarshalMessage(b []byte, m *saconsensus.Message) error {
	var jm jsonMessage
	if err := json.Unmarshal(b, &jm); err != nil {
		return err
	}
	return c.fromJSONMessage(jm, m)
}

func (c MarshalCodec) MarshalAttestation(a saconsensus.Attestation) ([]byte, error) {
	return json.Marshal(a)
}

func (c MarshalCodec) UnmarshalAttestation(b []byte, a *saconsensus.Attestation) error {
	return json.Unmarshal(b, a)
}

type jsonMessage struct {
	Header saconsensus.Header

	Signer    []byte `json:",omitempty"`
	Signature []byte `json:",omitempty"`

	Topic   saconsensus.Topic
	Payload json.RawMessage
}

type jsonBlock struct {
	Height        uint64
	Iteration     uint8
	PrevBlockHash saconsensus.Hash
	Timestamp     int64
	Seed          []byte
	TxRoot        saconsensus.Hash

	Generator []byte

	Txs [][]byte
}

func (c MarshalCodec) toJSONMessage(m saconsensus.Message) (jsonMessage, error) {
	jm := jsonMessage{
		Header:    m.Header,
		Signature: m.Signature,
		Topic:     m.Topic(),
	}
	if m.Signer != nil {
		jm.Signer = c.CryptoRegistry.Marshal(m.Signer)
	}

	var (
		payload []byte
		err     error
	)
	switch p := m.Payload.(type) {
	case saconsensus.Candidate:
		jb := jsonBlock{
			Height:        p.Block.Header.Height,
			Iteration:     p.Block.Header.Iteration,
			PrevBlockHash: p.Block.Header.PrevBlockHash,
			Timestamp:     p.Block.Header.Timestamp,
			Seed:          p.Block.Header.Seed,
			TxRoot:        p.Block.Header.TxRoot,
			Txs:           p.Block.Txs,
		}
		if p.Block.Header.Generator != nil {
			jb.Generator = c.CryptoRegistry.Marshal(p.Block.Header.Generator)
		}
		payload, err = json.Marshal(jb)
	case saconsensus.Validation, saconsensus.Ratification, saconsensus.ValidationQuorum,
		saconsensus.Quorum, saconsensus.ValidationResult:
		payload, err = json.Marshal(p)
	case nil:
		return jm, errors.New("cannot marshal message without payload")
	default:
		return jm, fmt.Errorf("unknown payload type %T", p)
	}
	if err != nil {
		return jm, fmt.Errorf("failed to marshal %s payload: %w", jm.Topic, err)
	}

	jm.Payload = payload
	return jm, nil
}

func (c MarshalCodec) fromJSONMessage(jm jsonMessage, m *saconsensus.Message) error {
	m.Header = jm.Header
	m.Signature = jm.Signature
	m.Signer = nil
	if len(jm.Signer) > 0 {
		pk, err := c.CryptoRegistry.Unmarshal(jm.Signer)
		if err != nil {
			return fmt.Errorf("failed to unmarshal signer: %w", err)
		}
		m.Signer = pk
	}

	var err error
	switch jm.Topic {
	case saconsensus.TopicCandidate:
		var jb jsonBlock
		if err = json.Unmarshal(jm.Payload, &jb); err != nil {
			break
		}
		b := saconsensus.Block{
			Header: saconsensus.BlockHeader{
				Height:        jb.Height,
				Iteration:     jb.Iteration,
				PrevBlockHash: jb.PrevBlockHash,
				Timestamp:     jb.Timestamp,
				Seed:          jb.Seed,
				TxRoot:        jb.TxRoot,
			},
			Txs: jb.Txs,
		}
		if len(jb.Generator) > 0 {
			b.Header.Generator, err = c.CryptoRegistry.Unmarshal(jb.Generator)
			if err != nil {
				return fmt.Errorf("failed to unmarshal block generator: %w", err)
			}
		}
		m.Payload = saconsensus.Candidate{Block: b}
	case saconsensus.TopicValidation:
		m.Payload, err = decode[saconsensus.Validation](jm.Payload)
	case saconsensus.TopicRatification:
		m.Payload, err = decode[saconsensus.Ratification](jm.Payload)
	case saconsensus.TopicValidationQuorum:
		m.Payload, err = decode[saconsensus.ValidationQuorum](jm.Payload)
	case saconsensus.TopicQuorum:
		m.Payload, err = decode[saconsensus.Quorum](jm.Payload)
	case saconsensus.TopicValidationResult:
		m.Payload, err = decode[saconsensus.ValidationResult](jm.Payload)
	default:
		return fmt.Errorf("unknown topic %s", jm.Topic)
	}
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", jm.Topic, err)
	}
	return nil
}

func decode[P saconsensus.Payload](b []byte) (saconsensus.Payload, error) {
	var p P
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return p, nil
}
