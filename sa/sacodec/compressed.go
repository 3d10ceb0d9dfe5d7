package sacodec

import (
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

const (
	uncompressedHeader byte = 0
	snappyHeader       byte = 1
)

// CompressedCodec wraps another [MarshalCodec],
// snappy-compressing its output whenever that saves space.
//
// Every encoded value starts with a header byte:
// 0 for uncompressed data, 1 for a snappy block.
type CompressedCodec struct {
	Inner MarshalCodec
}

func (c CompressedCodec) MarshalMessage(m saconsensus.Message) ([]byte, error) {
	b, err := c.Inner.MarshalMessage(m)
	if err != nil {
		return nil, err
	}
	return compress(b), nil
}

func (c CompressedCodec) UnmarshalMessage(b []byte, m *saconsensus.Message) error {
	raw, err := decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalMessage(raw, m)
}

func (c CompressedCodec) MarshalAttestation(a saconsensus.Attestation) ([]byte, error) {
	b, err := c.Inner.MarshalAttestation(a)
	if err != nil {
		return nil, err
	}
	return compress(b), nil
}

func (c CompressedCodec) UnmarshalAttestation(b []byte, a *saconsensus.Attestation) error {
	raw, err := decompress(b)
	if err != nil {
		return err
	}
	return c.Inner.UnmarshalAttestation(raw, a)
}

func compress(b []byte) []byte {
	if c := snappy.Encode(nil, b); len(c) < len(b) {
		return append([]byte{snappyHeader}, c...)
	}
	return append([]byte{uncompressedHeader}, b...)
}

func decompress(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("missing compression header")
	}

	switch b[0] {
	case uncompressedHeader:
		return b[1:], nil
	case snappyHeader:
		raw, err := snappy.Decode(nil, b[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to decompress: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown compression header %d", b[0])
	}
}
