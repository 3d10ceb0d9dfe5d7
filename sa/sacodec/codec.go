// Package sacodec defines how consensus values are serialized
// for the network and for persistent storage.
package sacodec

import (
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Marshaler serializes consensus values to byte slices.
type Marshaler interface {
	MarshalMessage(saconsensus.Message) ([]byte, error)
	MarshalAttestation(saconsensus.Attestation) ([]byte, error)
}

// Unmarshaler deserializes byte slices into consensus values.
type Unmarshaler interface {
	UnmarshalMessage([]byte, *saconsensus.Message) error
	UnmarshalAttestation([]byte, *saconsensus.Attestation) error
}

// MarshalCodec marshals and unmarshals consensus values.
type MarshalCodec interface {
	Marshaler
	Unmarshaler
}
