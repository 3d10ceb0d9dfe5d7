// Package sastore contains the persistence interfaces for the gsa tree.
package sastore

import (
	"context"
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saregistry"
)

// AttestationStore persists the Fail attestations of each round,
// so that a restarted node can restore the trailing iterations
// it had already seen fail.
type AttestationStore interface {
	// SaveFailAttestation stores att for the given round and iteration.
	// If an attestation already exists for that iteration,
	// it returns an [AttestationExistsError] and the stored value is unchanged.
	SaveFailAttestation(
		ctx context.Context,
		round uint64, iteration uint8,
		att saconsensus.Attestation, generator gcrypto.PubKey,
	) error

	// LoadFailAttestations returns every attestation stored for round.
	// A round with no attestations returns an empty map and a nil error.
	LoadFailAttestations(ctx context.Context, round uint64) (map[uint8]saregistry.StoredAttestation, error)

	// PruneBefore deletes the attestations of every round earlier than round.
	PruneBefore(ctx context.Context, round uint64) error
}

// AttestationExistsError is returned when saving a second attestation for an iteration.
type AttestationExistsError struct {
	Round     uint64
	Iteration uint8
}

func (e AttestationExistsError) Error() string {
	return fmt.Sprintf("attestation already stored for round %d iteration %d", e.Round, e.Iteration)
}
