package saconsensus

import (
	"time"

	"github.com/gordian-engine/gsa/gcrypto"
)

// RoundUpdate is the immutable snapshot of a round,
// taken when the round begins.
type RoundUpdate struct {
	Round         uint64
	PrevBlockHash Hash

	// Seed feeds committee sortition for every iteration of the round.
	Seed []byte

	Timestamp time.Time

	// PubKey is the local provisioner identity.
	PubKey gcrypto.PubKey

	// Signer signs the local provisioner's messages.
	// It is nil on a node that only observes consensus.
	Signer gcrypto.Signer
}

// Header returns the message header for iteration within ru.
func (ru RoundUpdate) Header(iteration uint8) Header {
	return Header{
		Round:         ru.Round,
		Iteration:     iteration,
		PrevBlockHash: ru.PrevBlockHash,
	}
}
