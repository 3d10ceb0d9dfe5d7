package saconsensus

import (
	"encoding/binary"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/zeebo/blake3"
)

// BlockHeader is the part of a block that provisioners vote on.
type BlockHeader struct {
	Height        uint64
	Iteration     uint8
	PrevBlockHash Hash
	Timestamp     int64
	Seed          []byte
	TxRoot        Hash

	Generator gcrypto.PubKey
}

// Block is a candidate block.
// Transaction contents are opaque to consensus.
type Block struct {
	Header BlockHeader
	Txs    [][]byte
}

// Hash returns the block hash, which commits to every header field.
func (b Block) Hash() Hash {
	h := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], b.Header.Height)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte{b.Header.Iteration})
	_, _ = h.Write(b.Header.PrevBlockHash[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Header.Timestamp))
	_, _ = h.Write(buf[:])
	writeLenPrefixed(h, b.Header.Seed)
	_, _ = h.Write(b.Header.TxRoot[:])
	if b.Header.Generator != nil {
		writeLenPrefixed(h, b.Header.Generator.PubKeyBytes())
	} else {
		writeLenPrefixed(h, nil)
	}

	var out Hash
	h.Sum(out[:0])
	return out
}

func writeLenPrefixed(h *blake3.Hasher, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(b)
}

// Candidate is the block proposed by an iteration's generator.
type Candidate struct {
	Block Block
}

func (Candidate) Topic() Topic { return TopicCandidate }
func (Candidate) isPayload()   {}

// Validation is a committee member's vote on the candidate.
type Validation struct {
	Vote Vote
}

func (Validation) Topic() Topic { return TopicValidation }
func (Validation) isPayload()   {}

// Ratification is a committee member's vote on the validation result.
type Ratification struct {
	Vote             Vote
	ValidationResult ValidationResult
}

func (Ratification) Topic() Topic { return TopicRatification }
func (Ratification) isPayload()   {}

// ValidationQuorum announces that the Validation step reached a quorum.
type ValidationQuorum struct {
	Result ValidationResult
}

func (ValidationQuorum) Topic() Topic { return TopicValidationQuorum }
func (ValidationQuorum) isPayload()   {}

// Quorum announces the final attestation of an iteration.
type Quorum struct {
	Att Attestation
}

func (Quorum) Topic() Topic { return TopicQuorum }
func (Quorum) isPayload()   {}

func (ValidationResult) Topic() Topic { return TopicValidationResult }
func (ValidationResult) isPayload()   {}
