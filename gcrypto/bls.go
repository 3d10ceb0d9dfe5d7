package gcrypto

import (
	"context"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const blsTypeName = "bls12381"

const (
	// BLSPubKeySize is the size of a compressed BLS public key (G1).
	BLSPubKeySize = 48

	// BLSSignatureSize is the size of a compressed BLS signature (G2).
	BLSSignatureSize = 96
)

// Domain separation tag for all gsa vote signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// RegisterBLS registers the BLS key type with reg.
func RegisterBLS(reg *Registry) {
	reg.Register(blsTypeName, BLSPubKey{}, NewBLSPubKey)
}

// BLSPubKey is a compressed BLS12-381 public key in the min-pubkey-size scheme.
// Provisioners sign votes with BLS so that committee votes aggregate
// into a single signature per step.
type BLSPubKey []byte

// NewBLSPubKey validates b as a compressed BLS public key.
func NewBLSPubKey(b []byte) (PubKey, error) {
	if len(b) != BLSPubKeySize {
		return nil, fmt.Errorf("BLS public key must be %d bytes (got %d)", BLSPubKeySize, len(b))
	}
	p := new(blst.P1Affine).Uncompress(b)
	if p == nil || !p.KeyValidate() {
		return nil, errors.New("invalid BLS public key")
	}
	return BLSPubKey(b), nil
}

func (k BLSPubKey) PubKeyBytes() []byte {
	return []byte(k)
}

func (k BLSPubKey) Equal(other PubKey) bool {
	o, ok := other.(BLSPubKey)
	if !ok {
		return false
	}
	return string(k) == string(o)
}

func (k BLSPubKey) Verify(msg, sig []byte) bool {
	if len(sig) != BLSSignatureSize {
		return false
	}
	pk := new(blst.P1Affine).Uncompress(k)
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, blsDST)
}

func (BLSPubKey) TypeName() string {
	return blsTypeName
}

// BLSSigner is a [Signer] holding a BLS secret key in memory.
type BLSSigner struct {
	secret *blst.SecretKey
	pub    BLSPubKey
}

// NewBLSSignerFromSeed deterministically creates a BLS signer from seed,
// which must be at least 32 bytes.
func NewBLSSignerFromSeed(seed []byte) (BLSSigner, error) {
	if len(seed) < 32 {
		return BLSSigner{}, fmt.Errorf("BLS seed must be at least 32 bytes (got %d)", len(seed))
	}

	sk := blst.KeyGen(seed)
	if sk == nil {
		return BLSSigner{}, errors.New("failed to generate BLS secret key")
	}

	return BLSSigner{
		secret: sk,
		pub:    BLSPubKey(new(blst.P1Affine).From(sk).Compress()),
	}, nil
}

// DeriveBLSSigner derives a BLS signer bound to an ed25519 identity,
// so an operator only has to manage a single secret.
func DeriveBLSSigner(ed Ed25519Signer) (BLSSigner, error) {
	h := blake3.New()
	_, _ = h.Write([]byte("gsa-bls-keygen"))
	_, _ = h.Write(ed.PrivateKey().Seed())

	var seed [32]byte
	h.Sum(seed[:0])

	return NewBLSSignerFromSeed(seed[:])
}

func (s BLSSigner) PubKey() PubKey {
	return s.pub
}

func (s BLSSigner) Sign(_ context.Context, input []byte) ([]byte, error) {
	if s.secret == nil {
		return nil, errors.New("BLS signer not initialized")
	}
	return new(blst.P2Affine).Sign(s.secret, input, blsDST).Compress(), nil
}

// AggregateBLSSignatures combines signatures over a single common message.
func AggregateBLSSignatures(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}

	ps := make([]*blst.P2Affine, len(sigs))
	for i, b := range sigs {
		if len(b) != BLSSignatureSize {
			return nil, fmt.Errorf("signature %d has invalid size %d", i, len(b))
		}
		p := new(blst.P2Affine).Uncompress(b)
		if p == nil {
			return nil, fmt.Errorf("signature %d: %w", i, ErrInvalidSignature)
		}
		ps[i] = p
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(ps, true) {
		return nil, errors.New("BLS signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyBLSAggregate reports whether sig is a valid aggregate over msg
// for exactly the given keys.
// Any non-BLS key causes verification to fail.
func VerifyBLSAggregate(msg, sig []byte, keys []PubKey) bool {
	if len(sig) != BLSSignatureSize || len(keys) == 0 {
		return false
	}

	pks := make([]*blst.P1Affine, len(keys))
	for i, k := range keys {
		bk, ok := k.(BLSPubKey)
		if !ok {
			return false
		}
		p := new(blst.P1Affine).Uncompress(bk)
		if p == nil {
			return false
		}
		pks[i] = p
	}

	aggPK := new(blst.P1Aggregate)
	if !aggPK.Aggregate(pks, true) {
		return false
	}

	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}

	return s.Verify(true, aggPK.ToAffine(), true, msg, blsDST)
}
