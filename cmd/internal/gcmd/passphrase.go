// Package gcmd holds helpers shared by the gsa commands.
package gcmd

import (
	"crypto/ed25519"

	"github.com/gordian-engine/gsa/gcrypto"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/crypto/blake2b"
)

// Prefixes keep the consensus and network keys of one passphrase unrelated.
const (
	ConsensusKeyPrefix = "gsa|"
	NetworkKeyPrefix   = "gsa:network|"
)

func seedFromInsecurePassphrase(prefix, insecurePassphrase string) ([]byte, error) {
	bh, err := blake2b.New(ed25519.SeedSize, nil)
	if err != nil {
		return nil, err
	}
	bh.Write([]byte(prefix + insecurePassphrase))
	return bh.Sum(nil), nil
}

// SignerFromInsecurePassphrase returns the BLS consensus signer for the passphrase.
// The BLS key is derived from an intermediate ed25519 key.
func SignerFromInsecurePassphrase(insecurePassphrase string) (gcrypto.BLSSigner, error) {
	seed, err := seedFromInsecurePassphrase(ConsensusKeyPrefix, insecurePassphrase)
	if err != nil {
		return gcrypto.BLSSigner{}, err
	}

	ed := gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed))
	return gcrypto.DeriveBLSSigner(ed)
}

// Libp2pKeyFromInsecurePassphrase returns the libp2p identity key for the passphrase.
func Libp2pKeyFromInsecurePassphrase(insecurePassphrase string) (libp2pcrypto.PrivKey, error) {
	seed, err := seedFromInsecurePassphrase(NetworkKeyPrefix, insecurePassphrase)
	if err != nil {
		return nil, err
	}

	privKey := ed25519.NewKeyFromSeed(seed)

	priv, _, err := libp2pcrypto.KeyPairFromStdKey(&privKey)
	if err != nil {
		return nil, err
	}

	return priv, nil
}
