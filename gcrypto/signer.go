package gcrypto

import "context"

// Signer produces cryptographic signatures against an input.
type Signer interface {
	// PubKey returns the public key matching the signatures this Signer produces.
	PubKey() PubKey

	// Sign returns the signature for input.
	// The context is present in case signing happens remotely.
	Sign(ctx context.Context, input []byte) (signature []byte, err error)
}
