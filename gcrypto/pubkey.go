package gcrypto

// PubKey is the public identity of a provisioner,
// used both to verify vote signatures and as the signer identity on messages.
type PubKey interface {
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	Verify(msg, sig []byte) bool

	// TypeName is the name the key type was registered under in a [Registry].
	TypeName() string
}

// KeyID returns a string suitable for use as a map key for pk.
// Two keys of different types with identical bytes produce different IDs.
func KeyID(pk PubKey) string {
	return pk.TypeName() + "/" + string(pk.PubKeyBytes())
}
