package saconsensus

import (
	"encoding/hex"
	"fmt"
)

// Hash is a 32-byte block hash.
type Hash [32]byte

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	if len(b) != 2*len(h) {
		return fmt.Errorf("hash must be %d hex characters (got %d)", 2*len(h), len(b))
	}
	_, err := hex.Decode(h[:], b)
	return err
}
