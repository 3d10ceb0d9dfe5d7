package gcrypto

import "errors"

var ErrInvalidSignature = errors.New("signature could not be verified")

var ErrUnknownKey = errors.New("unknown key")

// ErrNoSignatures is returned when aggregating an empty set of signatures.
var ErrNoSignatures = errors.New("no signatures to aggregate")
