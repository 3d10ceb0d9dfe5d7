package gcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

// Type names are encoded with a fixed width in front of the key bytes.
const prefixSize = 8

// Registry maps a runtime-defined set of public key types
// to and from their encoded form.
type Registry struct {
	byType map[reflect.Type]string

	byName map[string]NewPubKeyFunc
}

// NewPubKeyFunc decodes the raw key bytes of a single key type.
type NewPubKeyFunc func([]byte) (PubKey, error)

// Register associates name with the concrete type of inst.
// Register panics if name is too long or already registered.
func (r *Registry) Register(name string, inst PubKey, newFn NewPubKeyFunc) {
	if len(name) == 0 || len(name) > prefixSize {
		panic(fmt.Errorf("BUG: key type name %q must be between 1 and %d bytes", name, prefixSize))
	}
	if _, ok := r.byName[name]; ok {
		panic(fmt.Errorf("BUG: key type name %q registered twice", name))
	}

	if r.byName == nil {
		r.byName = map[string]NewPubKeyFunc{}
	}
	r.byName[name] = newFn

	if r.byType == nil {
		r.byType = map[reflect.Type]string{}
	}
	r.byType[reflect.TypeOf(inst)] = name
}

// Marshal returns the type-prefixed encoding of pubKey.
// It panics if the key type was never registered.
func (r *Registry) Marshal(pubKey PubKey) []byte {
	typ := reflect.TypeOf(pubKey)
	name, ok := r.byType[typ]
	if !ok {
		panic(fmt.Errorf(
			"BUG: attempted to Marshal a public key that was never registered (reflect type: %s, type name: %s)",
			typ, pubKey.TypeName(),
		))
	}

	var header [prefixSize]byte
	copy(header[:], name)

	return append(header[:], pubKey.PubKeyBytes()...)
}

// Unmarshal decodes b, which must be the output of a previous [*Registry.Marshal].
//
// The returned key may retain a reference to b.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) < prefixSize {
		return nil, fmt.Errorf("encoded public key too short (%d bytes)", len(b))
	}

	name := bytes.TrimRight(b[:prefixSize], "\x00")

	fn := r.byName[string(name)]
	if fn == nil {
		return nil, fmt.Errorf("no registered public key type for prefix %q", name)
	}

	return fn(b[prefixSize:])
}

// Decode returns a new PubKey from the given type name and raw key bytes.
//
// The returned key may retain a reference to b.
func (r *Registry) Decode(typeName string, b []byte) (PubKey, error) {
	fn := r.byName[typeName]
	if fn == nil {
		return nil, fmt.Errorf("no registered public key type for name %q", typeName)
	}

	return fn(b)
}
