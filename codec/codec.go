// Package codec converts cache values to and from the bytes kept in storage.
//
// Codec selection is a compatibility boundary: bytes written by one codec
// cannot be read back by another. File and mapped backings and blob tiers
// that outlive the process must keep using the same codec.
package codec

import (
	"errors"
	"fmt"
)

// ErrInvalidEncoding is returned when stored bytes cannot be decoded.
var ErrInvalidEncoding = errors.New("codec: invalid encoding")

// Codec encodes and decodes values of type V.
// Implementations must be safe for concurrent use.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
	Name() string
}

// ByName returns a built-in codec of V by its stable name.
func ByName[V any](name string) (Codec[V], bool) {
	switch name {
	case "json":
		return JSON[V]{}, true
	case "go-json":
		return GoJSON[V]{}, true
	default:
		return nil, false
	}
}

// Default returns the default codec for V.
func Default[V any]() Codec[V] { return GoJSON[V]{} }

// MustEncode is a helper for tests and benchmarks.
func MustEncode[V any](c Codec[V], v V) []byte {
	b, err := c.Encode(v)
	if err != nil {
		panic(fmt.Errorf("codec %s encode failed: %w", c.Name(), err))
	}
	return b
}

func invalid(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidEncoding, name, err)
}
