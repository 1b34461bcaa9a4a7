// Package codec serializes values for storage.
//
// A store.Storage holds UTF-8 text. JSON output already is; binary formats
// (Msgpack, CBOR) must be wrapped in Base64 before their bytes are stored as
// text.
package codec

import "errors"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ErrTooLarge is returned by Limit when a payload exceeds MaxDecode.
var ErrTooLarge = errors.New("codec: payload too large")
