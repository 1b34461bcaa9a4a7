package codec

import "fmt"

// Limit wraps another codec and rejects oversized payloads at Decode time.
// Encode is forwarded to Inner unchanged. MaxDecode <= 0 disables the check.
//
// Useful when the store is shared and its contents are not fully trusted.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int // bytes
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
