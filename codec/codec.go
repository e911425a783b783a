// Package codec converts cached values to and from the payload bytes carried
// inside the nemocache envelope.
//
// Decode may be handed a slice that aliases bytes held by the local tier.
// Implementations that hand back the input, or any sub-slice of it, copy first.
package codec

// Codec maps a value to its payload bytes and back.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Funcs builds a Codec from a pair of functions. Both must be set.
type Funcs[V any] struct {
	Enc func(V) ([]byte, error)
	Dec func([]byte) (V, error)
}

var _ Codec[struct{}] = Funcs[struct{}]{}

func (f Funcs[V]) Encode(v V) ([]byte, error) { return f.Enc(v) }
func (f Funcs[V]) Decode(b []byte) (V, error) { return f.Dec(b) }
