package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOROptions configures NewCBOR. The zero value gives preferred (unsorted)
// encoding and the default decode bounds below.
type CBOROptions struct {
	// Deterministic selects RFC 8949 core deterministic encoding, so equal
	// values always produce equal bytes.
	Deterministic bool
	// Strict rejects maps with duplicate keys and indefinite-length items.
	Strict bool
	// MaxNested bounds decode nesting depth (default 64).
	MaxNested int
	// MaxElements bounds array elements and map pairs (default 1<<20).
	MaxElements int
}

// CBOR encodes with fxamacker/cbor. Timestamps are written as RFC 3339 text.
// Construct with NewCBOR or MustCBOR; the zero value panics on use.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](o CBOROptions) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if o.Deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}

	// payloads are read back from a shared store, so decoding is bounded
	do := cbor.DecOptions{
		MaxNestedLevels:  64,
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}
	if o.MaxNested > 0 {
		do.MaxNestedLevels = o.MaxNested
	}
	if o.MaxElements > 0 {
		do.MaxArrayElements = o.MaxElements
		do.MaxMapPairs = o.MaxElements
	}
	if o.Strict {
		do.DupMapKey = cbor.DupMapKeyEnforcedAPF
		do.IndefLength = cbor.IndefLengthForbidden
	}
	dm, err := do.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR is NewCBOR for package-level vars; it panics on invalid options.
func MustCBOR[V any](o CBOROptions) CBOR[V] {
	c, err := NewCBOR[V](o)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}
