package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

const (
	lz4Raw  byte = 0
	lz4Body byte = 1

	// DefaultMinCompress is the smallest payload worth compressing.
	DefaultMinCompress = 256
)

var errLZ4Corrupt = errors.New("codec: corrupt lz4 payload")

// LZ4 compresses the output of Inner with LZ4 block compression.
//
// Layout: flag(1) | [origLen(u32 be)] | body. Payloads shorter than MinSize,
// or ones that do not shrink, are stored raw behind flag 0.
type LZ4[V any] struct {
	Inner Codec[V]
	// MinSize defaults to DefaultMinCompress when zero.
	MinSize int
	// MaxDecoded bounds the declared uncompressed size. 0 = 64 MiB.
	MaxDecoded int
}

func (c LZ4[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	minSize := c.MinSize
	if minSize == 0 {
		minSize = DefaultMinCompress
	}
	if len(b) >= minSize {
		dst := make([]byte, 5+lz4.CompressBlockBound(len(b)))
		n, err := lz4.CompressBlock(b, dst[5:], nil)
		if err == nil && n > 0 && n < len(b) {
			dst[0] = lz4Body
			binary.BigEndian.PutUint32(dst[1:5], uint32(len(b)))
			return dst[:5+n], nil
		}
	}
	out := make([]byte, 1+len(b))
	out[0] = lz4Raw
	copy(out[1:], b)
	return out, nil
}

func (c LZ4[V]) Decode(b []byte) (V, error) {
	var zero V
	if len(b) == 0 {
		return zero, errLZ4Corrupt
	}
	switch b[0] {
	case lz4Raw:
		return c.Inner.Decode(b[1:])
	case lz4Body:
		if len(b) < 5 {
			return zero, errLZ4Corrupt
		}
		size := int(binary.BigEndian.Uint32(b[1:5]))
		limit := c.MaxDecoded
		if limit == 0 {
			limit = 64 << 20
		}
		if size > limit {
			return zero, fmt.Errorf("codec: lz4 payload too large: %d > %d", size, limit)
		}
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(b[5:], dst)
		if err != nil || n != size {
			return zero, errLZ4Corrupt
		}
		return c.Inner.Decode(dst)
	default:
		return zero, errLZ4Corrupt
	}
}
