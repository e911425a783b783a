package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var errNoCtor = errors.New("codec: protobuf codec without constructor")

// Protobuf encodes proto messages deterministically. Construct with
// NewProtobuf, passing a constructor for the concrete message:
//
//	codec.NewProtobuf(func() *pb.Order { return new(pb.Order) })
type Protobuf[T proto.Message] struct {
	ctor func() T

	// DiscardUnknown drops fields the local message does not know, so an
	// entry written by a newer schema reads back without carrying them.
	DiscardUnknown bool
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.ctor == nil {
		var zero T
		return zero, errNoCtor
	}
	m := c.ctor()
	err := proto.UnmarshalOptions{DiscardUnknown: c.DiscardUnknown}.Unmarshal(b, m)
	return m, err
}
