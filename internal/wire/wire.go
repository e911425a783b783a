package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindData  byte = 1
	kindIndex byte = 2

	maxVersions = 0xFFFF
)

var (
	ErrCorrupt = errors.New("nemocache: corrupt entry")
	magic4     = [...]byte{'N', 'E', 'M', 'O'}
)

// Value is the envelope stored in both tiers.
type Value struct {
	Buffer []byte
	// QueryKey marks an index entry whose Buffer is an EncodeKeys payload.
	QueryKey bool
	// CreatedAt and ExpiresAt are unix nanos. ExpiresAt 0 means always fresh.
	CreatedAt int64
	ExpiresAt int64
	// Versions is the dependency revision vector the entry was written against.
	Versions []uint64
}

// IsValid reports logical freshness at now (unix nanos).
func (v Value) IsValid(now int64) bool {
	return v.ExpiresAt == 0 || now < v.ExpiresAt
}

// IsValidVersion compares the stored vector with expected. A nil expected
// accepts anything.
func (v Value) IsValidVersion(expected []uint64) bool {
	if expected == nil {
		return true
	}
	if len(expected) != len(v.Versions) {
		return false
	}
	for i := range expected {
		if expected[i] != v.Versions[i] {
			return false
		}
	}
	return true
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames v:
//
//	magic(4) | ver(1) | kind(1) | created(i64 be) | expires(i64 be) |
//	n(u16 be) | n*version(u64 be) | plen(u32 be) | payload(plen)
func Encode(v Value) ([]byte, error) {
	if len(v.Versions) > maxVersions {
		return nil, errors.New("nemocache: too many versions in entry")
	}
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 8 + 2 + 8*len(v.Versions) + 4 + len(v.Buffer))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	if v.QueryKey {
		buf.WriteByte(kindIndex)
	} else {
		buf.WriteByte(kindData)
	}

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(v.CreatedAt))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(v.ExpiresAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(v.Versions)))
	buf.Write(u2[:])
	for _, r := range v.Versions {
		binary.BigEndian.PutUint64(u8[:], r)
		buf.Write(u8[:])
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(v.Buffer)))
	buf.Write(u4[:])
	buf.Write(v.Buffer)
	return buf.Bytes(), nil
}

// Decode parses an envelope. Buffer aliases b and is never nil on success.
func Decode(b []byte) (Value, error) {
	const hdr = 4 + 1 + 1 + 8 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return Value{}, ErrCorrupt
	}
	var v Value
	switch b[5] {
	case kindData:
	case kindIndex:
		v.QueryKey = true
	default:
		return Value{}, ErrCorrupt
	}

	off := 6
	v.CreatedAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	v.ExpiresAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if n*8 > len(b)-off {
		return Value{}, ErrCorrupt
	}
	if n > 0 {
		v.Versions = make([]uint64, n)
		for i := 0; i < n; i++ {
			v.Versions[i] = binary.BigEndian.Uint64(b[off : off+8])
			off += 8
		}
	}

	// plen
	if off+4 > len(b) {
		return Value{}, ErrCorrupt
	}
	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen < 0 || plen != len(b)-off { // exact framing; trailing bytes are corrupt
		return Value{}, ErrCorrupt
	}
	v.Buffer = b[off : off+plen : off+plen]
	return v, nil
}

// EncodeKeys frames the member keys of an index entry:
//
//	n(u32 be) | (keyLen(u16 be) | key(keyLen)) * n
func EncodeKeys(keys []string) ([]byte, error) {
	total := 4
	for _, k := range keys {
		if l := len(k); l == 0 || l > 0xFFFF {
			return nil, errors.New("nemocache: invalid key length in index")
		}
		total += 2 + len(k)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	var u4 [4]byte
	var u2 [2]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(keys)))
	buf.Write(u4[:])
	for _, k := range keys {
		binary.BigEndian.PutUint16(u2[:], uint16(len(k)))
		buf.Write(u2[:])
		buf.WriteString(k)
	}
	return buf.Bytes(), nil
}

func DecodeKeys(b []byte) ([]string, error) {
	if len(b) < 4 {
		return nil, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint32(b[:4]))
	off := 4
	// every key takes at least 3 bytes
	if n < 0 || n > (len(b)-off)/3 {
		return nil, ErrCorrupt
	}

	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		keys = append(keys, string(b[off:off+klen]))
		off += klen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return keys, nil
}
