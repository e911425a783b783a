package codec

import (
	"bytes"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type order struct {
	ID    int64    `json:"id" msgpack:"id" cbor:"id"`
	Lines []string `json:"lines" msgpack:"lines" cbor:"lines"`
}

func roundTrip[V any](t *testing.T, c Codec[V], v V) V {
	t.Helper()
	b, err := c.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestStructCodecs(t *testing.T) {
	in := order{ID: 7, Lines: []string{"a", "b"}}
	codecs := map[string]Codec[order]{
		"json":    JSON[order]{},
		"strict":  JSON[order]{Strict: true},
		"msgpack": Msgpack[order]{},
		"cbor":    MustCBOR[order](CBOROptions{Deterministic: true, Strict: true}),
		"tagged":  Msgpack[order]{JSONTags: true},
		"funcs":   Funcs[order]{Enc: JSON[order]{}.Encode, Dec: JSON[order]{Strict: true}.Decode},
		"lz4":     LZ4[order]{Inner: JSON[order]{}, MinSize: 1},
		"limit":   Limit[order]{Inner: JSON[order]{}, MaxDecode: 1 << 10},
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			got := roundTrip(t, c, in)
			if got.ID != in.ID || strings.Join(got.Lines, ",") != "a,b" {
				t.Fatalf("got %+v want %+v", got, in)
			}
		})
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, _ := Bytes{}.Decode(src)
	out[0] = 'X'
	if src[0] != 'a' {
		t.Fatalf("Decode must not alias its input")
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxEncode: 3, MaxDecode: 2}
	if _, err := c.Encode("abcd"); err == nil {
		t.Fatalf("expected encode limit error")
	}
	if _, err := c.Decode([]byte("abc")); err == nil {
		t.Fatalf("expected decode limit error")
	}
	if s := roundTrip[string](t, Limit[string]{Inner: String{}}, "free"); s != "free" {
		t.Fatalf("disabled limits must pass through, got %q", s)
	}
}

func TestLZ4CompressesAndFallsBack(t *testing.T) {
	c := LZ4[[]byte]{Inner: Bytes{}}

	big := bytes.Repeat([]byte("nemo"), 1024)
	enc, err := c.Encode(big)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if enc[0] != lz4Body || len(enc) >= len(big) {
		t.Fatalf("repetitive payload should compress: flag=%d len=%d", enc[0], len(enc))
	}
	if got, _ := c.Decode(enc); !bytes.Equal(got, big) {
		t.Fatalf("compressed round trip mismatch")
	}

	small := []byte("tiny")
	enc, _ = c.Encode(small)
	if enc[0] != lz4Raw {
		t.Fatalf("small payload must be stored raw")
	}
	if got, _ := c.Decode(enc); !bytes.Equal(got, small) {
		t.Fatalf("raw round trip mismatch")
	}

	for _, bad := range [][]byte{nil, {9}, {lz4Body, 0}, {lz4Body, 0, 0, 0, 8, 0xff}} {
		if _, err := c.Decode(bad); err == nil {
			t.Fatalf("expected error for %x", bad)
		}
	}
	if _, err := (LZ4[[]byte]{Inner: Bytes{}, MaxDecoded: 16}).Decode([]byte{lz4Body, 0, 0, 1, 0}); err == nil {
		t.Fatalf("expected size limit error")
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	got := roundTrip[*wrapperspb.StringValue](t, c, wrapperspb.String("hello"))
	if got.GetValue() != "hello" {
		t.Fatalf("got %q", got.GetValue())
	}
	if _, err := (Protobuf[*wrapperspb.StringValue]{}).Decode(nil); err == nil {
		t.Fatalf("codec without constructor must fail")
	}
}

func TestStrictJSON(t *testing.T) {
	extra := []byte(`{"id":1,"extra":true}`)
	if got, err := (JSON[order]{}).Decode(extra); err != nil || got.ID != 1 {
		t.Fatalf("lax decode: %+v %v", got, err)
	}
	strict := JSON[order]{Strict: true}
	for _, in := range []string{string(extra), `{"id":1} {"id":2}`} {
		if _, err := strict.Decode([]byte(in)); err == nil {
			t.Fatalf("strict decode of %s should fail", in)
		}
	}
}

func TestMsgpackJSONTags(t *testing.T) {
	type tagged struct {
		Name string `json:"n"`
	}
	b, err := Msgpack[tagged]{JSONTags: true}.Encode(tagged{Name: "x"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(b, []byte{0xa1, 'n'}) {
		t.Fatalf("expected json tag name in payload, got %x", b)
	}
	// untagged decode falls back to the Go field name and misses the value
	got, err := Msgpack[tagged]{}.Decode(b)
	if err != nil || got.Name != "" {
		t.Fatalf("got %+v err %v", got, err)
	}
}

func TestCBORStrictRejectsDuplicateKeys(t *testing.T) {
	// {"id": 1, "id": 2}
	dup := []byte{0xa2, 0x62, 'i', 'd', 0x01, 0x62, 'i', 'd', 0x02}
	if _, err := MustCBOR[order](CBOROptions{Strict: true}).Decode(dup); err == nil {
		t.Fatalf("strict cbor must reject duplicate map keys")
	}
	if _, err := MustCBOR[order](CBOROptions{}).Decode(dup); err != nil {
		t.Fatalf("lax cbor decode: %v", err)
	}
}
