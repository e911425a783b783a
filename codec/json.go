package codec

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errTrailingJSON = errors.New("codec: trailing data after JSON value")

// JSON encodes with encoding/json. The zero value is ready to use.
//
// Strict rejects payloads with fields V does not declare, or with anything
// after the first value. Use it when a schema change should read as a miss
// rather than a partially populated value.
type JSON[V any] struct {
	Strict bool
}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (j JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if !j.Strict {
		err := json.Unmarshal(b, &v)
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if dec.More() {
		return v, errTrailingJSON
	}
	return v, nil
}
