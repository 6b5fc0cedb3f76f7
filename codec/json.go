package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// JSON is stable and portable but only round-trips what encoding/json
// supports; time zones, funcs and channels do not survive.
type JSON[V any] struct{}

// Encode encodes v to JSON.
func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

// Decode decodes JSON data.
func (JSON[V]) Decode(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, invalid("json", err)
	}
	return v, nil
}

// Name returns the unique name of the codec ("json").
func (JSON[V]) Name() string { return "json" }
