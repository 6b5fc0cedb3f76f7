package codec

import gojson "github.com/goccy/go-json"

// GoJSON is a JSON codec backed by github.com/goccy/go-json. Its output is
// interchangeable with JSON.
type GoJSON[V any] struct{}

// Encode encodes v to JSON.
func (GoJSON[V]) Encode(v V) ([]byte, error) { return gojson.Marshal(v) }

// Decode decodes JSON data.
func (GoJSON[V]) Decode(data []byte) (V, error) {
	var v V
	if err := gojson.Unmarshal(data, &v); err != nil {
		return v, invalid("go-json", err)
	}
	return v, nil
}

// Name returns the unique name of the codec ("go-json").
func (GoJSON[V]) Name() string { return "go-json" }

// Append encodes v and appends it to dst.
func (GoJSON[V]) Append(dst []byte, v V) ([]byte, error) {
	b, err := gojson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(dst, b...), nil
}
