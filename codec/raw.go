package codec

import "bytes"

// Bytes stores byte slices as they are. Decode returns a copy.
type Bytes struct{}

func (Bytes) Encode(v []byte) ([]byte, error) { return v, nil }

func (Bytes) Decode(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

func (Bytes) Name() string { return "bytes" }

// String stores strings as their UTF-8 bytes.
type String struct{}

func (String) Encode(v string) ([]byte, error) { return []byte(v), nil }

func (String) Decode(data []byte) (string, error) { return string(data), nil }

func (String) Name() string { return "string" }
