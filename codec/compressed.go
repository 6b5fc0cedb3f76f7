package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the algorithm of a Compressed codec.
type Compression uint8

const (
	// CompressionNone stores the payload as is, behind the header.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio, good for cold tiers).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool

	newZstdEncoder = func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	}
	newZstdDecoder = func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	}
)

// errZstdUnavailable marks a failure to set up zstd, as opposed to a
// corrupt payload.
var errZstdUnavailable = errors.New("codec: zstd unavailable")

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	enc, err := newZstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("%w: encoder: %w", errZstdUnavailable, err)
	}
	return enc, nil
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	dec, err := newZstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("%w: decoder: %w", errZstdUnavailable, err)
	}
	return dec, nil
}

// Header: [algorithm uint8][uncompressed size uint32][compressed size uint32].
// A compressed size of 0 means the payload is stored uncompressed.
const headerSize = 9

// Compressed wraps a codec and compresses its output. Payloads that do not
// shrink by at least 10% are stored uncompressed.
type Compressed[V any] struct {
	inner Codec[V]
	algo  Compression
}

// NewCompressed wraps inner with algo.
func NewCompressed[V any](inner Codec[V], algo Compression) *Compressed[V] {
	return &Compressed[V]{inner: inner, algo: algo}
}

// Name returns the inner name with the algorithm appended, e.g. "json+zstd".
func (c *Compressed[V]) Name() string {
	return c.inner.Name() + "+" + c.algo.String()
}

// Encode encodes v with the inner codec and compresses the result.
func (c *Compressed[V]) Encode(v V) ([]byte, error) {
	raw, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return compress(raw, c.algo)
}

// Decode decompresses data and decodes it with the inner codec.
func (c *Compressed[V]) Decode(data []byte) (V, error) {
	raw, err := decompress(data)
	if err != nil {
		var zero V
		if errors.Is(err, errZstdUnavailable) {
			return zero, err
		}
		return zero, invalid(c.Name(), err)
	}
	return c.inner.Decode(raw)
}

func compress(data []byte, algo Compression) ([]byte, error) {
	var (
		packed []byte
		err    error
	)
	switch algo {
	case CompressionNone:
	case CompressionLZ4:
		packed, err = compressLZ4(data)
	case CompressionZSTD:
		var enc *zstd.Encoder
		if enc, err = getZstdEncoder(); err == nil {
			packed = enc.EncodeAll(data, nil)
			zstdEncoderPool.Put(enc)
		}
	default:
		return nil, fmt.Errorf("codec: unknown compression %s", algo)
	}
	if err != nil {
		return nil, err
	}

	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		out[0] = byte(algo)
		binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[5:], 0)
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(packed))
	out[0] = byte(algo)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(packed)))
	copy(out[headerSize:], packed)
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return dst[:n], nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, errors.New("payload too small for header")
	}

	algo := Compression(data[0])
	rawSize := binary.LittleEndian.Uint32(data[1:])
	packedSize := binary.LittleEndian.Uint32(data[5:])
	body := data[headerSize:]

	if packedSize == 0 {
		if uint32(len(body)) != rawSize {
			return nil, errors.New("stored size mismatch")
		}
		return body, nil
	}
	if uint32(len(body)) != packedSize {
		return nil, errors.New("compressed size mismatch")
	}

	out := make([]byte, rawSize)
	switch algo {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(body, out[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unknown compression %s", algo)
	}
}
