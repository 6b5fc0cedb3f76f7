package hash

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// FrameHeaderSize is the length of the checksum prefix written by Frame.
const FrameHeaderSize = 4

var (
	// ErrTruncated is returned by Unframe for a blob shorter than the header.
	ErrTruncated = errors.New("hash: truncated frame")
	// ErrChecksum is returned by Unframe when the payload does not match its checksum.
	ErrChecksum = errors.New("hash: checksum mismatch")
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// CRC32CBase64 returns the checksum of data as base64 of its big-endian
// bytes, the form object stores expect in checksum headers.
func CRC32CBase64(data []byte) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], CRC32C(data))
	return base64.StdEncoding.EncodeToString(b[:])
}

// Frame returns payload prefixed with its little-endian CRC32C.
func Frame(payload []byte) []byte {
	blob := make([]byte, FrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(blob, CRC32C(payload))
	copy(blob[FrameHeaderSize:], payload)
	return blob
}

// Unframe verifies a blob written by Frame and returns its payload, which
// aliases blob.
func Unframe(blob []byte) ([]byte, error) {
	if len(blob) < FrameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(blob))
	}
	payload := blob[FrameHeaderSize:]
	if want, got := binary.LittleEndian.Uint32(blob), CRC32C(payload); want != got {
		return nil, fmt.Errorf("%w: %08x, want %08x", ErrChecksum, got, want)
	}
	return payload, nil
}
