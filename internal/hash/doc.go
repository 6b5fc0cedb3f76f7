// Package hash provides the CRC32-Castagnoli checksum used to frame entries
// written to blob tiers.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(payload)
//	checksum := h.Sum32()
//
// Go's crc32 package uses SSE4.2 / ARM CRC instructions when available.
package hash
