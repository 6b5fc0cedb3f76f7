// Package blobstore provides named blob persistence for cache tiers.
//
// A Store keeps whole blobs addressed by name. Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests and ephemeral tiers
//   - LocalStore: local file system, atomic writes and mmap reads
//   - s3.Store: Amazon S3 with multipart uploads for large blobs
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
// Implement the Store interface to support other backends:
//
//	type Store interface {
//	    Get(ctx, name) ([]byte, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
