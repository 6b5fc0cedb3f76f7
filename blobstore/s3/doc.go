// Package s3 implements blobstore.Store on Amazon S3.
//
// Small blobs are written with a single PutObject carrying a CRC32C
// checksum; blobs at or above the multipart threshold go through the
// aws-sdk-go-v2 multipart uploader. Use NewFromDefaultConfig to build the
// client from the standard AWS configuration chain.
package s3
