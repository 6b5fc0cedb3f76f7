// Package minio implements blobstore.Store on MinIO and other S3-compatible
// services using github.com/minio/minio-go/v7.
//
// # Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    return err
//	}
//	store := blobminio.NewStore(client, "cache", "tier2/")
package minio
