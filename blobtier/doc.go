// Package blobtier provides a cache tier that keeps every entry as one blob
// in a blobstore.Store.
//
// A blob tier is slow and large. It is meant as the sub tier of a
// blockcache.CompoundCache, for example over S3 or a local directory:
//
//	cold := blobtier.New[string, User](s3store, codec.Default[User](),
//	    blobtier.WithPrefix("users/"))
//	cc, err := blockcache.NewCompound(hot, cold)
//
// Each blob is framed as a little-endian CRC32-C of the payload followed by
// the encoded value. A blob whose checksum does not match reads as
// codec.ErrInvalidEncoding.
package blobtier
