package port

import (
	"context"
	"time"
)

// ObjectStorage streams payloads between remote storage and local disk.
// Neither direction buffers whole files in memory; inputs can be many
// gigabytes.
type ObjectStorage interface {
	// Download fetches an object to localPath and returns only once the file
	// is fully flushed to disk.
	Download(ctx context.Context, bucket, key, localPath string) error
	// Upload streams a local file to the given object key.
	Upload(ctx context.Context, localPath, bucket, key string) error
	// HeadMetadata returns the object's user metadata. The store lower-cases
	// keys, so callers must look them up case-insensitively.
	HeadMetadata(ctx context.Context, bucket, key string) (map[string]string, error)
	// SignedURL returns a time-limited GET link to an object.
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
