package storage

import (
	"context"
	"fmt"
	"strings"
)

// ObjectLocation describes where a blob lives.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// Writer stores small blobs such as support bundles.
type Writer interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (ObjectLocation, error)
	// Check verifies the backend is reachable without writing.
	Check(ctx context.Context) error
}

// ResolveObjectLocation joins the deployment prefix and a logical key.
//   - bucket comes from deployment configuration; the local backend passes its base directory.
//   - basePrefix is the environment prefix, e.g. "dev/" (a trailing slash is added if missing).
//   - logicalKey is relative, e.g. "support/<provision_id>.json".
func ResolveObjectLocation(bucket, basePrefix, logicalKey string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key := strings.TrimPrefix(strings.TrimSpace(logicalKey), "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}
	if strings.Contains(key, "..") {
		return ObjectLocation{}, fmt.Errorf("logical key %q must not contain '..'", logicalKey)
	}

	prefix := strings.TrimPrefix(strings.TrimSpace(basePrefix), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return ObjectLocation{Bucket: bucket, FullPath: prefix + key}, nil
}
