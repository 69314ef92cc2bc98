package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSWriter writes blobs to a Google Cloud Storage bucket under a prefix.
type GCSWriter struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSWriter(client *storage.Client, bucket, prefix string) *GCSWriter {
	if client == nil {
		panic("gcs writer requires client")
	}
	if bucket == "" {
		panic("gcs writer requires bucket")
	}
	return &GCSWriter{client: client, bucket: bucket, prefix: prefix}
}

func (w *GCSWriter) Put(ctx context.Context, key string, data []byte, contentType string) (ObjectLocation, error) {
	loc, err := ResolveObjectLocation(w.bucket, w.prefix, key)
	if err != nil {
		return ObjectLocation{}, err
	}

	obj := w.client.Bucket(loc.Bucket).Object(loc.FullPath).NewWriter(ctx)
	obj.ContentType = contentType
	if _, err := obj.Write(data); err != nil {
		_ = obj.Close()
		return ObjectLocation{}, fmt.Errorf("write gs://%s/%s: %w", loc.Bucket, loc.FullPath, err)
	}
	if err := obj.Close(); err != nil {
		return ObjectLocation{}, fmt.Errorf("close gs://%s/%s: %w", loc.Bucket, loc.FullPath, err)
	}
	return loc, nil
}

func (w *GCSWriter) Check(ctx context.Context) error {
	bkt := w.client.Bucket(w.bucket)
	if _, err := bkt.Attrs(ctx); err != nil {
		return fmt.Errorf("bucket attrs: %w", err)
	}

	// list at most one object to validate access to the prefix; empty is fine
	it := bkt.Objects(ctx, &storage.Query{Prefix: w.prefix})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("list prefix: %w", err)
	}
	return nil
}

var _ Writer = (*GCSWriter)(nil)
