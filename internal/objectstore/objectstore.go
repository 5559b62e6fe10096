// Package objectstore is the boundary for uploaded artifacts (extracted
// audio, rendered clips) the pipeline hands off to cloud storage and
// links back into repository records as a cloud_url. Grounded on the same
// teacher interface-plus-memory-fake shape as internal/repository; the
// object storage backend itself (S3, GCS, ...) is explicitly out of
// scope (spec.md Non-goals), so there is deliberately no production
// implementation here — only the boundary and its test fake.
package objectstore

import "context"

// Store uploads artifacts and returns a durable, retrievable URL.
type Store interface {
	Put(ctx context.Context, key string, content []byte, contentType string) (url string, err error)
	SignedURL(ctx context.Context, key string, ttl int64) (string, error)
}
