// Package blob provides durable binary storage keyed by object name.
package blob

import (
	"context"
	"io"
	"time"
)

// Store is the durable blob storage collaborator. Signed URLs grant
// time-limited read access to an object without further authentication.
type Store interface {
	// Put writes the object bytes under the given name.
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error

	// Get returns a reader for the object bytes.
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)

	// Remove deletes the object.
	Remove(ctx context.Context, objectName string) error

	// SignURL issues a time-limited read URL for the object.
	SignURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)

	// PublicURL returns the unsigned URL for the object, if the backend has
	// one. Used as a display fallback when signing fails.
	PublicURL(objectName string) string
}
