// Package storage defines the narrow artifact-store contract consumed by the
// pipeline. Writes are append-only: a key is never overwritten with different
// content, only referenced by Media records.
package storage

import "context"

// Store persists artifact bytes and serves them back to downstream readers.
type Store interface {
	// Write persists data under the suggested key and returns the canonical
	// key the artifact is retrievable at.
	Write(ctx context.Context, key string, data []byte) (string, error)
	// Read returns the bytes previously written at key.
	Read(ctx context.Context, key string) ([]byte, error)
	// Remove deletes the bytes at key. Removing a missing key reports
	// os.ErrNotExist.
	Remove(ctx context.Context, key string) error
}
