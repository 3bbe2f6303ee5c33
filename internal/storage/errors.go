// Package storage holds uploaded document artifacts (scans, photos, PDFs).
// It defines the ArtifactStore interface plus MinIO and local filesystem implementations.
package storage

import "errors"

// Storage errors returned by ArtifactStore implementations.
var (
	// ErrNotFound indicates the artifact does not exist.
	ErrNotFound = errors.New("storage: artifact not found")

	// ErrUnavailable indicates the backing store could not be reached or failed server-side.
	ErrUnavailable = errors.New("storage: store unavailable")

	// ErrInvalidKey indicates the reference is empty or escapes the store root.
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrTooLarge indicates the artifact exceeds the configured maximum size.
	ErrTooLarge = errors.New("storage: artifact too large")
)
