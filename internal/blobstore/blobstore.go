// Package blobstore is the content-addressed object store for crate
// tarballs, readmes and rendered docs. It generalizes the teacher's
// DataDir-relative blob layout (registry.go's blobUploadPut/blobUploadPost:
// write to a tempfile, hash along the way, rename into place only once the
// write has fully succeeded) into a Store interface with two backends.
package blobstore

import (
	"context"
	"io"
)

// Store is implemented by fsStore and s3Store. Every method is bounded by
// the caller's context, which callers derive from config.Storage.Timeout
// (spec.md §4.1); exceeding it surfaces as apierr.StorageUnavailable.
type Store interface {
	// Put stores the content read from r under key, returning once fully
	// durable. Overwriting an existing key is allowed; callers enforce
	// content-addressing by keying on a digest computed ahead of time.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens key for reading. The caller must Close the returned
	// ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)
}

// Key namespacing, exactly as spec.md §4.1.
func CrateKey(name, version string) string {
	return "crates/" + name + "/" + version
}

func ReadmeKey(name, version string) string {
	return "readmes/" + name + "/" + version
}

func DocsKey(name, version, target, rel string) string {
	return "docs/" + name + "/" + version + "/" + target + "/" + rel
}
