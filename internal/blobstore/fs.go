package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cratehost/cratehost/internal/apierr"
)

// fsStore is the filesystem-backed Store, grounded on the teacher's
// blobUploadPut: write under a tmp/ subdirectory first, then os.Rename into
// place, so a reader never observes a partially-written blob.
type fsStore struct {
	root string
}

// NewFS returns a Store rooted at dir (typically DataDir/blobs).
func NewFS(dir string) (Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0755); err != nil {
		return nil, err
	}
	return &fsStore{root: dir}, nil
}

func (s *fsStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fsStore) Put(ctx context.Context, key string, r io.Reader) error {
	done := make(chan error, 1)
	go func() {
		done <- s.put(key, r)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return apierr.StorageUnavailablef("blob store timed out writing %s", key)
	}
}

func (s *fsStore) put(key string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "blob-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (s *fsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, apierr.NotFoundf("blob %s not found", key)
	}
	return f, err
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *fsStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
