package blobstore

import (
	"context"
	"io"
	"time"
)

// WithTimeout wraps a Store so every call gets its own deadline derived
// from d, per spec.md §4.1 ("bounded by config.Storage.Timeout").
func WithTimeout(s Store, d time.Duration) Store {
	return &timeoutStore{s, d}
}

type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

func (t *timeoutStore) Put(ctx context.Context, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Put(ctx, key, r)
}

func (t *timeoutStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	rc, err := t.inner.Get(ctx, key)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{rc, cancel}, nil
}

func (t *timeoutStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Delete(ctx, key)
}

func (t *timeoutStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Exists(ctx, key)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
