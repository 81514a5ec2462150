package blobstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cratehost/cratehost/internal/config"
)

// Open wires a Store from config, the same "switch on a Kind string set up
// at startup" shape as the teacher's main.go picking between listeners.
func Open(ctx context.Context, dataDir string, cfg config.Config) (Store, error) {
	switch cfg.Storage.Kind {
	case "", "fs":
		return NewFS(filepath.Join(dataDir, "blobs"))
	case "s3":
		return NewS3(ctx, S3Config{
			Endpoint:  cfg.Storage.S3.Endpoint,
			Bucket:    cfg.Storage.S3.Bucket,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			UseSSL:    cfg.Storage.S3.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Storage.Kind)
	}
}
