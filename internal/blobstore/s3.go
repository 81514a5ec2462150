package blobstore

import (
	"context"
	"io"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// s3Store is the S3-compatible Store, for deployments that keep blobs off
// the registry's own disk. The bucket is created on first use, mirroring
// the teacher's os.MkdirAll-on-open discipline for the fs variant.
type s3Store struct {
	client *minio.Client
	bucket string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, apierr.StorageUnavailablef("checking bucket %s: %v", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, apierr.StorageUnavailablef("creating bucket %s: %v", cfg.Bucket, err)
		}
	}
	return &s3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, r io.Reader) error {
	// size -1 lets minio-go pick streaming multipart upload automatically
	// once it can no longer buffer the whole object in memory.
	_, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{})
	if err != nil {
		return apierr.StorageUnavailablef("putting %s: %v", key, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apierr.StorageUnavailablef("getting %s: %v", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, apierr.NotFoundf("blob %s not found", key)
		}
		return nil, apierr.StorageUnavailablef("stat %s: %v", key, err)
	}
	return obj, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apierr.StorageUnavailablef("removing %s: %v", key, err)
	}
	return nil
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return false, nil
	}
	return false, apierr.StorageUnavailablef("stat %s: %v", key, err)
}
