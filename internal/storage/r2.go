package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/driftbox/backend/internal/config"
	"github.com/driftbox/backend/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// R2Client talks to an S3-compatible object store (Cloudflare R2 in
// production, MinIO locally) by opaque key. There is no filesystem
// fallback.
type R2Client struct {
	client *minio.Client
	bucket string
}

func NewR2Client(cfg config.R2Config) (*R2Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &R2Client{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func (r *R2Client) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := r.client.PutObject(ctx, r.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		logger.Error("r2_upload_failed", err, map[string]interface{}{
			"object_key":   key,
			"size":         size,
			"content_type": contentType,
			"bucket":       r.bucket,
		})
	}
	return err
}

func (r *R2Client) Download(ctx context.Context, key string) (*minio.Object, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		logger.Error("r2_download_failed", err, map[string]interface{}{
			"object_key": key,
			"bucket":     r.bucket,
		})
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		logger.Error("r2_download_stat_failed", err, map[string]interface{}{
			"object_key": key,
			"bucket":     r.bucket,
		})
		return nil, err
	}
	return obj, nil
}

func (r *R2Client) Stat(ctx context.Context, key string) (minio.ObjectInfo, error) {
	return r.client.StatObject(ctx, r.bucket, key, minio.StatObjectOptions{})
}

// Delete removes an object. An absent object is success: the end
// state "object absent" is already satisfied, which is what makes
// purge retries and concurrent purges safe.
func (r *R2Client) Delete(ctx context.Context, key string) error {
	err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return nil
		}
		logger.Error("r2_delete_failed", err, map[string]interface{}{
			"object_key": key,
			"bucket":     r.bucket,
		})
		return err
	}
	return nil
}

func (r *R2Client) EnsureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed creating bucket %s: %w", r.bucket, err)
	}
	return nil
}
