// Package archive uploads finished captures to S3-compatible object
// storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/visiona/vigia/internal/config"
	"github.com/visiona/vigia/internal/types"
)

// Uploader copies finished capture files into one bucket, keyed
// {prefix}/{kind}/{filename} where kind is the capture directory the file
// came from (video, photos, timelapse).
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string

	uploaded atomic.Uint64
	errors   atomic.Uint64
}

// NewUploader connects to the endpoint and ensures the bucket exists.
// Credentials come from MINIO_ACCESS_KEY and MINIO_SECRET_KEY.
func NewUploader(ctx context.Context, cfg config.ArchiveConfig) (*Uploader, error) {
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY / MINIO_SECRET_KEY not set")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := client.BucketExists(ctx, cfg.Bucket)
		if existsErr != nil || !exists {
			return nil, fmt.Errorf("failed to create or verify bucket %s: %w", cfg.Bucket, err)
		}
	}

	slog.Info("archive connected", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)

	return &Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// UploadCapture copies one local capture file into the bucket.
func (u *Uploader) UploadCapture(ctx context.Context, localPath string) error {
	key := objectKey(u.prefix, localPath)

	_, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(localPath),
	})
	if err != nil {
		u.errors.Add(1)
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	u.uploaded.Add(1)
	slog.Debug("capture archived", "key", key)
	return nil
}

// SessionFinished uploads the session's video and photos.
func (u *Uploader) SessionFinished(ctx context.Context, ev types.PersonEvent) error {
	var errs []error
	for _, p := range []string{ev.VideoPath, ev.FirstPhotoPath, ev.BestPhotoPath} {
		if p == "" {
			continue
		}
		if err := u.UploadCapture(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TimelapseRotated uploads one closed hourly file.
func (u *Uploader) TimelapseRotated(ctx context.Context, rot types.TimelapseRotation) error {
	return u.UploadCapture(ctx, rot.Path)
}

// Stats contains uploader counters.
type Stats struct {
	Uploaded uint64 `json:"uploaded"`
	Errors   uint64 `json:"errors"`
}

// Stats returns a snapshot of the uploader counters.
func (u *Uploader) Stats() Stats {
	return Stats{Uploaded: u.uploaded.Load(), Errors: u.errors.Load()}
}

// objectKey keeps the capture kind directory so person videos and
// timelapse files with equal names cannot collide.
func objectKey(prefix, localPath string) string {
	kind := filepath.Base(filepath.Dir(localPath))
	return path.Join(prefix, kind, filepath.Base(localPath))
}

func contentTypeFor(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
