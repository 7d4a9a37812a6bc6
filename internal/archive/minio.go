// Package archive stores generated notification reports in S3-compatible
// object storage so dispatched attachments remain auditable.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Uploader writes report files to a MinIO bucket.
type Uploader struct {
	client *minio.Client
	bucket string
}

// NewUploader creates an uploader for the given endpoint and bucket.
func NewUploader(endpoint, accessKey, secretKey, bucket string) (*Uploader, error) {
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for report archiving")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': %w (expected format: https://hostname:port)", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT scheme '%s': must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': missing hostname", endpoint)
	}

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client for %s: %w", u.Host, err)
	}

	return &Uploader{
		client: client,
		bucket: bucket,
	}, nil
}

// EnsureBucket creates the archive bucket when it does not exist yet.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", u.bucket, err)
	}
	logrus.WithField("bucket", u.bucket).Info("Created report archive bucket")
	return nil
}

// UploadReport stores one workbook under the given object name.
func (u *Uploader) UploadReport(ctx context.Context, objectName string, content []byte) error {
	_, err := u.client.PutObject(ctx, u.bucket, objectName,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentTypeXLSX},
	)
	if err != nil {
		return fmt.Errorf("failed to upload report %s: %w", objectName, err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": u.bucket,
		"object": objectName,
		"bytes":  len(content),
	}).Debug("Archived notification report")
	return nil
}
