package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 * 1024 * 1024

// uploadConcurrency caps parallel parts per archive file.
const uploadConcurrency = 3

const (
	contentTypeJSONL = "application/x-ndjson"
	contentTypeCSV   = "text/csv"
)

// Writer uploads archive files.
type Writer struct {
	api    *s3.Client
	bucket string
}

// NewWriter creates a Writer on c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.api, bucket: c.bucket}
}

// Put uploads data in one request. An empty contentType is derived from the
// key's extension.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.api.PutObject(ctx, w.putInput(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data in parts of partSize bytes, raised to the 5 MiB
// minimum.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
		u.Concurrency = uploadConcurrency
	})
	if _, err := uploader.Upload(ctx, w.putInput(path, data, "")); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}

func (w *Writer) putInput(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	if contentType == "" {
		contentType = contentTypeFor(path)
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
		Body:   data,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	return in
}

var _ domain.BlobWriter = (*Writer)(nil)
