package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Reader serves archived files to the API and verifies uploads.
type Reader struct {
	api    *s3.Client
	bucket string
}

// NewReader creates a Reader on c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{api: c.api, bucket: c.bucket}
}

// Get opens one archive; the caller closes it. A missing key is
// domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// List returns the archive files under prefix, newest cutoff first. Folder
// placeholder keys are skipped.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	pages := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			infos = append(infos, domain.BlobInfo{
				Path:         key,
				Size:         aws.ToInt64(obj.Size),
				ContentType:  contentTypeFor(key),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sortNewestFirst(infos)
	return infos, nil
}

// Exists reports whether path is present.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3blob: head %s: %w", path, err)
}

// sortNewestFirst orders archives by key, descending. Keys embed the
// month and cutoff, so this is newest first within each kind.
func sortNewestFirst(infos []domain.BlobInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
}

// isNotFound recognises a missing object. GetObject reports NoSuchKey,
// HeadObject has no body and reports NotFound, and some S3-compatible
// providers only give a bare 404.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

// contentTypeFor maps an archive key to its content type; ListObjectsV2 does
// not return one.
func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".jsonl"):
		return contentTypeJSONL
	case strings.HasSuffix(key, ".csv"):
		return contentTypeCSV
	default:
		return ""
	}
}

var _ domain.BlobReader = (*Reader)(nil)
