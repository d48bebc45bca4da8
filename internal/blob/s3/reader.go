package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// listPageSize is the MaxKeys of each ListObjectsV2 page.
const listPageSize = 1000

// Reader reads market archives back out of the bucket.
type Reader struct {
	api    *s3.Client
	bucket string
}

var _ domain.BlobReader = (*Reader)(nil)

// NewReader binds a Reader to the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{api: c.S3(), bucket: c.Bucket()}
}

// Get streams the object at key. A missing object is domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &r.bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", key, notFoundAs(err, domain.ErrNotFound))
	}
	return out.Body, nil
}

// List returns the archives under prefix, most recently written first.
// Objects that are not JSONL archives are skipped.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	pages := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket:  &r.bucket,
		Prefix:  &prefix,
		MaxKeys: aws.Int32(listPageSize),
	})

	var infos []domain.BlobInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if path.Ext(key) != ".jsonl" {
				continue
			}
			infos = append(infos, domain.BlobInfo{
				Path:         key,
				Size:         aws.ToInt64(obj.Size),
				ContentType:  contentJSONL,
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	slices.SortStableFunc(infos, func(a, b domain.BlobInfo) int {
		return b.LastModified.Compare(a.LastModified)
	})
	return infos, nil
}

// Exists reports whether key is present, using HeadObject.
func (r *Reader) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &r.bucket, Key: &key})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
}

// notFoundAs replaces a missing-object error with sentinel.
func notFoundAs(err, sentinel error) error {
	if isNotFound(err) {
		return sentinel
	}
	return err
}

// isNotFound recognises a missing object across AWS and S3-compatible
// stores. HeadObject has no body, so it surfaces as a bare "NotFound" code.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	}
	return false
}
