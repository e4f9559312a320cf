// Package mediasource implements provider.MediaSource backed by an
// S3-compatible object store.
package mediasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/postpilot/postpilot/internal/provider"
)

// S3Source lists and fetches media objects from a single bucket.
type S3Source struct {
	client   *s3.Client
	bucket   string
	spoolDir string
}

// Options configures an S3Source.
type Options struct {
	Endpoint  string // empty for AWS
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	SpoolDir  string // local directory for fetched files
}

// New creates an S3Source.
func New(opts Options) *S3Source {
	s3opts := s3.Options{
		Region:      opts.Region,
		Credentials: credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
	}
	if opts.Endpoint != "" {
		s3opts.BaseEndpoint = aws.String(opts.Endpoint)
		s3opts.UsePathStyle = true
	}
	return &S3Source{
		client:   s3.New(s3opts),
		bucket:   opts.Bucket,
		spoolDir: opts.SpoolDir,
	}
}

// ListAvailable returns the media objects under folderRef.
func (s *S3Source) ListAvailable(ctx context.Context, folderRef string) ([]provider.MediaItem, error) {
	prefix := strings.TrimPrefix(folderRef, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var items []provider.MediaItem
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(fmt.Errorf("mediasource: list %s: %w", folderRef, err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			item := provider.MediaItem{Name: key, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				item.ModifiedAt = *obj.LastModified
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// Fetch downloads the object to the spool directory and returns the local
// path.
func (s *S3Source) Fetch(ctx context.Context, itemRef string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(itemRef),
	})
	if err != nil {
		return "", classify(fmt.Errorf("mediasource: fetch %s: %w", itemRef, err))
	}
	defer out.Body.Close()

	local := filepath.Join(s.spoolDir, path.Base(itemRef))
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("mediasource: spool %s: %w", local, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		os.Remove(local)
		return "", fmt.Errorf("mediasource: download %s: %w", itemRef, err)
	}
	return local, nil
}

// classify maps S3 access errors to the permanent "not accessible"
// classification so callers don't retry permission problems.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
			return fmt.Errorf("%w: %v", provider.ErrNotAccessible, err)
		}
	}
	return err
}
