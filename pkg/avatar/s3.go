package avatar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store stores avatars in an S3 bucket.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := avatar.NewS3Store(s3.NewFromConfig(cfg), "coachcall-media", "avatars/",
//		"https://media.coachcall.example", 5<<20)
type S3Store struct {
	client  *s3.Client
	bucket  string
	prefix  string
	baseURL string
	maxSize int64
}

// NewS3Store creates an S3-backed avatar store. Stored images are addressed
// as baseURL + "/" + prefix + key. maxSize of 0 means no limit.
func NewS3Store(client *s3.Client, bucket, prefix, baseURL string, maxSize int64) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
	}
}

// Put uploads the image to S3 and returns its public URL.
func (s *S3Store) Put(ctx context.Context, key, contentType string, size int64, r io.Reader) (string, error) {
	if s.maxSize > 0 && size > s.maxSize {
		return "", ErrTooLarge
	}

	objectKey := s.prefix + key

	// PutObject needs a seekable body for retries, so buffer the image.
	// Avatars are small enough that this is fine.
	var buf bytes.Buffer
	var reader io.Reader = r
	if s.maxSize > 0 {
		reader = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(&buf, reader)
	if err != nil {
		return "", err
	}
	if s.maxSize > 0 && n > s.maxSize {
		return "", ErrTooLarge
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(objectKey),
		Body:         bytes.NewReader(buf.Bytes()),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}

	return s.baseURL + "/" + objectKey, nil
}
