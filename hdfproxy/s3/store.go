// Package s3 stores arraystore objects in an S3-compatible bucket.
//
// It works with AWS S3, MinIO, LocalStack, Cloudflare R2 and other
// S3-compatible object stores that honor conditional writes.
//
// Array blocks are bounded by the proxy's max array size, so every object is
// uploaded with a single PutObject carrying If-None-Match: *. The bucket
// itself provides the no-overwrite guarantee.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pithecene-io/hdfproxy/hdfproxy/arraystore"
)

// API is the part of *s3.Client the store calls.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config selects where in the bucket array objects live.
type Config struct {
	// Bucket must already exist. Required.
	Bucket string

	// Prefix is prepended to every key. A trailing slash is added if missing.
	Prefix string
}

// Store implements arraystore.Store on an S3-compatible backend.
type Store struct {
	client API
	bucket *string
	prefix string
}

var _ arraystore.Store = (*Store)(nil)

// New creates a store over client, which carries credentials, region and
// endpoint:
//
//	awsCfg, err := config.LoadDefaultConfig(ctx)
//	store, err := s3.New(awss3.NewFromConfig(awsCfg), s3.Config{Bucket: "arrays"})
func New(client API, cfg Config) (*Store, error) {
	switch {
	case client == nil:
		return nil, errors.New("s3: client is required")
	case cfg.Bucket == "":
		return nil, errors.New("s3: bucket is required")
	}

	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}
	return &Store{client: client, bucket: aws.String(cfg.Bucket), prefix: prefix}, nil
}

// Put uploads the object at key. It returns arraystore.ErrPathExists when
// the key is taken.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("s3: reading %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        s.bucket,
		Key:           objKey,
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		IfNoneMatch:   aws.String("*"),
	})
	return classify("put", key, err)
}

// Get opens the object at key, or returns arraystore.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: s.bucket, Key: objKey})
	if err != nil {
		return nil, classify("get", key, err)
	}
	return out.Body, nil
}

// Exists reports whether the object at key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	objKey, err := s.objectKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: s.bucket, Key: objKey})
	switch err = classify("head", key, err); {
	case err == nil:
		return true, nil
	case errors.Is(err, arraystore.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// List returns every key under prefix, relative to the store prefix, across
// all result pages.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix, err := s.listPrefix(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: s.bucket,
		Prefix: aws.String(listPrefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if k := aws.ToString(obj.Key); k != "" {
				keys = append(keys, strings.TrimPrefix(k, s.prefix))
			}
		}
	}
	return keys, nil
}

// Delete removes the object at key. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: s.bucket, Key: objKey})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Keys
// -----------------------------------------------------------------------------

// objectKey resolves a store path to a bucket key. Paths that are empty or
// climb above the store root are rejected.
func (s *Store) objectKey(key string) (*string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || rel == "" || escapes(key) {
		return nil, arraystore.ErrInvalidPath
	}
	return aws.String(s.prefix + rel), nil
}

// listPrefix keeps a trailing slash so "a/" never matches "ab/...".
func (s *Store) listPrefix(prefix string) (string, error) {
	if escapes(prefix) {
		return "", arraystore.ErrInvalidPath
	}
	rel := strings.TrimPrefix(path.Clean("/"+prefix), "/")
	if rel != "" && strings.HasSuffix(prefix, "/") {
		rel += "/"
	}
	return s.prefix + rel, nil
}

// escapes reports whether p, once cleaned, points outside the store root.
func escapes(p string) bool {
	c := path.Clean(p)
	return c == ".." || strings.HasPrefix(c, "../")
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// classify maps an SDK error for key to the arraystore sentinels. A nil err
// stays nil. A missing bucket is a configuration error, not a missing key.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
		apiErr   smithy.APIError
	)
	switch {
	case errors.As(err, &noBucket):
		return fmt.Errorf("s3: %s %s: bucket does not exist: %w", op, key, err)
	case errors.As(err, &noKey):
		return arraystore.ErrNotFound
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return arraystore.ErrNotFound
		case "PreconditionFailed", "412", "ConditionalRequestConflict", "409":
			return arraystore.ErrPathExists
		}
	}
	return fmt.Errorf("s3: %s %s: %w", op, key, err)
}
