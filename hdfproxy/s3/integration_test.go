package s3

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3api "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
	"github.com/pithecene-io/hdfproxy/hdfproxy/arraystore"
	"github.com/pithecene-io/hdfproxy/hdfproxy/loopback"
)

// flagIntegration gates tests that need a running S3-compatible service.
var flagIntegration = flag.Bool("integration", false, "run integration tests against LocalStack and MinIO")

// To run:
//
//	docker run -d -p 4566:4566 localstack/localstack
//	docker run -d -p 9000:9000 minio/minio server /data
//	go test -v ./hdfproxy/s3/... -integration
type s3Backend struct {
	name     string
	endpoint string
	key      string
	secret   string
}

var s3Backends = []s3Backend{
	{"LocalStack", "http://localhost:4566", "test", "test"},
	{"MinIO", "http://localhost:9000", "minioadmin", "minioadmin"},
}

func (b s3Backend) client(ctx context.Context) (*s3api.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(b.key, b.secret, "")),
	)
	if err != nil {
		return nil, err
	}
	return s3api.NewFromConfig(cfg, func(o *s3api.Options) {
		o.BaseEndpoint = aws.String(b.endpoint)
		o.UsePathStyle = true
	}), nil
}

// setupTestBucket creates a unique bucket removed again by t.Cleanup.
func setupTestBucket(t *testing.T, backend s3Backend) *Store {
	t.Helper()
	if !*flagIntegration {
		t.Skip("skipping integration test; use -integration to enable")
	}

	ctx := t.Context()
	client, err := backend.client(ctx)
	if err != nil {
		t.Fatalf("failed to create %s client: %v", backend.name, err)
	}
	bucket := fmt.Sprintf("hdfproxy-test-%d", time.Now().UnixNano())
	if _, err := client.CreateBucket(ctx, &s3api.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	t.Cleanup(func() {
		cleanupCtx := context.Background()
		paginator := s3api.NewListObjectsV2Paginator(client, &s3api.ListObjectsV2Input{Bucket: aws.String(bucket)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(cleanupCtx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(cleanupCtx, &s3api.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(cleanupCtx, &s3api.DeleteBucketInput{Bucket: aws.String(bucket)})
	})

	store, err := New(client, Config{Bucket: bucket, Prefix: "it"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestIntegration_PutIsConditional(t *testing.T) {
	for _, backend := range s3Backends {
		t.Run(backend.name, func(t *testing.T) {
			store := setupTestBucket(t, backend)
			ctx := t.Context()

			if err := store.Put(ctx, "a/_manifest.json", strings.NewReader("{}")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			err := store.Put(ctx, "a/_manifest.json", strings.NewReader("{}"))
			if !errors.Is(err, arraystore.ErrPathExists) {
				t.Errorf("second Put: expected ErrPathExists, got %v", err)
			}

			keys, err := store.List(ctx, "a/")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if !slices.Equal(keys, []string{"a/_manifest.json"}) {
				t.Errorf("List = %v", keys)
			}
		})
	}
}

func TestIntegration_ChunkedWrite(t *testing.T) {
	for _, backend := range s3Backends {
		t.Run(backend.name, func(t *testing.T) {
			store := setupTestBucket(t, backend)
			ctx := t.Context()

			svc, err := arraystore.NewService(store, arraystore.WithCompressor(arraystore.NewZstdCompressor()))
			if err != nil {
				t.Fatalf("NewService: %v", err)
			}
			ch, err := loopback.New(svc)
			if err != nil {
				t.Fatalf("loopback.New: %v", err)
			}
			defer ch.Close()

			uri := "eml:///resqml20.obj_Grid2dRepresentation(integration)"
			p, err := hdfproxy.New(ch, uri, hdfproxy.WithMaxArraySize(512))
			if err != nil {
				t.Fatalf("hdfproxy.New: %v", err)
			}
			values := make([]float32, 20*20)
			for i := range values {
				values[i] = float32(i)
			}
			if err := p.WriteArray(ctx, "/g", "v", hdfproxy.Float, values, []uint64{20, 20}); err != nil {
				t.Fatalf("WriteArray: %v", err)
			}
			if _, err := p.Metadata(ctx, "/g/v"); err != nil {
				t.Fatalf("Metadata: %v", err)
			}

			got, err := svc.ReadArray(ctx, hdfproxy.BuildIdentifier(uri, "/g/v"))
			if err != nil {
				t.Fatalf("ReadArray: %v", err)
			}
			if !slices.Equal(got.Floats, values) {
				t.Error("reassembled values differ")
			}
		})
	}
}
