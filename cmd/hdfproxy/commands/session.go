package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
	"github.com/pithecene-io/hdfproxy/hdfproxy/arraystore"
	"github.com/pithecene-io/hdfproxy/hdfproxy/loopback"
	"github.com/pithecene-io/hdfproxy/hdfproxy/s3"
)

// newLogger builds the slog logger described by cfg, writing to w.
func newLogger(cfg LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openStore opens the store named by cfg.URL.
func openStore(ctx context.Context, cfg StoreConfig) (arraystore.Store, error) {
	if cfg.URL == "mem" || cfg.URL == "memory" {
		return arraystore.NewMemory(), nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store.url %q: %w", cfg.URL, err)
	}
	switch u.Scheme {
	case "file":
		dir := u.Path
		if u.Host != "" {
			// file://relative/dir
			dir = u.Host + u.Path
		}
		if dir == "" {
			return nil, fmt.Errorf("store.url %q: missing directory", cfg.URL)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		return arraystore.NewFS(dir)
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("store.url %q: missing bucket", cfg.URL)
		}
		client, err := newS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s3.New(client, s3.Config{Bucket: u.Host, Prefix: strings.TrimPrefix(u.Path, "/")})
	default:
		return nil, fmt.Errorf("store.url %q: unsupported scheme %q", cfg.URL, u.Scheme)
	}
}

func newS3Client(ctx context.Context, cfg S3Config) (*awss3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// resourceURI returns the configured resource URI. With generate set, an
// empty URI is replaced by a new object URI.
func resourceURI(cfg ResourceConfig, generate bool) (string, error) {
	if cfg.URI != "" {
		return cfg.URI, nil
	}
	if !generate {
		return "", errors.New("a resource URI is required (--resource or resource.uri)")
	}
	return hdfproxy.BuildResourceURI(cfg.Dataspace, cfg.ObjectType, uuid.New())
}

// session is a proxy wired to an in-process array service.
type session struct {
	svc   *arraystore.Service
	ch    *loopback.Channel
	proxy *hdfproxy.Proxy
}

func newSession(ctx context.Context, cfg *Config, uri string, logger *slog.Logger, opts ...hdfproxy.Option) (*session, error) {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	codec, err := arraystore.ParseBlockCodec(cfg.Store.Codec)
	if err != nil {
		return nil, err
	}
	compressor, err := arraystore.ParseCompressor(cfg.Store.Compressor)
	if err != nil {
		return nil, err
	}
	svc, err := arraystore.NewService(store,
		arraystore.WithBlockCodec(codec),
		arraystore.WithCompressor(compressor),
		arraystore.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	ch, err := loopback.New(svc, loopback.WithLogger(logger), loopback.WithTimeout(cfg.Proxy.Timeout))
	if err != nil {
		return nil, err
	}

	maxSize, err := cfg.MaxArraySizeBytes()
	if err != nil {
		return nil, err
	}
	policy, err := hdfproxy.ParseSplitPolicy(cfg.Proxy.SplitPolicy)
	if err != nil {
		return nil, err
	}
	proxyOpts := append([]hdfproxy.Option{
		hdfproxy.WithMaxArraySize(maxSize),
		hdfproxy.WithTimeout(cfg.Proxy.Timeout),
		hdfproxy.WithSplitPolicy(policy),
		hdfproxy.WithLogger(logger),
	}, opts...)
	p, err := hdfproxy.New(ch, uri, proxyOpts...)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &session{svc: svc, ch: ch, proxy: p}, nil
}

func (s *session) Close() error {
	return s.ch.Close()
}
