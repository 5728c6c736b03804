package publish

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Object is one uploaded file.
type Object struct {
	Key  string
	Size int64
}

// Publisher uploads a generated site to an S3-compatible bucket.
type Publisher struct {
	client   *minio.Client
	bucket   string
	prefix   string
	region   string
	initOnce sync.Once
	initErr  error
}

func NewPublisher(cfg Config) (*Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: region,
	}, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
		if p.initErr == nil {
			log.Info().Str("bucket", p.bucket).Msg("Created bucket")
		}
	})
	return p.initErr
}

// Upload puts each file under the configured prefix, keyed by base name.
func (p *Publisher) Upload(ctx context.Context, files []string) ([]Object, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	objects := make([]Object, 0, len(files))
	for _, f := range files {
		key := ObjectKey(p.prefix, filepath.Base(f))
		info, err := p.client.FPutObject(ctx, p.bucket, key, f, minio.PutObjectOptions{
			ContentType:  ContentType(f),
			CacheControl: "no-cache",
		})
		if err != nil {
			return objects, fmt.Errorf("upload %s: %w", f, err)
		}
		objects = append(objects, Object{Key: key, Size: info.Size})
		log.Debug().Str("key", key).Int64("size", info.Size).Msg("Uploaded object")
	}

	log.Info().Str("bucket", p.bucket).Str("prefix", p.prefix).Int("objects", len(objects)).Msg("Published site")
	return objects, nil
}

// ObjectKey joins prefix and name into a slash-separated object key.
func ObjectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// ContentType picks the MIME type served for a site file.
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return "application/json; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".tsv":
		return "text/tab-separated-values; charset=utf-8"
	}
	if t := mime.TypeByExtension(filepath.Ext(file)); t != "" {
		return t
	}
	return "application/octet-stream"
}
