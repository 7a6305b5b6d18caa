package s3

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// NewClient builds an S3 client from cfg. A custom endpoint switches to
// path-style addressing for MinIO and Localstack.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("S3 backend: region is required")
	}

	var opts []func(*awsConfig.LoadOptions) error
	opts = append(opts, awsConfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	opts = append(opts, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 client configured: bucket=%s region=%s endpoint=%q prefix=%q",
		cfg.Bucket, cfg.Region, cfg.Endpoint, cfg.KeyPrefix)
	return client, nil
}

func sortEntries(entries []backend.DirEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// file is an open object. Reads go straight to S3 with byte ranges until
// the first write stages the content locally.
type file struct {
	b        *Backend
	path     string
	writable bool
	st       *staging
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, backend.NewError("read", f.path, backend.ErrInvalid)
	}
	if len(p) == 0 {
		return 0, nil
	}

	f.b.mu.Lock()
	st, ok := f.b.staged[f.path]
	if ok {
		defer f.b.mu.Unlock()
		if off >= int64(len(st.data)) {
			return 0, io.EOF
		}
		n := copy(p, st.data[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}
	f.b.mu.Unlock()

	return f.readRange(p, off)
}

func (f *file) readRange(p []byte, off int64) (n int, err error) {
	b := f.b
	obj, err := b.head(b.key(f.path))
	if err != nil {
		return 0, translate("read", f.path, err)
	}
	if obj == nil {
		return 0, backend.NewError("read", f.path, backend.ErrNotExist)
	}
	size := aws.ToInt64(obj.ContentLength)
	if off >= size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	if end >= size {
		end = size - 1
	}

	ctx, cancel := b.ctx()
	defer cancel()

	start := time.Now()
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(f.path)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	b.observe("GetObject", start, err)
	if err != nil {
		return 0, translate("read", f.path, err)
	}
	defer func() { _ = out.Body.Close() }()

	n, err = io.ReadFull(out.Body, p[:end-off+1])
	b.metrics.RecordBytes("read", int64(n))
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, translate("read", f.path, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if !f.writable {
		return 0, backend.NewError("write", f.path, backend.ErrPermission)
	}
	if off < 0 {
		return 0, backend.NewError("write", f.path, backend.ErrInvalid)
	}

	if f.st == nil {
		st, err := f.b.stage(f.path)
		if err != nil {
			return 0, err
		}
		f.b.mu.Lock()
		st.refs++
		f.b.mu.Unlock()
		f.st = st
	}

	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(f.st.data)) {
		f.st.data = resize(f.st.data, end)
	}
	copy(f.st.data[off:], p)
	f.st.dirty = true
	return len(p), nil
}

func (f *file) Sync() error {
	return f.b.flush(f.path)
}

func (f *file) Close() error {
	err := f.b.flush(f.path)
	if f.st != nil {
		f.b.mu.Lock()
		f.st.refs--
		f.b.mu.Unlock()
		f.st = nil
	}
	f.b.dropIdle(f.path)
	return err
}
