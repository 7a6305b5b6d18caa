// Package s3 implements backend.Backend on Amazon S3 or an S3-compatible
// object store.
//
// Key Design:
//   - A file "/a/b" is stored at KeyPrefix + "a/b"
//   - A directory "/a" is a zero-length marker at KeyPrefix + "a/"
//   - A prefix with members but no marker is still reported as a directory
//
// Ownership, permission bits and timestamps travel as object user metadata.
// Inode numbers are an FNV-64a hash of the path, so they survive restarts
// but change on rename; generation is always zero.
//
// Writes through an open File are staged in memory and uploaded with a
// single PutObject on Sync or Close. Symlinks, hard links and device nodes
// are not supported.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/souravgh/unfs2go/pkg/backend"
)

// API is the subset of *s3.Client the backend calls.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Metrics observes S3 calls. A nil Metrics disables collection.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}

// Config contains the S3 backend settings.
type Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	KeyPrefix       string `mapstructure:"key_prefix"`

	// MaxRetries bounds SDK retries for transient failures. Default: 10.
	MaxRetries int `mapstructure:"max_retries"`

	// Timeout bounds every individual S3 call. Default: 30s.
	Timeout time.Duration `mapstructure:"timeout"`

	// CapacityBytes is the size StatFS reports. Default: 1 PiB.
	CapacityBytes uint64 `mapstructure:"capacity_bytes"`
}

// Backend stores files as S3 objects.
type Backend struct {
	client   API
	bucket   string
	prefix   string
	dev      uint64
	timeout  time.Duration
	capacity uint64
	metrics  Metrics

	// staged holds unsynced writes per path, shared by every open File.
	mu     sync.Mutex
	staged map[string]*staging
}

type staging struct {
	data  []byte
	dirty bool
	refs  int
}

var _ backend.Backend = (*Backend)(nil)

// New verifies bucket access and returns a backend using client.
func New(ctx context.Context, client API, cfg Config, metrics Metrics) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CapacityBytes == 0 {
		cfg.CapacityBytes = 1 << 50
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	prefix := strings.TrimPrefix(cfg.KeyPrefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Backend{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   prefix,
		dev:      hash(cfg.Bucket + "/" + prefix),
		timeout:  cfg.Timeout,
		capacity: cfg.CapacityBytes,
		metrics:  metrics,
		staged:   make(map[string]*staging),
	}, nil
}

func hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func clean(p string) string {
	return path.Clean("/" + p)
}

// key returns the object key of a file at p.
func (b *Backend) key(p string) string {
	return b.prefix + strings.TrimPrefix(p, "/")
}

// dirKey returns the marker key (and listing prefix) of a directory at p.
func (b *Backend) dirKey(p string) string {
	if p == "/" {
		return b.prefix
	}
	return b.key(p) + "/"
}

func (b *Backend) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

func (b *Backend) observe(op string, start time.Time, err error) {
	b.metrics.ObserveOperation(op, time.Since(start), err)
}

// translate maps SDK failures to backend kinds.
func translate(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return &backend.Error{Op: op, Path: p, Kind: backend.ErrNotExist, Cause: err}
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return &backend.Error{Op: op, Path: p, Kind: backend.ErrIO, Cause: err}
	}
	return backend.FromOS(op, p, err)
}

// objectMeta is the attribute set carried in user metadata.
type objectMeta struct {
	mode  uint32
	uid   uint32
	gid   uint32
	atime time.Time
	mtime time.Time
}

func parseMeta(m map[string]string, lastModified *time.Time, defMode uint32) objectMeta {
	om := objectMeta{mode: defMode}
	if lastModified != nil {
		om.mtime = *lastModified
		om.atime = *lastModified
	}
	if v, err := strconv.ParseUint(m["mode"], 8, 32); err == nil {
		om.mode = uint32(v)
	}
	if v, err := strconv.ParseUint(m["uid"], 10, 32); err == nil {
		om.uid = uint32(v)
	}
	if v, err := strconv.ParseUint(m["gid"], 10, 32); err == nil {
		om.gid = uint32(v)
	}
	if v, err := strconv.ParseInt(m["mtime"], 10, 64); err == nil {
		om.mtime = time.Unix(0, v)
	}
	if v, err := strconv.ParseInt(m["atime"], 10, 64); err == nil {
		om.atime = time.Unix(0, v)
	}
	return om
}

func (om objectMeta) encode() map[string]string {
	return map[string]string{
		"mode":  strconv.FormatUint(uint64(om.mode), 8),
		"uid":   strconv.FormatUint(uint64(om.uid), 10),
		"gid":   strconv.FormatUint(uint64(om.gid), 10),
		"mtime": strconv.FormatInt(om.mtime.UnixNano(), 10),
		"atime": strconv.FormatInt(om.atime.UnixNano(), 10),
	}
}

// head returns the object at key, or nil when it does not exist.
func (b *Backend) head(key string) (*s3.HeadObjectOutput, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	start := time.Now()
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	b.observe("HeadObject", start, err)
	if err != nil {
		if errors.Is(translate("head", key, err), backend.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// hasMembers reports whether any object lives under prefix.
func (b *Backend) hasMembers(prefix string, ignore string) (bool, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	start := time.Now()
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(2),
	})
	b.observe("ListObjectsV2", start, err)
	if err != nil {
		return false, err
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != ignore {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) Lstat(name string) (*backend.Attr, error) {
	p := clean(name)
	attr := &backend.Attr{Dev: b.dev, Ino: hash(p), Nlink: 1}

	if p != "/" {
		obj, err := b.head(b.key(p))
		if err != nil {
			return nil, translate("lstat", p, err)
		}
		if obj != nil {
			om := parseMeta(obj.Metadata, obj.LastModified, 0644)
			attr.Type = backend.TypeRegular
			attr.Mode = om.mode
			attr.UID, attr.GID = om.uid, om.gid
			attr.Size = uint64(aws.ToInt64(obj.ContentLength))
			if st := b.stagedSize(p); st >= 0 {
				attr.Size = uint64(st)
			}
			attr.Used = attr.Size
			attr.Atime, attr.Mtime, attr.Ctime = om.atime, om.mtime, om.mtime
			return attr, nil
		}
	}

	attr.Type = backend.TypeDirectory
	attr.Nlink = 2
	attr.Mode = 0755
	attr.Size = 4096

	marker, err := b.head(b.dirKey(p))
	if err != nil {
		return nil, translate("lstat", p, err)
	}
	if marker != nil {
		om := parseMeta(marker.Metadata, marker.LastModified, 0755)
		attr.Mode = om.mode
		attr.UID, attr.GID = om.uid, om.gid
		attr.Atime, attr.Mtime, attr.Ctime = om.atime, om.mtime, om.mtime
		return attr, nil
	}
	if p == "/" {
		return attr, nil
	}

	found, err := b.hasMembers(b.dirKey(p), "")
	if err != nil {
		return nil, translate("lstat", p, err)
	}
	if !found {
		return nil, backend.NewError("lstat", p, backend.ErrNotExist)
	}
	return attr, nil
}

func (b *Backend) stagedSize(p string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.staged[p]; ok {
		return int64(len(st.data))
	}
	return -1
}

func (b *Backend) requireDir(op, p string) error {
	attr, err := b.Lstat(p)
	if err != nil {
		return err
	}
	if attr.Type != backend.TypeDirectory {
		return backend.NewError(op, p, backend.ErrNotDir)
	}
	return nil
}

func (b *Backend) put(key string, data []byte, meta map[string]string) error {
	ctx, cancel := b.ctx()
	defer cancel()

	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      meta,
	})
	b.observe("PutObject", start, err)
	if err == nil {
		b.metrics.RecordBytes("write", int64(len(data)))
	}
	return err
}

func (b *Backend) getAll(key string) ([]byte, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	start := time.Now()
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	b.observe("GetObject", start, err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	b.metrics.RecordBytes("read", int64(len(data)))
	return data, err
}

func (b *Backend) remove(key string) error {
	ctx, cancel := b.ctx()
	defer cancel()

	start := time.Now()
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	b.observe("DeleteObject", start, err)
	return err
}

// rewriteMeta replaces the user metadata of key in place.
func (b *Backend) rewriteMeta(key string, meta map[string]string) error {
	ctx, cancel := b.ctx()
	defer cancel()

	start := time.Now()
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(b.bucket + "/" + key),
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	b.observe("CopyObject", start, err)
	return err
}

func (b *Backend) copyObject(from, to string) error {
	ctx, cancel := b.ctx()
	defer cancel()

	start := time.Now()
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(b.bucket + "/" + from),
	})
	b.observe("CopyObject", start, err)
	return err
}

func (b *Backend) Open(name string, flag int, perm uint32) (backend.File, error) {
	p := clean(name)

	attr, err := b.Lstat(p)
	switch {
	case err == nil:
		if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
			return nil, backend.NewError("open", p, backend.ErrExist)
		}
		if attr.Type == backend.TypeDirectory && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
			return nil, backend.NewError("open", p, backend.ErrIsDir)
		}
	case !errors.Is(err, backend.ErrNotExist) || flag&os.O_CREATE == 0:
		return nil, err
	default:
		if err := b.requireDir("open", path.Dir(p)); err != nil {
			return nil, err
		}
		now := time.Now()
		meta := objectMeta{mode: perm & 0o7777, atime: now, mtime: now}.encode()
		if err := b.put(b.key(p), nil, meta); err != nil {
			return nil, translate("open", p, err)
		}
	}

	if flag&os.O_TRUNC != 0 && attr != nil && attr.Size > 0 {
		if err := b.Truncate(p, 0); err != nil {
			return nil, err
		}
	}

	return &file{b: b, path: p, writable: flag&(os.O_WRONLY|os.O_RDWR) != 0}, nil
}

// stage returns the staging buffer for p, loading current content on
// first use. Caller releases it with unstage.
func (b *Backend) stage(p string) (*staging, error) {
	b.mu.Lock()
	st, ok := b.staged[p]
	b.mu.Unlock()
	if ok {
		return st, nil
	}

	data, err := b.getAll(b.key(p))
	if err != nil {
		return nil, translate("write", p, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.staged[p]; ok {
		return st, nil
	}
	st = &staging{data: data}
	b.staged[p] = st
	return st, nil
}

// flush uploads the staged content of p if it changed.
func (b *Backend) flush(p string) error {
	b.mu.Lock()
	st, ok := b.staged[p]
	if !ok || !st.dirty {
		b.mu.Unlock()
		return nil
	}
	data := append([]byte(nil), st.data...)
	st.dirty = false
	b.mu.Unlock()

	obj, err := b.head(b.key(p))
	if err != nil {
		return translate("sync", p, err)
	}
	om := objectMeta{mode: 0644}
	if obj != nil {
		om = parseMeta(obj.Metadata, obj.LastModified, 0644)
	}
	om.mtime = time.Now()

	if err := b.put(b.key(p), data, om.encode()); err != nil {
		b.mu.Lock()
		st.dirty = true
		b.mu.Unlock()
		return translate("sync", p, err)
	}
	return nil
}

func (b *Backend) Truncate(name string, size int64) error {
	p := clean(name)
	if size < 0 {
		return backend.NewError("truncate", p, backend.ErrInvalid)
	}
	attr, err := b.Lstat(p)
	if err != nil {
		return err
	}
	if attr.Type == backend.TypeDirectory {
		return backend.NewError("truncate", p, backend.ErrIsDir)
	}

	st, err := b.stage(p)
	if err != nil {
		return err
	}
	b.mu.Lock()
	st.data = resize(st.data, size)
	st.dirty = true
	b.mu.Unlock()

	err = b.flush(p)
	b.dropIdle(p)
	return err
}

func resize(data []byte, size int64) []byte {
	if int64(len(data)) >= size {
		return data[:size]
	}
	return append(data, make([]byte, size-int64(len(data)))...)
}

// dropIdle forgets a clean staging buffer no open File references.
func (b *Backend) dropIdle(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.staged[p]; ok && st.refs == 0 && !st.dirty {
		delete(b.staged, p)
	}
}

func (b *Backend) Remove(name string) error {
	p := clean(name)
	attr, err := b.Lstat(p)
	if err != nil {
		return err
	}
	if attr.Type == backend.TypeDirectory {
		return backend.NewError("remove", p, backend.ErrIsDir)
	}
	if err := b.remove(b.key(p)); err != nil {
		return translate("remove", p, err)
	}
	b.mu.Lock()
	delete(b.staged, p)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Rmdir(name string) error {
	p := clean(name)
	if p == "/" {
		return backend.NewError("rmdir", p, backend.ErrPermission)
	}
	if err := b.requireDir("rmdir", p); err != nil {
		return err
	}
	marker := b.dirKey(p)
	found, err := b.hasMembers(marker, marker)
	if err != nil {
		return translate("rmdir", p, err)
	}
	if found {
		return backend.NewError("rmdir", p, backend.ErrNotEmpty)
	}
	return translate("rmdir", p, b.remove(marker))
}

func (b *Backend) Rename(oldname, newname string) error {
	from, to := clean(oldname), clean(newname)
	if from == to {
		return nil
	}
	if strings.HasPrefix(to, from+"/") {
		return backend.NewError("rename", from, backend.ErrInvalid)
	}

	src, err := b.Lstat(from)
	if err != nil {
		return err
	}
	if err := b.requireDir("rename", path.Dir(to)); err != nil {
		return err
	}
	if dst, err := b.Lstat(to); err == nil {
		switch {
		case src.Type == backend.TypeDirectory && dst.Type != backend.TypeDirectory:
			return backend.NewError("rename", to, backend.ErrNotDir)
		case src.Type != backend.TypeDirectory && dst.Type == backend.TypeDirectory:
			return backend.NewError("rename", to, backend.ErrIsDir)
		case dst.Type == backend.TypeDirectory:
			if err := b.Rmdir(to); err != nil {
				return err
			}
		}
	}

	if src.Type != backend.TypeDirectory {
		if err := b.flush(from); err != nil {
			return err
		}
		if err := b.copyObject(b.key(from), b.key(to)); err != nil {
			return translate("rename", from, err)
		}
		if err := b.remove(b.key(from)); err != nil {
			return translate("rename", from, err)
		}
		b.mu.Lock()
		if st, ok := b.staged[from]; ok {
			delete(b.staged, from)
			b.staged[to] = st
		}
		b.mu.Unlock()
		return nil
	}

	keys, err := b.listAll(b.dirKey(from))
	if err != nil {
		return translate("rename", from, err)
	}
	oldPrefix, newPrefix := b.dirKey(from), b.dirKey(to)
	for _, k := range keys {
		dst := newPrefix + strings.TrimPrefix(k, oldPrefix)
		if err := b.copyObject(k, dst); err != nil {
			return translate("rename", from, err)
		}
		if err := b.remove(k); err != nil {
			return translate("rename", from, err)
		}
	}
	return nil
}

// listAll returns every key under prefix.
func (b *Backend) listAll(prefix string) ([]string, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	var keys []string
	pager := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		start := time.Now()
		page, err := pager.NextPage(ctx)
		b.observe("ListObjectsV2", start, err)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (b *Backend) Link(oldname, newname string) error {
	return backend.NewError("link", clean(newname), backend.ErrNotSupported)
}

func (b *Backend) Symlink(target, newname string) error {
	return backend.NewError("symlink", clean(newname), backend.ErrNotSupported)
}

func (b *Backend) Mknod(name string, ftype backend.FileType, perm uint32, major, minor uint32) error {
	return backend.NewError("mknod", clean(name), backend.ErrNotSupported)
}

func (b *Backend) Readlink(name string) (string, error) {
	p := clean(name)
	if _, err := b.Lstat(p); err != nil {
		return "", err
	}
	return "", backend.NewError("readlink", p, backend.ErrInvalid)
}

func (b *Backend) Mkdir(name string, perm uint32) error {
	p := clean(name)
	if _, err := b.Lstat(p); err == nil {
		return backend.NewError("mkdir", p, backend.ErrExist)
	}
	if err := b.requireDir("mkdir", path.Dir(p)); err != nil {
		return err
	}
	now := time.Now()
	meta := objectMeta{mode: perm & 0o7777, atime: now, mtime: now}.encode()
	return translate("mkdir", p, b.put(b.dirKey(p), nil, meta))
}

// updateMeta applies fn to the stored attributes of p. Implicit
// directories gain a marker.
func (b *Backend) updateMeta(op, p string, fn func(*objectMeta)) error {
	attr, err := b.Lstat(p)
	if err != nil {
		return err
	}
	key := b.key(p)
	if attr.Type == backend.TypeDirectory {
		key = b.dirKey(p)
	}
	om := objectMeta{mode: attr.Mode, uid: attr.UID, gid: attr.GID, atime: attr.Atime, mtime: attr.Mtime}
	fn(&om)

	obj, err := b.head(key)
	if err != nil {
		return translate(op, p, err)
	}
	if obj == nil {
		return translate(op, p, b.put(key, nil, om.encode()))
	}
	return translate(op, p, b.rewriteMeta(key, om.encode()))
}

func (b *Backend) Chmod(name string, mode uint32) error {
	return b.updateMeta("chmod", clean(name), func(om *objectMeta) { om.mode = mode & 0o7777 })
}

func (b *Backend) Lchown(name string, uid, gid int) error {
	return b.updateMeta("lchown", clean(name), func(om *objectMeta) {
		if uid >= 0 {
			om.uid = uint32(uid)
		}
		if gid >= 0 {
			om.gid = uint32(gid)
		}
	})
}

func (b *Backend) Chtimes(name string, atime, mtime time.Time) error {
	return b.updateMeta("chtimes", clean(name), func(om *objectMeta) {
		if !atime.IsZero() {
			om.atime = atime
		}
		if !mtime.IsZero() {
			om.mtime = mtime
		}
	})
}

func (b *Backend) StatFS(name string) (*backend.FSStat, error) {
	return &backend.FSStat{
		TotalBytes: b.capacity,
		FreeBytes:  b.capacity,
		AvailBytes: b.capacity,
		TotalFiles: 1 << 40,
		FreeFiles:  1 << 40,
		AvailFiles: 1 << 40,
	}, nil
}

func (b *Backend) ReadDir(name string) ([]backend.DirEntry, error) {
	p := clean(name)
	if err := b.requireDir("readdir", p); err != nil {
		return nil, err
	}

	ctx, cancel := b.ctx()
	defer cancel()

	prefix := b.dirKey(p)
	seen := make(map[string]struct{})
	var entries []backend.DirEntry
	add := func(n string) {
		if n == "" {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		entries = append(entries, backend.DirEntry{Name: n, Ino: hash(path.Join(p, n))})
	}

	pager := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for pager.HasMorePages() {
		start := time.Now()
		page, err := pager.NextPage(ctx)
		b.observe("ListObjectsV2", start, err)
		if err != nil {
			return nil, translate("readdir", p, err)
		}
		// S3 returns keys in UTF-8 binary order within each group.
		for _, cp := range page.CommonPrefixes {
			add(strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/"))
		}
		for _, obj := range page.Contents {
			add(strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	sortEntries(entries)
	return entries, nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	paths := make([]string, 0, len(b.staged))
	for p := range b.staged {
		paths = append(paths, p)
	}
	b.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := b.flush(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
