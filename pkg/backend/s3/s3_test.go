package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data     []byte
	meta     map[string]string
	modified time.Time
}

// fakeS3 is an in-memory bucket implementing API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]*fakeObject)}
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		Metadata:      obj.meta,
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	data := obj.data
	if r := aws.ToString(in.Range); r != "" {
		bounds := strings.Split(strings.TrimPrefix(r, "bytes="), "-")
		lo, _ := strconv.Atoi(bounds[0])
		hi, _ := strconv.Atoi(bounds[1])
		if hi >= len(data) {
			hi = len(data) - 1
		}
		data = data[lo : hi+1]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...)))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.ToString(in.Key)] = &fakeObject{data: data, meta: in.Metadata, modified: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := aws.ToString(in.CopySource)
	src = src[strings.Index(src, "/")+1:]
	obj, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	meta := obj.meta
	if in.MetadataDirective == types.MetadataDirectiveReplace {
		meta = in.Metadata
	}
	f.objects[aws.ToString(in.Key)] = &fakeObject{data: obj.data, meta: meta, modified: time.Now()}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := make(map[string]bool)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		if in.MaxKeys != nil && int32(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	return out, nil
}

func newBackend(t *testing.T) (*Backend, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	b, err := New(context.Background(), fake, Config{Bucket: "bucket", KeyPrefix: "nfs"}, nil)
	require.NoError(t, err)
	return b, fake
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), nil, Config{Bucket: "b"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), newFakeS3(), Config{}, nil)
	assert.Error(t, err)
}

func TestWriteIsStagedUntilSync(t *testing.T) {
	b, fake := newBackend(t)
	require.NoError(t, b.Mkdir("/data", 0755))

	f, err := b.Open("/data/file.txt", os.O_CREATE|os.O_RDWR, 0640)
	require.NoError(t, err)
	putsAfterCreate := fake.puts

	_, err = f.WriteAt([]byte("hi"), 0)
	require.NoError(t, err)
	assert.Equal(t, putsAfterCreate, fake.puts, "write must not upload")
	assert.Empty(t, fake.objects["nfs/data/file.txt"].data)

	attr, err := b.Lstat("/data/file.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), attr.Size)
	assert.Equal(t, uint32(0640), attr.Mode)

	require.NoError(t, f.Sync())
	assert.Equal(t, "hi", string(fake.objects["nfs/data/file.txt"].data))
	require.NoError(t, f.Close())

	b.mu.Lock()
	assert.Empty(t, b.staged)
	b.mu.Unlock()
}

func TestRangedRead(t *testing.T) {
	b, fake := newBackend(t)
	fake.objects["nfs/blob"] = &fakeObject{data: []byte("0123456789"), modified: time.Now()}

	f, err := b.Open("/blob", os.O_RDONLY, 0)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf[:n]))

	n, err = f.ReadAt(buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "89", string(buf[:n]))

	_, err = f.ReadAt(buf, 20)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDirectories(t *testing.T) {
	b, fake := newBackend(t)
	require.NoError(t, b.Mkdir("/d", 0700))
	assert.ErrorIs(t, b.Mkdir("/d", 0700), backend.ErrExist)
	assert.ErrorIs(t, b.Mkdir("/missing/x", 0700), backend.ErrNotExist)

	for _, name := range []string{"b", "a"} {
		f, err := b.Open("/d/"+name, os.O_CREATE|os.O_WRONLY, 0644)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.NoError(t, b.Mkdir("/d/sub", 0755))

	// implicit directory: members without a marker
	fake.objects["nfs/d/implicit/x"] = &fakeObject{modified: time.Now()}

	entries, err := b.ReadDir("/d")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a", "b", "implicit", "sub"}, names)

	attr, err := b.Lstat("/d/implicit")
	require.NoError(t, err)
	assert.Equal(t, backend.TypeDirectory, attr.Type)

	assert.ErrorIs(t, b.Rmdir("/d"), backend.ErrNotEmpty)
	assert.ErrorIs(t, b.Remove("/d"), backend.ErrIsDir)
	require.NoError(t, b.Rmdir("/d/sub"))

	require.NoError(t, b.Rename("/d", "/e"))
	_, err = b.Lstat("/e/a")
	require.NoError(t, err)
	_, err = b.Lstat("/d/a")
	assert.ErrorIs(t, err, backend.ErrNotExist)
}

func TestAttributesInMetadata(t *testing.T) {
	b, _ := newBackend(t)
	f, err := b.Open("/f", os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, b.Chmod("/f", 0600))
	require.NoError(t, b.Lchown("/f", 42, -1))
	mtime := time.Unix(1700000000, 0)
	require.NoError(t, b.Chtimes("/f", time.Time{}, mtime))
	require.NoError(t, b.Truncate("/f", 5))

	attr, err := b.Lstat("/f")
	require.NoError(t, err)
	assert.Equal(t, uint32(0600), attr.Mode)
	assert.Equal(t, uint32(42), attr.UID)
	assert.Equal(t, uint64(5), attr.Size)
	assert.Equal(t, hash("/f"), attr.Ino)

	assert.ErrorIs(t, b.Symlink("x", "/l"), backend.ErrNotSupported)
}
