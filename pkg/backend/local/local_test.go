//go:build linux

package local

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	b, err := New(Config{Generations: true})
	require.NoError(t, err)
	return b, t.TempDir()
}

func TestLstat(t *testing.T) {
	b, dir := newBackend(t)
	p := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0640))

	attr, err := b.Lstat(p)
	require.NoError(t, err)
	assert.Equal(t, backend.TypeRegular, attr.Type)
	assert.Equal(t, uint32(0640), attr.Mode&0o777)
	assert.Equal(t, uint64(5), attr.Size)
	assert.Equal(t, uint32(1), attr.Nlink)
	assert.NotZero(t, attr.Ino)

	dattr, err := b.Lstat(dir)
	require.NoError(t, err)
	assert.Equal(t, backend.TypeDirectory, dattr.Type)
	assert.Equal(t, attr.Dev, dattr.Dev)

	_, err = b.Lstat(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, backend.ErrNotExist)
}

func TestReadWriteSync(t *testing.T) {
	b, dir := newBackend(t)
	p := filepath.Join(dir, "data")

	f, err := b.Open(p, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	n, err := f.WriteAt([]byte("abcdef"), 2)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, f.Sync())

	buf := make([]byte, 16)
	n, err = f.ReadAt(buf, 2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "abcdef", string(buf[:n]))

	_, err = b.Open(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	assert.ErrorIs(t, err, backend.ErrExist)
}

func TestNamespace(t *testing.T) {
	b, dir := newBackend(t)
	sub := filepath.Join(dir, "sub")
	require.NoError(t, b.Mkdir(sub, 0755))
	assert.ErrorIs(t, b.Mkdir(sub, 0755), backend.ErrExist)

	f, err := b.Open(filepath.Join(sub, "a"), os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.ErrorIs(t, b.Rmdir(sub), backend.ErrNotEmpty)

	require.NoError(t, b.Symlink("a", filepath.Join(sub, "link")))
	target, err := b.Readlink(filepath.Join(sub, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a", target)

	lattr, err := b.Lstat(filepath.Join(sub, "link"))
	require.NoError(t, err)
	assert.Equal(t, backend.TypeSymlink, lattr.Type)

	require.NoError(t, b.Link(filepath.Join(sub, "a"), filepath.Join(sub, "hard")))
	aattr, err := b.Lstat(filepath.Join(sub, "a"))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), aattr.Nlink)

	require.NoError(t, b.Mknod(filepath.Join(sub, "fifo"), backend.TypeFIFO, 0600, 0, 0))
	fattr, err := b.Lstat(filepath.Join(sub, "fifo"))
	require.NoError(t, err)
	assert.Equal(t, backend.TypeFIFO, fattr.Type)

	entries, err := b.ReadDir(sub)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a", "fifo", "hard", "link"}, names)

	require.NoError(t, b.Rename(filepath.Join(sub, "a"), filepath.Join(dir, "moved")))
	mattr, err := b.Lstat(filepath.Join(dir, "moved"))
	require.NoError(t, err)
	assert.Equal(t, aattr.Ino, mattr.Ino)

	assert.ErrorIs(t, b.Remove(sub), backend.ErrIsDir)
}

func TestSetAttributes(t *testing.T) {
	b, dir := newBackend(t)
	p := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0644))

	require.NoError(t, b.Chmod(p, 0600))
	require.NoError(t, b.Truncate(p, 4))
	mtime := time.Unix(1600000000, 0)
	require.NoError(t, b.Chtimes(p, time.Time{}, mtime))

	attr, err := b.Lstat(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(0600), attr.Mode)
	assert.Equal(t, uint64(4), attr.Size)
	assert.True(t, attr.Mtime.Equal(mtime))

	require.NoError(t, b.Lchown(p, -1, -1))

	st, err := b.StatFS(dir)
	require.NoError(t, err)
	assert.NotZero(t, st.TotalBytes)
	assert.LessOrEqual(t, st.AvailBytes, st.TotalBytes)
}
