package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromOS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"errno ENOENT", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, ErrNotExist},
		{"errno EACCES", syscall.EACCES, ErrPermission},
		{"errno ENOTEMPTY", &os.PathError{Op: "rmdir", Path: "/d", Err: syscall.ENOTEMPTY}, ErrNotEmpty},
		{"errno ENOSPC", syscall.ENOSPC, ErrNoSpace},
		{"errno EROFS", syscall.EROFS, ErrReadOnly},
		{"errno ENOSYS", syscall.ENOSYS, ErrNotSupported},
		{"unknown errno", syscall.EBUSY, ErrIO},
		{"fs.ErrNotExist", fs.ErrNotExist, ErrNotExist},
		{"fs.ErrExist", fmt.Errorf("create: %w", fs.ErrExist), ErrExist},
		{"fs.ErrPermission", fs.ErrPermission, ErrPermission},
		{"not empty text", errors.New("directory not empty"), ErrNotEmpty},
		{"anything else", errors.New("boom"), ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromOS("op", "/p", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestFromOSKeepsExistingKind(t *testing.T) {
	assert.NoError(t, FromOS("op", "/p", nil))

	orig := NewError("symlink", "/a", ErrNotSupported)
	assert.Same(t, orig, FromOS("other", "/b", orig))
	assert.Equal(t, "symlink /a: operation not supported", orig.Error())
}
