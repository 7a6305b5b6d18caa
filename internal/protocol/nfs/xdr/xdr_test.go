package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Fixtures
// ============================================================================

func validFileAttr() *types.NFSFileAttr {
	now := time.Now()
	return &types.NFSFileAttr{
		Type:   types.NF3REG,
		Mode:   0644,
		Nlink:  1,
		UID:    1000,
		GID:    1000,
		Size:   1024,
		Used:   4096,
		Fsid:   1,
		Fileid: 12345,
		Atime:  TimeToTimeVal(now),
		Mtime:  TimeToTimeVal(now),
		Ctime:  TimeToTimeVal(now),
	}
}

func validWccAttr() *types.WccAttr {
	now := time.Now()
	return &types.WccAttr{
		Size:  1024,
		Mtime: TimeToTimeVal(now),
		Ctime: TimeToTimeVal(now),
	}
}

func u32(vals ...uint32) []byte {
	buf := new(bytes.Buffer)
	for _, v := range vals {
		_ = binary.Write(buf, binary.BigEndian, v)
	}
	return buf.Bytes()
}

// ============================================================================
// Encoding Tests
// ============================================================================

func TestEncodeOptionalOpaque(t *testing.T) {
	t.Run("EncodesEmptyAsNotPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeOptionalOpaque(buf, nil))
		assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())
	})

	t.Run("EncodesWithProperPadding", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeOptionalOpaque(buf, []byte{0x01, 0x02, 0x03}))

		expected := []byte{
			0, 0, 0, 1, // present flag
			0, 0, 0, 3, // length
			0x01, 0x02, 0x03, 0, // data + 1 byte padding
		}
		assert.Equal(t, expected, buf.Bytes())
	})
}

func TestEncodeFileAttr(t *testing.T) {
	t.Run("HasFixedSize", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeFileAttr(buf, validFileAttr()))
		assert.Equal(t, 84, buf.Len())
	})

	t.Run("FieldOrder", func(t *testing.T) {
		buf := new(bytes.Buffer)
		attr := validFileAttr()
		attr.Rdev = types.SpecData{Major: 8, Minor: 1}
		require.NoError(t, EncodeFileAttr(buf, attr))

		b := buf.Bytes()
		assert.Equal(t, uint32(types.NF3REG), binary.BigEndian.Uint32(b[0:4]))
		assert.Equal(t, uint32(0644), binary.BigEndian.Uint32(b[4:8]))
		assert.Equal(t, uint64(1024), binary.BigEndian.Uint64(b[20:28]))
		assert.Equal(t, uint32(8), binary.BigEndian.Uint32(b[36:40]))
		assert.Equal(t, uint32(1), binary.BigEndian.Uint32(b[40:44]))
		assert.Equal(t, uint64(1), binary.BigEndian.Uint64(b[44:52]))
		assert.Equal(t, uint64(12345), binary.BigEndian.Uint64(b[52:60]))
	})

	t.Run("RejectsNil", func(t *testing.T) {
		assert.Error(t, EncodeFileAttr(new(bytes.Buffer), nil))
	})
}

func TestEncodeWccData(t *testing.T) {
	t.Run("EncodesWithoutBeforeAttr", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeWccData(buf, nil, validFileAttr()))
		assert.Equal(t, uint32(0), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
		assert.Equal(t, 4+4+84, buf.Len())
	})

	t.Run("EncodesWithBothAttrs", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeWccData(buf, validWccAttr(), validFileAttr()))
		assert.Equal(t, 4+24+4+84, buf.Len())
	})

	t.Run("EncodesNeither", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeWccData(buf, nil, nil))
		assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes())
	})
}

// ============================================================================
// Decoding Tests
// ============================================================================

func TestDecodeOpaque(t *testing.T) {
	t.Run("DecodesOpaqueWithPadding", func(t *testing.T) {
		buf := bytes.NewBuffer(u32(3))
		buf.Write([]byte{0x01, 0x02, 0x03, 0x00})

		data, err := DecodeOpaque(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)
	})

	t.Run("RejectsExcessiveLength", func(t *testing.T) {
		_, err := DecodeOpaque(bytes.NewBuffer(u32(2 * 1024 * 1024)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds maximum")
	})

	t.Run("RejectsShortBody", func(t *testing.T) {
		buf := bytes.NewBuffer(u32(8))
		buf.Write([]byte{1, 2})
		_, err := DecodeOpaque(buf)
		assert.Error(t, err)
	})
}

func TestDecodeFileHandle(t *testing.T) {
	buf := bytes.NewBuffer(u32(65))
	buf.Write(make([]byte, 68))
	_, err := DecodeFileHandle(buf)
	assert.Error(t, err, "handles are at most 64 bytes")

	buf = bytes.NewBuffer(u32(4))
	buf.Write([]byte{9, 9, 9, 9})
	buf.Write(u32(5))
	buf.WriteString("hello")
	buf.Write([]byte{0, 0, 0})
	h, name, err := DecodeDirOpArgs(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, h)
	assert.Equal(t, "hello", name)
}

func TestDecodeSetAttrs(t *testing.T) {
	t.Run("NothingSet", func(t *testing.T) {
		attr, err := DecodeSetAttrs(bytes.NewReader(u32(0, 0, 0, 0, 0, 0)))
		require.NoError(t, err)
		assert.Equal(t, &types.SetAttrs{}, attr)
	})

	t.Run("AllSet", func(t *testing.T) {
		buf := bytes.NewBuffer(u32(1, 0755, 1, 1000, 1, 100, 1))
		_ = binary.Write(buf, binary.BigEndian, uint64(4096))
		buf.Write(u32(types.SetToServerTime))
		buf.Write(u32(types.SetToClientTime, 1700000000, 5))

		attr, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		assert.True(t, attr.SetMode)
		assert.Equal(t, uint32(0755), attr.Mode)
		assert.Equal(t, uint32(1000), attr.UID)
		assert.Equal(t, uint32(100), attr.GID)
		assert.Equal(t, uint64(4096), attr.Size)
		assert.Equal(t, uint32(types.SetToServerTime), attr.SetAtime)
		assert.Equal(t, uint32(types.SetToClientTime), attr.SetMtime)
		assert.Equal(t, types.TimeVal{Seconds: 1700000000, Nseconds: 5}, attr.Mtime)
	})

	t.Run("RejectsBadTimeHow", func(t *testing.T) {
		_, err := DecodeSetAttrs(bytes.NewReader(u32(0, 0, 0, 0, 3, 0)))
		assert.Error(t, err)
	})

	t.Run("RejectsBadBool", func(t *testing.T) {
		_, err := DecodeSetAttrs(bytes.NewReader(u32(7)))
		assert.Error(t, err)
	})
}

// ============================================================================
// Conversion Tests
// ============================================================================

func TestToNFSAttr(t *testing.T) {
	mtime := time.Unix(1700000000, 42)
	attr := &backend.Attr{
		Type: backend.TypeChar, Mode: 04755, Nlink: 1, UID: 1, GID: 2,
		Size: 0, Major: 4, Minor: 64, Dev: 77, Ino: 99, Mtime: mtime,
	}
	out := ToNFSAttr(attr)
	assert.Equal(t, uint32(types.NF3CHR), out.Type)
	assert.Equal(t, uint32(04755), out.Mode)
	assert.Equal(t, types.SpecData{Major: 4, Minor: 64}, out.Rdev)
	assert.Equal(t, uint64(77), out.Fsid)
	assert.Equal(t, uint64(99), out.Fileid)
	assert.Equal(t, types.TimeVal{Seconds: 1700000000, Nseconds: 42}, out.Mtime)
	assert.Equal(t, types.TimeVal{}, out.Atime)

	attr.Type = backend.TypeRegular
	assert.Equal(t, types.SpecData{}, ToNFSAttr(attr).Rdev)
	assert.Nil(t, ToNFSAttr(nil))

	wcc := CaptureWccAttr(attr)
	assert.Equal(t, out.Mtime, wcc.Mtime)
}

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err    error
		status uint32
	}{
		{nil, types.NFS3OK},
		{backend.NewError("lstat", "/x", backend.ErrNotExist), types.NFS3ErrNoEnt},
		{fmt.Errorf("wrapped: %w", backend.ErrNotEmpty), types.NFS3ErrNotEmpty},
		{backend.ErrReadOnly, types.NFS3ErrRofs},
		{backend.ErrNotSupported, types.NFS3ErrNotSupp},
		{fhcache.ErrStale, types.NFS3ErrStale},
		{fhcache.ErrNotFound, types.NFS3ErrStale},
		{fhcache.ErrBadHandle, types.NFS3ErrBadHandle},
		{fmt.Errorf("something odd"), types.NFS3ErrIO},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, MapBackendErrorToNFSStatus(tc.err, "127.0.0.1", "TEST"), "%v", tc.err)
	}
}

func TestExtractClientIP(t *testing.T) {
	assert.Equal(t, "10.0.0.1", ExtractClientIP("10.0.0.1:700"))
	assert.Equal(t, "::1", ExtractClientIP("[::1]:2049"))
	assert.Equal(t, "unknown", ExtractClientIP(""))
	assert.Equal(t, "weird", ExtractClientIP("weird"))
}
