package handlers

import (
	"context"
	"strings"
	"testing"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/pkg/backend/memory"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/souravgh/unfs2go/pkg/registry"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	be, err := memory.New(memory.Config{Dirs: []string{"/data", "/lan"}})
	require.NoError(t, err)
	require.NoError(t, be.Fs().MkdirAll("/data/sub", 0755))
	require.NoError(t, afero.WriteFile(be.Fs(), "/data/file", nil, 0644))

	reg, err := registry.New([]registry.Export{
		{Path: "/data"},
		{Path: "/lan", AllowedClients: []string{"10.0.0.0/8"}},
	}, nil)
	require.NoError(t, err)

	return &Handler{Registry: reg, Handles: fhcache.New(be, 16, nil), Backend: be}
}

func mountCtx(addr string) *MountHandlerContext {
	return &MountHandlerContext{Context: context.Background(), ClientAddr: addr, AuthFlavor: rpc.AuthUnix}
}

func TestMount(t *testing.T) {
	h := newHandler(t)

	tests := []struct {
		name   string
		client string
		dir    string
		want   uint32
	}{
		{"export root", "127.0.0.1:900", "/data", MountOK},
		{"subdirectory", "127.0.0.1:900", "/data/sub/", MountOK},
		{"not exported", "127.0.0.1:900", "/etc", MountErrNoEnt},
		{"missing", "127.0.0.1:900", "/data/nope", MountErrNoEnt},
		{"regular file", "127.0.0.1:900", "/data/file", MountErrNotDir},
		{"client not allowed", "192.168.1.4:900", "/lan", MountErrAccess},
		{"client in range", "10.1.2.3:900", "/lan", MountOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.Mount(mountCtx(tt.client), &MountRequest{DirPath: tt.dir})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status, StatusString(resp.Status))
			if tt.want == MountOK {
				assert.Len(t, resp.FileHandle, fhcache.Size)
				assert.Equal(t, []int32{int32(rpc.AuthUnix), int32(rpc.AuthNull)}, resp.AuthFlavors)
			} else {
				assert.Empty(t, resp.FileHandle)
			}
		})
	}
}

func TestMountHandleIsStable(t *testing.T) {
	h := newHandler(t)

	a, err := h.Mount(mountCtx("127.0.0.1:1"), &MountRequest{DirPath: "/data"})
	require.NoError(t, err)
	b, err := h.Mount(mountCtx("127.0.0.1:2"), &MountRequest{DirPath: "/data/"})
	require.NoError(t, err)
	assert.Equal(t, a.FileHandle, b.FileHandle)
}

func TestMountTable(t *testing.T) {
	h := newHandler(t)
	local, lan := mountCtx("127.0.0.1:700"), mountCtx("10.0.0.9:700")

	for _, m := range []struct {
		ctx *MountHandlerContext
		dir string
	}{{local, "/data"}, {local, "/data/sub"}, {lan, "/lan"}} {
		resp, err := h.Mount(m.ctx, &MountRequest{DirPath: m.dir})
		require.NoError(t, err)
		require.Equal(t, uint32(MountOK), resp.Status)
	}

	dump, err := h.Dump(local, &DumpRequest{})
	require.NoError(t, err)
	assert.Len(t, dump.Entries, 3)

	_, err = h.Umnt(local, &UmountRequest{DirPath: "/data/sub"})
	require.NoError(t, err)
	dump, _ = h.Dump(local, &DumpRequest{})
	assert.Len(t, dump.Entries, 2)

	// Unknown entries are ignored.
	_, err = h.Umnt(local, &UmountRequest{DirPath: "/never"})
	require.NoError(t, err)

	_, err = h.UmntAll(local, &UmountAllRequest{})
	require.NoError(t, err)
	dump, _ = h.Dump(local, &DumpRequest{})
	require.Len(t, dump.Entries, 1)
	assert.Equal(t, DumpEntry{Hostname: "10.0.0.9", Directory: "/lan"}, dump.Entries[0])
}

func TestExport(t *testing.T) {
	h := newHandler(t)

	resp, err := h.Export(mountCtx("192.168.7.7:1"), &ExportRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 2)

	byDir := map[string][]string{}
	for _, e := range resp.Entries {
		byDir[e.Directory] = e.Groups
	}
	assert.Equal(t, []string{"127.0.0.1"}, byDir["/data"])
	assert.Equal(t, []string{"10.0.0.0/8"}, byDir["/lan"])

	data, err := resp.Encode()
	require.NoError(t, err)
	// Two nodes, each with one group, and the closing flags.
	assert.Zero(t, len(data)%4)
}

func TestDecodeMountRequest(t *testing.T) {
	encode := func(s string) []byte {
		b := []byte{0, 0, 0, byte(len(s))}
		if len(s) > 255 {
			b = []byte{0, 0, byte(len(s) >> 8), byte(len(s))}
		}
		b = append(b, s...)
		return append(b, make([]byte, rpc.XdrPadding(uint32(len(s))))...)
	}

	req, err := DecodeMountRequest(encode("/data"))
	require.NoError(t, err)
	assert.Equal(t, "/data", req.DirPath)

	_, err = DecodeMountRequest(encode("data"))
	assert.Error(t, err)

	_, err = DecodeMountRequest(encode("/" + strings.Repeat("a", MaxPathLen)))
	assert.Error(t, err)

	_, err = DecodeMountRequest([]byte{0, 0})
	assert.Error(t, err)
}

func TestMountResponseEncode(t *testing.T) {
	t.Run("error carries only the status", func(t *testing.T) {
		data, err := (&MountResponse{MountResponseBase: MountResponseBase{Status: MountErrNoEnt}}).Encode()
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 2}, data)
	})

	t.Run("success", func(t *testing.T) {
		resp := &MountResponse{
			MountResponseBase: MountResponseBase{Status: MountOK},
			FileHandle:        make([]byte, fhcache.Size),
			AuthFlavors:       []int32{1, 0},
		}
		data, err := resp.Encode()
		require.NoError(t, err)
		assert.Len(t, data, 4+4+fhcache.Size+4+8)
	})
}

func TestCancelledMount(t *testing.T) {
	h := newHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := h.Mount(&MountHandlerContext{Context: ctx, ClientAddr: "127.0.0.1:1"}, &MountRequest{DirPath: "/data"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(MountErrServerFault), resp.Status)
}
