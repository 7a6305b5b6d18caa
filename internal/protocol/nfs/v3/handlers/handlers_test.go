package handlers

import (
	"context"
	"fmt"
	"testing"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/backend/memory"
	"github.com/souravgh/unfs2go/pkg/fdcache"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/souravgh/unfs2go/pkg/registry"
	"github.com/souravgh/unfs2go/pkg/verifier"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t    *testing.T
	h    *Handler
	be   *memory.Backend
	ctx  *NFSHandlerContext
	root []byte
}

func newFixture(t *testing.T, exports ...registry.Export) *fixture {
	t.Helper()
	if len(exports) == 0 {
		exports = []registry.Export{{Path: "/data"}}
	}

	dirs := make([]string, 0, len(exports))
	for _, e := range exports {
		dirs = append(dirs, e.Path)
	}
	be, err := memory.New(memory.Config{Dirs: dirs})
	require.NoError(t, err)

	reg, err := registry.New(exports, nil)
	require.NoError(t, err)

	h := &Handler{
		Backend:  be,
		Handles:  fhcache.New(be, 128, nil),
		Files:    fdcache.New(be, 8),
		Registry: reg,
		Verifier: verifier.New().Verifier,
		Cookies:  NewCookieEpoch(),
	}

	uid, gid := uint32(0), uint32(0)
	f := &fixture{
		t:  t,
		h:  h,
		be: be,
		ctx: &NFSHandlerContext{
			Context:    context.Background(),
			ClientAddr: "127.0.0.1:1000",
			AuthFlavor: rpc.AuthUnix,
			UID:        &uid,
			GID:        &gid,
		},
	}
	f.root = f.handleFor(exports[0].Path)
	return f
}

func (f *fixture) handleFor(p string) []byte {
	f.t.Helper()
	fh, _, err := f.h.Handles.HandleFor(p)
	require.NoError(f.t, err)
	return fh[:]
}

func (f *fixture) touch(p string) []byte {
	f.t.Helper()
	require.NoError(f.t, afero.WriteFile(f.be.Fs(), p, nil, 0644))
	return f.handleFor(p)
}

func (f *fixture) lookup(dir []byte, name string) *LookupResponse {
	f.t.Helper()
	resp, err := f.h.Lookup(f.ctx, &LookupRequest{DirHandle: dir, Filename: name})
	require.NoError(f.t, err)
	return resp
}

// ============================================================================
// READDIR
// ============================================================================

func TestReadDirPaging(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.touch(fmt.Sprintf("/data/f%02d", i))
	}

	var (
		names  []string
		cookie uint64
		verf   uint64
		pages  int
	)
	for {
		resp, err := f.h.ReadDir(f.ctx, &ReadDirRequest{
			DirHandle:  f.root,
			Cookie:     cookie,
			CookieVerf: verf,
			Count:      readDirHeaderSize + 3*(readDirEntrySize+4),
		})
		require.NoError(t, err)
		require.Equal(t, uint32(types.NFS3OK), resp.Status)
		require.NotEmpty(t, resp.Entries)
		pages++

		for _, e := range resp.Entries {
			names = append(names, e.Name)
			assert.Equal(t, f.h.Cookies.Current(), uint32(e.Cookie>>32))
		}
		cookie = resp.Entries[len(resp.Entries)-1].Cookie
		verf = resp.CookieVerf
		if resp.EOF {
			break
		}
		require.Less(t, pages, 20, "listing does not terminate")
	}

	want := []string{".", ".."}
	for i := 0; i < 10; i++ {
		want = append(want, fmt.Sprintf("f%02d", i))
	}
	assert.Equal(t, want, names)
	assert.Equal(t, 4, pages)
}

func TestReadDirCookies(t *testing.T) {
	f := newFixture(t)
	f.touch("/data/a")
	f.touch("/data/b")

	first, err := f.h.ReadDir(f.ctx, &ReadDirRequest{DirHandle: f.root, Count: 4096})
	require.NoError(t, err)
	require.Equal(t, uint32(types.NFS3OK), first.Status)
	require.Len(t, first.Entries, 4)
	cookie := first.Entries[1].Cookie

	t.Run("resume after cookie", func(t *testing.T) {
		resp, err := f.h.ReadDir(f.ctx, &ReadDirRequest{DirHandle: f.root, Cookie: cookie, CookieVerf: first.CookieVerf, Count: 4096})
		require.NoError(t, err)
		require.Equal(t, uint32(types.NFS3OK), resp.Status)
		require.Len(t, resp.Entries, 2)
		assert.Equal(t, "a", resp.Entries[0].Name)
		assert.True(t, resp.EOF)
	})

	t.Run("zero verifier is accepted", func(t *testing.T) {
		resp, err := f.h.ReadDir(f.ctx, &ReadDirRequest{DirHandle: f.root, Cookie: cookie, Count: 4096})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3OK), resp.Status)
	})

	t.Run("wrong verifier", func(t *testing.T) {
		resp, err := f.h.ReadDir(f.ctx, &ReadDirRequest{DirHandle: f.root, Cookie: cookie, CookieVerf: first.CookieVerf + 1, Count: 4096})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3ErrBadCookie), resp.Status)
		assert.NotNil(t, resp.DirAttr)
	})

	t.Run("stale epoch", func(t *testing.T) {
		f.h.Cookies.Advance()
		resp, err := f.h.ReadDir(f.ctx, &ReadDirRequest{DirHandle: f.root, Cookie: cookie, CookieVerf: first.CookieVerf, Count: 4096})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3ErrBadCookie), resp.Status)

		plus, err := f.h.ReadDirPlus(f.ctx, &ReadDirPlusRequest{DirHandle: f.root, Cookie: cookie, DirCount: 4096, MaxCount: 8192})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3ErrBadCookie), plus.Status)
	})

	t.Run("cookie zero restarts", func(t *testing.T) {
		resp, err := f.h.ReadDir(f.ctx, &ReadDirRequest{DirHandle: f.root, CookieVerf: 12345, Count: 4096})
		require.NoError(t, err)
		require.Equal(t, uint32(types.NFS3OK), resp.Status)
		assert.Len(t, resp.Entries, 4)
	})
}

func TestReadDirErrors(t *testing.T) {
	f := newFixture(t)
	file := f.touch("/data/file")

	t.Run("too small", func(t *testing.T) {
		resp, err := f.h.ReadDir(f.ctx, &ReadDirRequest{DirHandle: f.root, Count: readDirHeaderSize + 1})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3ErrTooSmall), resp.Status)
	})

	t.Run("not a directory", func(t *testing.T) {
		resp, err := f.h.ReadDir(f.ctx, &ReadDirRequest{DirHandle: file, Count: 4096})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3ErrNotDir), resp.Status)
	})
}

func TestReadDirPlusHandles(t *testing.T) {
	f := newFixture(t)
	file := f.touch("/data/x")

	resp, err := f.h.ReadDirPlus(f.ctx, &ReadDirPlusRequest{DirHandle: f.root, DirCount: 4096, MaxCount: 8192})
	require.NoError(t, err)
	require.Equal(t, uint32(types.NFS3OK), resp.Status)
	require.Len(t, resp.Entries, 3)

	// ".." at the export root is the root itself.
	assert.Equal(t, f.root, resp.Entries[1].Handle)
	assert.Equal(t, file, resp.Entries[2].Handle)
	require.NotNil(t, resp.Entries[2].Attr)
	assert.Equal(t, uint32(types.NF3REG), resp.Entries[2].Attr.Type)
	assert.True(t, resp.EOF)
}

// ============================================================================
// CREATE / REMOVE / RENAME
// ============================================================================

func TestCreateModes(t *testing.T) {
	f := newFixture(t)
	f.touch("/data/exists")

	create := func(req *CreateRequest) *CreateResponse {
		t.Helper()
		req.DirHandle = f.root
		resp, err := f.h.Create(f.ctx, req)
		require.NoError(t, err)
		return resp
	}

	t.Run("unchecked on existing file", func(t *testing.T) {
		resp := create(&CreateRequest{Filename: "exists", Mode: types.CreateUnchecked, Attr: &types.SetAttrs{}})
		assert.Equal(t, uint32(types.NFS3OK), resp.Status)
	})

	t.Run("guarded on existing file", func(t *testing.T) {
		resp := create(&CreateRequest{Filename: "exists", Mode: types.CreateGuarded, Attr: &types.SetAttrs{}})
		assert.Equal(t, uint32(types.NFS3ErrExist), resp.Status)
		assert.NotNil(t, resp.DirAfter)
	})

	t.Run("guarded new file", func(t *testing.T) {
		resp := create(&CreateRequest{Filename: "new", Mode: types.CreateGuarded, Attr: &types.SetAttrs{SetMode: true, Mode: 0600}})
		require.Equal(t, uint32(types.NFS3OK), resp.Status)
		assert.Equal(t, uint32(0600), resp.Attr.Mode&0777)
		assert.Equal(t, resp.FileHandle, f.lookup(f.root, "new").FileHandle)
	})

	t.Run("exclusive retransmission", func(t *testing.T) {
		verf := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
		first := create(&CreateRequest{Filename: "excl", Mode: types.CreateExclusive, Verf: verf})
		require.Equal(t, uint32(types.NFS3OK), first.Status)

		again := create(&CreateRequest{Filename: "excl", Mode: types.CreateExclusive, Verf: verf})
		require.Equal(t, uint32(types.NFS3OK), again.Status)
		assert.Equal(t, first.FileHandle, again.FileHandle)

		other := create(&CreateRequest{Filename: "excl", Mode: types.CreateExclusive, Verf: [8]byte{9}})
		assert.Equal(t, uint32(types.NFS3ErrExist), other.Status)
	})

	t.Run("invalid names", func(t *testing.T) {
		assert.Equal(t, uint32(types.NFS3ErrExist),
			create(&CreateRequest{Filename: "..", Mode: types.CreateGuarded, Attr: &types.SetAttrs{}}).Status)
		assert.Equal(t, uint32(types.NFS3ErrAcces),
			create(&CreateRequest{Filename: "a/b", Mode: types.CreateGuarded, Attr: &types.SetAttrs{}}).Status)
		long := make([]byte, 256)
		for i := range long {
			long[i] = 'x'
		}
		assert.Equal(t, uint32(types.NFS3ErrNameTooLong),
			create(&CreateRequest{Filename: string(long), Mode: types.CreateGuarded, Attr: &types.SetAttrs{}}).Status)
	})
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	fh := f.touch("/data/victim")

	resp, err := f.h.Remove(f.ctx, &RemoveRequest{DirHandle: f.root, Filename: "victim"})
	require.NoError(t, err)
	require.Equal(t, uint32(types.NFS3OK), resp.Status)
	assert.NotNil(t, resp.DirBefore)
	assert.NotNil(t, resp.DirAfter)

	assert.Equal(t, uint32(types.NFS3ErrNoEnt), f.lookup(f.root, "victim").Status)

	attr, err := f.h.GetAttr(f.ctx, &GetAttrRequest{Handle: fh})
	require.NoError(t, err)
	assert.Equal(t, uint32(types.NFS3ErrStale), attr.Status)

	for _, name := range []string{".", ".."} {
		resp, err := f.h.Remove(f.ctx, &RemoveRequest{DirHandle: f.root, Filename: name})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3ErrInval), resp.Status, name)
	}
}

func TestRmdir(t *testing.T) {
	f := newFixture(t)

	mk, err := f.h.Mkdir(f.ctx, &MkdirRequest{DirHandle: f.root, Name: "sub", Attr: &types.SetAttrs{}})
	require.NoError(t, err)
	require.Equal(t, uint32(types.NFS3OK), mk.Status)
	f.touch("/data/sub/file")

	resp, err := f.h.Rmdir(f.ctx, &RemoveRequest{DirHandle: f.root, Filename: "sub"})
	require.NoError(t, err)
	assert.Equal(t, uint32(types.NFS3ErrNotEmpty), resp.Status)

	_, err = f.h.Remove(f.ctx, &RemoveRequest{DirHandle: mk.FileHandle, Filename: "file"})
	require.NoError(t, err)
	resp, err = f.h.Rmdir(f.ctx, &RemoveRequest{DirHandle: f.root, Filename: "sub"})
	require.NoError(t, err)
	assert.Equal(t, uint32(types.NFS3OK), resp.Status)
}

func TestRename(t *testing.T) {
	f := newFixture(t)
	fh := f.touch("/data/old")

	resp, err := f.h.Rename(f.ctx, &RenameRequest{
		FromDirHandle: f.root, FromName: "old",
		ToDirHandle: f.root, ToName: "new",
	})
	require.NoError(t, err)
	require.Equal(t, uint32(types.NFS3OK), resp.Status)

	assert.Equal(t, uint32(types.NFS3ErrNoEnt), f.lookup(f.root, "old").Status)
	got := f.lookup(f.root, "new")
	require.Equal(t, uint32(types.NFS3OK), got.Status)

	// The object kept its identity, so the old handle still resolves.
	attr, err := f.h.GetAttr(f.ctx, &GetAttrRequest{Handle: fh})
	require.NoError(t, err)
	assert.Equal(t, uint32(types.NFS3OK), attr.Status)
}

// ============================================================================
// SETATTR / ACCESS / WRITE validation
// ============================================================================

func TestSetAttr(t *testing.T) {
	f := newFixture(t)
	fh := f.touch("/data/file")

	t.Run("truncate", func(t *testing.T) {
		resp, err := f.h.SetAttr(f.ctx, &SetAttrRequest{Handle: fh, NewAttr: &types.SetAttrs{SetSize: true, Size: 100}})
		require.NoError(t, err)
		require.Equal(t, uint32(types.NFS3OK), resp.Status)
		assert.Equal(t, uint64(100), resp.AttrAfter.Size)
	})

	t.Run("truncate drops cached descriptors", func(t *testing.T) {
		w, err := f.h.Write(f.ctx, &WriteRequest{Handle: fh, Count: 11, Stable: types.WriteUnstable, Data: []byte("hello world")})
		require.NoError(t, err)
		require.Equal(t, uint32(types.NFS3OK), w.Status)
		_, writers := f.h.Files.Counts()
		require.Equal(t, 1, writers)

		resp, err := f.h.SetAttr(f.ctx, &SetAttrRequest{Handle: fh, NewAttr: &types.SetAttrs{SetSize: true, Size: 5}})
		require.NoError(t, err)
		require.Equal(t, uint32(types.NFS3OK), resp.Status)
		assert.Equal(t, uint64(5), resp.AttrAfter.Size)

		readers, writers := f.h.Files.Counts()
		assert.Zero(t, readers)
		assert.Zero(t, writers)

		r, err := f.h.Read(f.ctx, &ReadRequest{Handle: fh, Count: 100})
		require.NoError(t, err)
		require.Equal(t, uint32(types.NFS3OK), r.Status)
		assert.Equal(t, "hello", string(r.Data))
	})

	t.Run("guard mismatch", func(t *testing.T) {
		resp, err := f.h.SetAttr(f.ctx, &SetAttrRequest{
			Handle:  fh,
			NewAttr: &types.SetAttrs{SetMode: true, Mode: 0600},
			Guard:   types.TimeGuard{Check: true, Time: types.TimeVal{Seconds: 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3ErrNotSync), resp.Status)
		assert.NotNil(t, resp.AttrBefore)
	})

	t.Run("size on a directory", func(t *testing.T) {
		resp, err := f.h.SetAttr(f.ctx, &SetAttrRequest{Handle: f.root, NewAttr: &types.SetAttrs{SetSize: true, Size: 0}})
		require.NoError(t, err)
		assert.Equal(t, uint32(types.NFS3ErrInval), resp.Status)
	})
}

func TestGrantedAccess(t *testing.T) {
	all := uint32(types.AccessRead | types.AccessLookup | types.AccessModify |
		types.AccessExtend | types.AccessDelete | types.AccessExecute)
	file := &backend.Attr{Type: backend.TypeRegular, Mode: 0640, UID: 1000, GID: 100}
	dir := &backend.Attr{Type: backend.TypeDirectory, Mode: 0755, UID: 1000, GID: 100}

	tests := []struct {
		name string
		attr *backend.Attr
		id   registry.Identity
		want uint32
	}{
		{"root gets everything", file, registry.Identity{UID: 0}, all},
		{"owner read write", file, registry.Identity{UID: 1000, GID: 1}, types.AccessRead | types.AccessModify | types.AccessExtend},
		{"group read", file, registry.Identity{UID: 2000, GID: 100}, types.AccessRead},
		{"supplementary group", file, registry.Identity{UID: 2000, GID: 1, GIDs: []uint32{100}}, types.AccessRead},
		{"other nothing", file, registry.Identity{UID: 2000, GID: 1}, 0},
		{"dir owner", dir, registry.Identity{UID: 1000}, types.AccessRead | types.AccessLookup | types.AccessModify | types.AccessExtend | types.AccessDelete},
		{"dir other", dir, registry.Identity{UID: 2000, GID: 1}, types.AccessRead | types.AccessLookup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, grantedAccess(tt.attr, tt.id, all))
		})
	}
}

func TestReadOnlyExport(t *testing.T) {
	f := newFixture(t, registry.Export{Path: "/ro", ReadOnly: true})
	fh := f.touch("/ro/file")

	w, err := f.h.Write(f.ctx, &WriteRequest{Handle: fh, Count: 1, Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, uint32(types.NFS3ErrRofs), w.Status)

	c, err := f.h.Create(f.ctx, &CreateRequest{DirHandle: f.root, Filename: "n", Mode: types.CreateGuarded, Attr: &types.SetAttrs{}})
	require.NoError(t, err)
	assert.Equal(t, uint32(types.NFS3ErrRofs), c.Status)

	a, err := f.h.Access(f.ctx, &AccessRequest{Handle: fh, Access: types.AccessRead | types.AccessModify})
	require.NoError(t, err)
	assert.Equal(t, uint32(types.AccessRead), a.Access)
}

func TestWriteValidation(t *testing.T) {
	f := newFixture(t)
	fh := f.touch("/data/file")

	tests := []struct {
		name string
		req  *WriteRequest
		want uint32
	}{
		{"directory", &WriteRequest{Handle: f.root, Count: 1, Data: []byte("x")}, types.NFS3ErrIsDir},
		{"count exceeds data", &WriteRequest{Handle: fh, Count: 5, Data: []byte("x")}, types.NFS3ErrInval},
		{"bad stable_how", &WriteRequest{Handle: fh, Count: 1, Stable: 3, Data: []byte("x")}, types.NFS3ErrInval},
		{"offset overflow", &WriteRequest{Handle: fh, Offset: ^uint64(0), Count: 1, Data: []byte("x")}, types.NFS3ErrFBig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.h.Write(f.ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.ctx.Context = ctx

	resp, err := f.h.GetAttr(f.ctx, &GetAttrRequest{Handle: f.root})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(types.NFS3ErrIO), resp.Status)
}

func TestCookieEpoch(t *testing.T) {
	c := NewCookieEpoch()
	assert.Equal(t, uint32(1), c.Current())

	cookie := makeCookie(c.Current(), 4)
	epoch, next := splitCookie(cookie)
	assert.Equal(t, uint32(1), epoch)
	assert.Equal(t, 5, next)

	assert.Equal(t, uint32(2), c.Advance())
}
