package nfs

import (
	"context"
	"testing"

	mount "github.com/souravgh/unfs2go/internal/protocol/nfs/mount/handlers"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	nfs "github.com/souravgh/unfs2go/internal/protocol/nfs/v3/handlers"
	"github.com/souravgh/unfs2go/internal/ratelimiter"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fdcache"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/souravgh/unfs2go/pkg/registry"
	"github.com/souravgh/unfs2go/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClient = "127.0.0.1:1023"

func newDispatcher(t *testing.T, be backend.Backend) (*Dispatcher, *recordingMetrics) {
	t.Helper()

	reg, err := registry.New([]registry.Export{{Path: "/data"}}, nil)
	require.NoError(t, err)

	handles := fhcache.New(be, 64, nil)
	rec := &recordingMetrics{}
	return &Dispatcher{
		NFS: &nfs.Handler{
			Backend:  be,
			Handles:  handles,
			Files:    fdcache.New(be, 8),
			Registry: reg,
			Verifier: verifier.New().Verifier,
			Cookies:  nfs.NewCookieEpoch(),
		},
		Mount: &mount.Handler{
			Registry: reg,
			Handles:  handles,
			Backend:  be,
		},
		Metrics: rec,
	}, rec
}

func TestDispatchRPCErrors(t *testing.T) {
	tests := []struct {
		name       string
		call       []byte
		replyState uint32
		stat       uint32
		status     string
	}{
		{
			name:       "unknown NFS procedure",
			call:       nfsCall(1, 22, nil),
			replyState: rpc.RPCMsgAccepted,
			stat:       rpc.RPCProcUnavail,
			status:     "PROC_UNAVAIL",
		},
		{
			name:       "unknown MOUNT procedure",
			call:       mountCall(2, 6, nil),
			replyState: rpc.RPCMsgAccepted,
			stat:       rpc.RPCProcUnavail,
			status:     "PROC_UNAVAIL",
		},
		{
			name:       "undecodable GETATTR arguments",
			call:       nfsCall(3, types.NFSProcGetAttr, []byte{0, 0}),
			replyState: rpc.RPCMsgAccepted,
			stat:       rpc.RPCGarbageArgs,
			status:     "GARBAGE_ARGS",
		},
		{
			name:       "oversized handle in READ",
			call:       nfsCall(4, types.NFSProcRead, args().opaque(make([]byte, 65)).u64(0).u32(10).bytes()),
			replyState: rpc.RPCMsgAccepted,
			stat:       rpc.RPCGarbageArgs,
			status:     "GARBAGE_ARGS",
		},
		{
			name:       "unknown program",
			call:       buildCall(callSpec{xid: 5, prog: 100099, vers: 1, cred: unixCred(0, 0)}),
			replyState: rpc.RPCMsgAccepted,
			stat:       rpc.RPCProgUnavail,
			status:     "PROG_UNAVAIL",
		},
		{
			name:       "NFS version 2",
			call:       buildCall(callSpec{xid: 6, prog: rpc.ProgramNFS, vers: 2, cred: unixCred(0, 0)}),
			replyState: rpc.RPCMsgAccepted,
			stat:       rpc.RPCProgMismatch,
			status:     "PROG_MISMATCH",
		},
		{
			name:       "RPC version 3",
			call:       buildCall(callSpec{xid: 7, rpcVers: 3, prog: rpc.ProgramNFS, vers: 3, cred: unixCred(0, 0)}),
			replyState: rpc.RPCMsgDenied,
			stat:       rpc.RPCMismatch,
			status:     "RPC_MISMATCH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := &mockBackend{}
			d, rec := newDispatcher(t, be)

			reply, err := d.Dispatch(context.Background(), tt.call, testClient)
			require.NoError(t, err)

			r := parseReply(t, reply)
			assert.Equal(t, tt.replyState, r.replyState)
			assert.Equal(t, tt.stat, r.acceptStat)
			assert.Equal(t, tt.status, rec.last().status)

			// None of these may reach the backend.
			be.AssertExpectations(t)
			assert.Empty(t, be.Calls)
		})
	}
}

func TestDispatchVersionRanges(t *testing.T) {
	be := &mockBackend{}
	d, _ := newDispatcher(t, be)

	t.Run("NFS advertises 3-3", func(t *testing.T) {
		reply, err := d.Dispatch(context.Background(),
			buildCall(callSpec{xid: 1, prog: rpc.ProgramNFS, vers: 4}), testClient)
		require.NoError(t, err)
		r := parseReply(t, reply)
		require.Equal(t, uint32(rpc.RPCProgMismatch), r.acceptStat)
		assert.Equal(t, uint32(3), r.body.u32())
		assert.Equal(t, uint32(3), r.body.u32())
	})

	t.Run("MOUNT advertises 1-3", func(t *testing.T) {
		reply, err := d.Dispatch(context.Background(),
			buildCall(callSpec{xid: 2, prog: rpc.ProgramMount, vers: 2}), testClient)
		require.NoError(t, err)
		r := parseReply(t, reply)
		require.Equal(t, uint32(rpc.RPCProgMismatch), r.acceptStat)
		assert.Equal(t, uint32(1), r.body.u32())
		assert.Equal(t, uint32(3), r.body.u32())
	})

	t.Run("MOUNT v1 is served", func(t *testing.T) {
		reply, err := d.Dispatch(context.Background(),
			buildCall(callSpec{xid: 3, prog: rpc.ProgramMount, vers: rpc.MountVersion1, proc: mount.MountProcNull}), testClient)
		require.NoError(t, err)
		r := parseReply(t, reply)
		assert.Equal(t, uint32(rpc.RPCSuccess), r.acceptStat)
		assert.Zero(t, r.body.remaining())
	})
}

func TestDispatchNull(t *testing.T) {
	be := &mockBackend{}
	d, rec := newDispatcher(t, be)

	reply, err := d.Dispatch(context.Background(), nfsCall(0xabcdef, types.NFSProcNull, nil), testClient)
	require.NoError(t, err)

	r := parseReply(t, reply)
	assert.Equal(t, uint32(0xabcdef), r.xid)
	assert.Equal(t, uint32(rpc.RPCSuccess), r.acceptStat)
	assert.Zero(t, r.body.remaining())
	assert.Equal(t, recordedRequest{"NFS", "NULL", "NFS3_OK"}, rec.last())
	assert.Empty(t, be.Calls)
}

func TestDispatchBadHandle(t *testing.T) {
	be := &mockBackend{}
	d, _ := newDispatcher(t, be)

	// Right length, wrong version byte.
	bad := make([]byte, fhcache.Size)
	bad[0] = 0xff

	reply, err := d.Dispatch(context.Background(),
		nfsCall(9, types.NFSProcGetAttr, args().opaque(bad).bytes()), testClient)
	require.NoError(t, err)

	r := parseReply(t, reply)
	require.Equal(t, uint32(rpc.RPCSuccess), r.acceptStat)
	assert.Equal(t, uint32(types.NFS3ErrBadHandle), r.body.u32())
	assert.Empty(t, be.Calls)
}

func TestDispatchMalformedCall(t *testing.T) {
	be := &mockBackend{}
	d, _ := newDispatcher(t, be)

	t.Run("truncated header", func(t *testing.T) {
		reply, err := d.Dispatch(context.Background(), []byte{0, 0, 0, 1, 0, 0}, testClient)
		assert.Error(t, err)
		assert.Nil(t, reply)
	})

	t.Run("reply instead of call", func(t *testing.T) {
		msg := nfsCall(1, types.NFSProcNull, nil)
		msg[7] = rpc.RPCReply
		reply, err := d.Dispatch(context.Background(), msg, testClient)
		assert.Error(t, err)
		assert.Nil(t, reply)
	})
}

func TestDispatchRateLimit(t *testing.T) {
	be := &mockBackend{}
	d, rec := newDispatcher(t, be)
	d.Limiter = ratelimiter.New(1, 1)

	reply, err := d.Dispatch(context.Background(), nfsCall(1, types.NFSProcNull, nil), testClient)
	require.NoError(t, err)
	assert.Equal(t, uint32(rpc.RPCSuccess), parseReply(t, reply).acceptStat)

	reply, err = d.Dispatch(context.Background(), nfsCall(2, types.NFSProcNull, nil), testClient)
	require.NoError(t, err)
	assert.Equal(t, uint32(rpc.RPCSystemErr), parseReply(t, reply).acceptStat)
	assert.Equal(t, 1, rec.rateLimited)

	// Another client has its own bucket.
	reply, err = d.Dispatch(context.Background(), nfsCall(3, types.NFSProcNull, nil), "127.0.0.2:800")
	require.NoError(t, err)
	assert.Equal(t, uint32(rpc.RPCSuccess), parseReply(t, reply).acceptStat)
}

func TestDispatchTablesComplete(t *testing.T) {
	assert.Len(t, nfsDispatchTable, 22)
	for proc := uint32(0); proc <= types.NFSProcCommit; proc++ {
		assert.Contains(t, nfsDispatchTable, proc)
	}
	assert.Len(t, mountDispatchTable, 6)
	for proc := uint32(0); proc <= mount.MountProcExport; proc++ {
		assert.Contains(t, mountDispatchTable, proc)
	}
}

func TestExtractAuthContext(t *testing.T) {
	t.Run("AUTH_UNIX", func(t *testing.T) {
		call, err := rpc.ReadCall(buildCall(callSpec{prog: rpc.ProgramNFS, vers: 3, cred: unixCred(1000, 100)}))
		require.NoError(t, err)

		authCtx := extractAuthContext(context.Background(), call, testClient, "TEST")
		require.NotNil(t, authCtx.UnixAuth)
		assert.Equal(t, uint32(1000), authCtx.UnixAuth.UID)

		ctx := authCtx.nfsContext()
		require.NotNil(t, ctx.UID)
		assert.Equal(t, uint32(100), *ctx.GID)
		assert.False(t, ctx.Credentials().Anonymous)
	})

	t.Run("AUTH_NULL", func(t *testing.T) {
		call, err := rpc.ReadCall(buildCall(callSpec{prog: rpc.ProgramNFS, vers: 3}))
		require.NoError(t, err)

		authCtx := extractAuthContext(context.Background(), call, testClient, "TEST")
		assert.Nil(t, authCtx.UnixAuth)
		assert.True(t, authCtx.nfsContext().Credentials().Anonymous)
	})

	t.Run("corrupt AUTH_UNIX body", func(t *testing.T) {
		cred := rpc.OpaqueAuth{Flavor: rpc.AuthUnix, Body: []byte{0, 0, 0, 1}}
		call, err := rpc.ReadCall(buildCall(callSpec{prog: rpc.ProgramNFS, vers: 3, cred: cred}))
		require.NoError(t, err)

		authCtx := extractAuthContext(context.Background(), call, testClient, "TEST")
		assert.Nil(t, authCtx.UnixAuth)
	})
}
