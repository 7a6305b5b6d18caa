package nfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Call construction
// ============================================================================

// xdrArgs builds procedure arguments.
type xdrArgs struct {
	buf bytes.Buffer
}

func (a *xdrArgs) u32(v uint32) *xdrArgs {
	_ = binary.Write(&a.buf, binary.BigEndian, v)
	return a
}

func (a *xdrArgs) u64(v uint64) *xdrArgs {
	_ = binary.Write(&a.buf, binary.BigEndian, v)
	return a
}

func (a *xdrArgs) opaque(b []byte) *xdrArgs {
	a.u32(uint32(len(b)))
	a.buf.Write(b)
	a.buf.Write(make([]byte, rpc.XdrPadding(uint32(len(b)))))
	return a
}

func (a *xdrArgs) str(s string) *xdrArgs {
	return a.opaque([]byte(s))
}

func (a *xdrArgs) bytes() []byte {
	return a.buf.Bytes()
}

func args() *xdrArgs {
	return &xdrArgs{}
}

// unixCred is an AUTH_UNIX credential for uid/gid.
func unixCred(uid, gid uint32) rpc.OpaqueAuth {
	body := args().u32(0).str("client").u32(uid).u32(gid).u32(0).bytes()
	return rpc.OpaqueAuth{Flavor: rpc.AuthUnix, Body: body}
}

type callSpec struct {
	xid     uint32
	rpcVers uint32
	prog    uint32
	vers    uint32
	proc    uint32
	cred    rpc.OpaqueAuth
	args    []byte
}

func buildCall(c callSpec) []byte {
	if c.rpcVers == 0 {
		c.rpcVers = rpc.RPCVersion2
	}
	buf := args()
	buf.u32(c.xid).u32(rpc.RPCCall).u32(c.rpcVers).u32(c.prog).u32(c.vers).u32(c.proc)
	buf.u32(c.cred.Flavor).opaque(c.cred.Body)
	buf.u32(rpc.AuthNull).opaque(nil)
	buf.buf.Write(c.args)
	return buf.bytes()
}

func nfsCall(xid, proc uint32, a []byte) []byte {
	return buildCall(callSpec{xid: xid, prog: rpc.ProgramNFS, vers: rpc.NFSVersion3, proc: proc, cred: unixCred(0, 0), args: a})
}

func mountCall(xid, proc uint32, a []byte) []byte {
	return buildCall(callSpec{xid: xid, prog: rpc.ProgramMount, vers: rpc.MountVersion3, proc: proc, cred: unixCred(0, 0), args: a})
}

// ============================================================================
// Reply parsing
// ============================================================================

type replyReader struct {
	t *testing.T
	r *bytes.Reader
}

func (rr *replyReader) u32() uint32 {
	rr.t.Helper()
	var v uint32
	require.NoError(rr.t, binary.Read(rr.r, binary.BigEndian, &v))
	return v
}

func (rr *replyReader) u64() uint64 {
	rr.t.Helper()
	var v uint64
	require.NoError(rr.t, binary.Read(rr.r, binary.BigEndian, &v))
	return v
}

func (rr *replyReader) fixed(n int) []byte {
	rr.t.Helper()
	b := make([]byte, n)
	_, err := io.ReadFull(rr.r, b)
	require.NoError(rr.t, err)
	return b
}

func (rr *replyReader) opaque() []byte {
	rr.t.Helper()
	n := rr.u32()
	b := rr.fixed(int(n))
	rr.fixed(int(rpc.XdrPadding(n)))
	return b
}

// postOpAttr skips a post_op_attr and reports whether attributes followed.
func (rr *replyReader) postOpAttr() bool {
	rr.t.Helper()
	if rr.u32() == 0 {
		return false
	}
	rr.fixed(84)
	return true
}

func (rr *replyReader) wccData() {
	rr.t.Helper()
	if rr.u32() == 1 {
		rr.fixed(24)
	}
	rr.postOpAttr()
}

func (rr *replyReader) remaining() int {
	return rr.r.Len()
}

type rpcReply struct {
	xid        uint32
	replyState uint32
	acceptStat uint32
	body       *replyReader
}

// parseReply decodes the RPC reply header and returns the body reader
// positioned after accept_stat (or after reject_stat for MSG_DENIED).
func parseReply(t *testing.T, reply []byte) rpcReply {
	t.Helper()
	require.NotNil(t, reply)
	rr := &replyReader{t: t, r: bytes.NewReader(reply)}

	out := rpcReply{xid: rr.u32()}
	require.Equal(t, uint32(rpc.RPCReply), rr.u32(), "msg_type")
	out.replyState = rr.u32()
	if out.replyState == rpc.RPCMsgDenied {
		out.acceptStat = rr.u32()
		out.body = rr
		return out
	}
	rr.u32() // verifier flavor
	rr.opaque()
	out.acceptStat = rr.u32()
	out.body = rr
	return out
}

// ============================================================================
// Mock backend
// ============================================================================

// mockBackend records every call. Tests that expect no backend traffic set
// no expectations, so any call fails the test.
type mockBackend struct {
	mock.Mock
}

var _ backend.Backend = (*mockBackend)(nil)

func (m *mockBackend) Lstat(path string) (*backend.Attr, error) {
	args := m.Called(path)
	attr, _ := args.Get(0).(*backend.Attr)
	return attr, args.Error(1)
}

func (m *mockBackend) Open(path string, flag int, perm uint32) (backend.File, error) {
	args := m.Called(path, flag, perm)
	f, _ := args.Get(0).(backend.File)
	return f, args.Error(1)
}

func (m *mockBackend) Truncate(path string, size int64) error {
	return m.Called(path, size).Error(0)
}

func (m *mockBackend) Remove(path string) error {
	return m.Called(path).Error(0)
}

func (m *mockBackend) Rmdir(path string) error {
	return m.Called(path).Error(0)
}

func (m *mockBackend) Rename(oldpath, newpath string) error {
	return m.Called(oldpath, newpath).Error(0)
}

func (m *mockBackend) Link(oldpath, newpath string) error {
	return m.Called(oldpath, newpath).Error(0)
}

func (m *mockBackend) Symlink(target, newpath string) error {
	return m.Called(target, newpath).Error(0)
}

func (m *mockBackend) Mkdir(path string, perm uint32) error {
	return m.Called(path, perm).Error(0)
}

func (m *mockBackend) Mknod(path string, ftype backend.FileType, perm uint32, major, minor uint32) error {
	return m.Called(path, ftype, perm, major, minor).Error(0)
}

func (m *mockBackend) Readlink(path string) (string, error) {
	args := m.Called(path)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) Chmod(path string, mode uint32) error {
	return m.Called(path, mode).Error(0)
}

func (m *mockBackend) Lchown(path string, uid, gid int) error {
	return m.Called(path, uid, gid).Error(0)
}

func (m *mockBackend) Chtimes(path string, atime, mtime time.Time) error {
	return m.Called(path, atime, mtime).Error(0)
}

func (m *mockBackend) StatFS(path string) (*backend.FSStat, error) {
	args := m.Called(path)
	st, _ := args.Get(0).(*backend.FSStat)
	return st, args.Error(1)
}

func (m *mockBackend) ReadDir(path string) ([]backend.DirEntry, error) {
	args := m.Called(path)
	entries, _ := args.Get(0).([]backend.DirEntry)
	return entries, args.Error(1)
}

func (m *mockBackend) Shutdown() error {
	return m.Called().Error(0)
}

// ============================================================================
// Recording metrics
// ============================================================================

type recordedRequest struct {
	program, procedure, status string
}

type recordingMetrics struct {
	mu          sync.Mutex
	requests    []recordedRequest
	rateLimited int
	bytes       map[string]int64
}

func (m *recordingMetrics) RecordRequest(program, procedure, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{program, procedure, status})
}

func (m *recordingMetrics) RecordBytesTransferred(direction string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytes == nil {
		m.bytes = make(map[string]int64)
	}
	m.bytes[direction] += n
}

func (m *recordingMetrics) RecordRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited++
}

func (m *recordingMetrics) SetActiveConnections(int32) {}
func (m *recordingMetrics) RecordConnectionAccepted()  {}
func (m *recordingMetrics) RecordConnectionClosed()    {}

func (m *recordingMetrics) last() recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return recordedRequest{}
	}
	return m.requests[len(m.requests)-1]
}
