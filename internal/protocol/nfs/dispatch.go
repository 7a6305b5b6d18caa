package nfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	mount "github.com/souravgh/unfs2go/internal/protocol/nfs/mount/handlers"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	nfs "github.com/souravgh/unfs2go/internal/protocol/nfs/v3/handlers"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/internal/ratelimiter"
	"github.com/souravgh/unfs2go/pkg/metrics"
)

// ErrGarbageArgs marks a call whose arguments could not be decoded. The
// dispatcher answers it with an RPC GARBAGE_ARGS reply.
var ErrGarbageArgs = errors.New("garbage arguments")

// Program names used in logs and metric labels.
const (
	programNFS   = "NFS"
	programMount = "MOUNT"
)

// Dispatcher routes RPC calls to the NFS and MOUNT procedure handlers and
// builds the complete RPC reply.
//
// Dispatch is called from the server loop only, so handlers run one at a
// time and may touch the caches without further coordination.
type Dispatcher struct {
	NFS   *nfs.Handler
	Mount *mount.Handler

	// Limiter refuses calls from clients over their rate. Nil disables it.
	Limiter *ratelimiter.Limiter

	// Metrics may be nil.
	Metrics metrics.NFSMetrics
}

func (d *Dispatcher) metrics() metrics.NFSMetrics {
	if d.Metrics == nil {
		return metrics.NewNoopNFSMetrics()
	}
	return d.Metrics
}

// ============================================================================
// Authentication Context Creation
// ============================================================================

// AuthContext holds what the dispatcher extracted from the RPC call:
// the caller's address and, for AUTH_UNIX, its credentials.
type AuthContext struct {
	Context    context.Context
	ClientAddr string
	AuthFlavor uint32

	// UnixAuth is nil unless the call carried parseable AUTH_UNIX
	// credentials.
	UnixAuth *rpc.UnixAuth

	// ReplyBudget bounds the result body; zero is unbounded.
	ReplyBudget uint32
}

// extractAuthContext creates an AuthContext from an RPC call message.
//
// Unparseable AUTH_UNIX credentials are logged and treated like AUTH_NULL;
// the export's anonymous identity then applies.
func extractAuthContext(
	ctx context.Context,
	call *rpc.RPCCallMessage,
	clientAddr string,
	procedure string,
) *AuthContext {
	authCtx := &AuthContext{
		Context:    ctx,
		ClientAddr: clientAddr,
		AuthFlavor: call.GetAuthFlavor(),
	}

	if authCtx.AuthFlavor != rpc.AuthUnix {
		return authCtx
	}

	authBody := call.GetAuthBody()
	if len(authBody) == 0 {
		logger.Warn("%s: AUTH_UNIX specified but auth body is empty", procedure)
		return authCtx
	}

	unixAuth, err := rpc.ParseUnixAuth(authBody)
	if err != nil {
		logger.Warn("%s: failed to parse AUTH_UNIX credentials: %v", procedure, err)
		return authCtx
	}

	logger.Debug("%s: unix auth uid=%d gid=%d ngids=%d machine=%s",
		procedure, unixAuth.UID, unixAuth.GID, len(unixAuth.GIDs), unixAuth.MachineName)

	authCtx.UnixAuth = unixAuth
	return authCtx
}

func (a *AuthContext) nfsContext() *nfs.NFSHandlerContext {
	ctx := &nfs.NFSHandlerContext{
		Context:     a.Context,
		ClientAddr:  a.ClientAddr,
		AuthFlavor:  a.AuthFlavor,
		ReplyBudget: a.ReplyBudget,
	}
	if a.UnixAuth != nil {
		ctx.UID = &a.UnixAuth.UID
		ctx.GID = &a.UnixAuth.GID
		ctx.GIDs = a.UnixAuth.GIDs
	}
	return ctx
}

func (a *AuthContext) mountContext() *mount.MountHandlerContext {
	return &mount.MountHandlerContext{
		Context:    a.Context,
		ClientAddr: a.ClientAddr,
		AuthFlavor: a.AuthFlavor,
		UnixAuth:   a.UnixAuth,
	}
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch handles one RPC call message and returns the reply message.
//
// A nil reply means the message was not a well-formed call and nothing
// should be sent back; the returned error says why. Every other outcome,
// including undecodable arguments and handler failures, produces a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, message []byte, clientAddr string) ([]byte, error) {
	return d.DispatchLimited(ctx, message, clientAddr, 0)
}

// DispatchLimited is Dispatch for transports that cannot carry replies
// longer than maxReply bytes (UDP). READ, READDIR and READDIRPLUS shrink
// their results to fit. Zero means no limit.
func (d *Dispatcher) DispatchLimited(ctx context.Context, message []byte, clientAddr string, maxReply int) ([]byte, error) {
	start := time.Now()

	var budget uint32
	if maxReply > 0 {
		budget = uint32(max(maxReply-rpc.ReplyHeaderSize, 1))
	}

	call, err := rpc.ReadCall(message)
	if err != nil {
		return nil, fmt.Errorf("decode call from %s: %w", clientAddr, err)
	}

	if call.RPCVersion != rpc.RPCVersion2 {
		logger.Warn("RPC version %d from %s (xid=0x%x)", call.RPCVersion, clientAddr, call.XID)
		d.metrics().RecordRequest(programName(call.Program), "", "RPC_MISMATCH", time.Since(start))
		return rpc.MakeRPCMismatchReply(call.XID)
	}

	if !d.Limiter.Allow(xdr.ExtractClientIP(clientAddr)) {
		logger.Warn("Rate limit exceeded for %s (xid=0x%x)", clientAddr, call.XID)
		d.metrics().RecordRateLimited()
		return rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	}

	data, err := rpc.ReadData(message, call)
	if err != nil {
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	}

	switch call.Program {
	case rpc.ProgramNFS:
		if call.Version != rpc.NFSVersion3 {
			return d.progMismatch(call, programNFS, rpc.NFSVersion3, rpc.NFSVersion3, start)
		}
		info, ok := nfsDispatchTable[call.Procedure]
		if !ok {
			return d.procUnavail(call, programNFS, start)
		}
		authCtx := extractAuthContext(ctx, call, clientAddr, info.Name)
		authCtx.ReplyBudget = budget
		body, status, err := info.Handler(d, authCtx, data)
		return d.reply(call, programNFS, info.Name, types.StatusString(status), body, err, start)

	case rpc.ProgramMount:
		if call.Version != rpc.MountVersion1 && call.Version != rpc.MountVersion3 {
			return d.progMismatch(call, programMount, rpc.MountVersion1, rpc.MountVersion3, start)
		}
		info, ok := mountDispatchTable[call.Procedure]
		if !ok {
			return d.procUnavail(call, programMount, start)
		}
		authCtx := extractAuthContext(ctx, call, clientAddr, info.Name)
		body, status, err := info.Handler(d, authCtx, data)
		return d.reply(call, programMount, info.Name, mount.StatusString(status), body, err, start)
	}

	logger.Debug("Program %d not served (xid=0x%x client=%s)", call.Program, call.XID, clientAddr)
	d.metrics().RecordRequest(programName(call.Program), "", "PROG_UNAVAIL", time.Since(start))
	return rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
}

// reply turns a handler outcome into an RPC reply.
func (d *Dispatcher) reply(
	call *rpc.RPCCallMessage,
	program, procedure, status string,
	body []byte,
	err error,
	start time.Time,
) ([]byte, error) {
	switch {
	case errors.Is(err, ErrGarbageArgs):
		logger.Debug("%s %s: %v (xid=0x%x)", program, procedure, err, call.XID)
		d.metrics().RecordRequest(program, procedure, "GARBAGE_ARGS", time.Since(start))
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	case err != nil:
		logger.Error("%s %s failed: %v (xid=0x%x)", program, procedure, err, call.XID)
		d.metrics().RecordRequest(program, procedure, "SYSTEM_ERR", time.Since(start))
		return rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	}

	d.metrics().RecordRequest(program, procedure, status, time.Since(start))
	return rpc.MakeSuccessReply(call.XID, body)
}

func (d *Dispatcher) procUnavail(call *rpc.RPCCallMessage, program string, start time.Time) ([]byte, error) {
	logger.Debug("%s procedure %d unavailable (xid=0x%x)", program, call.Procedure, call.XID)
	d.metrics().RecordRequest(program, fmt.Sprintf("PROC_%d", call.Procedure), "PROC_UNAVAIL", time.Since(start))
	return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
}

func (d *Dispatcher) progMismatch(call *rpc.RPCCallMessage, program string, low, high uint32, start time.Time) ([]byte, error) {
	logger.Debug("%s version %d not served (xid=0x%x)", program, call.Version, call.XID)
	d.metrics().RecordRequest(program, "", "PROG_MISMATCH", time.Since(start))
	return rpc.MakeProgMismatchReply(call.XID, low, high)
}

func programName(prog uint32) string {
	switch prog {
	case rpc.ProgramNFS:
		return programNFS
	case rpc.ProgramMount:
		return programMount
	}
	return fmt.Sprint(prog)
}

// ============================================================================
// Request plumbing
// ============================================================================

type rpcResponse interface {
	Encode() ([]byte, error)
}

type statusResponse interface {
	GetStatus() uint32
}

// handleRequest decodes, handles and encodes one call.
//
// Decode failures are wrapped in ErrGarbageArgs and the handler is not
// invoked. A handler error is returned as is; the dispatcher answers it
// with SYSTEM_ERR.
func handleRequest[Req any, Resp rpcResponse](
	data []byte,
	decode func([]byte) (Req, error),
	handle func(Req) (Resp, error),
) ([]byte, uint32, error) {
	req, err := decode(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrGarbageArgs, err)
	}

	resp, err := handle(req)
	if err != nil {
		return nil, 0, err
	}

	var status uint32
	if s, ok := any(resp).(statusResponse); ok {
		status = s.GetStatus()
	}

	encoded, err := resp.Encode()
	if err != nil {
		return nil, status, fmt.Errorf("encode response: %w", err)
	}
	return encoded, status, nil
}
