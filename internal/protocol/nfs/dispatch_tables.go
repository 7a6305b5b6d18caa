package nfs

import (
	mount "github.com/souravgh/unfs2go/internal/protocol/nfs/mount/handlers"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	nfs "github.com/souravgh/unfs2go/internal/protocol/nfs/v3/handlers"
)

// ============================================================================
// Procedure Dispatch Tables
// ============================================================================

// nfsProcedureHandler runs one NFS procedure and returns the encoded
// result, its nfsstat3, or an error for an RPC-level reply.
type nfsProcedureHandler func(d *Dispatcher, authCtx *AuthContext, data []byte) ([]byte, uint32, error)

// nfsProcedureInfo contains metadata about an NFS procedure for dispatch.
type nfsProcedureInfo struct {
	// Name is the procedure name for logging (e.g., "NULL", "GETATTR")
	Name string

	Handler nfsProcedureHandler
}

// mountProcedureHandler is the MOUNT counterpart of nfsProcedureHandler.
type mountProcedureHandler func(d *Dispatcher, authCtx *AuthContext, data []byte) ([]byte, uint32, error)

type mountProcedureInfo struct {
	Name    string
	Handler mountProcedureHandler
}

var (
	nfsDispatchTable   map[uint32]*nfsProcedureInfo
	mountDispatchTable map[uint32]*mountProcedureInfo
)

func init() {
	initNFSDispatchTable()
	initMountDispatchTable()
}

func initNFSDispatchTable() {
	nfsDispatchTable = map[uint32]*nfsProcedureInfo{
		types.NFSProcNull:        {Name: "NULL", Handler: nfsProc(nfs.DecodeNullRequest, (*nfs.Handler).Null)},
		types.NFSProcGetAttr:     {Name: "GETATTR", Handler: nfsProc(nfs.DecodeGetAttrRequest, (*nfs.Handler).GetAttr)},
		types.NFSProcSetAttr:     {Name: "SETATTR", Handler: nfsProc(nfs.DecodeSetAttrRequest, (*nfs.Handler).SetAttr)},
		types.NFSProcLookup:      {Name: "LOOKUP", Handler: nfsProc(nfs.DecodeLookupRequest, (*nfs.Handler).Lookup)},
		types.NFSProcAccess:      {Name: "ACCESS", Handler: nfsProc(nfs.DecodeAccessRequest, (*nfs.Handler).Access)},
		types.NFSProcReadLink:    {Name: "READLINK", Handler: nfsProc(nfs.DecodeReadLinkRequest, (*nfs.Handler).ReadLink)},
		types.NFSProcRead:        {Name: "READ", Handler: handleNFSRead},
		types.NFSProcWrite:       {Name: "WRITE", Handler: handleNFSWrite},
		types.NFSProcCreate:      {Name: "CREATE", Handler: nfsProc(nfs.DecodeCreateRequest, (*nfs.Handler).Create)},
		types.NFSProcMkdir:       {Name: "MKDIR", Handler: nfsProc(nfs.DecodeMkdirRequest, (*nfs.Handler).Mkdir)},
		types.NFSProcSymlink:     {Name: "SYMLINK", Handler: nfsProc(nfs.DecodeSymlinkRequest, (*nfs.Handler).Symlink)},
		types.NFSProcMknod:       {Name: "MKNOD", Handler: nfsProc(nfs.DecodeMknodRequest, (*nfs.Handler).Mknod)},
		types.NFSProcRemove:      {Name: "REMOVE", Handler: nfsProc(nfs.DecodeRemoveRequest, (*nfs.Handler).Remove)},
		types.NFSProcRmdir:       {Name: "RMDIR", Handler: nfsProc(nfs.DecodeRemoveRequest, (*nfs.Handler).Rmdir)},
		types.NFSProcRename:      {Name: "RENAME", Handler: nfsProc(nfs.DecodeRenameRequest, (*nfs.Handler).Rename)},
		types.NFSProcLink:        {Name: "LINK", Handler: nfsProc(nfs.DecodeLinkRequest, (*nfs.Handler).Link)},
		types.NFSProcReadDir:     {Name: "READDIR", Handler: nfsProc(nfs.DecodeReadDirRequest, (*nfs.Handler).ReadDir)},
		types.NFSProcReadDirPlus: {Name: "READDIRPLUS", Handler: nfsProc(nfs.DecodeReadDirPlusRequest, (*nfs.Handler).ReadDirPlus)},
		types.NFSProcFsStat:      {Name: "FSSTAT", Handler: nfsProc(nfs.DecodeFsStatRequest, (*nfs.Handler).FsStat)},
		types.NFSProcFsInfo:      {Name: "FSINFO", Handler: nfsProc(nfs.DecodeFsInfoRequest, (*nfs.Handler).FsInfo)},
		types.NFSProcPathConf:    {Name: "PATHCONF", Handler: nfsProc(nfs.DecodePathConfRequest, (*nfs.Handler).PathConf)},
		types.NFSProcCommit:      {Name: "COMMIT", Handler: nfsProc(nfs.DecodeCommitRequest, (*nfs.Handler).Commit)},
	}
}

func initMountDispatchTable() {
	mountDispatchTable = map[uint32]*mountProcedureInfo{
		mount.MountProcNull:    {Name: "NULL", Handler: mountProc(mount.DecodeNullRequest, (*mount.Handler).MountNull)},
		mount.MountProcMnt:     {Name: "MNT", Handler: mountProc(mount.DecodeMountRequest, (*mount.Handler).Mount)},
		mount.MountProcDump:    {Name: "DUMP", Handler: mountProc(mount.DecodeDumpRequest, (*mount.Handler).Dump)},
		mount.MountProcUmnt:    {Name: "UMNT", Handler: mountProc(mount.DecodeUmountRequest, (*mount.Handler).Umnt)},
		mount.MountProcUmntAll: {Name: "UMNTALL", Handler: mountProc(mount.DecodeUmountAllRequest, (*mount.Handler).UmntAll)},
		mount.MountProcExport:  {Name: "EXPORT", Handler: mountProc(mount.DecodeExportRequest, (*mount.Handler).Export)},
	}
}

// nfsProc binds a decoder and a Handler method into a table entry.
func nfsProc[Req any, Resp rpcResponse](
	decode func([]byte) (Req, error),
	method func(*nfs.Handler, *nfs.NFSHandlerContext, Req) (Resp, error),
) nfsProcedureHandler {
	return func(d *Dispatcher, authCtx *AuthContext, data []byte) ([]byte, uint32, error) {
		ctx := authCtx.nfsContext()
		return handleRequest(data, decode, func(req Req) (Resp, error) {
			return method(d.NFS, ctx, req)
		})
	}
}

func mountProc[Req any, Resp rpcResponse](
	decode func([]byte) (Req, error),
	method func(*mount.Handler, *mount.MountHandlerContext, Req) (Resp, error),
) mountProcedureHandler {
	return func(d *Dispatcher, authCtx *AuthContext, data []byte) ([]byte, uint32, error) {
		ctx := authCtx.mountContext()
		return handleRequest(data, decode, func(req Req) (Resp, error) {
			return method(d.Mount, ctx, req)
		})
	}
}

// READ and WRITE also feed the byte counters.

func handleNFSRead(d *Dispatcher, authCtx *AuthContext, data []byte) ([]byte, uint32, error) {
	ctx := authCtx.nfsContext()
	return handleRequest(
		data,
		nfs.DecodeReadRequest,
		func(req *nfs.ReadRequest) (*nfs.ReadResponse, error) {
			resp, err := d.NFS.Read(ctx, req)
			if err == nil && resp.Status == types.NFS3OK {
				d.metrics().RecordBytesTransferred("read", int64(len(resp.Data)))
			}
			return resp, err
		},
	)
}

func handleNFSWrite(d *Dispatcher, authCtx *AuthContext, data []byte) ([]byte, uint32, error) {
	ctx := authCtx.nfsContext()
	return handleRequest(
		data,
		nfs.DecodeWriteRequest,
		func(req *nfs.WriteRequest) (*nfs.WriteResponse, error) {
			resp, err := d.NFS.Write(ctx, req)
			if err == nil && resp.Status == types.NFS3OK {
				d.metrics().RecordBytesTransferred("write", int64(resp.Count))
			}
			return resp, err
		},
	)
}
