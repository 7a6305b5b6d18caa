package handlers

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path"

	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fhcache"
)

// MountRequest is the dirpath argument of MOUNTPROC_MNT.
type MountRequest struct {
	DirPath string
}

// MountResponse is mountres3.
type MountResponse struct {
	MountResponseBase

	// FileHandle is the handle of the mounted directory. Only sent on
	// success.
	FileHandle []byte

	// AuthFlavors lists the RPC flavors the client may use.
	AuthFlavors []int32
}

// Mount returns the file handle of an exported directory
// (RFC 1813 Appendix I.4.1).
//
// Any directory inside an export can be mounted, not only the export root.
// Checks, in order:
//   - the path is inside an export, or MNT3ERR_NOENT
//   - the client matches the export's allowed clients, or MNT3ERR_ACCES
//   - the path exists, or MNT3ERR_NOENT
//   - the path is a directory, or MNT3ERR_NOTDIR
//
// A successful mount is recorded in the mount table for DUMP.
func (h *Handler) Mount(ctx *MountHandlerContext, req *MountRequest) (*MountResponse, error) {
	host := ctx.clientHost()

	if ctx.UnixAuth != nil {
		logger.Info("MNT: path=%s client=%s auth=%s uid=%d gid=%d machine=%s",
			req.DirPath, host, rpc.AuthFlavorName(ctx.AuthFlavor), ctx.UnixAuth.UID, ctx.UnixAuth.GID, ctx.UnixAuth.MachineName)
	} else {
		logger.Info("MNT: path=%s client=%s auth=%s", req.DirPath, host, rpc.AuthFlavorName(ctx.AuthFlavor))
	}

	if ctx.cancelled() {
		return &MountResponse{MountResponseBase: MountResponseBase{Status: MountErrServerFault}}, ctx.Context.Err()
	}

	dir := path.Clean(req.DirPath)
	exp, ok := h.Registry.Lookup(dir)
	if !ok {
		logger.Warn("MNT denied: path=%s client=%s reason=not exported", dir, host)
		return &MountResponse{MountResponseBase: MountResponseBase{Status: MountErrNoEnt}}, nil
	}
	if !h.Registry.Allowed(exp, host) {
		logger.Warn("MNT denied: path=%s client=%s reason=client not allowed on %s", dir, host, exp.Path)
		return &MountResponse{MountResponseBase: MountResponseBase{Status: MountErrAccess}}, nil
	}

	handle, attr, err := h.Handles.HandleFor(dir)
	if err != nil {
		status := mountStatus(err)
		logger.Warn("MNT failed: path=%s client=%s status=%s error=%v", dir, host, StatusString(status), err)
		return &MountResponse{MountResponseBase: MountResponseBase{Status: status}}, nil
	}
	if attr.Type != backend.TypeDirectory {
		return &MountResponse{MountResponseBase: MountResponseBase{Status: MountErrNotDir}}, nil
	}

	h.Registry.RecordMount(host, dir)

	logger.Info("MNT successful: path=%s client=%s export=%s readonly=%v", dir, host, exp.Path, exp.ReadOnly)
	return &MountResponse{
		MountResponseBase: MountResponseBase{Status: MountOK},
		FileHandle:        handle[:],
		AuthFlavors:       []int32{int32(rpc.AuthUnix), int32(rpc.AuthNull)},
	}, nil
}

func mountStatus(err error) uint32 {
	switch {
	case errors.Is(err, backend.ErrNotExist):
		return MountErrNoEnt
	case errors.Is(err, backend.ErrPermission):
		return MountErrAccess
	case errors.Is(err, backend.ErrNotDir):
		return MountErrNotDir
	case errors.Is(err, backend.ErrNameTooLong), errors.Is(err, fhcache.ErrTooDeep):
		return MountErrNameTooLong
	case errors.Is(err, backend.ErrNotSupported):
		return MountErrNotSupp
	}
	return MountErrIO
}

// DecodeMountRequest decodes a dirpath.
func DecodeMountRequest(data []byte) (*MountRequest, error) {
	req := &MountRequest{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), req); err != nil {
		return nil, fmt.Errorf("unmarshal mount request: %w", err)
	}
	if err := ValidateExportPath(req.DirPath); err != nil {
		return nil, fmt.Errorf("invalid export path: %w", err)
	}
	return req, nil
}

// Encode serializes mountres3:
//
//	MNT3_OK:   fhandle3 fhandle, int auth_flavors<>
//	otherwise: void
func (resp *MountResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if resp.Status != MountOK {
		return buf.Bytes(), nil
	}

	handleLen := uint32(len(resp.FileHandle))
	if err := binary.Write(&buf, binary.BigEndian, handleLen); err != nil {
		return nil, fmt.Errorf("write handle length: %w", err)
	}
	buf.Write(resp.FileHandle)
	buf.Write(make([]byte, rpc.XdrPadding(handleLen)))

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(resp.AuthFlavors))); err != nil {
		return nil, fmt.Errorf("write auth count: %w", err)
	}
	for _, flavor := range resp.AuthFlavors {
		if err := binary.Write(&buf, binary.BigEndian, flavor); err != nil {
			return nil, fmt.Errorf("write auth flavor: %w", err)
		}
	}
	return buf.Bytes(), nil
}
