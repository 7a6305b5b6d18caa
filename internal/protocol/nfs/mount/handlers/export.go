package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// ExportRequest is the empty argument of MOUNTPROC_EXPORT.
type ExportRequest struct{}

// ExportEntry is one exportnode: a directory and the client groups that
// may mount it.
type ExportEntry struct {
	Directory string
	Groups    []string
}

// ExportResponse is an exports list.
type ExportResponse struct {
	MountResponseBase
	Entries []ExportEntry
}

// Export lists every export with its allowed client patterns
// (RFC 1813 Appendix I.4.5). It is answered to any client, as showmount
// expects.
func (h *Handler) Export(ctx *MountHandlerContext, req *ExportRequest) (*ExportResponse, error) {
	exports := h.Registry.Exports()
	logger.Debug("EXPORT: client=%s exports=%d", ctx.clientHost(), len(exports))

	entries := make([]ExportEntry, 0, len(exports))
	for i := range exports {
		entries = append(entries, ExportEntry{Directory: exports[i].Path, Groups: exports[i].Groups()})
	}
	return &ExportResponse{Entries: entries}, nil
}

// DecodeExportRequest ignores any argument bytes.
func DecodeExportRequest(data []byte) (*ExportRequest, error) {
	return &ExportRequest{}, nil
}

// Encode serializes the exports chain. Each node carries its own groups
// chain.
func (resp *ExportResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range resp.Entries {
		if err := xdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := xdr.WriteString(&buf, e.Directory); err != nil {
			return nil, fmt.Errorf("write directory: %w", err)
		}
		for _, g := range e.Groups {
			if len(g) > MaxNameLen {
				g = g[:MaxNameLen]
			}
			if err := xdr.WriteBool(&buf, true); err != nil {
				return nil, err
			}
			if err := xdr.WriteString(&buf, g); err != nil {
				return nil, fmt.Errorf("write group: %w", err)
			}
		}
		if err := xdr.WriteBool(&buf, false); err != nil {
			return nil, err
		}
	}
	if err := xdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
