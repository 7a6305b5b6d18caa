package handlers

import (
	"bytes"
	"fmt"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// DumpRequest is the empty argument of MOUNTPROC_DUMP.
type DumpRequest struct{}

// DumpEntry is one mountbody: a client and the directory it mounted.
type DumpEntry struct {
	Hostname  string
	Directory string
}

// DumpResponse is a mountlist.
type DumpResponse struct {
	MountResponseBase
	Entries []DumpEntry
}

// Dump lists the mounts recorded by MNT and not yet removed by UMNT or
// UMNTALL (RFC 1813 Appendix I.4.2). The list is advisory; it grants no
// access.
func (h *Handler) Dump(ctx *MountHandlerContext, req *DumpRequest) (*DumpResponse, error) {
	mounts := h.Registry.ListMounts()
	logger.Debug("DUMP: client=%s entries=%d", ctx.clientHost(), len(mounts))

	entries := make([]DumpEntry, 0, len(mounts))
	for _, m := range mounts {
		entries = append(entries, DumpEntry{Hostname: m.Host, Directory: m.Directory})
	}
	return &DumpResponse{Entries: entries}, nil
}

// DecodeDumpRequest ignores any argument bytes.
func DecodeDumpRequest(data []byte) (*DumpRequest, error) {
	return &DumpRequest{}, nil
}

// Encode serializes the mountlist as an XDR optional-data chain.
func (resp *DumpResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range resp.Entries {
		if err := xdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := xdr.WriteString(&buf, e.Hostname); err != nil {
			return nil, fmt.Errorf("write hostname: %w", err)
		}
		if err := xdr.WriteString(&buf, e.Directory); err != nil {
			return nil, fmt.Errorf("write directory: %w", err)
		}
	}
	if err := xdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
