package handlers

import (
	"bytes"
	"fmt"
	"path"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fhcache"
)

// ReadDirPlusRequest is READDIRPLUS3args.
type ReadDirPlusRequest struct {
	DirHandle  []byte
	Cookie     uint64
	CookieVerf uint64

	// DirCount bounds the name and cookie part of the entries.
	DirCount uint32

	// MaxCount bounds the encoded size of the whole reply.
	MaxCount uint32
}

// ReadDirPlusResponse is READDIRPLUS3res.
type ReadDirPlusResponse struct {
	NFSResponseBase
	DirAttr    *types.NFSFileAttr
	CookieVerf uint64
	Entries    []*types.DirEntryPlus
	EOF        bool
}

// ReadDirPlus lists directory entries together with their attributes and
// handles (RFC 1813 Section 3.3.17).
//
// Paging and cookies work as in ReadDir. An entry that vanished between
// listing and Lstat is still returned, without attributes or handle.
func (h *Handler) ReadDirPlus(ctx *NFSHandlerContext, req *ReadDirPlusRequest) (*ReadDirPlusResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("READDIRPLUS: dir=%x cookie=%d dircount=%d maxcount=%d client=%s",
		req.DirHandle, req.Cookie, req.DirCount, req.MaxCount, clientIP)

	if ctx.cancelled() {
		return &ReadDirPlusResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	page, status := h.openDir(ctx, req.DirHandle, req.Cookie, req.CookieVerf, "READDIRPLUS")
	if status != types.NFS3OK {
		resp := &ReadDirPlusResponse{NFSResponseBase: NFSResponseBase{Status: status}}
		if page != nil {
			resp.DirAttr = xdr.ToNFSAttr(page.dir.attr)
		}
		return resp, nil
	}
	dir := page.dir

	maxCount := ctx.fit(req.MaxCount, 0)
	size := readDirHeaderSize
	dirSize := 0
	entries := make([]*types.DirEntryPlus, 0, len(page.items))
	for i, item := range page.items {
		if i%64 == 63 && ctx.cancelled() {
			return &ReadDirPlusResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
		}

		entrySize := readDirEntrySize + xdrNameSize(item.name)
		size += entrySize + readDirPlusExtraSize
		dirSize += entrySize
		if size > int(maxCount) || dirSize > int(req.DirCount) {
			break
		}

		entry := &types.DirEntryPlus{
			Fileid: item.ino,
			Name:   item.name,
			Cookie: makeCookie(page.epoch, item.index),
		}
		handle, attr, err := h.entryHandle(dir, item.name)
		if err != nil {
			logger.Debug("READDIRPLUS: no handle for '%s' in %s: %v", item.name, dir.path, err)
		} else {
			entry.Handle = handle[:]
			entry.Attr = xdr.ToNFSAttr(attr)
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 && len(page.items) > 0 {
		return &ReadDirPlusResponse{
			NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrTooSmall},
			DirAttr:         xdr.ToNFSAttr(dir.attr),
		}, nil
	}

	eof := len(entries) == len(page.items)
	logger.Debug("READDIRPLUS successful: path=%s entries=%d eof=%v client=%s", dir.path, len(entries), eof, clientIP)
	return &ReadDirPlusResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		DirAttr:         xdr.ToNFSAttr(dir.attr),
		CookieVerf:      page.verf,
		Entries:         entries,
		EOF:             eof,
	}, nil
}

// entryHandle returns the handle of a listed name. ".." at an export root
// is the root itself, as in LOOKUP.
func (h *Handler) entryHandle(dir *object, name string) (fhcache.Handle, *backend.Attr, error) {
	switch name {
	case ".":
		return dir.handle, dir.attr, nil
	case "..":
		if dir.path == dir.export.Path {
			return dir.handle, dir.attr, nil
		}
		return h.Handles.HandleFor(path.Dir(dir.path))
	}
	return h.Handles.Compose(dir.handle, dir.path, name)
}

// DecodeReadDirPlusRequest decodes READDIRPLUS3args:
//
//	nfs_fh3     dir
//	cookie3     cookie
//	cookieverf3 cookieverf
//	count3      dircount
//	count3      maxcount
func DecodeReadDirPlusRequest(data []byte) (*ReadDirPlusRequest, error) {
	reader := bytes.NewReader(data)

	handle, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, err
	}
	cookie, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode cookie: %w", err)
	}
	verf, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode cookieverf: %w", err)
	}
	dirCount, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode dircount: %w", err)
	}
	maxCount, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode maxcount: %w", err)
	}

	return &ReadDirPlusRequest{
		DirHandle:  handle,
		Cookie:     cookie,
		CookieVerf: verf,
		DirCount:   dirCount,
		MaxCount:   maxCount,
	}, nil
}

// Encode serializes READDIRPLUS3res.
func (resp *ReadDirPlusResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := xdr.WriteUint32(&buf, resp.Status); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.DirAttr); err != nil {
		return nil, fmt.Errorf("encode dir attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	if err := xdr.WriteUint64(&buf, resp.CookieVerf); err != nil {
		return nil, fmt.Errorf("write cookieverf: %w", err)
	}
	for _, e := range resp.Entries {
		if err := xdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if err := xdr.WriteUint64(&buf, e.Fileid); err != nil {
			return nil, fmt.Errorf("write fileid for '%s': %w", e.Name, err)
		}
		if err := xdr.WriteString(&buf, e.Name); err != nil {
			return nil, fmt.Errorf("write name '%s': %w", e.Name, err)
		}
		if err := xdr.WriteUint64(&buf, e.Cookie); err != nil {
			return nil, fmt.Errorf("write cookie for '%s': %w", e.Name, err)
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, e.Attr); err != nil {
			return nil, fmt.Errorf("encode attributes for '%s': %w", e.Name, err)
		}
		if err := xdr.EncodeOptionalOpaque(&buf, e.Handle); err != nil {
			return nil, fmt.Errorf("encode handle for '%s': %w", e.Name, err)
		}
	}
	if err := xdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	if err := xdr.WriteBool(&buf, resp.EOF); err != nil {
		return nil, fmt.Errorf("write eof: %w", err)
	}
	return buf.Bytes(), nil
}
