package handlers

import (
	"bytes"
	"fmt"
	"path"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/xdr"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// ReadDirRequest is READDIR3args.
type ReadDirRequest struct {
	DirHandle []byte

	// Cookie is 0 to start a listing, or the cookie of the last entry the
	// client received.
	Cookie uint64

	// CookieVerf is the verifier returned with the previous page. Zero
	// skips the check.
	CookieVerf uint64

	// Count bounds the encoded size of the whole reply.
	Count uint32
}

// ReadDirResponse is READDIR3res.
type ReadDirResponse struct {
	NFSResponseBase
	DirAttr    *types.NFSFileAttr
	CookieVerf uint64
	Entries    []*types.DirEntry
	EOF        bool
}

// Fixed XDR costs used to fit a page into the client's byte budget.
const (
	// status, post_op_attr, cookieverf, the closing "no more entries" flag
	// and eof.
	readDirHeaderSize = 4 + (4 + 84) + 8 + 4 + 4

	// value_follows, fileid, name length and cookie. The padded name is
	// added per entry.
	readDirEntrySize = 4 + 8 + 4 + 8

	// post_op_attr and post_op_fh3 carrying a full handle.
	readDirPlusExtraSize = (4 + 84) + (4 + 4 + 60)
)

// ============================================================================
// Listing
// ============================================================================

// dirItem is one member of a directory listing, "." and ".." included.
type dirItem struct {
	name  string
	ino   uint64
	index int
}

// dirPage is the part of a directory a READDIR or READDIRPLUS call
// starts from.
type dirPage struct {
	dir   *object
	items []dirItem
	verf  uint64
	epoch uint32
}

// cookieVerf derives the cookie verifier of a directory from its
// modification time, so any change to the directory invalidates cookies
// handed out before it.
func cookieVerf(dir *object) uint64 {
	return uint64(dir.attr.Mtime.UnixNano())
}

// openDir resolves and lists a directory for READDIR and READDIRPLUS,
// starting after cookie.
//
// A cookie minted in an older epoch, or a non-zero verifier that does not
// match the directory, yields NFS3ERR_BAD_COOKIE.
func (h *Handler) openDir(ctx *NFSHandlerContext, raw []byte, cookie, verf uint64, op string) (*dirPage, uint32) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)

	dir, status := h.resolve(ctx, raw, op)
	if status != types.NFS3OK {
		return nil, status
	}
	page := &dirPage{dir: dir, verf: cookieVerf(dir), epoch: h.Cookies.Current()}

	if status := requireDir(dir); status != types.NFS3OK {
		return page, status
	}

	start := 0
	if cookie != 0 {
		epoch, next := splitCookie(cookie)
		if epoch != page.epoch {
			logger.Debug("%s: cookie epoch %d is not current epoch %d: client=%s", op, epoch, page.epoch, clientIP)
			return page, types.NFS3ErrBadCookie
		}
		if verf != 0 && verf != page.verf {
			logger.Debug("%s: cookie verifier mismatch for %s: client=%s", op, dir.path, clientIP)
			return page, types.NFS3ErrBadCookie
		}
		start = next
	}

	entries, err := h.Backend.ReadDir(dir.path)
	if err != nil {
		return page, xdr.MapBackendErrorToNFSStatus(err, clientIP, op)
	}

	parentIno := dir.attr.Ino
	if dir.path != dir.export.Path {
		if attr, err := h.Backend.Lstat(path.Dir(dir.path)); err == nil {
			parentIno = attr.Ino
		}
	}

	all := make([]dirItem, 0, len(entries)+2)
	all = append(all, dirItem{name: ".", ino: dir.attr.Ino}, dirItem{name: "..", ino: parentIno})
	for _, e := range entries {
		all = append(all, dirItem{name: e.Name, ino: e.Ino})
	}
	for i := range all {
		all[i].index = i
	}

	if start < len(all) {
		page.items = all[start:]
	}
	return page, types.NFS3OK
}

// xdrNameSize is the encoded size of a name: its bytes padded to four.
func xdrNameSize(name string) int {
	return (len(name) + 3) &^ 3
}

// ============================================================================
// Protocol Handler
// ============================================================================

// ReadDir lists directory entries (RFC 1813 Section 3.3.16).
//
// Every listing starts with "." and "..". Each entry's cookie carries the
// current cookie epoch in its high 32 bits and the entry position in the
// low 32 bits. The page is filled until the next entry would push the
// encoded reply past Count; a Count too small for even one entry yields
// NFS3ERR_TOOSMALL.
func (h *Handler) ReadDir(ctx *NFSHandlerContext, req *ReadDirRequest) (*ReadDirResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("READDIR: dir=%x cookie=%d count=%d client=%s", req.DirHandle, req.Cookie, req.Count, clientIP)

	if ctx.cancelled() {
		return &ReadDirResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, ctx.GetContext().Err()
	}

	page, status := h.openDir(ctx, req.DirHandle, req.Cookie, req.CookieVerf, "READDIR")
	if status != types.NFS3OK {
		resp := &ReadDirResponse{NFSResponseBase: NFSResponseBase{Status: status}}
		if page != nil {
			resp.DirAttr = xdr.ToNFSAttr(page.dir.attr)
		}
		return resp, nil
	}

	limit := ctx.fit(req.Count, 0)
	size := readDirHeaderSize
	entries := make([]*types.DirEntry, 0, len(page.items))
	for _, item := range page.items {
		size += readDirEntrySize + xdrNameSize(item.name)
		if size > int(limit) {
			break
		}
		entries = append(entries, &types.DirEntry{
			Fileid: item.ino,
			Name:   item.name,
			Cookie: makeCookie(page.epoch, item.index),
		})
	}

	if len(entries) == 0 && len(page.items) > 0 {
		logger.Debug("READDIR: count %d too small for one entry: client=%s", req.Count, clientIP)
		return &ReadDirResponse{
			NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrTooSmall},
			DirAttr:         xdr.ToNFSAttr(page.dir.attr),
		}, nil
	}

	eof := len(entries) == len(page.items)
	logger.Debug("READDIR successful: path=%s entries=%d eof=%v client=%s", page.dir.path, len(entries), eof, clientIP)
	return &ReadDirResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		DirAttr:         xdr.ToNFSAttr(page.dir.attr),
		CookieVerf:      page.verf,
		Entries:         entries,
		EOF:             eof,
	}, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// DecodeReadDirRequest decodes READDIR3args:
//
//	nfs_fh3     dir
//	cookie3     cookie
//	cookieverf3 cookieverf
//	count3      count
func DecodeReadDirRequest(data []byte) (*ReadDirRequest, error) {
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
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode count: %w", err)
	}

	return &ReadDirRequest{DirHandle: handle, Cookie: cookie, CookieVerf: verf, Count: count}, nil
}

// Encode serializes READDIR3res.
func (resp *ReadDirResponse) Encode() ([]byte, error) {
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
	}
	if err := xdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	if err := xdr.WriteBool(&buf, resp.EOF); err != nil {
		return nil, fmt.Errorf("write eof: %w", err)
	}
	return buf.Bytes(), nil
}
