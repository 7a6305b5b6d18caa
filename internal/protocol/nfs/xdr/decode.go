package xdr

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
)

// ============================================================================
// XDR Decoding Helpers - Wire Format → Go Structures
// ============================================================================

// maxOpaqueLength bounds variable-length fields. WRITE payloads are the
// largest opaque NFS carries and never exceed the 1 MiB record limit.
const maxOpaqueLength = 1024 * 1024

// MaxHandleSize is the NFSv3 limit on file handle length (NFS3_FHSIZE).
const MaxHandleSize = 64

// DecodeOpaque decodes XDR variable-length opaque data.
//
// Per RFC 4506 Section 4.10:
// Format: [length:uint32][data:length bytes][padding:0-3 bytes]
func DecodeOpaque(reader io.Reader) ([]byte, error) {
	return decodeOpaqueMax(reader, maxOpaqueLength)
}

func decodeOpaqueMax(reader io.Reader, limit uint32) ([]byte, error) {
	var length uint32
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	if length > limit {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, limit)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	// Example: length=5 → padding=3, length=8 → padding=0
	padding := (4 - (length % 4)) % 4
	if padding > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(padding)); err != nil {
			return nil, fmt.Errorf("skip padding: %w", err)
		}
	}

	return data, nil
}

// DecodeString decodes an XDR string. Strings share the opaque encoding.
func DecodeString(reader io.Reader) (string, error) {
	data, err := DecodeOpaque(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeFileHandle decodes an nfs_fh3. Length validation against the
// server's own handle size happens when the handle is resolved, so a
// wrong-size handle yields NFS3ERR_BADHANDLE rather than GARBAGE_ARGS.
func DecodeFileHandle(reader io.Reader) ([]byte, error) {
	handle, err := decodeOpaqueMax(reader, MaxHandleSize)
	if err != nil {
		return nil, fmt.Errorf("decode handle: %w", err)
	}
	return handle, nil
}

// DecodeDirOpArgs decodes diropargs3: a directory handle and a name.
func DecodeDirOpArgs(reader io.Reader) ([]byte, string, error) {
	handle, err := DecodeFileHandle(reader)
	if err != nil {
		return nil, "", err
	}
	name, err := DecodeString(reader)
	if err != nil {
		return nil, "", fmt.Errorf("decode name: %w", err)
	}
	return handle, name, nil
}

// DecodeUint32 reads one XDR unsigned int.
func DecodeUint32(reader io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(reader, binary.BigEndian, &v)
	return v, err
}

// DecodeUint64 reads one XDR unsigned hyper.
func DecodeUint64(reader io.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(reader, binary.BigEndian, &v)
	return v, err
}

// DecodeBool reads an XDR boolean.
func DecodeBool(reader io.Reader) (bool, error) {
	v, err := DecodeUint32(reader)
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, fmt.Errorf("invalid boolean value %d", v)
	}
	return v == 1, nil
}

// DecodeTimeVal reads an nfstime3.
func DecodeTimeVal(reader io.Reader) (types.TimeVal, error) {
	var tv types.TimeVal
	if err := binary.Read(reader, binary.BigEndian, &tv.Seconds); err != nil {
		return tv, fmt.Errorf("read seconds: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &tv.Nseconds); err != nil {
		return tv, fmt.Errorf("read nseconds: %w", err)
	}
	return tv, nil
}

// DecodeSetAttrs decodes an NFS sattr3 structure.
//
// Per RFC 1813 Section 2.5.3 (sattr3):
//
//	struct sattr3 {
//	    set_mode3   mode;    // [set:uint32][mode:uint32]
//	    set_uid3    uid;     // [set:uint32][uid:uint32]
//	    set_gid3    gid;     // [set:uint32][gid:uint32]
//	    set_size3   size;    // [set:uint32][size:uint64]
//	    set_atime   atime;   // [how:uint32][time:nfstime3 if how=2]
//	    set_mtime   mtime;   // [how:uint32][time:nfstime3 if how=2]
//	};
func DecodeSetAttrs(reader io.Reader) (*types.SetAttrs, error) {
	attr := &types.SetAttrs{}
	var err error

	if attr.SetMode, err = DecodeBool(reader); err != nil {
		return nil, fmt.Errorf("read set_mode: %w", err)
	}
	if attr.SetMode {
		if attr.Mode, err = DecodeUint32(reader); err != nil {
			return nil, fmt.Errorf("read mode: %w", err)
		}
	}

	if attr.SetUID, err = DecodeBool(reader); err != nil {
		return nil, fmt.Errorf("read set_uid: %w", err)
	}
	if attr.SetUID {
		if attr.UID, err = DecodeUint32(reader); err != nil {
			return nil, fmt.Errorf("read uid: %w", err)
		}
	}

	if attr.SetGID, err = DecodeBool(reader); err != nil {
		return nil, fmt.Errorf("read set_gid: %w", err)
	}
	if attr.SetGID {
		if attr.GID, err = DecodeUint32(reader); err != nil {
			return nil, fmt.Errorf("read gid: %w", err)
		}
	}

	if attr.SetSize, err = DecodeBool(reader); err != nil {
		return nil, fmt.Errorf("read set_size: %w", err)
	}
	if attr.SetSize {
		if attr.Size, err = DecodeUint64(reader); err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}
	}

	if attr.SetAtime, attr.Atime, err = decodeSetTime(reader); err != nil {
		return nil, fmt.Errorf("read set_atime: %w", err)
	}
	if attr.SetMtime, attr.Mtime, err = decodeSetTime(reader); err != nil {
		return nil, fmt.Errorf("read set_mtime: %w", err)
	}

	return attr, nil
}

func decodeSetTime(reader io.Reader) (uint32, types.TimeVal, error) {
	how, err := DecodeUint32(reader)
	if err != nil {
		return 0, types.TimeVal{}, err
	}
	switch how {
	case types.DontChange, types.SetToServerTime:
		return how, types.TimeVal{}, nil
	case types.SetToClientTime:
		tv, err := DecodeTimeVal(reader)
		return how, tv, err
	default:
		return 0, types.TimeVal{}, fmt.Errorf("invalid time_how value: %d", how)
	}
}
