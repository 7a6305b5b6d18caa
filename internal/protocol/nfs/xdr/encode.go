package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr2 "github.com/rasky/go-xdr/xdr2"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/types"
)

// ============================================================================
// XDR Encoding Helpers - Go Structures → Wire Format
// ============================================================================

// WriteUint32 appends one XDR unsigned int.
func WriteUint32(buf *bytes.Buffer, v uint32) error {
	return binary.Write(buf, binary.BigEndian, v)
}

// WriteUint64 appends one XDR unsigned hyper.
func WriteUint64(buf *bytes.Buffer, v uint64) error {
	return binary.Write(buf, binary.BigEndian, v)
}

// WriteBool appends an XDR boolean.
func WriteBool(buf *bytes.Buffer, v bool) error {
	if v {
		return WriteUint32(buf, 1)
	}
	return WriteUint32(buf, 0)
}

// WriteOpaque appends variable-length opaque data with its length and
// padding.
func WriteOpaque(buf *bytes.Buffer, data []byte) error {
	length := uint32(len(data))
	if err := binary.Write(buf, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := buf.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	padding := (4 - (length % 4)) % 4
	for range padding {
		if err := buf.WriteByte(0); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}
	return nil
}

// WriteString appends an XDR string.
func WriteString(buf *bytes.Buffer, s string) error {
	return WriteOpaque(buf, []byte(s))
}

// EncodeOptionalOpaque encodes optional opaque data (post_op_fh3 and
// similar). Empty data is encoded as not present.
func EncodeOptionalOpaque(buf *bytes.Buffer, data []byte) error {
	if len(data) == 0 {
		return binary.Write(buf, binary.BigEndian, uint32(0))
	}

	if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}
	return WriteOpaque(buf, data)
}

// EncodeOptionalFileAttr encodes post_op_attr.
func EncodeOptionalFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return binary.Write(buf, binary.BigEndian, uint32(0))
	}

	if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}

	return EncodeFileAttr(buf, attr)
}

// EncodeWccData encodes wcc_data: optional pre-op attributes followed by
// optional post-op attributes.
func EncodeWccData(buf *bytes.Buffer, before *types.WccAttr, after *types.NFSFileAttr) error {
	if before != nil {
		if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
			return fmt.Errorf("write before present: %w", err)
		}
		if _, err := xdr2.Marshal(buf, before); err != nil {
			return fmt.Errorf("encode before attributes: %w", err)
		}
	} else {
		if err := binary.Write(buf, binary.BigEndian, uint32(0)); err != nil {
			return fmt.Errorf("write before not present: %w", err)
		}
	}

	if err := EncodeOptionalFileAttr(buf, after); err != nil {
		return fmt.Errorf("encode after attributes: %w", err)
	}

	return nil
}

// EncodeFileAttr encodes fattr3. The 84-byte layout follows the field order
// of types.NFSFileAttr.
func EncodeFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return fmt.Errorf("file attributes are nil")
	}
	if _, err := xdr2.Marshal(buf, attr); err != nil {
		return fmt.Errorf("marshal fattr3: %w", err)
	}
	return nil
}
