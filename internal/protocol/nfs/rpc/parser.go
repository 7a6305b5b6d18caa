package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// maxAuthBody is the largest opaque_auth body allowed by RFC 5531.
const maxAuthBody = 400

// callHeaderSize is XID through Procedure: 6 × 4 bytes.
const callHeaderSize = 24

// ErrShortMessage is returned when a call is truncated inside its header.
var ErrShortMessage = errors.New("rpc: message too short")

// ReadCall parses an RPC call header from raw bytes.
//
// The credential and verifier lengths are checked against the RFC limit
// before handing the buffer to the XDR decoder, so a hostile length field
// cannot trigger a large allocation.
//
// After calling ReadCall, use ReadData to extract the procedure-specific
// parameters that follow the header.
func ReadCall(data []byte) (*RPCCallMessage, error) {
	if _, err := argsOffset(data); err != nil {
		return nil, err
	}

	call := &RPCCallMessage{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), call); err != nil {
		return nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}

	// MsgType must be 0 for calls, 1 for replies
	if call.MsgType != RPCCall {
		return nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}

	return call, nil
}

// ReadData returns the procedure-specific parameters of a call message,
// skipping the fixed header, the credential and the verifier.
func ReadData(message []byte, call *RPCCallMessage) ([]byte, error) {
	offset, err := argsOffset(message)
	if err != nil {
		return nil, err
	}
	if offset >= len(message) {
		return []byte{}, nil
	}
	return message[offset:], nil
}

// argsOffset walks the header and both opaque_auth fields and returns the
// offset of the first argument byte.
func argsOffset(message []byte) (int, error) {
	offset := callHeaderSize
	for _, field := range []string{"credential", "verifier"} {
		// flavor + length
		if len(message) < offset+8 {
			return 0, fmt.Errorf("%w: %s header", ErrShortMessage, field)
		}
		bodyLen := binary.BigEndian.Uint32(message[offset+4 : offset+8])
		if bodyLen > maxAuthBody {
			return 0, fmt.Errorf("rpc: %s body length %d exceeds %d", field, bodyLen, maxAuthBody)
		}
		offset += 8 + int(bodyLen) + int(XdrPadding(bodyLen))
		if len(message) < offset {
			return 0, fmt.Errorf("%w: %s body", ErrShortMessage, field)
		}
	}
	return offset, nil
}

// MakeSuccessReply builds an accepted SUCCESS reply carrying data.
//
// The result is a bare RPC message. TCP transports frame it with
// WriteRecord; UDP transports send it as one datagram.
func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 24+len(data)))
	if err := writeAcceptedHeader(buf, xid, RPCSuccess); err != nil {
		return nil, err
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// MakeErrorReply builds an accepted reply with a non-success accept_stat
// and no body (PROG_UNAVAIL, PROC_UNAVAIL, GARBAGE_ARGS, SYSTEM_ERR).
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 24))
	if err := writeAcceptedHeader(buf, xid, acceptStat); err != nil {
		return nil, fmt.Errorf("marshal error reply: %w", err)
	}
	return buf.Bytes(), nil
}

// MakeProgMismatchReply builds a PROG_MISMATCH reply advertising the
// supported version range.
func MakeProgMismatchReply(xid uint32, low, high uint32) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 32))
	if err := writeAcceptedHeader(buf, xid, RPCProgMismatch); err != nil {
		return nil, err
	}
	if _, err := xdr.Marshal(buf, &VersionRange{Low: low, High: high}); err != nil {
		return nil, fmt.Errorf("marshal version range: %w", err)
	}
	return buf.Bytes(), nil
}

// MakeRPCMismatchReply builds a MSG_DENIED/RPC_MISMATCH reply for calls
// that are not RPC version 2.
func MakeRPCMismatchReply(xid uint32) ([]byte, error) {
	var buf bytes.Buffer
	reply := RPCDeniedReply{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgDenied,
		RejectStat: RPCMismatch,
		Low:        RPCVersion2,
		High:       RPCVersion2,
	}
	if _, err := xdr.Marshal(&buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal denied reply: %w", err)
	}
	return buf.Bytes(), nil
}

func writeAcceptedHeader(buf *bytes.Buffer, xid uint32, acceptStat uint32) error {
	reply := RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		// AUTH_NULL verifier, as every mainstream NFS server sends.
		Verf: OpaqueAuth{
			Flavor: AuthNull,
			Body:   []byte{},
		},
		AcceptStat: acceptStat,
	}
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return nil
}

// XdrPadding calculates the number of padding bytes needed for XDR alignment.
//
// Padding Formula: (4 - (length % 4)) % 4
func XdrPadding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}
