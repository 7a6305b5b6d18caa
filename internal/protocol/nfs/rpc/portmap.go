package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Portmapper procedures (RFC 1833, version 2).
const (
	PmapProcSet   = 1
	PmapProcUnset = 2
)

// IP protocol numbers used in portmapper mappings.
const (
	IPProtoTCP = 6
	IPProtoUDP = 17
)

// DefaultPortmapAddr is where the local portmapper listens.
const DefaultPortmapAddr = "127.0.0.1:111"

// Mapping is the portmapper's mapping structure.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

// PortmapClient registers and unregisters services with a portmapper
// over UDP.
type PortmapClient struct {
	addr    string
	timeout time.Duration
	xid     atomic.Uint32
}

// NewPortmapClient returns a client for the portmapper at addr.
func NewPortmapClient(addr string, timeout time.Duration) *PortmapClient {
	if addr == "" {
		addr = DefaultPortmapAddr
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	c := &PortmapClient{addr: addr, timeout: timeout}
	c.xid.Store(uint32(time.Now().UnixNano()))
	return c
}

// Set registers m. The boolean is the portmapper's verdict.
func (c *PortmapClient) Set(ctx context.Context, m Mapping) (bool, error) {
	return c.call(ctx, PmapProcSet, m)
}

// Unset removes every mapping for m.Prog/m.Vers. Prot and Port are ignored
// by the portmapper.
func (c *PortmapClient) Unset(ctx context.Context, m Mapping) (bool, error) {
	return c.call(ctx, PmapProcUnset, m)
}

func (c *PortmapClient) call(ctx context.Context, proc uint32, m Mapping) (bool, error) {
	xid := c.xid.Add(1)

	var buf bytes.Buffer
	call := RPCCallMessage{
		XID:        xid,
		MsgType:    RPCCall,
		RPCVersion: RPCVersion2,
		Program:    ProgramPortmap,
		Version:    PortmapVersion2,
		Procedure:  proc,
		Cred:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
		Verf:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
	}
	if _, err := xdr.Marshal(&buf, &call); err != nil {
		return false, fmt.Errorf("marshal portmap call: %w", err)
	}
	if _, err := xdr.Marshal(&buf, &m); err != nil {
		return false, fmt.Errorf("marshal portmap mapping: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", c.addr)
	if err != nil {
		return false, fmt.Errorf("dial portmapper %s: %w", c.addr, err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(buf.Bytes()); err != nil {
		return false, fmt.Errorf("send portmap call: %w", err)
	}

	reply := make([]byte, 512)
	for {
		n, err := conn.Read(reply)
		if err != nil {
			return false, fmt.Errorf("read portmap reply: %w", err)
		}
		ok, matched, err := parsePortmapReply(reply[:n], xid)
		if !matched {
			// stale reply from an earlier call
			continue
		}
		return ok, err
	}
}

// parsePortmapReply decodes a reply to SET/UNSET. matched is false when
// the reply belongs to a different XID.
func parsePortmapReply(data []byte, xid uint32) (ok bool, matched bool, err error) {
	if len(data) < 12 {
		return false, true, ErrShortMessage
	}
	if binary.BigEndian.Uint32(data[0:4]) != xid {
		return false, false, nil
	}
	if binary.BigEndian.Uint32(data[4:8]) != RPCReply {
		return false, true, fmt.Errorf("portmap reply has message type %d", binary.BigEndian.Uint32(data[4:8]))
	}
	if binary.BigEndian.Uint32(data[8:12]) != RPCMsgAccepted {
		return false, true, fmt.Errorf("portmap call denied")
	}

	r := bytes.NewReader(data)
	var hdr RPCReplyMessage
	if _, err := xdr.Unmarshal(r, &hdr); err != nil {
		return false, true, fmt.Errorf("unmarshal portmap reply: %w", err)
	}
	if hdr.AcceptStat != RPCSuccess {
		return false, true, fmt.Errorf("portmap call failed with accept_stat %d", hdr.AcceptStat)
	}

	var result uint32
	if err := binary.Read(r, binary.BigEndian, &result); err != nil {
		return false, true, fmt.Errorf("read portmap result: %w", err)
	}
	return result != 0, true, nil
}
