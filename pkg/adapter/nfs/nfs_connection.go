package nfs

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
)

// NFSConnection reads record-marked RPC calls from one TCP connection.
//
// Calls are submitted to the loop as they arrive, so a client may have
// several outstanding. Replies are written under writeMu so records from
// different calls never interleave.
type NFSConnection struct {
	server *NFSAdapter
	conn   net.Conn

	writeMu sync.Mutex
}

func NewNFSConnection(server *NFSAdapter, conn net.Conn) *NFSConnection {
	return &NFSConnection{
		server: server,
		conn:   conn,
	}
}

// Serve reads records until the client disconnects, the idle timeout
// expires, or the transport shuts down. It recovers from panics so a
// single misbehaving connection cannot take the server down.
func (c *NFSConnection) Serve() {
	clientAddr := c.conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", clientAddr, r)
		}
		_ = c.conn.Close()
	}()

	logger.Debug("New connection from %s", clientAddr)

	for {
		if c.server.isShuttingDown() {
			logger.Debug("Connection from %s closed due to server shutdown", clientAddr)
			return
		}

		if err := c.handleRecord(clientAddr); err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Connection from %s closed by client", clientAddr)
			case errors.As(err, &netErr) && netErr.Timeout():
				if c.server.isShuttingDown() {
					logger.Debug("Connection from %s closed due to server shutdown", clientAddr)
				} else {
					logger.Debug("Connection from %s timed out: %v", clientAddr, err)
				}
			default:
				logger.Debug("Error reading request from %s: %v", clientAddr, err)
			}
			return
		}
	}
}

// handleRecord reads one record and hands it to the loop.
func (c *NFSConnection) handleRecord(clientAddr string) error {
	if idle := c.server.config.IdleTimeout; idle > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		// Shutdown interrupts readers through the same deadline.
		if c.server.isShuttingDown() {
			return io.EOF
		}
	}

	message, err := rpc.ReadRecord(c.conn, rpc.MaxRecordSize)
	if err != nil {
		return err
	}
	logger.Debug("Read RPC record from %s: %d bytes", clientAddr, len(message))

	req := NewRequest(message, clientAddr, "tcp", c.sendReply)
	if !c.server.submit(req) {
		return io.EOF
	}
	return nil
}

// sendReply writes one reply record.
func (c *NFSConnection) sendReply(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.server.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := rpc.WriteRecord(c.conn, data); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
