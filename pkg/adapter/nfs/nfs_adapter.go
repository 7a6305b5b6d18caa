package nfs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	"github.com/souravgh/unfs2go/pkg/adapter"
	"github.com/souravgh/unfs2go/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Request is one RPC call message read from a socket, waiting for the
// event loop.
type Request struct {
	// Message is the complete call: a UDP datagram or a reassembled TCP
	// record without its marking.
	Message []byte

	// ClientAddr is the peer address ("IP:port").
	ClientAddr string

	// Transport is "udp" or "tcp".
	Transport string

	Received time.Time

	reply func([]byte) error
}

// NewRequest builds a request whose reply is delivered through reply.
func NewRequest(message []byte, clientAddr, transport string, reply func([]byte) error) *Request {
	return &Request{
		Message:    message,
		ClientAddr: clientAddr,
		Transport:  transport,
		Received:   time.Now(),
		reply:      reply,
	}
}

// Reply sends an encoded RPC reply back over the transport the call
// arrived on.
func (r *Request) Reply(data []byte) error {
	if r.reply == nil {
		return errors.New("request has no reply path")
	}
	return r.reply(data)
}

// NFSAdapter serves NFS and MOUNT over UDP and TCP.
//
// Two endpoints are bound: one on the NFS port and one on the MOUNT port.
// Both programs are answered on both, so when the ports are equal a single
// endpoint is used. Each endpoint has a UDP socket (unless TCPOnly) and a
// TCP listener.
//
// Goroutines:
//   - one UDP reader per endpoint
//   - one TCP acceptor per endpoint
//   - one reader per TCP connection
//
// All of them only decode framing and push Requests onto the loop's
// channel. Replies come back through Request.Reply, which may be called
// from the loop goroutine.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Sockets closed, blocked TCP reads interrupted
//  3. Wait for connection readers to finish (up to ShutdownTimeout)
//  4. Force-close any remaining connections after timeout
type NFSAdapter struct {
	config   NFSConfig
	requests chan<- *Request
	metrics  metrics.NFSMetrics

	endpoints []*endpoint

	// activeConns tracks connection goroutines for graceful shutdown.
	activeConns sync.WaitGroup

	// activeConnections maps remote address to net.Conn for forced
	// closure.
	activeConnections sync.Map

	connCount atomic.Int32

	// connSemaphore limits concurrent TCP connections. nil means
	// unlimited.
	connSemaphore chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// served is closed when Serve returns.
	served  chan struct{}
	serving atomic.Bool
}

var _ adapter.Adapter = (*NFSAdapter)(nil)

// endpoint is the pair of sockets bound to one port.
type endpoint struct {
	port int
	udp  net.PacketConn
	tcp  net.Listener
}

// NFSConfig holds the transport parameters.
//
// Ports of 0 are bound to ephemeral ports; the chosen values are available
// from Port and MountPort after Listen.
type NFSConfig struct {
	// BindAddress is the local address to bind, empty for all interfaces.
	BindAddress string

	NFSPort   int
	MountPort int

	// TCPOnly disables the UDP sockets.
	TCPOnly bool

	// MaxConnections limits concurrent TCP connections. 0 means unlimited.
	MaxConnections int

	// IdleTimeout closes a TCP connection that sends nothing for this long.
	// 0 disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration

	// ShutdownTimeout is how long Serve waits for connection readers to
	// exit before force-closing them.
	ShutdownTimeout time.Duration
}

// applyDefaults fills in zero values with sensible defaults.
func (c *NFSConfig) applyDefaults() {
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *NFSConfig) validate() error {
	if c.NFSPort < 0 || c.NFSPort > 65535 {
		return fmt.Errorf("invalid NFS port %d: must be 0-65535", c.NFSPort)
	}
	if c.MountPort < 0 || c.MountPort > 65535 {
		return fmt.Errorf("invalid MOUNT port %d: must be 0-65535", c.MountPort)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates an adapter that delivers requests on requests. nfsMetrics
// may be nil.
func New(config NFSConfig, requests chan<- *Request, nfsMetrics metrics.NFSMetrics) (*NFSAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid NFS config: %w", err)
	}
	if requests == nil {
		return nil, errors.New("request channel is required")
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("NFS connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("NFS connection limit: unlimited")
	}

	if nfsMetrics == nil {
		nfsMetrics = metrics.NewNoopNFSMetrics()
	}

	return &NFSAdapter{
		config:        config,
		requests:      requests,
		metrics:       nfsMetrics,
		connSemaphore: connSemaphore,
		shutdown:      make(chan struct{}),
		served:        make(chan struct{}),
	}, nil
}

// Listen binds the NFS endpoint and, when its port differs, the MOUNT
// endpoint. On failure every socket bound so far is closed.
func (s *NFSAdapter) Listen() error {
	nfsEP, err := s.bind(s.config.NFSPort)
	if err != nil {
		return fmt.Errorf("failed to bind NFS port %d: %w", s.config.NFSPort, err)
	}
	s.endpoints = []*endpoint{nfsEP}

	if s.config.MountPort != s.config.NFSPort {
		mountEP, err := s.bind(s.config.MountPort)
		if err != nil {
			nfsEP.close()
			s.endpoints = nil
			return fmt.Errorf("failed to bind MOUNT port %d: %w", s.config.MountPort, err)
		}
		s.endpoints = append(s.endpoints, mountEP)
	}

	logger.Info("NFS listening on %s port %d, MOUNT on port %d (udp=%v)",
		s.bindHost(), s.Port(), s.MountPort(), !s.config.TCPOnly)
	return nil
}

func (s *NFSAdapter) bindHost() string {
	if s.config.BindAddress == "" {
		return "0.0.0.0"
	}
	return s.config.BindAddress
}

// bind opens the TCP listener first so an ephemeral port can be reused for
// the UDP socket.
func (s *NFSAdapter) bind(port int) (*endpoint, error) {
	tcp, err := net.Listen("tcp", net.JoinHostPort(s.config.BindAddress, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	ep := &endpoint{tcp: tcp, port: tcp.Addr().(*net.TCPAddr).Port}

	if !s.config.TCPOnly {
		udp, err := net.ListenPacket("udp", net.JoinHostPort(s.config.BindAddress, strconv.Itoa(ep.port)))
		if err != nil {
			_ = tcp.Close()
			return nil, err
		}
		ep.udp = udp
	}
	return ep, nil
}

func (ep *endpoint) close() {
	if ep.tcp != nil {
		if err := ep.tcp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Error closing TCP listener on port %d: %v", ep.port, err)
		}
	}
	if ep.udp != nil {
		if err := ep.udp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Error closing UDP socket on port %d: %v", ep.port, err)
		}
	}
}

// Serve runs the readers of every endpoint until ctx is cancelled or Stop
// is called. Listen must have succeeded first.
func (s *NFSAdapter) Serve(ctx context.Context) error {
	s.serving.Store(true)
	defer close(s.served)

	if len(s.endpoints) == 0 {
		return errors.New("NFS adapter is not listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		select {
		case <-gctx.Done():
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for _, ep := range s.endpoints {
		g.Go(func() error { return s.acceptLoop(ep) })
		if ep.udp != nil {
			g.Go(func() error { return s.udpLoop(ep) })
		}
	}

	err := g.Wait()
	s.initiateShutdown()
	if shutdownErr := s.gracefulShutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

// submit hands a request to the loop. It returns false once shutdown has
// begun.
func (s *NFSAdapter) submit(req *Request) bool {
	select {
	case s.requests <- req:
		return true
	case <-s.shutdown:
		return false
	}
}

func (s *NFSAdapter) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// udpLoop reads datagrams from one endpoint. Each datagram is a complete
// RPC message.
func (s *NFSAdapter) udpLoop(ep *endpoint) error {
	buf := make([]byte, rpc.MaxUDPPacket)
	for {
		n, addr, err := ep.udp.ReadFrom(buf)
		if err != nil {
			if s.isShuttingDown() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("UDP socket on port %d closed: %w", ep.port, err)
			}
			logger.Debug("Error reading UDP datagram on port %d: %v", ep.port, err)
			continue
		}

		message := make([]byte, n)
		copy(message, buf[:n])

		conn, peer := ep.udp, addr
		req := NewRequest(message, peer.String(), "udp", func(data []byte) error {
			if len(data) > rpc.MaxUDPPacket {
				return fmt.Errorf("reply of %d bytes exceeds UDP limit %d", len(data), rpc.MaxUDPPacket)
			}
			_, err := conn.WriteTo(data, peer)
			return err
		})
		if !s.submit(req) {
			return nil
		}
	}
}

// acceptLoop accepts TCP connections on one endpoint and starts a reader
// for each.
func (s *NFSAdapter) acceptLoop(ep *endpoint) error {
	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return nil
			}
		}

		tcpConn, err := ep.tcp.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			if s.isShuttingDown() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("TCP listener on port %d closed: %w", ep.port, err)
			}
			logger.Debug("Error accepting NFS connection: %v", err)
			continue
		}

		s.activeConns.Add(1)
		current := s.connCount.Add(1)
		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
		logger.Debug("NFS connection accepted from %s (active: %d)", connAddr, current)

		conn := NewNFSConnection(s, tcpConn)
		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)
				s.activeConns.Done()
				current := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(current)
				logger.Debug("NFS connection closed from %s (active: %d)", addr, current)
			}()
			conn.Serve()
		}(connAddr)

		if s.isShuttingDown() {
			// The connection raced with shutdown; interrupt its reader.
			_ = tcpConn.SetReadDeadline(time.Now())
		}
	}
}

// initiateShutdown closes every socket and interrupts blocked connection
// reads. Safe to call more than once.
func (s *NFSAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("NFS transport shutdown initiated")
		close(s.shutdown)

		for _, ep := range s.endpoints {
			ep.close()
		}

		// Replies already queued on a connection may still be written; only
		// the readers are stopped.
		now := time.Now()
		s.activeConnections.Range(func(_, value any) bool {
			_ = value.(net.Conn).SetReadDeadline(now)
			return true
		})
	})
}

// gracefulShutdown waits for connection readers to exit, force-closing
// the remainder after ShutdownTimeout.
func (s *NFSAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	if activeCount > 0 {
		logger.Info("NFS graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
			activeCount, s.config.ShutdownTimeout)
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("NFS graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("NFS shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("NFS shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *NFSAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
		}
		return true
	})
	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop shuts the transport down and waits for Serve to return or ctx to
// expire.
func (s *NFSAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if len(s.endpoints) == 0 || !s.serving.Load() {
		return nil
	}

	select {
	case <-s.served:
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("NFS shutdown context cancelled: %d connection(s) still active: %v", remaining, ctx.Err())
		return ctx.Err()
	}
}

// GetActiveConnections returns the current number of TCP connections.
func (s *NFSAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the bound NFS port, or 0 before Listen.
func (s *NFSAdapter) Port() int {
	if len(s.endpoints) == 0 {
		return 0
	}
	return s.endpoints[0].port
}

// MountPort returns the bound MOUNT port, or 0 before Listen.
func (s *NFSAdapter) MountPort() int {
	if len(s.endpoints) == 0 {
		return 0
	}
	return s.endpoints[len(s.endpoints)-1].port
}

// UDP reports whether UDP sockets are served.
func (s *NFSAdapter) UDP() bool {
	return !s.config.TCPOnly
}

// Protocol returns "NFS".
func (s *NFSAdapter) Protocol() string {
	return "NFS"
}
