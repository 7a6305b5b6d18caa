package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/souravgh/unfs2go/internal/logger"
	nfsproto "github.com/souravgh/unfs2go/internal/protocol/nfs"
	mount "github.com/souravgh/unfs2go/internal/protocol/nfs/mount/handlers"
	"github.com/souravgh/unfs2go/internal/protocol/nfs/rpc"
	nfs "github.com/souravgh/unfs2go/internal/protocol/nfs/v3/handlers"
	"github.com/souravgh/unfs2go/internal/ratelimiter"
	nfsadapter "github.com/souravgh/unfs2go/pkg/adapter/nfs"
	"github.com/souravgh/unfs2go/pkg/backend"
	"github.com/souravgh/unfs2go/pkg/fdcache"
	"github.com/souravgh/unfs2go/pkg/fhcache"
	"github.com/souravgh/unfs2go/pkg/metrics"
	"github.com/souravgh/unfs2go/pkg/registry"
	"github.com/souravgh/unfs2go/pkg/verifier"
)

// State is the lifecycle phase of a Server.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Defaults for the loop timers.
const (
	DefaultTickInterval        = time.Second
	DefaultFDIdleTimeout       = 10 * time.Second
	DefaultCookieEpochInterval = time.Hour
	DefaultRequestQueue        = 256
)

// Config holds the lifecycle parameters of the server. Transport settings
// live in NFS.
type Config struct {
	NFS nfsadapter.NFSConfig

	// TickInterval is the housekeeping period of the loop.
	TickInterval time.Duration

	// FDIdleTimeout closes cached descriptors unused for this long.
	FDIdleTimeout time.Duration

	// CookieEpochInterval advances the READDIR cookie epoch. Zero never
	// advances it.
	CookieEpochInterval time.Duration

	FHCacheSize int
	FDCacheSize int

	// RegisterPortmap registers MOUNT v1/v3 and NFS v3 with the local
	// portmapper at startup and removes them when draining.
	RegisterPortmap bool
	PortmapAddr     string

	// PidFile is created and locked at startup when set.
	PidFile string

	// RequestQueue is the capacity of the channel between the transports
	// and the loop.
	RequestQueue int
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.FDIdleTimeout <= 0 {
		c.FDIdleTimeout = DefaultFDIdleTimeout
	}
	if c.FHCacheSize <= 0 {
		c.FHCacheSize = fhcache.DefaultCapacity
	}
	if c.FDCacheSize <= 0 {
		c.FDCacheSize = fdcache.DefaultMaxSize
	}
	if c.RequestQueue <= 0 {
		c.RequestQueue = DefaultRequestQueue
	}
	if c.NFS.ShutdownTimeout <= 0 {
		c.NFS.ShutdownTimeout = 30 * time.Second
	}
}

// Reload is the part of the configuration re-read on SIGHUP.
type Reload struct {
	Exports []registry.Export

	RateLimit uint
	RateBurst uint
}

// ReloadFunc loads the current configuration for SIGHUP.
type ReloadFunc func() (*Reload, error)

// Options are the collaborators a Server is built from.
type Options struct {
	Backend  backend.Backend
	Registry *registry.Registry

	// HandleIndex persists handle identities across restarts. May be nil.
	HandleIndex fhcache.Index

	// Limiter may be nil to disable rate limiting.
	Limiter *ratelimiter.Limiter

	// Metrics may be nil.
	Metrics metrics.NFSMetrics

	// Reload is called on SIGHUP. Nil makes SIGHUP a no-op.
	Reload ReloadFunc
}

// Server owns the protocol state of one daemon run: the caches, the
// verifier, the dispatcher and the transports.
//
// All requests are handled on the loop goroutine started by Run. The
// transports only move bytes in and out.
//
// Example usage:
//
//	srv, err := server.New(cfg, server.Options{Backend: be, Registry: reg})
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
type Server struct {
	config Config

	backend  backend.Backend
	registry *registry.Registry
	handles  *fhcache.Cache
	files    *fdcache.Cache
	cookies  *nfs.CookieEpoch
	limiter  *ratelimiter.Limiter
	instance verifier.Instance
	reload   ReloadFunc

	dispatcher *nfsproto.Dispatcher
	transport  *nfsadapter.NFSAdapter
	requests   chan *nfsadapter.Request

	portmap *rpc.PortmapClient
	pidFile *PidFile

	state     atomic.Int32
	lastEpoch time.Time
}

// New builds a server in the Starting state. Nothing is bound until Run.
func New(config Config, opts Options) (*Server, error) {
	if opts.Backend == nil {
		return nil, errors.New("server: backend is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	config.applyDefaults()

	s := &Server{
		config:   config,
		backend:  opts.Backend,
		registry: opts.Registry,
		handles:  fhcache.New(opts.Backend, config.FHCacheSize, opts.HandleIndex),
		files:    fdcache.New(opts.Backend, config.FDCacheSize),
		cookies:  nfs.NewCookieEpoch(),
		limiter:  opts.Limiter,
		instance: verifier.New(),
		reload:   opts.Reload,
		requests: make(chan *nfsadapter.Request, config.RequestQueue),
	}
	s.state.Store(int32(StateStarting))

	s.dispatcher = &nfsproto.Dispatcher{
		NFS: &nfs.Handler{
			Backend:  s.backend,
			Handles:  s.handles,
			Files:    s.files,
			Registry: s.registry,
			Verifier: s.instance.Verifier,
			Cookies:  s.cookies,
		},
		Mount: &mount.Handler{
			Registry: s.registry,
			Handles:  s.handles,
			Backend:  s.backend,
		},
		Limiter: s.limiter,
		Metrics: opts.Metrics,
	}

	transport, err := nfsadapter.New(config.NFS, s.requests, opts.Metrics)
	if err != nil {
		return nil, err
	}
	s.transport = transport

	if config.RegisterPortmap {
		s.portmap = rpc.NewPortmapClient(config.PortmapAddr, 0)
	}
	return s, nil
}

// State returns the current lifecycle phase.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	logger.Debug("Server state: %s", st)
}

// Verifier returns the write verifier of this run.
func (s *Server) Verifier() verifier.Verifier {
	return s.instance.Verifier
}

// Port returns the bound NFS port, valid once Run has bound the sockets.
func (s *Server) Port() int {
	return s.transport.Port()
}

// MountPort returns the bound MOUNT port.
func (s *Server) MountPort() int {
	return s.transport.MountPort()
}

// Run starts the server and blocks until ctx is cancelled, a terminating
// signal arrives or a transport fails. The server is Stopped when Run
// returns; a Server cannot be run twice.
func (s *Server) Run(ctx context.Context) error {
	signals, stop := notifySignals()
	defer stop()
	return s.run(ctx, signals)
}

func (s *Server) run(ctx context.Context, signals <-chan os.Signal) error {
	if s.State() != StateStarting {
		return fmt.Errorf("server: cannot run in state %s", s.State())
	}

	if err := s.start(ctx); err != nil {
		s.abortStart()
		return err
	}

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	served := make(chan error, 1)
	go func() { served <- s.transport.Serve(serveCtx) }()

	s.setState(StateRunning)
	logger.Info("unfsd running: nfs port %d, mount port %d, verifier %x",
		s.Port(), s.MountPort(), s.instance.Verifier[:])

	runErr := s.loop(ctx, signals, served)

	s.setState(StateDraining)
	s.drain()

	cancelServe()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), s.config.NFS.ShutdownTimeout)
	defer cancelStop()
	if err := s.transport.Stop(stopCtx); err != nil {
		logger.Warn("Transport shutdown: %v", err)
	}

	s.setState(StateStopped)
	logger.Info("unfsd stopped")
	return runErr
}

// start performs the Starting phase: pid file, sockets, portmapper.
func (s *Server) start(ctx context.Context) error {
	if s.config.PidFile != "" {
		pf, err := CreatePidFile(s.config.PidFile)
		if err != nil {
			return err
		}
		s.pidFile = pf
	}

	if err := s.transport.Listen(); err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	if s.portmap != nil {
		if err := s.registerPortmap(ctx); err != nil {
			return err
		}
	}
	s.lastEpoch = time.Now()
	return nil
}

// abortStart releases what a failed start acquired.
func (s *Server) abortStart() {
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.transport.Stop(stopCtx)

	if err := s.backend.Shutdown(); err != nil {
		logger.Warn("Backend shutdown: %v", err)
	}
	if s.pidFile != nil {
		_ = s.pidFile.Remove()
	}
	s.setState(StateStopped)
}

// drain releases everything in order: portmapper registrations, cached
// descriptors, the backend, the pid file. The transports are closed by the
// caller afterwards.
func (s *Server) drain() {
	if s.portmap != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.unregisterPortmap(ctx)
		cancel()
	}

	if err := s.files.PurgeAll(); err != nil {
		logger.Warn("Purging descriptor cache: %v", err)
	}

	if err := s.backend.Shutdown(); err != nil {
		logger.Warn("Backend shutdown: %v", err)
	}

	if s.pidFile != nil {
		if err := s.pidFile.Remove(); err != nil {
			logger.Warn("Removing pid file: %v", err)
		}
	}
}

// Snapshot returns the counters reported by SIGUSR1 and /debug/stats. It
// is safe to call from any goroutine.
func (s *Server) Snapshot() metrics.Snapshot {
	fh := s.handles.Stats()
	readers, writers := s.files.Counts()
	return metrics.Snapshot{
		State:              s.State().String(),
		Uptime:             time.Since(s.instance.Started).Truncate(time.Second).String(),
		FHEntries:          fh.Entries,
		FHAccesses:         fh.Lookups,
		FHHits:             fh.Hits,
		FHMisses:           fh.Misses,
		FDRead:             readers,
		FDWrite:            writers,
		Mounts:             len(s.registry.ListMounts()),
		Exports:            s.registry.Count(),
		RateLimitedClients: s.limiter.Clients(),
		CookieEpoch:        s.cookies.Current(),
	}
}
