// Package nameserver implements the control plane: the TCP command endpoint
// clients and storage servers register against, the bounded task queue and
// worker pool that serve them, the heartbeat listener and failure monitor,
// and the dispatcher that maps protocol verbs onto the directory, registry,
// session table, access queue, lookup cache, and replication engine.
//
// The name server never moves document bytes on behalf of a client; data
// verbs are answered with a redirect ("ACK_<VERB> <ip> <port>") and the
// client replays the verb against the storage server named there.
package nameserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/metrics"
	"github.com/docfs/docfs/pkg/nameserver/access"
	"github.com/docfs/docfs/pkg/nameserver/directory"
	"github.com/docfs/docfs/pkg/nameserver/lookupcache"
	"github.com/docfs/docfs/pkg/nameserver/registry"
	"github.com/docfs/docfs/pkg/nameserver/replication"
	"github.com/docfs/docfs/pkg/nameserver/session"
	"github.com/docfs/docfs/pkg/nameserver/ssclient"
	"github.com/docfs/docfs/pkg/wire"
)

// DefaultPort and DefaultHeartbeatPort are the shipped listen ports; the
// config layer applies them. The rest are applied by New when the
// corresponding Config field is zero.
const (
	DefaultPort              = 8080
	DefaultHeartbeatPort     = 8081
	DefaultWorkers           = 10
	DefaultQueueSize         = 1000
	DefaultReplicationFactor = 2
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultFailureTimeout    = 15 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// Config carries the name server's construction parameters.
type Config struct {
	// Host is the bind address for both listeners. Empty binds all
	// interfaces.
	Host string

	// Port is the command port; HeartbeatPort receives storage server
	// heartbeats on a separate listener so a flooded command queue can
	// never starve liveness. Zero binds an ephemeral port, which tests
	// rely on; the shipped defaults live in the config package.
	Port          int
	HeartbeatPort int

	// Workers is the size of the dispatch pool; QueueSize bounds how many
	// accepted-but-unserved first messages may wait for a worker.
	Workers   int
	QueueSize int

	// Table capacities. Zero means each package's default.
	MaxClients     int
	MaxServers     int
	MaxUsersPerACL int
	MaxRequests    int

	// ReplicationFactor is how many storage servers hold each file,
	// primary included.
	ReplicationFactor int

	// SnapshotPath is where the directory persists itself. Empty keeps it
	// in memory only.
	SnapshotPath string

	// Lookup cache geometry. Zero means the package defaults.
	CacheSlots int
	CacheTTL   time.Duration

	// ConnectTimeout and FetchTimeout bound control and content calls to
	// storage servers.
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration

	// HeartbeatInterval is the failure monitor's check period;
	// FailureTimeout is how long a server may stay silent before it is
	// marked inactive. Silence must exceed the timeout strictly.
	HeartbeatInterval time.Duration
	FailureTimeout    time.Duration

	// RecoverySettleDelay postpones recovery copying after a server
	// re-registers, giving it time to finish coming up.
	RecoverySettleDelay time.Duration

	// ShutdownTimeout bounds how long Serve waits for workers to drain
	// after shutdown is initiated.
	ShutdownTimeout time.Duration

	Metrics *metrics.NameServerMetrics
}

// task is one accepted connection with its first protocol line already read.
// Workers take over the connection from here; for client registrations they
// keep serving it until the client disconnects.
type task struct {
	conn *wire.Conn
	line string
}

// Server is the name server. Construct with New, run with Serve.
type Server struct {
	cfg     Config
	metrics *metrics.NameServerMetrics

	dir      *directory.Directory
	fleet    *registry.Registry
	sessions *session.Table
	requests *access.Queue
	cache    *lookupcache.Cache
	ss       *ssclient.Client
	engine   *replication.Engine

	tasks chan task

	// ctx bounds storage server calls made by handlers and replication
	// tasks; cancelled when shutdown begins.
	ctx    context.Context
	cancel context.CancelFunc

	listener   net.Listener
	hbListener net.Listener
	listenerMu sync.RWMutex

	// ready is closed once both listeners are bound, for tests that need
	// the ephemeral addresses.
	ready chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once

	// clientConns tracks registered client connections by username so the
	// shutdown fan-out can reach them. Values are *wire.Conn.
	clientConns sync.Map

	workers sync.WaitGroup
}

// New assembles a server and loads the directory snapshot. The returned
// server owns no sockets yet; call Serve.
func New(cfg Config) (*Server, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = DefaultReplicationFactor
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.FailureTimeout <= 0 {
		cfg.FailureTimeout = DefaultFailureTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	dir := directory.New(directory.Config{
		SnapshotPath: cfg.SnapshotPath,
		MaxACLUsers:  cfg.MaxUsersPerACL,
		Metrics:      cfg.Metrics,
	})
	loaded, err := dir.Load()
	if err != nil {
		return nil, fmt.Errorf("load directory snapshot: %w", err)
	}
	if loaded > 0 {
		logger.Info("directory snapshot loaded", "entries", loaded, "path", cfg.SnapshotPath)
	} else {
		logger.Info("starting with empty directory")
	}

	fleet := registry.New(registry.Config{MaxServers: cfg.MaxServers, Metrics: cfg.Metrics})
	ss := ssclient.New(ssclient.Config{Timeout: cfg.ConnectTimeout, FetchTimeout: cfg.FetchTimeout})

	s := &Server{
		cfg:      cfg,
		metrics:  cfg.Metrics,
		dir:      dir,
		fleet:    fleet,
		sessions: session.New(session.Config{MaxClients: cfg.MaxClients, Metrics: cfg.Metrics}),
		requests: access.New(access.Config{MaxRequests: cfg.MaxRequests, Metrics: cfg.Metrics}),
		cache: lookupcache.New(lookupcache.Config{
			Slots:   cfg.CacheSlots,
			TTL:     cfg.CacheTTL,
			Metrics: cfg.Metrics,
		}),
		ss: ss,
		engine: replication.New(replication.Config{
			Fleet:       fleet,
			Catalog:     dir,
			Transport:   ss,
			SettleDelay: cfg.RecoverySettleDelay,
			Metrics:     cfg.Metrics,
		}),
		tasks:    make(chan task, cfg.QueueSize),
		ctx:      context.Background(),
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}
	return s, nil
}

// Serve binds the command and heartbeat listeners and runs until ctx is
// cancelled or Stop is called, then drains gracefully. It returns nil on a
// clean shutdown and an error if the drain exceeded ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", s.addr(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on command port: %w", err)
	}
	hb, err := net.Listen("tcp", s.addr(s.cfg.HeartbeatPort))
	if err != nil {
		ln.Close()
		return fmt.Errorf("listen on heartbeat port: %w", err)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.hbListener = hb
	s.listenerMu.Unlock()
	close(s.ready)

	// Stop may have already run, with nothing to close at the time.
	select {
	case <-s.shutdown:
		ln.Close()
		hb.Close()
		return s.drain()
	default:
	}

	logger.Info("name server listening",
		"addr", ln.Addr().String(),
		"heartbeat_addr", hb.Addr().String(),
		"workers", s.cfg.Workers,
		"queue", s.cfg.QueueSize)

	s.engine.Start(s.ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.workers.Add(1)
		go s.worker(i)
	}
	go s.serveHeartbeats(hb)
	go s.monitorFailures()
	go func() {
		select {
		case <-ctx.Done():
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.drain()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.initiateShutdown()
				return s.drain()
			}
			logger.Debug("accept failed", "error", err)
			continue
		}
		go s.readFirstMessage(conn)
	}
}

// Stop initiates shutdown from outside Serve. Safe to call more than once;
// Serve's return carries the drain result.
func (s *Server) Stop() {
	s.initiateShutdown()
}

// Addr returns the bound command address. It blocks until Serve has bound
// the listeners, so tests can use port 0.
func (s *Server) Addr() string {
	<-s.ready
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.listener.Addr().String()
}

// HeartbeatAddr returns the bound heartbeat address, blocking like Addr.
func (s *Server) HeartbeatAddr() string {
	<-s.ready
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.hbListener.Addr().String()
}

// Component accessors for read-only surfaces (the admin API). Each returned
// value does its own locking; callers get snapshots, never live references.

// Directory returns the authoritative namespace.
func (s *Server) Directory() *directory.Directory { return s.dir }

// Fleet returns the storage server registry.
func (s *Server) Fleet() *registry.Registry { return s.fleet }

// Sessions returns the client session table.
func (s *Server) Sessions() *session.Table { return s.sessions }

// Requests returns the access-request queue.
func (s *Server) Requests() *access.Queue { return s.requests }

func (s *Server) addr(port int) string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
}

// readFirstMessage reads a connection's opening line and hands it to the
// worker pool. The first message decides everything: storage server
// registration, a modification report, or a client session.
func (s *Server) readFirstMessage(raw net.Conn) {
	conn := wire.NewConn(raw)
	line, err := conn.ReadLine()
	if err != nil {
		logger.Debug("connection closed before registration", "remote", raw.RemoteAddr())
		conn.Close()
		return
	}
	select {
	case s.tasks <- task{conn: conn, line: line}:
		s.metrics.SetQueueDepth(len(s.tasks))
	case <-s.shutdown:
		conn.Close()
	}
}

func (s *Server) worker(id int) {
	defer s.workers.Done()
	logger.Debug("worker started", "worker", id)
	for {
		select {
		case <-s.shutdown:
			logger.Debug("worker shutting down", "worker", id)
			return
		case t := <-s.tasks:
			s.metrics.SetQueueDepth(len(s.tasks))
			s.dispatch(t)
		}
	}
}

// serveHeartbeats accepts short-lived heartbeat connections. Each carries a
// single "HEARTBEAT <id>" line.
func (s *Server) serveHeartbeats(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("heartbeat accept failed", "error", err)
				continue
			}
		}
		go s.handleHeartbeat(wire.NewConn(conn))
	}
}

func (s *Server) handleHeartbeat(conn *wire.Conn) {
	defer conn.Close()
	line, err := conn.ReadLine()
	if err != nil {
		return
	}
	cmd := wire.ParseCommand(line)
	if cmd.Verb != wire.VerbHeartbeat {
		logger.Debug("unexpected message on heartbeat port", "line", line)
		return
	}
	id, err := strconv.Atoi(cmd.Arg(0))
	if err != nil {
		logger.Debug("malformed heartbeat", "line", line)
		return
	}
	// Registry.Heartbeat records the metric; counting here too would
	// double every beat.
	reactivated, known := s.fleet.Heartbeat(id)
	if !known {
		logger.Debug("heartbeat from unregistered storage server", "ss_id", id)
		return
	}
	if reactivated {
		logger.Info("storage server back online", "ss_id", id)
	}
}

// monitorFailures sweeps the fleet every heartbeat interval and deactivates
// servers whose silence exceeds the failure timeout.
func (s *Server) monitorFailures() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			for _, id := range s.fleet.CheckFailures(s.cfg.FailureTimeout) {
				logger.Warn("storage server failure detected",
					"ss_id", id, "timeout", s.cfg.FailureTimeout)
			}
		}
	}
}

// initiateShutdown runs the fan-out exactly once: stop accepting, tell every
// active storage server and client to shut down, stop replication, persist
// the directory.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Info("name server shutting down")
		close(s.shutdown)

		s.listenerMu.RLock()
		if s.listener != nil {
			s.listener.Close()
		}
		if s.hbListener != nil {
			s.hbListener.Close()
		}
		s.listenerMu.RUnlock()

		s.notifyStorageServers()
		s.notifyClients()

		if s.cancel != nil {
			s.cancel()
		}
		s.engine.Stop()

		if err := s.dir.Save(); err != nil {
			logger.Error("directory snapshot save failed", "error", err)
		} else {
			logger.Info("directory snapshot saved")
		}
	})
}

// notifyStorageServers pushes SHUTDOWN to every active server's client port.
// Nothing is read back; a dead server just fails the dial.
func (s *Server) notifyStorageServers() {
	for _, srv := range s.fleet.Servers() {
		if !srv.Active {
			continue
		}
		conn, err := wire.Dial(srv.ClientAddr(), time.Second)
		if err != nil {
			logger.Debug("shutdown notify failed", "ss_id", srv.ID, "error", err)
			continue
		}
		_ = conn.WriteLine(wire.VerbShutdown)
		conn.Close()
		logger.Info("sent shutdown to storage server", "ss_id", srv.ID)
	}
}

// notifyClients pushes SHUTDOWN to every registered client connection and
// closes it, which also unblocks the worker serving that session.
func (s *Server) notifyClients() {
	s.clientConns.Range(func(key, value any) bool {
		conn := value.(*wire.Conn)
		_ = conn.WriteLine(wire.VerbShutdown)
		conn.Close()
		logger.Info("sent shutdown to client", "username", key)
		return true
	})
}

// drain waits for the worker pool to exit, bounded by ShutdownTimeout.
func (s *Server) drain() error {
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("name server shutdown complete")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return fmt.Errorf("shutdown timeout after %s", s.cfg.ShutdownTimeout)
	}
}
