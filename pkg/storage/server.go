// Package storage implements a storage server: the data plane that keeps
// document files on disk and serves the byte-moving verbs the name server
// redirects clients to. Each server runs two listeners. The client port
// speaks READ, STREAM, WRITE edit sessions, UNDO, CHECKPOINT, REVERT,
// VIEWCHECKPOINT and LISTCHECKPOINTS; the control port answers the name
// server's NM_* commands for replication and bookkeeping. A background
// goroutine emits heartbeats, and committed edits are reported back to the
// name server so replicas converge.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/metrics"
	"github.com/docfs/docfs/pkg/storage/archive"
	"github.com/docfs/docfs/pkg/storage/docstore"
	"github.com/docfs/docfs/pkg/storage/lock"
	"github.com/docfs/docfs/pkg/wire"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultStreamDelay       = 50 * time.Millisecond
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultDialTimeout       = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// maxContentPush caps a single NM_WRITECONTENT payload so a corrupt length
// header cannot make the server allocate without bound.
const maxContentPush = 64 << 20

// DefaultDataDir is the conventional data directory for a server id.
func DefaultDataDir(id int) string {
	return fmt.Sprintf("ss_%d_data", id)
}

// Config carries a storage server's construction parameters.
type Config struct {
	// ID is the server's fleet-wide identity, as registered with the name
	// server. Must be positive.
	ID int

	// Host is the bind address for both listeners. Empty binds all
	// interfaces.
	Host string

	// ClientPort serves redirected client verbs; NMPort serves the name
	// server's control commands. Zero binds an ephemeral port, which tests
	// rely on.
	ClientPort int
	NMPort     int

	// NameServerAddr is the name server's command endpoint. The server
	// registers there on startup and pushes modification reports to it.
	// Empty runs unregistered, which tests use.
	NameServerAddr string

	// HeartbeatAddr is the name server's heartbeat endpoint. Empty disables
	// the heartbeat loop.
	HeartbeatAddr string

	// DataDir is where documents live. Empty means DefaultDataDir(ID). The
	// archive database occupies the "archive" subdirectory, which is why
	// that name is reserved.
	DataDir string

	// StreamDelay paces STREAM output per character. Zero means the
	// default; negative disables pacing.
	StreamDelay time.Duration

	// HeartbeatInterval is how often the server announces liveness.
	HeartbeatInterval time.Duration

	// DialTimeout bounds calls back to the name server.
	DialTimeout time.Duration

	// ShutdownTimeout bounds how long Serve waits for in-flight connections
	// after shutdown is initiated.
	ShutdownTimeout time.Duration

	Metrics *metrics.StorageMetrics
}

// Server is a storage server. Construct with New, run with Serve.
type Server struct {
	cfg     Config
	metrics *metrics.StorageMetrics

	store   *docstore.Store
	locks   *lock.Manager
	archive *archive.Store

	clientLn   net.Listener
	nmLn       net.Listener
	listenerMu sync.RWMutex

	// ready is closed once both listeners are bound, for tests that need
	// the ephemeral addresses.
	ready chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	archiveOnce  sync.Once

	conns sync.WaitGroup
}

// New opens the data directory and archive database and assembles a server.
// The returned server owns no sockets yet; call Serve.
func New(cfg Config) (*Server, error) {
	if cfg.ID <= 0 {
		return nil, fmt.Errorf("storage server id must be positive, got %d", cfg.ID)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir(cfg.ID)
	}
	if cfg.StreamDelay == 0 {
		cfg.StreamDelay = DefaultStreamDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	store, err := docstore.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	arch, err := archive.Open(filepath.Join(store.Root(), "archive"))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	return &Server{
		cfg:      cfg,
		metrics:  cfg.Metrics,
		store:    store,
		locks:    lock.NewManager(),
		archive:  arch,
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}, nil
}

// Serve binds both listeners, registers with the name server, and runs until
// ctx is cancelled, Stop is called, or a SHUTDOWN verb arrives. It returns
// nil on a clean shutdown and an error if registration fails or the drain
// exceeded ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	defer s.closeArchive()

	clientLn, err := net.Listen("tcp", s.addr(s.cfg.ClientPort))
	if err != nil {
		return fmt.Errorf("listen on client port: %w", err)
	}
	nmLn, err := net.Listen("tcp", s.addr(s.cfg.NMPort))
	if err != nil {
		clientLn.Close()
		return fmt.Errorf("listen on control port: %w", err)
	}
	s.listenerMu.Lock()
	s.clientLn = clientLn
	s.nmLn = nmLn
	s.listenerMu.Unlock()
	close(s.ready)

	// Stop may have already run, with nothing to close at the time.
	select {
	case <-s.shutdown:
		clientLn.Close()
		nmLn.Close()
		return s.drain()
	default:
	}

	if s.cfg.NameServerAddr != "" {
		if err := s.register(tcpPort(clientLn), tcpPort(nmLn)); err != nil {
			clientLn.Close()
			nmLn.Close()
			return err
		}
	} else {
		logger.Warn("no name server configured, serving unregistered", "ss_id", s.cfg.ID)
	}

	logger.Info("storage server listening",
		"ss_id", s.cfg.ID,
		"client_addr", clientLn.Addr().String(),
		"control_addr", nmLn.Addr().String(),
		"data_dir", s.store.Root())
	s.metrics.SetFilesHeld(s.store.CountFiles())

	if s.cfg.HeartbeatAddr != "" {
		go s.heartbeatLoop()
	}
	go s.serveControl(nmLn)
	go func() {
		select {
		case <-ctx.Done():
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := clientLn.Accept()
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
		s.conns.Add(1)
		go s.handleClient(conn)
	}
}

// Stop initiates shutdown from outside Serve. Safe to call more than once;
// Serve's return carries the drain result.
func (s *Server) Stop() {
	s.initiateShutdown()
}

// Addr returns the bound client-port address. It blocks until Serve has
// bound the listeners, so tests can use port 0.
func (s *Server) Addr() string {
	<-s.ready
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.clientLn.Addr().String()
}

// NMAddr returns the bound control-port address, blocking like Addr.
func (s *Server) NMAddr() string {
	<-s.ready
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.nmLn.Addr().String()
}

func (s *Server) addr(port int) string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
}

func tcpPort(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

// register announces this server to the name server with its bound ports.
// Any ACK_REG-prefixed reply accepts us; ACK_REG_RECOVERY additionally means
// the name server considers this a comeback and will resync our files.
func (s *Server) register(clientPort, nmPort int) error {
	conn, err := wire.Dial(s.cfg.NameServerAddr, s.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("dial name server: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteLine("%s %d %d %d", wire.VerbRegServer, s.cfg.ID, clientPort, nmPort); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}
	reply, err := conn.ReadLine()
	if err != nil {
		return fmt.Errorf("read registration reply: %w", err)
	}
	if !strings.HasPrefix(reply, wire.AckReg) {
		return fmt.Errorf("registration rejected: %s", reply)
	}
	if strings.HasPrefix(reply, wire.AckRegRecovery) {
		logger.Info("registered with name server after downtime, resync expected", "ss_id", s.cfg.ID)
	} else {
		logger.Info("registered with name server", "ss_id", s.cfg.ID)
	}
	return nil
}

// heartbeatLoop announces liveness every interval until shutdown. The first
// beat goes out one interval after startup; registration already proved the
// server alive at time zero.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
		}
		conn, err := wire.Dial(s.cfg.HeartbeatAddr, s.cfg.DialTimeout)
		if err != nil {
			logger.Warn("heartbeat send failed", "ss_id", s.cfg.ID, "error", err)
			continue
		}
		err = conn.WriteLine("%s %d", wire.VerbHeartbeat, s.cfg.ID)
		conn.Close()
		if err != nil {
			logger.Warn("heartbeat send failed", "ss_id", s.cfg.ID, "error", err)
			continue
		}
		s.metrics.RecordHeartbeatSent()
	}
}

// serveControl accepts control-port connections from the name server.
func (s *Server) serveControl(ln net.Listener) {
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
				logger.Debug("control accept failed", "error", err)
				continue
			}
		}
		s.conns.Add(1)
		go s.handleControl(conn)
	}
}

// reportModified pushes refreshed statistics for name to the name server,
// which updates the directory and schedules replica synchronization. Called
// after WRITE commits, UNDO and REVERT; never after a control-port content
// push, since that is the replication path itself.
func (s *Server) reportModified(name string) {
	if s.cfg.NameServerAddr == "" {
		return
	}
	st, err := s.store.Stats(name)
	if err != nil {
		logger.Warn("stats for modification report failed", "file", name, "error", err)
		return
	}
	conn, err := wire.Dial(s.cfg.NameServerAddr, s.cfg.DialTimeout)
	if err != nil {
		logger.Warn("modification report failed", "file", name, "error", err)
		return
	}
	defer conn.Close()

	report := wire.FileModified{
		Name:       name,
		ServerID:   s.cfg.ID,
		Size:       st.Size,
		Words:      st.Words,
		Chars:      st.Chars,
		LastAccess: st.LastAccess,
	}
	if err := conn.WriteLine("%s", report.String()); err != nil {
		logger.Warn("modification report failed", "file", name, "error", err)
		return
	}
	logger.Debug("modification reported", "file", name, "size", st.Size)
}

// initiateShutdown stops accepting exactly once. In-flight connections are
// waited on by Serve's drain.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Info("storage server shutting down", "ss_id", s.cfg.ID)
		close(s.shutdown)

		s.listenerMu.RLock()
		if s.clientLn != nil {
			s.clientLn.Close()
		}
		if s.nmLn != nil {
			s.nmLn.Close()
		}
		s.listenerMu.RUnlock()
	})
}

// drain waits for in-flight connection handlers, bounded by ShutdownTimeout.
func (s *Server) drain() error {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("storage server shutdown complete", "ss_id", s.cfg.ID)
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return fmt.Errorf("shutdown timeout after %s", s.cfg.ShutdownTimeout)
	}
}

func (s *Server) closeArchive() {
	s.archiveOnce.Do(func() {
		if err := s.archive.Close(); err != nil {
			logger.Error("archive close failed", "error", err)
		}
	})
}
