// Package registry tracks the storage-server fleet: which servers exist,
// where their two ports live, and which of them are currently believed
// alive. Liveness is heartbeat-driven; the failure sweep runs from the name
// server's monitor loop, not from inside this package.
package registry

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/metrics"
)

// DefaultMaxServers caps the fleet size.
const DefaultMaxServers = 10

// ErrFull is returned when registering would exceed the fleet cap.
var ErrFull = errors.New("storage server table full")

// Server is one storage server as the name server sees it. ClientPort serves
// redirected clients; NMPort serves name-server control commands.
type Server struct {
	ID            int
	IP            string
	ClientPort    int
	NMPort        int
	Active        bool
	LastHeartbeat time.Time
}

// ClientAddr returns the host:port clients are redirected to.
func (s Server) ClientAddr() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.ClientPort))
}

// NMAddr returns the host:port for control commands.
func (s Server) NMAddr() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.NMPort))
}

// Config carries the registry's construction parameters.
type Config struct {
	// MaxServers caps registrations. Zero means DefaultMaxServers.
	MaxServers int

	Metrics *metrics.NameServerMetrics
}

// Registry is the fleet table. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	order   []int // IDs in registration order
	servers map[int]*Server
	cursor  int // round-robin position over order
	max     int
	metrics *metrics.NameServerMetrics

	now func() time.Time
}

// New returns an empty registry.
func New(cfg Config) *Registry {
	max := cfg.MaxServers
	if max <= 0 {
		max = DefaultMaxServers
	}
	return &Registry{
		servers: make(map[int]*Server),
		max:     max,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Register adds a storage server or, when the ID is already known, brings it
// back with fresh address data. The second case is a recovery: the caller
// must re-synchronize the server's files before trusting its replicas.
func (r *Registry) Register(id int, ip string, clientPort, nmPort int) (recovered bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.servers[id]; ok {
		s.IP = ip
		s.ClientPort = clientPort
		s.NMPort = nmPort
		s.Active = true
		s.LastHeartbeat = r.now()
		r.publishLocked()
		logger.Info("storage server recovered",
			"ss_id", id, "ip", ip, "client_port", clientPort, "nm_port", nmPort)
		return true, nil
	}

	if len(r.servers) >= r.max {
		logger.Warn("storage server table full, rejecting registration", "ss_id", id)
		return false, ErrFull
	}
	r.servers[id] = &Server{
		ID:            id,
		IP:            ip,
		ClientPort:    clientPort,
		NMPort:        nmPort,
		Active:        true,
		LastHeartbeat: r.now(),
	}
	r.order = append(r.order, id)
	r.publishLocked()
	logger.Info("storage server registered",
		"ss_id", id, "ip", ip, "client_port", clientPort, "nm_port", nmPort)
	return false, nil
}

// Heartbeat refreshes a server's liveness clock. A beat from a server that
// was marked failed reactivates it. Beats from unknown IDs are dropped; the
// server must re-register first.
func (r *Registry) Heartbeat(id int) (reactivated, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		return false, false
	}
	s.LastHeartbeat = r.now()
	r.metrics.RecordHeartbeat()
	if !s.Active {
		s.Active = true
		r.publishLocked()
		logger.Info("storage server back online", "ss_id", id)
		return true, true
	}
	return false, true
}

// Get returns a copy of the server record. Callers check Active themselves;
// a failed server still resolves so its address can be retried or logged.
func (r *Registry) Get(id int) (Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		return Server{}, false
	}
	return *s, true
}

// PickPrimary selects the next active server round-robin. Returns false when
// no server is alive.
func (r *Registry) PickPrimary() (Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.order)
	for i := 0; i < n; i++ {
		id := r.order[(r.cursor+i)%n]
		if s := r.servers[id]; s.Active {
			r.cursor = (r.cursor + i + 1) % n
			return *s, true
		}
	}
	return Server{}, false
}

// SelectReplicas returns up to max active servers other than the primary, in
// registration order.
func (r *Registry) SelectReplicas(primaryID, max int) []Server {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Server
	for _, id := range r.order {
		if len(out) >= max {
			break
		}
		if s := r.servers[id]; s.Active && id != primaryID {
			out = append(out, *s)
		}
	}
	return out
}

// CheckFailures marks every active server silent for longer than timeout as
// failed and returns their IDs. The name server runs this on its monitor
// interval and invalidates cache entries for the casualties.
func (r *Registry) CheckFailures(timeout time.Duration) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var failed []int
	for _, id := range r.order {
		s := r.servers[id]
		if !s.Active {
			continue
		}
		if silent := now.Sub(s.LastHeartbeat); silent > timeout {
			s.Active = false
			failed = append(failed, id)
			logger.Warn("storage server failure detected",
				"ss_id", id, "silent_for", silent.Truncate(time.Second).String())
		}
	}
	if len(failed) > 0 {
		r.publishLocked()
	}
	return failed
}

// Servers returns a snapshot of the fleet sorted by ID.
func (r *Registry) Servers() []Server {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Server, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCount returns how many servers are currently believed alive.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() int {
	n := 0
	for _, s := range r.servers {
		if s.Active {
			n++
		}
	}
	return n
}

// publishLocked pushes the fleet gauge after any membership or liveness
// change. Caller holds r.mu.
func (r *Registry) publishLocked() {
	r.metrics.SetStorageServers(r.activeLocked(), len(r.servers))
}
