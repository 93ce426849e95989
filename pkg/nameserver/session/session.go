// Package session tracks client logins by username. A username can be held
// by at most one live connection; disconnecting keeps the record so the user
// shows up as disconnected and can reclaim the name later.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/metrics"
)

// DefaultMaxClients caps how many distinct usernames the table remembers.
const DefaultMaxClients = 100

var (
	// ErrUsernameInUse is returned when the username has a live session.
	ErrUsernameInUse = errors.New("username already in use")

	// ErrFull is returned when the table cannot take another username.
	ErrFull = errors.New("client table full")

	// ErrEmptyUsername is returned for a blank registration.
	ErrEmptyUsername = errors.New("empty username")
)

// Session is one username's state.
type Session struct {
	Username    string
	Active      bool
	ConnectedAt time.Time // first registration
	LastSeenAt  time.Time // latest register or disconnect
}

// Config carries the table's construction parameters.
type Config struct {
	// MaxClients caps distinct usernames. Zero means DefaultMaxClients.
	MaxClients int

	Metrics *metrics.NameServerMetrics
}

// Table is the session registry. Safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	order   []string // usernames in first-registration order
	byName  map[string]*Session
	max     int
	metrics *metrics.NameServerMetrics

	now func() time.Time
}

// New returns an empty table.
func New(cfg Config) *Table {
	max := cfg.MaxClients
	if max <= 0 {
		max = DefaultMaxClients
	}
	return &Table{
		byName:  make(map[string]*Session),
		max:     max,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Register claims username for a new connection. A disconnected user
// reclaims their old record; a second live login is rejected.
func (t *Table) Register(username string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.byName[username]; ok {
		if s.Active {
			logger.Warn("login rejected, username in use", "user", username)
			return ErrUsernameInUse
		}
		s.Active = true
		s.LastSeenAt = t.now()
		t.publishLocked()
		logger.Info("client reconnected", "user", username)
		return nil
	}

	if len(t.byName) >= t.max {
		logger.Warn("client table full, rejecting login", "user", username)
		return ErrFull
	}
	now := t.now()
	t.byName[username] = &Session{
		Username:    username,
		Active:      true,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	t.order = append(t.order, username)
	t.publishLocked()
	logger.Info("client registered", "user", username)
	return nil
}

// Disconnect marks username's session inactive. Unknown names are ignored;
// the record survives so LIST can show the user as disconnected.
func (t *Table) Disconnect(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byName[username]
	if !ok || !s.Active {
		return
	}
	s.Active = false
	s.LastSeenAt = t.now()
	t.publishLocked()
	logger.Info("client disconnected", "user", username)
}

// IsActive reports whether username has a live session.
func (t *Table) IsActive(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byName[username]
	return ok && s.Active
}

// Active returns live usernames in first-registration order.
func (t *Table) Active() []string {
	return t.usernames(true)
}

// Disconnected returns remembered-but-offline usernames in
// first-registration order.
func (t *Table) Disconnected() []string {
	return t.usernames(false)
}

func (t *Table) usernames(active bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for _, name := range t.order {
		if t.byName[name].Active == active {
			out = append(out, name)
		}
	}
	return out
}

// Sessions returns a snapshot of every record in first-registration order.
func (t *Table) Sessions() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Session, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.byName[name])
	}
	return out
}

// Len returns how many usernames the table remembers, live or not.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byName)
}

func (t *Table) publishLocked() {
	n := 0
	for _, s := range t.byName {
		if s.Active {
			n++
		}
	}
	t.metrics.SetActiveSessions(n)
}
