// Package access holds the queue of access requests: a user asking a file's
// owner for read or write permission, and the owner approving or denying by
// request ID. The queue is bookkeeping only; the dispatcher performs the
// actual grant on approval.
package access

import (
	"errors"
	"sync"
	"time"

	"github.com/docfs/docfs/pkg/metrics"
)

// DefaultMaxRequests caps the queue. Requests are never removed, so the cap
// bounds lifetime total, not just pending.
const DefaultMaxRequests = 1024

var (
	// ErrFull is returned when the queue cannot take another request.
	ErrFull = errors.New("request queue full")

	// ErrNotFound is returned for an unknown request ID.
	ErrNotFound = errors.New("request not found")

	// ErrNotOwner is returned when someone other than the file's owner
	// tries to resolve a request.
	ErrNotOwner = errors.New("not the request's owner")

	// ErrNotPending is returned when resolving an already-resolved request.
	ErrNotPending = errors.New("request already resolved")
)

// Kind is what level the requester is asking for.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
)

func (k Kind) String() string {
	if k == KindWrite {
		return "WRITE"
	}
	return "READ"
}

// Status is a request's lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusDenied
)

func (s Status) String() string {
	switch s {
	case StatusApproved:
		return "APPROVED"
	case StatusDenied:
		return "DENIED"
	default:
		return "PENDING"
	}
}

// Request is one access request. Owner is captured at submission time so the
// queue stays meaningful even if the file is later deleted.
type Request struct {
	ID        int
	File      string
	Requester string
	Owner     string
	Kind      Kind
	Status    Status
	CreatedAt time.Time
}

// Config carries the queue's construction parameters.
type Config struct {
	// MaxRequests caps the queue. Zero means DefaultMaxRequests.
	MaxRequests int

	Metrics *metrics.NameServerMetrics
}

// Queue is the request table. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	reqs    []*Request // submission order; IDs ascend
	max     int
	metrics *metrics.NameServerMetrics

	now func() time.Time
}

// New returns an empty queue.
func New(cfg Config) *Queue {
	max := cfg.MaxRequests
	if max <= 0 {
		max = DefaultMaxRequests
	}
	return &Queue{
		max:     max,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Submit files a request and returns its ID. Submitting while an identical
// request (same file, requester and kind) is still pending returns the
// pending request's ID instead of stacking a duplicate.
func (q *Queue) Submit(file, requester, owner string, kind Kind) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.reqs {
		if r.Status == StatusPending && r.File == file &&
			r.Requester == requester && r.Kind == kind {
			return r.ID, nil
		}
	}
	if len(q.reqs) >= q.max {
		return 0, ErrFull
	}

	id := 1
	if n := len(q.reqs); n > 0 {
		id = q.reqs[n-1].ID + 1
	}
	q.reqs = append(q.reqs, &Request{
		ID:        id,
		File:      file,
		Requester: requester,
		Owner:     owner,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: q.now(),
	})
	q.publishLocked()
	return id, nil
}

// Resolve approves or denies a pending request. Only the owner recorded at
// submission may resolve it. Returns the resolved request so the caller can
// grant the permission on approval.
func (q *Queue) Resolve(id int, approver string, approve bool) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var r *Request
	for _, x := range q.reqs {
		if x.ID == id {
			r = x
			break
		}
	}
	if r == nil {
		return Request{}, ErrNotFound
	}
	if r.Owner != approver {
		return Request{}, ErrNotOwner
	}
	if r.Status != StatusPending {
		return Request{}, ErrNotPending
	}
	if approve {
		r.Status = StatusApproved
	} else {
		r.Status = StatusDenied
	}
	q.publishLocked()
	return *r, nil
}

// ListFor returns every request username submitted or owns, in submission
// order.
func (q *Queue) ListFor(username string) []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Request
	for _, r := range q.reqs {
		if r.Requester == username || r.Owner == username {
			out = append(out, *r)
		}
	}
	return out
}

// All returns every request in submission order.
func (q *Queue) All() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Request, 0, len(q.reqs))
	for _, r := range q.reqs {
		out = append(out, *r)
	}
	return out
}

// Pending returns how many requests are awaiting resolution.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

func (q *Queue) pendingLocked() int {
	n := 0
	for _, r := range q.reqs {
		if r.Status == StatusPending {
			n++
		}
	}
	return n
}

func (q *Queue) publishLocked() {
	q.metrics.SetPendingRequests(q.pendingLocked())
}
