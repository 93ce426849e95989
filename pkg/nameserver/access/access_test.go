package access

import (
	"errors"
	"testing"
)

func TestSubmitAssignsAscendingIDs(t *testing.T) {
	q := New(Config{})

	id1, err := q.Submit("a.txt", "bob", "alice", KindRead)
	if err != nil || id1 != 1 {
		t.Fatalf("first Submit = (%d, %v), want (1, nil)", id1, err)
	}
	id2, err := q.Submit("b.txt", "bob", "alice", KindWrite)
	if err != nil || id2 != 2 {
		t.Fatalf("second Submit = (%d, %v), want (2, nil)", id2, err)
	}
}

func TestSubmitCollapsesPendingDuplicates(t *testing.T) {
	q := New(Config{})

	id1, _ := q.Submit("a.txt", "bob", "alice", KindRead)
	again, err := q.Submit("a.txt", "bob", "alice", KindRead)
	if err != nil || again != id1 {
		t.Errorf("duplicate Submit = (%d, %v), want (%d, nil)", again, err, id1)
	}

	// A different kind, file, or requester is a separate request.
	if id, _ := q.Submit("a.txt", "bob", "alice", KindWrite); id == id1 {
		t.Error("write request collapsed into read request")
	}
	if id, _ := q.Submit("a.txt", "carol", "alice", KindRead); id == id1 {
		t.Error("another requester collapsed into bob's request")
	}

	// Once resolved, the same ask files a fresh request.
	if _, err := q.Resolve(id1, "alice", false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	fresh, _ := q.Submit("a.txt", "bob", "alice", KindRead)
	if fresh == id1 {
		t.Error("resolved request still collapses duplicates")
	}
}

func TestResolve(t *testing.T) {
	q := New(Config{})
	id, _ := q.Submit("a.txt", "bob", "alice", KindWrite)

	if _, err := q.Resolve(99, "alice", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown ID: err = %v, want ErrNotFound", err)
	}
	if _, err := q.Resolve(id, "mallory", true); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner resolve: err = %v, want ErrNotOwner", err)
	}
	// The requester cannot approve their own ask.
	if _, err := q.Resolve(id, "bob", true); !errors.Is(err, ErrNotOwner) {
		t.Errorf("requester resolve: err = %v, want ErrNotOwner", err)
	}

	r, err := q.Resolve(id, "alice", true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Status != StatusApproved || r.File != "a.txt" || r.Requester != "bob" || r.Kind != KindWrite {
		t.Errorf("resolved request = %+v", r)
	}

	if _, err := q.Resolve(id, "alice", false); !errors.Is(err, ErrNotPending) {
		t.Errorf("double resolve: err = %v, want ErrNotPending", err)
	}
}

func TestDeny(t *testing.T) {
	q := New(Config{})
	id, _ := q.Submit("a.txt", "bob", "alice", KindRead)

	r, err := q.Resolve(id, "alice", false)
	if err != nil || r.Status != StatusDenied {
		t.Errorf("deny = (%+v, %v)", r, err)
	}
	if q.Pending() != 0 {
		t.Errorf("Pending = %d after deny", q.Pending())
	}
}

func TestListFor(t *testing.T) {
	q := New(Config{})
	q.Submit("a.txt", "bob", "alice", KindRead)
	q.Submit("b.txt", "carol", "alice", KindWrite)
	q.Submit("c.txt", "bob", "dave", KindRead)

	names := func(rs []Request) []int {
		out := make([]int, len(rs))
		for i, r := range rs {
			out[i] = r.ID
		}
		return out
	}

	// alice owns 1 and 2; bob requested 1 and 3; eve sees nothing.
	if got := names(q.ListFor("alice")); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("ListFor(alice) = %v, want [1 2]", got)
	}
	if got := names(q.ListFor("bob")); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("ListFor(bob) = %v, want [1 3]", got)
	}
	if got := q.ListFor("eve"); len(got) != 0 {
		t.Errorf("ListFor(eve) = %v, want empty", got)
	}
}

func TestQueueCap(t *testing.T) {
	q := New(Config{MaxRequests: 2})
	q.Submit("a.txt", "bob", "alice", KindRead)
	q.Submit("b.txt", "bob", "alice", KindRead)

	if _, err := q.Submit("c.txt", "bob", "alice", KindRead); !errors.Is(err, ErrFull) {
		t.Errorf("over-cap Submit: err = %v, want ErrFull", err)
	}
	// Duplicates of a pending request never hit the cap.
	if id, err := q.Submit("a.txt", "bob", "alice", KindRead); err != nil || id != 1 {
		t.Errorf("duplicate at cap = (%d, %v), want (1, nil)", id, err)
	}
}

func TestKindAndStatusStrings(t *testing.T) {
	if KindRead.String() != "READ" || KindWrite.String() != "WRITE" {
		t.Error("kind strings wrong")
	}
	if StatusPending.String() != "PENDING" ||
		StatusApproved.String() != "APPROVED" ||
		StatusDenied.String() != "DENIED" {
		t.Error("status strings wrong")
	}
}
