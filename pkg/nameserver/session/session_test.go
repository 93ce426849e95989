package session

import (
	"errors"
	"testing"
)

func TestRegisterAndDuplicate(t *testing.T) {
	tab := New(Config{})

	if err := tab.Register("alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !tab.IsActive("alice") {
		t.Fatal("alice not active after registering")
	}
	if err := tab.Register("alice"); !errors.Is(err, ErrUsernameInUse) {
		t.Errorf("second live login: err = %v, want ErrUsernameInUse", err)
	}
	if err := tab.Register(""); !errors.Is(err, ErrEmptyUsername) {
		t.Errorf("blank login: err = %v, want ErrEmptyUsername", err)
	}
}

func TestDisconnectAndReclaim(t *testing.T) {
	tab := New(Config{})
	if err := tab.Register("alice"); err != nil {
		t.Fatal(err)
	}

	tab.Disconnect("alice")
	if tab.IsActive("alice") {
		t.Fatal("alice active after disconnect")
	}
	// The record survives for LIST.
	if got := tab.Disconnected(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("Disconnected = %v, want [alice]", got)
	}

	// The same user logs back in and reclaims the record.
	if err := tab.Register("alice"); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !tab.IsActive("alice") {
		t.Error("alice not active after reclaim")
	}
	if tab.Len() != 1 {
		t.Errorf("Len = %d, want 1 (no duplicate record)", tab.Len())
	}

	// Disconnecting an unknown or already-offline name is a no-op.
	tab.Disconnect("ghost")
	tab.Disconnect("alice")
	tab.Disconnect("alice")
}

func TestCapacity(t *testing.T) {
	tab := New(Config{MaxClients: 2})
	if err := tab.Register("alice"); err != nil {
		t.Fatal(err)
	}
	if err := tab.Register("bob"); err != nil {
		t.Fatal(err)
	}
	if err := tab.Register("carol"); !errors.Is(err, ErrFull) {
		t.Errorf("over-cap login: err = %v, want ErrFull", err)
	}

	// Disconnected users still hold their slot; only a returning name gets
	// back in.
	tab.Disconnect("bob")
	if err := tab.Register("carol"); !errors.Is(err, ErrFull) {
		t.Errorf("login into held slot: err = %v, want ErrFull", err)
	}
	if err := tab.Register("bob"); err != nil {
		t.Errorf("reclaim at cap: %v", err)
	}
}

func TestListingOrder(t *testing.T) {
	tab := New(Config{})
	for _, u := range []string{"carol", "alice", "bob"} {
		if err := tab.Register(u); err != nil {
			t.Fatal(err)
		}
	}
	tab.Disconnect("alice")

	if got := tab.Active(); len(got) != 2 || got[0] != "carol" || got[1] != "bob" {
		t.Errorf("Active = %v, want [carol bob]", got)
	}
	if got := tab.Disconnected(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("Disconnected = %v, want [alice]", got)
	}

	ss := tab.Sessions()
	if len(ss) != 3 || ss[0].Username != "carol" || ss[1].Username != "alice" || ss[2].Username != "bob" {
		t.Errorf("Sessions order wrong: %+v", ss)
	}
	if ss[1].Active {
		t.Error("alice should read inactive in the snapshot")
	}
}
