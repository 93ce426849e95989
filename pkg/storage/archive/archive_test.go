package archive

import (
	"errors"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUndoSlot(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.TakeUndo("a.txt"); !errors.Is(err, ErrNoUndo) {
		t.Fatalf("TakeUndo on empty slot: err = %v, want ErrNoUndo", err)
	}

	if err := s.SaveUndo("a.txt", []byte("version one")); err != nil {
		t.Fatalf("SaveUndo: %v", err)
	}
	// A second save replaces the slot, it does not stack.
	if err := s.SaveUndo("a.txt", []byte("version two")); err != nil {
		t.Fatal(err)
	}

	got, err := s.TakeUndo("a.txt")
	if err != nil {
		t.Fatalf("TakeUndo: %v", err)
	}
	if string(got) != "version two" {
		t.Errorf("TakeUndo = %q, want version two", got)
	}

	// Taking clears the slot.
	if _, err := s.TakeUndo("a.txt"); !errors.Is(err, ErrNoUndo) {
		t.Errorf("second TakeUndo: err = %v, want ErrNoUndo", err)
	}
}

func TestCheckpoints(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Checkpoint("a.txt", "v1"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("missing checkpoint: err = %v, want ErrNoCheckpoint", err)
	}

	if err := s.SaveCheckpoint("a.txt", "v1", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCheckpoint("a.txt", "draft", []byte("second")); err != nil {
		t.Fatal(err)
	}
	// Same tag on another file does not collide.
	if err := s.SaveCheckpoint("b.txt", "v1", []byte("other")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Checkpoint("a.txt", "v1")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("Checkpoint = %q, want first", got)
	}

	tags, err := s.Checkpoints("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"draft", "v1"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("Checkpoints = %v, want %v", tags, want)
	}

	// Overwriting a tag replaces the snapshot.
	if err := s.SaveCheckpoint("a.txt", "v1", []byte("updated")); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Checkpoint("a.txt", "v1")
	if string(got) != "updated" {
		t.Errorf("after overwrite = %q", got)
	}
}

func TestColonInNameDoesNotCollide(t *testing.T) {
	// Valid file names may contain ':'. With a ':' separator the pairs
	// ("report", "final:v1") and ("report:final", "v1") would share a key;
	// the NUL separator keeps them apart.
	s := newTestStore(t)
	if err := s.SaveCheckpoint("report", "final:v1", []byte("plain file")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCheckpoint("report:final", "v1", []byte("colon file")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Checkpoint("report:final", "v1")
	if err != nil || string(got) != "colon file" {
		t.Errorf("Checkpoint = %q, err = %v", got, err)
	}
	tags, err := s.Checkpoints("report")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"final:v1"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("Checkpoints(report) = %v, want %v", tags, want)
	}
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveUndo("a.txt", []byte("u")); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{"v1", "v2"} {
		if err := s.SaveCheckpoint("a.txt", tag, []byte(tag)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveCheckpoint("keep.txt", "v1", []byte("other file")); err != nil {
		t.Fatal(err)
	}

	if err := s.Purge("a.txt"); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	if _, err := s.TakeUndo("a.txt"); !errors.Is(err, ErrNoUndo) {
		t.Error("undo survived purge")
	}
	if tags, _ := s.Checkpoints("a.txt"); len(tags) != 0 {
		t.Errorf("checkpoints survived purge: %v", tags)
	}
	if _, err := s.Checkpoint("keep.txt", "v1"); err != nil {
		t.Errorf("purge leaked into another file: %v", err)
	}

	// Purging a name with no history is fine.
	if err := s.Purge("never-seen.txt"); err != nil {
		t.Errorf("Purge on unknown name: %v", err)
	}
}

func TestRename(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveUndo("old.txt", []byte("undo body")); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{"v1", "v2"} {
		if err := s.SaveCheckpoint("old.txt", tag, []byte("cp "+tag)); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Rename("old.txt", "docs/new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	got, err := s.TakeUndo("docs/new.txt")
	if err != nil || string(got) != "undo body" {
		t.Errorf("undo after rename = %q, err = %v", got, err)
	}
	tags, err := s.Checkpoints("docs/new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"v1", "v2"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("tags after rename = %v, want %v", tags, want)
	}
	if tags, _ := s.Checkpoints("old.txt"); len(tags) != 0 {
		t.Errorf("old name still has checkpoints: %v", tags)
	}
	if _, err := s.TakeUndo("old.txt"); !errors.Is(err, ErrNoUndo) {
		t.Error("old name still has an undo snapshot")
	}

	// Renaming a name with no history is a no-op, not an error.
	if err := s.Rename("ghost.txt", "elsewhere.txt"); err != nil {
		t.Errorf("Rename of unknown name: %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCheckpoint("a.txt", "stable", []byte("kept")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveUndo("a.txt", []byte("undone")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Checkpoint("a.txt", "stable")
	if err != nil || string(got) != "kept" {
		t.Errorf("checkpoint after reopen = %q, err = %v", got, err)
	}
	undo, err := s.TakeUndo("a.txt")
	if err != nil || string(undo) != "undone" {
		t.Errorf("undo after reopen = %q, err = %v", undo, err)
	}
}
