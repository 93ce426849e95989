package nameserver

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docfs/docfs/pkg/wire"
)

// fakeStorage is a minimal storage server endpoint. Every connection carries
// one command line; the reply comes from the reply hook or the default
// responder. Lines records each command received, in arrival order.
type fakeStorage struct {
	ln    net.Listener
	mu    sync.Mutex
	lines []string

	// reply overrides the default responder when set. Returning "" sends
	// nothing, which reads as an empty body on the client side.
	reply func(cmd wire.Command) string
}

func newFakeStorage(t *testing.T) *fakeStorage {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeStorage{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeStorage) serve() {
	for {
		raw, err := f.ln.Accept()
		if err != nil {
			return
		}
		go func(raw net.Conn) {
			defer raw.Close()
			raw.SetDeadline(time.Now().Add(5 * time.Second))
			c := wire.NewConn(raw)
			line, err := c.ReadLine()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.lines = append(f.lines, line)
			reply := f.reply
			f.mu.Unlock()

			cmd := wire.ParseCommand(line)
			out := ""
			if reply != nil {
				out = reply(cmd)
			} else {
				out = defaultStorageReply(cmd)
			}
			if out != "" {
				c.WriteLine("%s", out)
			}
		}(raw)
	}
}

func defaultStorageReply(cmd wire.Command) string {
	switch cmd.Verb {
	case wire.VerbNMCreate, wire.VerbNMDelete, wire.VerbNMCreateFolder,
		wire.VerbNMMove, wire.VerbNMWriteContent:
		return wire.Ack(cmd.Verb)
	case wire.VerbNMCheckLocks:
		return wire.FileUnlocked
	case wire.VerbNMGetStats:
		return wire.Stats{Size: 42, Words: 7, Chars: 35}.String()
	case wire.VerbRead:
		return "hello world"
	default:
		return string(wire.ErrSSUnknownCommand)
	}
}

func (f *fakeStorage) setReply(reply func(cmd wire.Command) string) {
	f.mu.Lock()
	f.reply = reply
	f.mu.Unlock()
}

func (f *fakeStorage) port(t *testing.T) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(f.ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return port
}

func (f *fakeStorage) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeStorage) sawCommand(line string) bool {
	for _, l := range f.received() {
		if l == line {
			return true
		}
	}
	return false
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{
		ConnectTimeout: 2 * time.Second,
		FetchTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.engine.Start(s.ctx)
	t.Cleanup(s.engine.Stop)
	return s
}

// registerStorage enrolls a fake under the given ID, using its ephemeral
// port for both the client and control planes.
func registerStorage(t *testing.T, s *Server, f *fakeStorage, id int) {
	t.Helper()
	port := f.port(t)
	if _, err := s.fleet.Register(id, "127.0.0.1", port, port); err != nil {
		t.Fatalf("register fake storage %d: %v", id, err)
	}
}

// run feeds one raw command line through the dispatcher's verb table.
func run(s *Server, username, line string) (string, error) {
	return s.handleCommand(username, wire.ParseCommand(line))
}

func expectReply(t *testing.T, s *Server, username, line, want string) {
	t.Helper()
	got, err := run(s, username, line)
	if err != nil {
		t.Fatalf("%q: unexpected error %v", line, err)
	}
	if got != want {
		t.Errorf("%q: reply = %q, want %q", line, got, want)
	}
}

func expectErr(t *testing.T, s *Server, username, line string, want wire.Error) {
	t.Helper()
	_, err := run(s, username, line)
	if !errors.Is(err, want) {
		t.Errorf("%q: err = %v, want %v", line, err, want)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateLifecycle(t *testing.T) {
	s := newTestServer(t)

	expectErr(t, s, "alice", "CREATE", wire.ErrNoFilename)
	expectErr(t, s, "alice", "CREATE a.txt", wire.ErrNoSSAvailable)

	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)

	expectErr(t, s, "alice", "CREATE bad\x7fname", wire.ErrInvalidArgs)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")
	if !f.sawCommand("NM_CREATE a.txt") {
		t.Errorf("storage server never saw NM_CREATE, got %v", f.received())
	}
	expectErr(t, s, "alice", "CREATE a.txt", wire.ErrFileExists)
	expectErr(t, s, "bob", "CREATE a.txt", wire.ErrFileExists)

	n, ok := s.dir.Find("a.txt", false)
	if !ok || n.Owner != "alice" {
		t.Fatalf("directory entry = %+v, ok=%v, want owner alice", n, ok)
	}
	if id, ok := s.cache.Get("a.txt"); !ok || id != 1 {
		t.Errorf("lookup cache = (%d, %v), want (1, true)", id, ok)
	}
}

func TestCreateSeedsReplica(t *testing.T) {
	s := newTestServer(t)
	f1 := newFakeStorage(t)
	f2 := newFakeStorage(t)
	registerStorage(t, s, f1, 1)
	registerStorage(t, s, f2, 2)

	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	waitFor(t, "replica seed", func() bool { return f2.sawCommand("NM_CREATE a.txt") })
	n, _ := s.dir.Find("a.txt", false)
	if len(n.Replicas) != 2 {
		t.Errorf("replicas = %v, want two entries", n.Replicas)
	}
}

func TestCreateStorageFailure(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	f.setReply(func(cmd wire.Command) string { return string(wire.ErrNMCreate) })
	registerStorage(t, s, f, 1)

	expectErr(t, s, "alice", "CREATE a.txt", wire.ErrSSCreateFailed)
	if _, ok := s.dir.Find("a.txt", true); ok {
		t.Error("failed create left a directory entry behind")
	}
}

func TestTrashRestoreCycle(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)

	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	expectErr(t, s, "alice", "TRASH", wire.ErrNoFilename)
	expectErr(t, s, "alice", "TRASH nope.txt", wire.ErrFileNotFound)
	expectErr(t, s, "bob", "TRASH a.txt", wire.ErrPermissionDenied)

	expectReply(t, s, "alice", "TRASH a.txt", "ACK_TRASHED")
	expectErr(t, s, "alice", "TRASH a.txt", wire.ErrAlreadyInTrash)

	// Trashed files are unreachable through data verbs and invisible to
	// recreation until restored or purged.
	expectErr(t, s, "alice", "READ a.txt", wire.ErrFileInTrash)
	expectErr(t, s, "alice", "CREATE a.txt", wire.ErrFileInTrash)
	expectReply(t, s, "alice", "VIEW", "No files found.")
	expectReply(t, s, "alice", "VIEWTRASH", "a.txt")

	expectReply(t, s, "alice", "RESTORE a.txt", "ACK_RESTORED")
	expectErr(t, s, "alice", "RESTORE a.txt", wire.ErrNotInTrash)
	expectReply(t, s, "alice", "VIEW", "a.txt")
	expectReply(t, s, "alice", "VIEWTRASH", "Trash is empty.")
}

func TestTrashRefusedWhileLocked(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	f.setReply(func(cmd wire.Command) string {
		if cmd.Verb == wire.VerbNMCheckLocks {
			return wire.FileLocked
		}
		return defaultStorageReply(cmd)
	})
	expectErr(t, s, "alice", "TRASH a.txt", wire.ErrFileLocked)
	expectErr(t, s, "alice", "DELETE a.txt", wire.ErrFileLocked)
}

func TestTrashRefusedWhileReplicaLocked(t *testing.T) {
	s := newTestServer(t)
	f1 := newFakeStorage(t)
	f2 := newFakeStorage(t)
	registerStorage(t, s, f1, 1)
	registerStorage(t, s, f2, 2)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	f2.setReply(func(cmd wire.Command) string {
		if cmd.Verb == wire.VerbNMCheckLocks {
			return wire.FileLocked
		}
		return defaultStorageReply(cmd)
	})

	// Fail the primary, then revive only the replica. The write session on
	// the surviving replica must still block the trash drop.
	time.Sleep(5 * time.Millisecond)
	s.fleet.CheckFailures(time.Millisecond)
	if _, known := s.fleet.Heartbeat(2); !known {
		t.Fatal("replica heartbeat not accepted")
	}

	expectErr(t, s, "alice", "TRASH a.txt", wire.ErrFileLocked)
}

func TestEmptyTrashKeepsLockedFile(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")
	expectReply(t, s, "alice", "TRASH a.txt", "ACK_TRASHED")

	// A write session opened after the trash drop still blocks the purge.
	f.setReply(func(cmd wire.Command) string {
		if cmd.Verb == wire.VerbNMDelete {
			return string(wire.ErrFileLocked)
		}
		return defaultStorageReply(cmd)
	})
	expectReply(t, s, "alice", "EMPTYTRASH", "ACK_EMPTYTRASH 0 files permanently deleted.")
	n, ok := s.dir.Find("a.txt", true)
	if !ok || !n.InTrash {
		t.Fatalf("locked file left the directory: %+v, ok=%v", n, ok)
	}

	// Once the lock clears, the next purge takes it.
	f.setReply(nil)
	expectReply(t, s, "alice", "EMPTYTRASH", "ACK_EMPTYTRASH 1 files permanently deleted.")
	if _, ok := s.dir.Find("a.txt", true); ok {
		t.Error("a.txt survived EMPTYTRASH after the lock cleared")
	}
}

func TestDelete(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	expectErr(t, s, "alice", "DELETE", wire.ErrNoFilename)
	expectErr(t, s, "bob", "DELETE a.txt", wire.ErrPermissionDenied)

	expectReply(t, s, "alice", "DELETE a.txt", "ACK_DELETE")
	if !f.sawCommand("NM_DELETE a.txt") {
		t.Errorf("storage server never saw NM_DELETE, got %v", f.received())
	}
	expectErr(t, s, "alice", "DELETE a.txt", wire.ErrFileNotFound)
	if _, ok := s.dir.Find("a.txt", true); ok {
		t.Error("deleted file still present in directory")
	}
}

func TestEmptyTrash(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)

	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")
	expectReply(t, s, "alice", "CREATE b.txt", "ACK_CREATE")
	expectReply(t, s, "bob", "CREATE c.txt", "ACK_CREATE")
	expectReply(t, s, "alice", "TRASH a.txt", "ACK_TRASHED")
	expectReply(t, s, "alice", "TRASH b.txt", "ACK_TRASHED")
	expectReply(t, s, "bob", "TRASH c.txt", "ACK_TRASHED")

	expectReply(t, s, "alice", "EMPTYTRASH", "ACK_EMPTYTRASH 2 files permanently deleted.")
	if _, ok := s.dir.Find("a.txt", true); ok {
		t.Error("a.txt survived EMPTYTRASH")
	}
	if _, ok := s.dir.Find("c.txt", true); !ok {
		t.Error("EMPTYTRASH purged another user's trash")
	}
	expectReply(t, s, "alice", "EMPTYTRASH", "ACK_EMPTYTRASH 0 files permanently deleted.")
}

func TestRedirects(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	expectErr(t, s, "alice", "READ", wire.ErrNoFilename)
	expectErr(t, s, "alice", "READ nope.txt", wire.ErrFileNotFound)

	// The owner holds implicit write access and reaches every verb.
	for _, verb := range []string{
		"READ", "STREAM", "WRITE", "UNDO",
		"CHECKPOINT", "REVERT", "VIEWCHECKPOINT", "LISTCHECKPOINTS",
	} {
		reply, err := run(s, "alice", verb+" a.txt")
		if err != nil {
			t.Fatalf("%s: unexpected error %v", verb, err)
		}
		r, ok := wire.ParseRedirect(verb, reply)
		if !ok {
			t.Fatalf("%s: reply %q is not a redirect", verb, reply)
		}
		if r.Host != "127.0.0.1" || r.Port != f.port(t) {
			t.Errorf("%s: redirect to %s:%d, want 127.0.0.1:%d", verb, r.Host, r.Port, f.port(t))
		}
	}

	// A stranger is turned away with the verb family's own token.
	expectErr(t, s, "mallory", "READ a.txt", wire.ErrReadPermissionDenied)
	expectErr(t, s, "mallory", "STREAM a.txt", wire.ErrReadPermissionDenied)
	expectErr(t, s, "mallory", "WRITE a.txt", wire.ErrWritePermissionDenied)
	expectErr(t, s, "mallory", "UNDO a.txt", wire.ErrPermissionDenied)
	expectErr(t, s, "mallory", "CHECKPOINT a.txt", wire.ErrPermissionDenied)
	expectErr(t, s, "mallory", "VIEWCHECKPOINT a.txt tag", wire.ErrPermissionDenied)

	// Read access opens the read-side verbs only. Checkpoint inspection
	// rides on read access; rewriting history still needs write.
	expectReply(t, s, "alice", "ADDACCESS -R a.txt bob", "ACK_ADDACCESS_READ")
	if _, err := run(s, "bob", "READ a.txt"); err != nil {
		t.Errorf("READ with read access: %v", err)
	}
	if _, err := run(s, "bob", "VIEWCHECKPOINT a.txt tag"); err != nil {
		t.Errorf("VIEWCHECKPOINT with read access: %v", err)
	}
	if _, err := run(s, "bob", "LISTCHECKPOINTS a.txt"); err != nil {
		t.Errorf("LISTCHECKPOINTS with read access: %v", err)
	}
	expectErr(t, s, "bob", "WRITE a.txt", wire.ErrWritePermissionDenied)
	expectErr(t, s, "bob", "UNDO a.txt", wire.ErrPermissionDenied)
	expectErr(t, s, "bob", "CHECKPOINT a.txt", wire.ErrPermissionDenied)
	expectErr(t, s, "bob", "REVERT a.txt tag", wire.ErrPermissionDenied)
}

func TestRedirectFailsOverToReplica(t *testing.T) {
	s := newTestServer(t)
	f1 := newFakeStorage(t)
	f2 := newFakeStorage(t)
	registerStorage(t, s, f1, 1)
	registerStorage(t, s, f2, 2)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	// Let both servers go silent, then revive only the replica.
	time.Sleep(5 * time.Millisecond)
	s.fleet.CheckFailures(time.Millisecond)
	if _, known := s.fleet.Heartbeat(2); !known {
		t.Fatal("replica heartbeat not accepted")
	}

	reply, err := run(s, "alice", "READ a.txt")
	if err != nil {
		t.Fatalf("READ after primary failure: %v", err)
	}
	r, ok := wire.ParseRedirect("READ", reply)
	if !ok || r.Port != f2.port(t) {
		t.Errorf("redirect = %q, want replica port %d", reply, f2.port(t))
	}
	if id, ok := s.cache.Get("a.txt"); !ok || id != 2 {
		t.Errorf("cache after failover = (%d, %v), want (2, true)", id, ok)
	}
}

func TestRedirectUnreachableWhenAllDown(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	time.Sleep(5 * time.Millisecond)
	s.fleet.CheckFailures(time.Millisecond)

	expectErr(t, s, "alice", "READ a.txt", wire.ErrSSUnreachable)
	expectErr(t, s, "alice", "CHECKPOINT a.txt", wire.ErrSSUnreachable)
}

func TestMoveIntoFolder(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)

	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")
	expectReply(t, s, "alice", "CREATEFOLDER work", "ACK_CREATEFOLDER")
	if !f.sawCommand("NM_CREATEFOLDER work") {
		t.Errorf("storage server never saw NM_CREATEFOLDER, got %v", f.received())
	}

	expectErr(t, s, "alice", "MOVE a.txt", wire.ErrInvalidArgs)
	expectErr(t, s, "alice", "MOVE a.txt nosuch", wire.ErrFolderNotFound)
	expectErr(t, s, "alice", "MOVE work .", wire.ErrMoveFailed)
	expectErr(t, s, "bob", "MOVE a.txt work", wire.ErrPermissionDenied)

	expectReply(t, s, "alice", "MOVE a.txt work", "ACK_MOVE")
	if !f.sawCommand("NM_MOVE a.txt work") {
		t.Errorf("storage server never saw NM_MOVE, got %v", f.received())
	}
	if _, ok := s.dir.Find("work/a.txt", false); !ok {
		t.Fatal("moved file not found under folder")
	}

	expectReply(t, s, "alice", "MOVE work/a.txt .", "ACK_MOVE")
	if _, ok := s.dir.Find("a.txt", false); !ok {
		t.Error("file not back at root after MOVE to .")
	}
}

func TestMoveRejectsNameCollision(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)

	expectReply(t, s, "alice", "CREATE notes.txt", "ACK_CREATE")
	expectReply(t, s, "alice", "CREATEFOLDER work", "ACK_CREATEFOLDER")
	expectReply(t, s, "alice", "CREATE work/notes.txt", "ACK_CREATE")

	// Both directions collide; neither may reach a storage server, and both
	// occupants keep their entries.
	expectErr(t, s, "alice", "MOVE notes.txt work", wire.ErrFileExists)
	expectErr(t, s, "alice", "MOVE work/notes.txt .", wire.ErrFileExists)
	if f.sawCommand("NM_MOVE notes.txt work") || f.sawCommand("NM_MOVE work/notes.txt .") {
		t.Errorf("colliding move reached a storage server: %v", f.received())
	}
	if _, ok := s.dir.Find("notes.txt", false); !ok {
		t.Error("source entry gone after rejected move")
	}
	if _, ok := s.dir.Find("work/notes.txt", false); !ok {
		t.Error("destination occupant gone after rejected move")
	}

	// A trashed occupant still holds the name.
	expectReply(t, s, "alice", "TRASH notes.txt", "ACK_TRASHED")
	expectErr(t, s, "alice", "MOVE work/notes.txt .", wire.ErrFileExists)
}

func TestViewListings(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)

	expectReply(t, s, "alice", "VIEW", "No files found.")

	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")
	expectReply(t, s, "bob", "CREATE b.txt", "ACK_CREATE")
	expectReply(t, s, "alice", "CREATEFOLDER work", "ACK_CREATEFOLDER")

	expectReply(t, s, "alice", "VIEW", "a.txt\nwork/")
	expectReply(t, s, "alice", "VIEW -a", "a.txt\nb.txt\nwork/")

	detailed, err := run(s, "alice", "VIEW -l")
	if err != nil {
		t.Fatalf("VIEW -l: %v", err)
	}
	lines := strings.Split(detailed, "\n")
	if lines[0] != detailHeader {
		t.Errorf("header = %q, want %q", lines[0], detailHeader)
	}
	if lines[1] != strings.Repeat("=", 80) {
		t.Errorf("rule line = %q, want 80 equals signs", lines[1])
	}
	var fileRow string
	for _, l := range lines[2:] {
		if strings.HasSuffix(l, " a.txt") {
			fileRow = l
		}
	}
	if fileRow == "" {
		t.Fatalf("no row for a.txt in %q", detailed)
	}
	for _, want := range []string{"-rw-r--r--", "alice", "42", "7", "35", "Never"} {
		if !strings.Contains(fileRow, want) {
			t.Errorf("row %q missing %q", fileRow, want)
		}
	}
	if !strings.Contains(detailed, "drwxr-xr-x") {
		t.Errorf("detailed listing missing folder perms: %q", detailed)
	}

	// Flags may arrive as separate tokens; both must take effect.
	combined, err := run(s, "alice", "VIEW -a -l")
	if err != nil {
		t.Fatalf("VIEW -a -l: %v", err)
	}
	if !strings.HasPrefix(combined, detailHeader) {
		t.Errorf("VIEW -a -l dropped the -l flag: %q", combined)
	}
	if !strings.Contains(combined, " b.txt") {
		t.Errorf("VIEW -a -l dropped the -a flag: %q", combined)
	}
}

func TestViewFolder(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)

	expectErr(t, s, "alice", "VIEWFOLDER", wire.ErrNoFolderName)
	expectErr(t, s, "alice", "VIEWFOLDER nosuch", wire.ErrFolderNotFound)

	expectReply(t, s, "alice", "CREATEFOLDER work", "ACK_CREATEFOLDER")
	expectReply(t, s, "alice", "VIEWFOLDER work", "Folder is empty.")

	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")
	expectReply(t, s, "alice", "MOVE a.txt work", "ACK_MOVE")
	expectReply(t, s, "alice", "VIEWFOLDER work", "a.txt")

	// The folder itself is gated by the caller's access to it.
	expectErr(t, s, "mallory", "VIEWFOLDER work", wire.ErrPermissionDenied)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	expectErr(t, s, "bob", "INFO a.txt", wire.ErrNotFoundOrNoAccess)
	expectErr(t, s, "alice", "INFO nope.txt", wire.ErrNotFoundOrNoAccess)

	out, err := run(s, "alice", "INFO a.txt")
	if err != nil {
		t.Fatalf("INFO: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 6 {
		t.Fatalf("INFO produced %d lines, want 6: %q", len(lines), out)
	}
	if lines[0] != "FILE:a.txt" || lines[1] != "OWNER:alice" {
		t.Errorf("identity lines = %q, %q", lines[0], lines[1])
	}
	// Size comes live from the storage server, not the directory.
	if lines[2] != "SIZE:42" {
		t.Errorf("size line = %q, want SIZE:42", lines[2])
	}
	if !strings.HasPrefix(lines[3], "CREATED:") {
		t.Errorf("created line = %q", lines[3])
	}
	if lines[4] != "WRITE_ACCESS:(none)" || lines[5] != "READ_ACCESS:(none)" {
		t.Errorf("ACL lines = %q, %q", lines[4], lines[5])
	}

	expectReply(t, s, "alice", "ADDACCESS -W a.txt bob", "ACK_ADDACCESS_WRITE")
	expectReply(t, s, "alice", "ADDACCESS -R a.txt carol", "ACK_ADDACCESS_READ")
	out, _ = run(s, "alice", "INFO a.txt")
	if !strings.Contains(out, "WRITE_ACCESS:bob") || !strings.Contains(out, "READ_ACCESS:carol") {
		t.Errorf("INFO after grants = %q", out)
	}
}

func TestAccessRequestFlow(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	expectErr(t, s, "bob", "REQACCESS", wire.ErrInvalidArgs)
	expectErr(t, s, "bob", "REQACCESS -W nope.txt", wire.ErrFileNotFound)
	expectErr(t, s, "alice", "REQACCESS -W a.txt", wire.ErrAlreadyOwner)
	expectErr(t, s, "bob", "REQACCESS -X a.txt", wire.ErrInvalidFlag)

	expectReply(t, s, "bob", "REQACCESS -W a.txt", "ACK_REQACCESS 1")
	// Re-requesting while pending returns the same ticket.
	expectReply(t, s, "bob", "REQACCESS -W a.txt", "ACK_REQACCESS 1")

	out, err := run(s, "alice", "LISTREQ")
	if err != nil {
		t.Fatalf("LISTREQ: %v", err)
	}
	lines := strings.Split(out, "\n")
	if lines[0] != "ID  TYPE   FILE             REQUESTER        OWNER           STATUS" {
		t.Errorf("LISTREQ header = %q", lines[0])
	}
	if len(lines) != 2 || !strings.Contains(lines[1], "WRITE") ||
		!strings.Contains(lines[1], "PENDING") || !strings.Contains(lines[1], "bob") {
		t.Errorf("LISTREQ row = %q", lines[1:])
	}

	// An uninvolved user sees only the header.
	expectReply(t, s, "carol", "LISTREQ",
		"ID  TYPE   FILE             REQUESTER        OWNER           STATUS")

	expectErr(t, s, "alice", "APPROVE", wire.ErrInvalidID)
	expectErr(t, s, "alice", "APPROVE 0", wire.ErrInvalidID)
	expectErr(t, s, "alice", "APPROVE 99", wire.ErrReqNotFound)
	expectErr(t, s, "carol", "APPROVE 1", wire.ErrNotRequestOwner)

	expectReply(t, s, "alice", "APPROVE 1", "ACK_APPROVED")
	expectErr(t, s, "alice", "APPROVE 1", wire.ErrReqNotPending)

	// The approval granted write access on the spot.
	if _, err := run(s, "bob", "WRITE a.txt"); err != nil {
		t.Errorf("WRITE after approval: %v", err)
	}
	expectErr(t, s, "bob", "REQACCESS -W a.txt", wire.ErrAlreadyHasAccess)

	expectReply(t, s, "carol", "REQACCESS -R a.txt", "ACK_REQACCESS 2")
	expectReply(t, s, "alice", "DENY 2", "ACK_DENIED")
	expectErr(t, s, "carol", "READ a.txt", wire.ErrReadPermissionDenied)
}

func TestAddRemAccess(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE a.txt", "ACK_CREATE")

	expectErr(t, s, "alice", "ADDACCESS -R a.txt", wire.ErrInvalidArgs)
	expectErr(t, s, "alice", "ADDACCESS -X a.txt bob", wire.ErrInvalidFlag)
	expectErr(t, s, "bob", "ADDACCESS -R a.txt carol", wire.ErrNotFoundOrNotOwner)
	expectErr(t, s, "alice", "ADDACCESS -R nope.txt bob", wire.ErrNotFoundOrNotOwner)
	expectErr(t, s, "alice", "ADDACCESS -R a.txt alice", wire.ErrAlreadyOwner)

	expectReply(t, s, "alice", "ADDACCESS -R a.txt bob", "ACK_ADDACCESS_READ")
	expectErr(t, s, "alice", "ADDACCESS -R a.txt bob", wire.ErrAlreadyHasAccess)
	// A write grant promotes an existing read user.
	expectReply(t, s, "alice", "ADDACCESS -W a.txt bob", "ACK_ADDACCESS_WRITE")
	expectErr(t, s, "alice", "ADDACCESS -R a.txt bob", wire.ErrAlreadyHasAccess)

	expectErr(t, s, "alice", "REMACCESS a.txt", wire.ErrInvalidArgs)
	expectErr(t, s, "alice", "REMACCESS a.txt carol", wire.ErrUserNotInACL)
	expectReply(t, s, "alice", "REMACCESS a.txt bob", "ACK_REMACCESS")
	expectErr(t, s, "bob", "READ a.txt", wire.ErrReadPermissionDenied)
}

func TestListUsers(t *testing.T) {
	s := newTestServer(t)
	if err := s.sessions.Register("alice"); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if err := s.sessions.Register("bob"); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	s.sessions.Disconnect("bob")

	want := "=== ACTIVE USERS ===\n" +
		"  alice\n" +
		"\n=== DISCONNECTED USERS ===\n" +
		"  bob"
	expectReply(t, s, "alice", "LIST", want)
}

func TestListUsersEmpty(t *testing.T) {
	s := newTestServer(t)
	want := "=== ACTIVE USERS ===\n" +
		"  (none)\n" +
		"\n=== DISCONNECTED USERS ===\n" +
		"  (none)"
	expectReply(t, s, "alice", "LIST", want)
}

func TestExecScript(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	f.setReply(func(cmd wire.Command) string {
		if cmd.Verb == wire.VerbRead {
			return "echo greetings from the script"
		}
		return defaultStorageReply(cmd)
	})
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE run.sh", "ACK_CREATE")

	expectErr(t, s, "alice", "EXEC nope.sh", wire.ErrFileNotFound)
	expectErr(t, s, "bob", "EXEC run.sh", wire.ErrReadPermissionDenied)

	out, err := run(s, "alice", "EXEC run.sh")
	if err != nil {
		t.Fatalf("EXEC: %v", err)
	}
	if out != "greetings from the script" {
		t.Errorf("EXEC output = %q", out)
	}
}

func TestExecEmptyFile(t *testing.T) {
	s := newTestServer(t)
	f := newFakeStorage(t)
	f.setReply(func(cmd wire.Command) string {
		if cmd.Verb == wire.VerbRead {
			return "" // nothing written back: empty file
		}
		return defaultStorageReply(cmd)
	})
	registerStorage(t, s, f, 1)
	expectReply(t, s, "alice", "CREATE empty.sh", "ACK_CREATE")

	expectErr(t, s, "alice", "EXEC empty.sh", wire.ErrFileEmpty)
}

func TestManPages(t *testing.T) {
	s := newTestServer(t)

	out, err := run(s, "alice", "man")
	if err != nil {
		t.Fatalf("man: %v", err)
	}
	if !strings.HasPrefix(out, "Usage: man <COMMAND>") {
		t.Errorf("bare man = %q", out)
	}

	out, _ = run(s, "alice", "man CHECKPOINT")
	if !strings.HasPrefix(out, "CHECKPOINT <filename> <tag>") {
		t.Errorf("man CHECKPOINT = %q", out)
	}

	expectReply(t, s, "alice", "man BOGUS", "No manual entry for that command.")
}

func TestUnknownCommand(t *testing.T) {
	s := newTestServer(t)
	expectErr(t, s, "alice", "FROBNICATE a.txt", wire.ErrUnknownCommand)
	// Session verbs are case-sensitive; lowercase create is not CREATE.
	expectErr(t, s, "alice", "create a.txt", wire.ErrUnknownCommand)
}
