package nameserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/docfs/docfs/pkg/nameserver/directory"
	"github.com/docfs/docfs/pkg/wire"
)

// view lists the files the caller can read, one name per line. "-a" widens
// the listing to every entry, "-l" switches to the detailed table; the flags
// combine ("-al", "-la").
func (s *Server) view(username string, flags []string) (string, error) {
	// Flags may arrive combined ("-al") or as separate tokens ("-a -l").
	var all, details bool
	for _, f := range flags {
		if !strings.HasPrefix(f, "-") {
			continue
		}
		for _, r := range f[1:] {
			switch r {
			case 'a':
				all = true
			case 'l':
				details = true
			}
		}
	}
	nodes := s.dir.List(username, all)
	if details {
		return s.detailedListing(nodes), nil
	}
	if len(nodes) == 0 {
		return "No files found.", nil
	}
	rows := make([]string, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, displayName(n))
	}
	return strings.Join(rows, "\n"), nil
}

const detailHeader = "PERMS      OWNER        SIZE    WORDS    CHARS    LAST ACCESS        FILENAME"

// detailedListing renders the "-l" table. Word, character, and access-time
// columns come live from each file's primary; when the primary is down the
// row falls back to the directory's last known size and "Never".
func (s *Server) detailedListing(nodes []directory.Node) string {
	var b strings.Builder
	b.WriteString(detailHeader)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("=", 80))

	for _, n := range nodes {
		size, words, chars, accessed := n.Size, int64(0), int64(0), int64(0)
		if srv, ok := s.primaryServer(n); ok && !n.IsFolder {
			if st, err := s.ss.GetStats(s.ctx, srv.NMAddr(), n.Name); err == nil {
				size, words, chars, accessed = st.Size, st.Words, st.Chars, st.LastAccess
			}
		}
		perms := "-rw-r--r--"
		if n.IsFolder {
			perms = "drwxr-xr-x"
		}
		access := "Never"
		if accessed > 0 {
			access = time.Unix(accessed, 0).Format("Jan 02 15:04")
		}
		fmt.Fprintf(&b, "\n%-10s %-12s %7d %8d %8d  %-18s %s",
			perms, n.Owner, size, words, chars, access, n.Name)
	}
	return b.String()
}

func (s *Server) viewTrash(username string) (string, error) {
	nodes := s.dir.ListTrash(username)
	if len(nodes) == 0 {
		return "Trash is empty.", nil
	}
	rows := make([]string, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, displayName(n))
	}
	return strings.Join(rows, "\n"), nil
}

func (s *Server) viewFolder(username, folder string) (string, error) {
	if folder == "" {
		return "", wire.ErrNoFolderName
	}
	f, ok := s.dir.Find(folder, false)
	if !ok || !f.IsFolder {
		return "", wire.ErrFolderNotFound
	}
	if f.Access(username) < directory.LevelRead {
		return "", wire.ErrPermissionDenied
	}
	children, err := s.dir.ListFolder(folder, username)
	if err != nil {
		return "", wire.ErrFolderNotFound
	}
	if len(children) == 0 {
		return "Folder is empty.", nil
	}
	rows := make([]string, 0, len(children))
	for _, n := range children {
		name := directory.BaseName(n.Name)
		if n.IsFolder {
			name += "/"
		}
		rows = append(rows, name)
	}
	return strings.Join(rows, "\n"), nil
}

// info reports a file's metadata in KEY:value lines; the client draws the
// box around them. Size is fetched live from the primary when possible so a
// fresh edit shows up before the next modification report lands.
func (s *Server) info(username, name string) (string, error) {
	n, ok := s.dir.Find(name, false)
	if !ok || n.Access(username) < directory.LevelRead {
		return "", wire.ErrNotFoundOrNoAccess
	}

	size := n.Size
	if srv, ok := s.primaryServer(n); ok && !n.IsFolder {
		if st, err := s.ss.GetStats(s.ctx, srv.NMAddr(), n.Name); err == nil {
			size = st.Size
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FILE:%s\n", n.Name)
	fmt.Fprintf(&b, "OWNER:%s\n", n.Owner)
	fmt.Fprintf(&b, "SIZE:%d\n", size)
	fmt.Fprintf(&b, "CREATED:%s\n", time.Unix(n.CreatedAt, 0).Format(time.ANSIC))
	fmt.Fprintf(&b, "WRITE_ACCESS:%s\n", aclList(n.WriteUsers))
	fmt.Fprintf(&b, "READ_ACCESS:%s", aclList(n.ReadUsers))
	return b.String(), nil
}

func aclList(users []string) string {
	if len(users) == 0 {
		return "(none)"
	}
	return strings.Join(users, ",")
}

// listUsers shows every username the server has seen, split by liveness, in
// first-registration order.
func (s *Server) listUsers() (string, error) {
	var b strings.Builder
	b.WriteString("=== ACTIVE USERS ===")
	writeUserBlock(&b, s.sessions.Active())
	b.WriteString("\n\n=== DISCONNECTED USERS ===")
	writeUserBlock(&b, s.sessions.Disconnected())
	return b.String(), nil
}

func writeUserBlock(b *strings.Builder, users []string) {
	if len(users) == 0 {
		b.WriteString("\n  (none)")
		return
	}
	for _, u := range users {
		b.WriteString("\n  ")
		b.WriteString(u)
	}
}

// displayName marks folders with a trailing slash in plain listings.
func displayName(n directory.Node) string {
	if n.IsFolder {
		return n.Name + "/"
	}
	return n.Name
}
