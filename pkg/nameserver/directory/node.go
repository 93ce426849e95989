package directory

import (
	"fmt"
	"strings"
)

// Policy limits enforced at the API boundary. Violations surface as explicit
// errors, never as silent truncation.
const (
	// MaxNameLen is the longest name the directory accepts, in bytes.
	MaxNameLen = 256

	// DefaultMaxACLUsers caps each ACL set when Config.MaxACLUsers is zero.
	DefaultMaxACLUsers = 50
)

// Level is the access a user holds on a node. Owners always hold LevelWrite,
// and write access implies read access.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	default:
		return "none"
	}
}

// Node is the metadata record behind one name in the directory. The directory
// hands out deep copies; mutations go through Directory methods so they are
// serialized and persisted.
type Node struct {
	// Name is the full path as registered, e.g. "notes.txt" or "work/plan.txt".
	Name string

	// Owner is fixed at creation. The owner is implicitly a write user and is
	// never duplicated into WriteUsers.
	Owner string

	// Replicas lists the storage servers holding this entry. Index 0 is the
	// primary used for lookups and stat probes.
	Replicas []int

	// ReadUsers and WriteUsers are the two ACL sets. A user appears in at
	// most one of them.
	ReadUsers  []string
	WriteUsers []string

	// Size, WordCount and CharCount are the last values reported by the
	// primary storage server. Only Size survives a snapshot reload.
	Size      int64
	WordCount int64
	CharCount int64

	// Timestamps in seconds since the epoch. AccessedAt is reported by the
	// primary storage server and is zero until the first report.
	CreatedAt  int64
	ModifiedAt int64
	AccessedAt int64

	// IsFolder marks directory entries. Folders hold no bytes and can never
	// be in the trash.
	IsFolder bool

	// InTrash hides the entry from normal listings until restored.
	InTrash bool
}

// Access returns the level username holds on this node.
func (n *Node) Access(username string) Level {
	if username == "" {
		return LevelNone
	}
	if n.Owner == username {
		return LevelWrite
	}
	for _, u := range n.WriteUsers {
		if u == username {
			return LevelWrite
		}
	}
	for _, u := range n.ReadUsers {
		if u == username {
			return LevelRead
		}
	}
	return LevelNone
}

// Primary returns the primary replica, or false when the replica list is
// empty.
func (n *Node) Primary() (int, bool) {
	if len(n.Replicas) == 0 {
		return 0, false
	}
	return n.Replicas[0], true
}

// HasReplica reports whether ssID appears anywhere in the replica list.
func (n *Node) HasReplica(ssID int) bool {
	for _, id := range n.Replicas {
		if id == ssID {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand to callers.
func (n *Node) clone() Node {
	c := *n
	c.Replicas = append([]int(nil), n.Replicas...)
	c.ReadUsers = append([]string(nil), n.ReadUsers...)
	c.WriteUsers = append([]string(nil), n.WriteUsers...)
	return c
}

// BaseName returns the path component after the final '/'. Names without a
// slash are returned unchanged.
func BaseName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Folder returns the folder component of a nested name, or "" for root-level
// names.
func Folder(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// ValidateName checks a file name: 1..MaxNameLen bytes of printable ASCII
// with no whitespace, and at most one '/' separating a folder from a base
// name. The protocol is line- and space-delimited, so names can never carry
// either.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("name exceeds %d bytes", MaxNameLen)
	}
	slashes := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c > '~' {
			return fmt.Errorf("invalid character %q in name", c)
		}
		if c == '/' {
			slashes++
		}
	}
	if slashes > 1 {
		return fmt.Errorf("names nest at most one folder deep")
	}
	if name[0] == '/' || name[len(name)-1] == '/' {
		return fmt.Errorf("name cannot begin or end with '/'")
	}
	return nil
}

// ValidateFolderName checks a folder name. Folders live at the root, so a
// '/' is rejected outright.
func ValidateFolderName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if strings.IndexByte(name, '/') >= 0 {
		return fmt.Errorf("folder names cannot contain '/'")
	}
	return nil
}
