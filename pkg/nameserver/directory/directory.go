// Package directory implements the name server's authoritative namespace: a
// byte-wise trie mapping names to file and folder metadata, with ACLs,
// replica lists, trash state, and a binary snapshot (see snapshot.go) that is
// rewritten after every mutation.
//
// All operations are safe for concurrent use. Lookups and listings return
// deep copies, so callers never share memory with the trie; the lock is never
// held across I/O other than the snapshot write, which the caller ordering
// relies on being serialized.
package directory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/docfs/docfs/pkg/metrics"
)

// Directory errors. The dispatcher maps these onto wire tokens.
var (
	// ErrNotFound is returned when a name does not resolve to an entry.
	ErrNotFound = errors.New("entry not found")

	// ErrExists is returned when inserting or moving onto a taken name,
	// trashed entries included.
	ErrExists = errors.New("entry already exists")

	// ErrIsFolder is returned for file-only operations aimed at a folder.
	ErrIsFolder = errors.New("entry is a folder")

	// ErrNotFolder is returned when a move destination exists but is a file.
	ErrNotFolder = errors.New("entry is not a folder")

	// ErrFolderNotFound is returned when a folder destination does not exist.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrAlreadyInTrash and ErrNotInTrash guard redundant trash transitions.
	ErrAlreadyInTrash = errors.New("entry already in trash")
	ErrNotInTrash     = errors.New("entry not in trash")

	// ErrInTrash is returned when a trashed entry blocks an operation.
	ErrInTrash = errors.New("entry is in trash")

	// ErrAlreadyOwner is returned when granting access to the owner.
	ErrAlreadyOwner = errors.New("user owns the entry")

	// ErrAlreadyHasAccess is returned when a grant would not raise the
	// user's level.
	ErrAlreadyHasAccess = errors.New("user already has that access")

	// ErrACLFull is returned when an ACL set is at capacity.
	ErrACLFull = errors.New("access list full")

	// ErrUserNotInACL is returned when revoking a user that holds nothing.
	ErrUserNotInACL = errors.New("user not in any access list")
)

// Config carries the directory's construction parameters.
type Config struct {
	// SnapshotPath is where the directory persists itself. Empty keeps the
	// directory purely in memory (used by tests).
	SnapshotPath string

	// MaxACLUsers caps each of the two ACL sets per entry. Zero means
	// DefaultMaxACLUsers.
	MaxACLUsers int

	// Metrics receives snapshot timings. Nil is fine.
	Metrics *metrics.NameServerMetrics
}

// node is one trie vertex. A non-nil meta marks a terminal; interior vertices
// exist only while some name runs through them and are pruned on delete.
type node struct {
	children map[byte]*node
	meta     *Node
}

func newNode() *node {
	return &node{children: make(map[byte]*node)}
}

// Directory is the trie plus its lock and persistence settings.
type Directory struct {
	mu      sync.RWMutex
	root    *node
	count   int
	path    string
	maxACL  int
	metrics *metrics.NameServerMetrics
}

// New returns an empty directory. Call Load to restore a snapshot.
func New(cfg Config) *Directory {
	maxACL := cfg.MaxACLUsers
	if maxACL <= 0 {
		maxACL = DefaultMaxACLUsers
	}
	return &Directory{
		root:    newNode(),
		path:    cfg.SnapshotPath,
		maxACL:  maxACL,
		metrics: cfg.Metrics,
	}
}

// Len returns the number of entries, trashed ones included.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.count
}

// All returns every entry in byte order, trashed ones included.
func (d *Directory) All() []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Node
	d.walkLocked(func(n *Node) {
		out = append(out, n.clone())
	})
	return out
}

// Find resolves a name to a copy of its entry. With includeTrashed false, a
// trashed entry reads as absent.
func (d *Directory) Find(name string, includeTrashed bool) (Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := d.lookupLocked(name)
	if n == nil || (n.InTrash && !includeTrashed) {
		return Node{}, false
	}
	return n.clone(), true
}

// Access returns the level username holds on name. Trashed entries resolve,
// so callers can distinguish trash from absence via Find.
func (d *Directory) Access(name, username string) (Level, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := d.lookupLocked(name)
	if n == nil {
		return LevelNone, false
	}
	return n.Access(username), true
}

// InsertFile registers a new file. The replica list is fixed at creation;
// index 0 is the primary. Fails with ErrExists when any entry, trashed or
// not, already holds the name.
func (d *Directory) InsertFile(name, owner string, replicas []int) error {
	return d.insert(name, owner, replicas, false)
}

// InsertFolder registers a new folder. Folders hold no bytes; their replica
// list names the servers carrying the corresponding data subdirectory.
func (d *Directory) InsertFolder(name, owner string, replicas []int) error {
	return d.insert(name, owner, replicas, true)
}

func (d *Directory) insert(name, owner string, replicas []int, folder bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.root
	for i := 0; i < len(name); i++ {
		next := cur.children[name[i]]
		if next == nil {
			next = newNode()
			cur.children[name[i]] = next
		}
		cur = next
	}
	if cur.meta != nil {
		return ErrExists
	}
	now := time.Now().Unix()
	cur.meta = &Node{
		Name:       name,
		Owner:      owner,
		Replicas:   append([]int(nil), replicas...),
		CreatedAt:  now,
		ModifiedAt: now,
		IsFolder:   folder,
	}
	d.count++
	d.persistLocked()
	return nil
}

// SetTrash flips the trash flag. Folders never enter the trash.
func (d *Directory) SetTrash(name string, trashed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.lookupLocked(name)
	if n == nil {
		return ErrNotFound
	}
	if n.IsFolder {
		return ErrIsFolder
	}
	if n.InTrash == trashed {
		if trashed {
			return ErrAlreadyInTrash
		}
		return ErrNotInTrash
	}
	n.InTrash = trashed
	n.ModifiedAt = time.Now().Unix()
	d.persistLocked()
	return nil
}

// Delete removes an entry outright, trashed or not, and prunes any interior
// vertices left without descendants.
func (d *Directory) Delete(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.deleteLocked(name) {
		return ErrNotFound
	}
	d.persistLocked()
	return nil
}

func (d *Directory) deleteLocked(name string) bool {
	type hop struct {
		parent *node
		b      byte
	}
	trail := make([]hop, 0, len(name))
	cur := d.root
	for i := 0; i < len(name); i++ {
		next := cur.children[name[i]]
		if next == nil {
			return false
		}
		trail = append(trail, hop{cur, name[i]})
		cur = next
	}
	if cur.meta == nil {
		return false
	}
	cur.meta = nil
	d.count--
	for i := len(trail) - 1; i >= 0; i-- {
		child := trail[i].parent.children[trail[i].b]
		if child.meta != nil || len(child.children) > 0 {
			break
		}
		delete(trail[i].parent.children, trail[i].b)
	}
	return true
}

// Move renames a file into a folder ("dest") or back to the root (dest ".").
// The entry keeps its owner, ACL, replica list, size and creation time;
// ModifiedAt is refreshed. Returns the new name.
func (d *Directory) Move(src, dest string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.lookupLocked(src)
	if n == nil || n.InTrash {
		return "", ErrNotFound
	}
	if n.IsFolder {
		return "", ErrIsFolder
	}

	var newName string
	if dest == "." {
		newName = BaseName(src)
	} else {
		f := d.lookupLocked(dest)
		if f == nil || f.InTrash {
			return "", ErrFolderNotFound
		}
		if !f.IsFolder {
			return "", ErrNotFolder
		}
		newName = dest + "/" + BaseName(src)
	}
	if newName == src {
		return src, nil
	}
	if d.lookupLocked(newName) != nil {
		return "", ErrExists
	}

	moved := *n
	moved.Name = newName
	moved.ModifiedAt = time.Now().Unix()
	d.deleteLocked(src)

	cur := d.root
	for i := 0; i < len(newName); i++ {
		next := cur.children[newName[i]]
		if next == nil {
			next = newNode()
			cur.children[newName[i]] = next
		}
		cur = next
	}
	cur.meta = &moved
	d.count++
	d.persistLocked()
	return newName, nil
}

// AddAccess grants username the given level. Granting write to a read user
// promotes them; granting read to a write user is redundant and fails with
// ErrAlreadyHasAccess, as does re-granting a held level.
func (d *Directory) AddAccess(name, username string, level Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.lookupLocked(name)
	if n == nil {
		return ErrNotFound
	}
	if username == n.Owner {
		return ErrAlreadyOwner
	}
	switch level {
	case LevelWrite:
		if contains(n.WriteUsers, username) {
			return ErrAlreadyHasAccess
		}
		if len(n.WriteUsers) >= d.maxACL {
			return ErrACLFull
		}
		n.ReadUsers = remove(n.ReadUsers, username)
		n.WriteUsers = append(n.WriteUsers, username)
	case LevelRead:
		if contains(n.WriteUsers, username) || contains(n.ReadUsers, username) {
			return ErrAlreadyHasAccess
		}
		if len(n.ReadUsers) >= d.maxACL {
			return ErrACLFull
		}
		n.ReadUsers = append(n.ReadUsers, username)
	default:
		return errors.New("grant level must be read or write")
	}
	n.ModifiedAt = time.Now().Unix()
	d.persistLocked()
	return nil
}

// RemoveAccess revokes username's access, checking the write set before the
// read set, and reports which level was removed.
func (d *Directory) RemoveAccess(name, username string) (Level, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.lookupLocked(name)
	if n == nil {
		return LevelNone, ErrNotFound
	}
	if contains(n.WriteUsers, username) {
		n.WriteUsers = remove(n.WriteUsers, username)
		n.ModifiedAt = time.Now().Unix()
		d.persistLocked()
		return LevelWrite, nil
	}
	if contains(n.ReadUsers, username) {
		n.ReadUsers = remove(n.ReadUsers, username)
		n.ModifiedAt = time.Now().Unix()
		d.persistLocked()
		return LevelRead, nil
	}
	return LevelNone, ErrUserNotInACL
}

// UpdateStats records the statistics a storage server reported for name after
// a committed edit.
func (d *Directory) UpdateStats(name string, size, words, chars, lastAccess int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.lookupLocked(name)
	if n == nil {
		return ErrNotFound
	}
	n.Size = size
	n.WordCount = words
	n.CharCount = chars
	n.AccessedAt = lastAccess
	n.ModifiedAt = time.Now().Unix()
	d.persistLocked()
	return nil
}

// List returns the non-trashed entries visible to username, in byte order of
// their names. With includeAll, permission filtering is skipped.
func (d *Directory) List(username string, includeAll bool) []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Node
	d.walkLocked(func(n *Node) {
		if n.InTrash {
			return
		}
		if includeAll || n.Access(username) >= LevelRead {
			out = append(out, n.clone())
		}
	})
	return out
}

// ListTrash returns username's trashed entries in byte order.
func (d *Directory) ListTrash(username string) []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Node
	d.walkLocked(func(n *Node) {
		if n.InTrash && n.Owner == username {
			out = append(out, n.clone())
		}
	})
	return out
}

// ListFolder returns the direct, non-trashed children of a folder that
// username can read. Grandchildren (a further '/') never occur while names
// nest one level, but are skipped for safety.
func (d *Directory) ListFolder(folder, username string) ([]Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f := d.lookupLocked(folder)
	if f == nil || f.InTrash || !f.IsFolder {
		return nil, ErrFolderNotFound
	}
	prefix := folder + "/"
	var out []Node
	d.walkLocked(func(n *Node) {
		if n.InTrash || len(n.Name) <= len(prefix) || n.Name[:len(prefix)] != prefix {
			return
		}
		base := n.Name[len(prefix):]
		for i := 0; i < len(base); i++ {
			if base[i] == '/' {
				return
			}
		}
		if n.Access(username) >= LevelRead {
			out = append(out, n.clone())
		}
	})
	return out, nil
}

// FilesOnServer returns every non-trashed file whose replica list contains
// ssID. The recovery synchronizer walks this set when a server returns.
func (d *Directory) FilesOnServer(ssID int) []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Node
	d.walkLocked(func(n *Node) {
		if n.InTrash || n.IsFolder {
			return
		}
		if n.HasReplica(ssID) {
			out = append(out, n.clone())
		}
	})
	return out
}

// lookupLocked resolves name to its live node, any status. Caller holds d.mu.
func (d *Directory) lookupLocked(name string) *Node {
	cur := d.root
	for i := 0; i < len(name); i++ {
		cur = cur.children[name[i]]
		if cur == nil {
			return nil
		}
	}
	return cur.meta
}

// walkLocked visits every terminal in byte order of names. Caller holds d.mu.
func (d *Directory) walkLocked(visit func(*Node)) {
	var rec func(n *node)
	rec = func(n *node) {
		if n.meta != nil {
			visit(n.meta)
		}
		if len(n.children) == 0 {
			return
		}
		keys := make([]int, 0, len(n.children))
		for b := range n.children {
			keys = append(keys, int(b))
		}
		sort.Ints(keys)
		for _, b := range keys {
			rec(n.children[byte(b)])
		}
	}
	rec(d.root)
}

func contains(users []string, u string) bool {
	for _, x := range users {
		if x == u {
			return true
		}
	}
	return false
}

func remove(users []string, u string) []string {
	for i, x := range users {
		if x == u {
			return append(users[:i], users[i+1:]...)
		}
	}
	return users
}
