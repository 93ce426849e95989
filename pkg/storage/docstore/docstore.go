// Package docstore owns a storage server's data directory: the document
// files themselves plus the sentence/word model the write protocol edits
// against. Every operation resolves names inside the configured root, so a
// hostile name cannot escape the directory.
package docstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrInvalidName is returned for names that are empty or would resolve
// outside the store root.
var ErrInvalidName = errors.New("invalid file name")

// archiveDir is reserved inside the data directory for the undo/checkpoint
// database and is never served as a document.
const archiveDir = "archive"

// Stats describes one stored file the way the name server wants it
// reported: byte size, whitespace-separated word count, character count
// (equal to size for the ASCII protocol) and the last access time in unix
// seconds.
type Stats struct {
	Size       int64
	Words      int64
	Chars      int64
	LastAccess int64
}

// Store is a flat document store rooted at a single directory. Names use
// '/' as the folder separator regardless of platform. Reads and writes
// record an access time per name; files touched before the process started
// fall back to their modification time.
type Store struct {
	root string

	mu       sync.Mutex
	accessed map[string]int64

	// now is swappable for tests.
	now func() time.Time
}

// Open creates the root directory if needed and returns a store over it.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{
		root:     abs,
		accessed: make(map[string]int64),
		now:      time.Now,
	}, nil
}

// Root returns the absolute data directory path.
func (s *Store) Root() string {
	return s.root
}

// resolve maps a protocol name to an on-disk path, rejecting anything that
// would climb out of the root. The name server validates names before they
// reach a storage server, but replication peers and direct dials are not
// trusted to have done so.
func (s *Store) resolve(name string) (string, error) {
	if name == "" {
		return "", ErrInvalidName
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." ||
		strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidName
	}
	if clean == archiveDir || strings.HasPrefix(clean, archiveDir+"/") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Create makes an empty file for name, creating parent folders as needed.
// An existing file is left untouched, which makes replica creation
// idempotent.
func (s *Store) Create(name string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return f.Close()
}

// CreateFolder makes a folder (and any missing parents) for name.
func (s *Store) CreateFolder(name string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", name, err)
	}
	return nil
}

// Delete removes the file for name. Deleting a missing file is an error so
// the caller can distinguish a no-op push from a real removal.
func (s *Store) Delete(name string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	s.mu.Lock()
	delete(s.accessed, name)
	s.mu.Unlock()
	return nil
}

// Move relocates name into the destination folder ("." for the root) and
// returns the file's new name. The destination folder must already exist on
// this server; the name server creates it on every replica before pushing
// the move. A destination name that is already taken is refused.
func (s *Store) Move(name, destFolder string) (string, error) {
	oldPath, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	base := path.Base(path.Clean(name))
	newName := base
	if destFolder != "." {
		newName = destFolder + "/" + base
	}
	newPath, err := s.resolve(newName)
	if err != nil {
		return "", err
	}
	// Rename silently replaces an existing target; an occupied destination
	// must fail instead of losing the occupant's content.
	if newPath != oldPath {
		if _, err := os.Stat(newPath); err == nil {
			return "", fmt.Errorf("move %s: destination %s already exists", name, newName)
		}
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", name, destFolder, err)
	}
	s.mu.Lock()
	if at, ok := s.accessed[name]; ok {
		delete(s.accessed, name)
		s.accessed[newName] = at
	}
	s.mu.Unlock()
	return newName, nil
}

// Read returns the file's full content and records the access.
func (s *Store) Read(name string) ([]byte, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	s.touch(name)
	return data, nil
}

// Write replaces the file's content, creating it (and parents) if missing,
// and records the access.
func (s *Store) Write(name string, content []byte) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.touch(name)
	return nil
}

// Exists reports whether name resolves to an existing file or folder.
func (s *Store) Exists(name string) bool {
	p, err := s.resolve(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Stats reports size, word count, character count and last access time for
// name. It does not count as an access itself.
func (s *Store) Stats(name string) (Stats, error) {
	p, err := s.resolve(name)
	if err != nil {
		return Stats{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return Stats{}, fmt.Errorf("stat %s: %w", name, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Stats{}, fmt.Errorf("read %s: %w", name, err)
	}
	s.mu.Lock()
	at, ok := s.accessed[name]
	s.mu.Unlock()
	if !ok {
		at = info.ModTime().Unix()
	}
	return Stats{
		Size:       info.Size(),
		Words:      int64(len(strings.Fields(string(data)))),
		Chars:      info.Size(),
		LastAccess: at,
	}, nil
}

// CountFiles walks the data directory and counts regular files, skipping
// the archive database. Used for the files-held gauge.
func (s *Store) CountFiles() int {
	count := 0
	_ = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != s.root && d.Name() == archiveDir && filepath.Dir(p) == s.root {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	return count
}

func (s *Store) touch(name string) {
	s.mu.Lock()
	s.accessed[name] = s.now().Unix()
	s.mu.Unlock()
}
