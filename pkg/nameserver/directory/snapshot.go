// snapshot.go persists the directory as a single binary file, rewritten in
// full after every mutation while the directory lock is held.
//
// File format (all integers little-endian):
//
//	Magic: "NMTRIE02" (8 bytes, no length prefix)
//	Records, each introduced by a one-byte marker:
//	  'F' — one terminal entry:
//	    - name:   string
//	    - owner:  string
//	    - replica count: int32, then that many replica IDs as strings
//	    - size: int64
//	    - creation time, last modified: int64 seconds each
//	    - is_folder, is_in_trash: int32 each
//	    - read user count: int32, then that many strings
//	    - write user count: int32, then that many strings
//	  'E' — end of stream
//
// Strings carry an int32 byte length followed by the bytes; a length of -1
// encodes a null string and decodes to "". Word and character counts and the
// last-access time are storage-server observations and are not persisted.
//
// A snapshot with the wrong magic is deleted and startup proceeds with an
// empty directory. A snapshot truncated mid-record keeps the entries decoded
// before the damage.

package directory

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docfs/docfs/internal/logger"
)

const snapshotMagic = "NMTRIE02"

const (
	markerEntry = byte('F')
	markerEnd   = byte('E')
)

// maxStringLen bounds decoded string lengths as a corruption tripwire.
const maxStringLen = 10000

// ErrSnapshotCorrupt marks a snapshot that decoded only partially.
var ErrSnapshotCorrupt = errors.New("directory snapshot corrupt")

// Save writes the snapshot unconditionally. Mutators persist on their own;
// this is for the shutdown path and for tests.
func (d *Directory) Save() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.saveLocked()
}

// persistLocked is the after-mutation hook. Snapshot failures are logged and
// swallowed: the directory stays authoritative in memory.
func (d *Directory) persistLocked() {
	if d.path == "" {
		return
	}
	if err := d.saveLocked(); err != nil {
		logger.Warn("directory snapshot failed", "path", d.path, "error", err)
	}
}

func (d *Directory) saveLocked() error {
	if d.path == "" {
		return nil
	}
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := d.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	w := bufio.NewWriter(f)
	encErr := d.encodeLocked(w)
	if flushErr := w.Flush(); encErr == nil {
		encErr = flushErr
	}
	if encErr != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode snapshot: %w", encErr)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	d.metrics.ObserveSnapshot(time.Since(start))
	return nil
}

func (d *Directory) encodeLocked(w io.Writer) error {
	if _, err := w.Write([]byte(snapshotMagic)); err != nil {
		return err
	}
	var failed error
	d.walkLocked(func(n *Node) {
		if failed != nil {
			return
		}
		failed = encodeEntry(w, n)
	})
	if failed != nil {
		return failed
	}
	_, err := w.Write([]byte{markerEnd})
	return err
}

func encodeEntry(w io.Writer, n *Node) error {
	if _, err := w.Write([]byte{markerEntry}); err != nil {
		return err
	}
	if err := writeString(w, n.Name); err != nil {
		return err
	}
	if err := writeString(w, n.Owner); err != nil {
		return err
	}
	if err := writeInt32(w, int32(len(n.Replicas))); err != nil {
		return err
	}
	for _, id := range n.Replicas {
		if err := writeString(w, strconv.Itoa(id)); err != nil {
			return err
		}
	}
	if err := writeInt64(w, n.Size); err != nil {
		return err
	}
	if err := writeInt64(w, n.CreatedAt); err != nil {
		return err
	}
	if err := writeInt64(w, n.ModifiedAt); err != nil {
		return err
	}
	if err := writeInt32(w, boolInt32(n.IsFolder)); err != nil {
		return err
	}
	if err := writeInt32(w, boolInt32(n.InTrash)); err != nil {
		return err
	}
	if err := writeStrings(w, n.ReadUsers); err != nil {
		return err
	}
	return writeStrings(w, n.WriteUsers)
}

// Load replaces the directory contents with the snapshot at the configured
// path and returns how many entries were restored. A missing file is a clean
// empty start. A bad magic deletes the file and also starts empty; both are
// logged, not failed.
func (d *Directory) Load() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.root = newNode()
	d.count = 0

	if d.path == "" {
		return 0, nil
	}
	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no directory snapshot, starting empty", "path", d.path)
			return 0, nil
		}
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != snapshotMagic {
		logger.Warn("directory snapshot has bad magic, discarding",
			"path", d.path, "magic", string(magic))
		os.Remove(d.path)
		return 0, nil
	}

	for {
		marker, err := r.ReadByte()
		if err != nil {
			// Missing end marker; keep what decoded.
			logger.Warn("directory snapshot truncated", "path", d.path, "entries", d.count)
			return d.count, nil
		}
		if marker == markerEnd {
			break
		}
		if marker != markerEntry {
			logger.Warn("directory snapshot corrupt, keeping partial load",
				"path", d.path, "entries", d.count)
			return d.count, nil
		}
		n, err := decodeEntry(r)
		if err != nil {
			logger.Warn("directory snapshot corrupt, keeping partial load",
				"path", d.path, "entries", d.count, "error", err)
			return d.count, nil
		}
		d.restoreLocked(n)
	}

	logger.Info("directory snapshot restored", "path", d.path, "entries", d.count)
	return d.count, nil
}

// restoreLocked plants a decoded entry, overwriting a duplicate name rather
// than double counting it.
func (d *Directory) restoreLocked(n *Node) {
	cur := d.root
	for i := 0; i < len(n.Name); i++ {
		next := cur.children[n.Name[i]]
		if next == nil {
			next = newNode()
			cur.children[n.Name[i]] = next
		}
		cur = next
	}
	if cur.meta == nil {
		d.count++
	}
	cur.meta = n
}

func decodeEntry(r io.Reader) (*Node, error) {
	name, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	owner, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	replicaCount, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("replica count: %w", err)
	}
	if replicaCount < 0 || replicaCount > maxStringLen {
		return nil, ErrSnapshotCorrupt
	}
	replicas := make([]int, 0, replicaCount)
	for i := int32(0); i < replicaCount; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("replica id: %w", err)
		}
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("replica id %q: %w", s, err)
		}
		replicas = append(replicas, id)
	}
	size, err := readInt64(r)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	created, err := readInt64(r)
	if err != nil {
		return nil, fmt.Errorf("creation time: %w", err)
	}
	modified, err := readInt64(r)
	if err != nil {
		return nil, fmt.Errorf("modified time: %w", err)
	}
	isFolder, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("folder flag: %w", err)
	}
	inTrash, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("trash flag: %w", err)
	}
	readUsers, err := readStrings(r)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	writeUsers, err := readStrings(r)
	if err != nil {
		return nil, fmt.Errorf("write users: %w", err)
	}
	return &Node{
		Name:       name,
		Owner:      owner,
		Replicas:   replicas,
		ReadUsers:  readUsers,
		WriteUsers: writeUsers,
		Size:       size,
		CreatedAt:  created,
		ModifiedAt: modified,
		IsFolder:   isFolder != 0,
		InTrash:    inTrash != 0,
	}, nil
}

// ============================================================================
// Primitive encoders
// ============================================================================

func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func writeString(w io.Writer, s string) error {
	if err := writeInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeStrings(w io.Writer, ss []string) error {
	if err := writeInt32(w, int32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readInt32(r)
	if err != nil {
		return "", err
	}
	if n == -1 {
		// Null string in the on-disk format.
		return "", nil
	}
	if n < 0 || n > maxStringLen {
		return "", ErrSnapshotCorrupt
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readStrings(r io.Reader) ([]string, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxStringLen {
		return nil, ErrSnapshotCorrupt
	}
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func boolInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
