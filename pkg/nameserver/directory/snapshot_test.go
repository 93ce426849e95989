package directory

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "trie.dat")
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := snapshotPath(t)
	d := New(Config{SnapshotPath: path})

	mustInsertFolder(t, d, "work", "alice", 1, 2)
	mustInsertFile(t, d, "work/plan.txt", "alice", 1, 2)
	mustInsertFile(t, d, "notes.txt", "bob", 3)
	require.NoError(t, d.AddAccess("work/plan.txt", "bob", LevelWrite))
	require.NoError(t, d.AddAccess("work/plan.txt", "carol", LevelRead))
	require.NoError(t, d.UpdateStats("notes.txt", 512, 80, 500, 1700000000))
	require.NoError(t, d.SetTrash("notes.txt", true))

	want := map[string]Node{}
	d.mu.RLock()
	d.walkLocked(func(n *Node) { want[n.Name] = n.clone() })
	d.mu.RUnlock()

	loaded := New(Config{SnapshotPath: path})
	count, err := loaded.Load()
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t, 3, loaded.Len())

	for name, w := range want {
		got, ok := loaded.Find(name, true)
		require.True(t, ok, "entry %q missing after reload", name)
		assert.Equal(t, w.Owner, got.Owner, "%s owner", name)
		assert.Equal(t, w.Replicas, got.Replicas, "%s replicas", name)
		assert.Equal(t, w.ReadUsers, got.ReadUsers, "%s read users", name)
		assert.Equal(t, w.WriteUsers, got.WriteUsers, "%s write users", name)
		assert.Equal(t, w.Size, got.Size, "%s size", name)
		assert.Equal(t, w.CreatedAt, got.CreatedAt, "%s created", name)
		assert.Equal(t, w.ModifiedAt, got.ModifiedAt, "%s modified", name)
		assert.Equal(t, w.IsFolder, got.IsFolder, "%s folder flag", name)
		assert.Equal(t, w.InTrash, got.InTrash, "%s trash flag", name)
		// Word/char counts and last access live only in memory; the next
		// committed edit repopulates them.
		assert.Zero(t, got.WordCount, "%s word count survives reload", name)
		assert.Zero(t, got.CharCount, "%s char count survives reload", name)
		assert.Zero(t, got.AccessedAt, "%s access time survives reload", name)
	}
}

// A save-load-save cycle must reproduce the file byte for byte.
func TestSnapshotSaveIsFixedPoint(t *testing.T) {
	path := snapshotPath(t)
	d := New(Config{SnapshotPath: path})
	mustInsertFile(t, d, "a.txt", "alice", 1, 2)
	mustInsertFolder(t, d, "work", "alice", 1)
	require.NoError(t, d.AddAccess("a.txt", "bob", LevelRead))

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	loaded := New(Config{SnapshotPath: path})
	_, err = loaded.Load()
	require.NoError(t, err)
	require.NoError(t, loaded.Save())

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshotEmptyDirectory(t *testing.T) {
	path := snapshotPath(t)
	d := New(Config{SnapshotPath: path})
	require.NoError(t, d.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, append([]byte(snapshotMagic), markerEnd), raw)

	loaded := New(Config{SnapshotPath: path})
	count, err := loaded.Load()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLoadMissingFile(t *testing.T) {
	d := New(Config{SnapshotPath: snapshotPath(t)})
	count, err := d.Load()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLoadBadMagic(t *testing.T) {
	path := snapshotPath(t)
	require.NoError(t, os.WriteFile(path, []byte("NOTATRIExxxxxxxx"), 0644))

	d := New(Config{SnapshotPath: path})
	count, err := d.Load()
	require.NoError(t, err)
	assert.Zero(t, count)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "bad snapshot should be deleted")
}

func TestLoadTruncated(t *testing.T) {
	// Build a one-entry file to learn where the first entry ends, then a
	// two-entry file cut at that boundary.
	pathA := snapshotPath(t)
	a := New(Config{SnapshotPath: pathA})
	mustInsertFile(t, a, "first.txt", "alice", 1)
	rawA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	prefixLen := len(rawA) - 1 // strip the end marker

	pathB := snapshotPath(t)
	b := New(Config{SnapshotPath: pathB})
	mustInsertFile(t, b, "first.txt", "alice", 1)
	mustInsertFile(t, b, "second.txt", "bob", 2)
	rawB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	require.Greater(t, len(rawB), prefixLen)

	cases := []struct {
		name string
		cut  int
	}{
		{"at entry boundary", prefixLen},
		{"mid entry", prefixLen + 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := snapshotPath(t)
			require.NoError(t, os.WriteFile(path, rawB[:tc.cut], 0644))

			d := New(Config{SnapshotPath: path})
			count, err := d.Load()
			require.NoError(t, err)
			assert.Equal(t, 1, count, "decoded prefix should survive")
			_, ok := d.Find("first.txt", true)
			assert.True(t, ok)
			_, ok = d.Find("second.txt", true)
			assert.False(t, ok)
		})
	}
}

// Null strings (length -1) decode as empty, matching snapshots written before
// an owner was recorded.
func TestLoadNullString(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	buf.WriteByte(markerEntry)
	putString(&buf, "n.txt")
	putInt32(&buf, -1) // null owner
	putInt32(&buf, 0)  // replicas
	putInt64(&buf, 7)  // size
	putInt64(&buf, 100)
	putInt64(&buf, 200)
	putInt32(&buf, 0) // folder
	putInt32(&buf, 0) // trash
	putInt32(&buf, 0) // read users
	putInt32(&buf, 0) // write users
	buf.WriteByte(markerEnd)

	path := snapshotPath(t)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	d := New(Config{SnapshotPath: path})
	count, err := d.Load()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	n, ok := d.Find("n.txt", true)
	require.True(t, ok)
	assert.Equal(t, "", n.Owner)
	assert.Equal(t, int64(7), n.Size)
	assert.Equal(t, int64(100), n.CreatedAt)
}

// An absurd string length trips the corruption guard instead of allocating.
func TestLoadOversizeString(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	buf.WriteByte(markerEntry)
	putInt32(&buf, 1<<20)

	path := snapshotPath(t)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	d := New(Config{SnapshotPath: path})
	count, err := d.Load()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMutationsPersistWithoutExplicitSave(t *testing.T) {
	path := snapshotPath(t)
	d := New(Config{SnapshotPath: path})
	mustInsertFile(t, d, "a.txt", "alice", 1)
	require.NoError(t, d.SetTrash("a.txt", true))

	loaded := New(Config{SnapshotPath: path})
	count, err := loaded.Load()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	n, ok := loaded.Find("a.txt", true)
	require.True(t, ok)
	assert.True(t, n.InTrash)
}

func TestLoadReplacesContents(t *testing.T) {
	path := snapshotPath(t)
	d := New(Config{SnapshotPath: path})
	mustInsertFile(t, d, "a.txt", "alice", 1)

	// Loading twice must not double count or leave stale extras behind.
	loaded := New(Config{SnapshotPath: path})
	for i := 0; i < 2; i++ {
		count, err := loaded.Load()
		require.NoError(t, err)
		require.Equal(t, 1, count)
	}
	assert.Equal(t, 1, loaded.Len())
}

func putInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func putInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putInt32(buf, int32(len(s)))
	buf.WriteString(s)
}
