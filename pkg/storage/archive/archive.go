// Package archive persists a storage server's undo slots and named
// checkpoints in a Badger database inside the data directory. Keeping them
// out of band means UNDO and REVERT survive restarts without polluting the
// document tree with shadow files.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

var (
	// ErrNoUndo is returned when a file has no undo snapshot.
	ErrNoUndo = errors.New("no undo history")

	// ErrNoCheckpoint is returned when the requested tag does not exist.
	ErrNoCheckpoint = errors.New("checkpoint not found")
)

// Key namespace:
//
//	u:<name>          undo slot (at most one per file)
//	c:<name>\x00<tag> named checkpoint
//
// File names may legally contain ':' but never NUL (the line protocol is
// printable ASCII), so NUL separates name from tag without ambiguity.
// Values are JSON snapshot records.
const (
	prefixUndo       = "u:"
	prefixCheckpoint = "c:"
	checkpointSep    = "\x00"
)

type snapshot struct {
	Content []byte `json:"content"`
	SavedAt int64  `json:"saved_at"`
}

// Store wraps the Badger database holding snapshots.
type Store struct {
	db *badger.DB

	// now is swappable for tests.
	now func() time.Time
}

// Open opens (or creates) the archive database at dir. Badger's own logger
// is silenced; failures surface through the returned errors.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func keyUndo(name string) []byte {
	return []byte(prefixUndo + name)
}

func keyCheckpoint(name, tag string) []byte {
	return []byte(prefixCheckpoint + name + checkpointSep + tag)
}

func keyCheckpointPrefix(name string) []byte {
	return []byte(prefixCheckpoint + name + checkpointSep)
}

// SaveUndo stores content as the undo snapshot for name, replacing any
// previous snapshot.
func (s *Store) SaveUndo(name string, content []byte) error {
	val, err := json.Marshal(snapshot{Content: content, SavedAt: s.now().Unix()})
	if err != nil {
		return fmt.Errorf("encode undo snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyUndo(name), val)
	})
}

// TakeUndo returns name's undo snapshot and clears the slot in the same
// transaction, so a second UNDO cannot replay it. Returns ErrNoUndo when
// the slot is empty.
func (s *Store) TakeUndo(name string) ([]byte, error) {
	var content []byte
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyUndo(name))
		if err == badger.ErrKeyNotFound {
			return ErrNoUndo
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			var snap snapshot
			if err := json.Unmarshal(val, &snap); err != nil {
				return fmt.Errorf("decode undo snapshot: %w", err)
			}
			content = snap.Content
			return nil
		}); err != nil {
			return err
		}
		return txn.Delete(keyUndo(name))
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// SaveCheckpoint stores content under (name, tag). Saving to an existing
// tag overwrites it.
func (s *Store) SaveCheckpoint(name, tag string, content []byte) error {
	val, err := json.Marshal(snapshot{Content: content, SavedAt: s.now().Unix()})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyCheckpoint(name, tag), val)
	})
}

// Checkpoint returns the snapshot stored under (name, tag), or
// ErrNoCheckpoint.
func (s *Store) Checkpoint(name, tag string) ([]byte, error) {
	var content []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCheckpoint(name, tag))
		if err == badger.ErrKeyNotFound {
			return ErrNoCheckpoint
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var snap snapshot
			if err := json.Unmarshal(val, &snap); err != nil {
				return fmt.Errorf("decode checkpoint: %w", err)
			}
			content = snap.Content
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Checkpoints lists name's checkpoint tags in key order (lexicographic).
func (s *Store) Checkpoints(name string) ([]string, error) {
	var tags []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyCheckpointPrefix(name)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := it.Item().Key()
			tags = append(tags, string(key[len(opts.Prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// Purge drops name's undo snapshot and every checkpoint. Called when the
// file itself is deleted; purging a name with no history is a no-op.
func (s *Store) Purge(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyCheckpointPrefix(name)

		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, append([]byte{}, it.Item().Key()...))
		}
		it.Close()

		if err := txn.Delete(keyUndo(name)); err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rename moves name's undo snapshot and checkpoints to newName so history
// follows a file across moves.
func (s *Store) Rename(name, newName string) error {
	if name == newName {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		type rekey struct {
			oldKey, newKey, val []byte
		}
		var moves []rekey

		item, err := txn.Get(keyUndo(name))
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			moves = append(moves, rekey{keyUndo(name), keyUndo(newName), val})
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyCheckpointPrefix(name)

		it := txn.NewIterator(opts)
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			tag := string(item.Key()[len(opts.Prefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			moves = append(moves, rekey{
				oldKey: append([]byte{}, item.Key()...),
				newKey: keyCheckpoint(newName, tag),
				val:    val,
			})
		}
		it.Close()

		for _, m := range moves {
			if err := txn.Set(m.newKey, m.val); err != nil {
				return err
			}
			if err := txn.Delete(m.oldKey); err != nil {
				return err
			}
		}
		return nil
	})
}
