package storage

import (
	"errors"
	"strconv"
	"strings"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/storage/docstore"
	"github.com/docfs/docfs/pkg/wire"
)

// serveWrite runs a write edit session: "WRITE <file> <sentence>" locks one
// sentence, ACK_WRITE_LOCKED opens the session, then the client sends
// "<word_index> <content>" lines and finally ETIRW to commit.
//
// Edits apply to an in-memory copy of the locked sentence only. At commit
// the file is re-read and the sentence spliced back in, so sessions holding
// other sentences of the same file do not clobber each other. Invalid edit
// lines are answered inline and the session stays open; the client collects
// those tokens together with the final verdict after ETIRW. A dropped
// connection discards every edit and releases the lock.
func (s *Server) serveWrite(conn *wire.Conn, cmd wire.Command) error {
	name := cmd.Arg(0)
	if name == "" || cmd.Arg(1) == "" {
		s.metrics.RecordWriteSession("rejected")
		return wire.ErrInvalidArgs
	}
	content, err := s.store.Read(name)
	if err != nil {
		s.metrics.RecordWriteSession("rejected")
		return wire.ErrFileNotFound
	}
	doc := docstore.Parse(content)

	sentence, err := strconv.Atoi(cmd.Arg(1))
	if err != nil || sentence < 1 || sentence > doc.Len()+1 {
		s.metrics.RecordWriteSession("rejected")
		return wire.ErrInvalidSentence
	}

	if !s.locks.Acquire(name, sentence) {
		s.metrics.RecordLockConflict()
		s.metrics.RecordWriteSession("rejected")
		return wire.ErrWriteLockConflict
	}
	defer s.locks.Release(name, sentence)

	// nil when appending sentence N+1.
	working := doc.Words(sentence)

	if err := conn.WriteLine(wire.AckWriteLocked); err != nil {
		s.metrics.RecordWriteSession("aborted")
		return nil
	}
	logger.Info("write session opened",
		"file", name, "sentence", sentence, "remote", conn.RemoteAddr())

	edits := 0
	for {
		line, err := conn.ReadLine()
		if err != nil {
			logger.Info("write session dropped",
				"file", name, "sentence", sentence, "edits_discarded", edits)
			s.metrics.RecordWriteSession("aborted")
			return nil
		}
		line = strings.TrimSpace(line)
		if line == wire.EditCommit {
			break
		}

		idx, rest, _ := strings.Cut(line, " ")
		w, err := strconv.Atoi(idx)
		if err != nil || strings.TrimSpace(rest) == "" {
			_ = conn.WriteLine("%s", wire.ErrInvalidArgs)
			continue
		}
		updated, err := docstore.EditWords(working, w, rest)
		if err != nil {
			if !errors.Is(err, docstore.ErrWordIndex) {
				logger.Debug("edit rejected", "file", name, "line", line, "error", err)
			}
			_ = conn.WriteLine("%s", wire.ErrInvalidWordIndex)
			continue
		}
		working = updated
		edits++
	}

	return s.commitWrite(conn, name, sentence, working, edits)
}

// commitWrite snapshots the current content into the undo slot, splices the
// edited sentence into a fresh parse of the file, and writes it back.
func (s *Server) commitWrite(conn *wire.Conn, name string, sentence int, working []string, edits int) error {
	current, err := s.store.Read(name)
	if err != nil {
		// Deleted out from under the lock by a direct control push.
		s.metrics.RecordWriteSession("aborted")
		return wire.ErrFileNotFound
	}
	if err := s.archive.SaveUndo(name, current); err != nil {
		logger.Error("undo snapshot failed", "file", name, "error", err)
		s.metrics.RecordWriteSession("aborted")
		return wire.ErrInternal
	}
	s.metrics.RecordArchiveOp("undo_save")

	merged := docstore.Parse(current)
	merged.SetSentence(sentence, working)
	out := merged.Bytes()
	if err := s.store.Write(name, out); err != nil {
		logger.Error("commit write failed", "file", name, "error", err)
		s.metrics.RecordWriteSession("aborted")
		return wire.ErrInternal
	}

	_ = conn.WriteLine(wire.AckWriteSuccess)
	s.metrics.RecordWriteSession("committed")
	s.metrics.AddBytesWritten(int64(len(out)))
	logger.Info("write session committed",
		"file", name, "sentence", sentence, "edits", edits, "bytes", len(out))
	s.reportModified(name)
	return nil
}
