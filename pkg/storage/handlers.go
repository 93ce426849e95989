package storage

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/storage/archive"
	"github.com/docfs/docfs/pkg/wire"
)

// handleClient serves one redirected client connection: a single verb line,
// then the verb's own exchange, then close. Failures are answered with the
// exact protocol token the error carries; anything else becomes
// ERR_INTERNAL.
func (s *Server) handleClient(raw net.Conn) {
	defer s.conns.Done()
	conn := wire.NewConn(raw)
	defer conn.Close()

	line, err := conn.ReadLine()
	if err != nil {
		logger.Debug("client connection closed before command", "remote", raw.RemoteAddr())
		return
	}
	cmd := wire.ParseCommand(line)

	start := time.Now()
	err = s.serveClientCommand(conn, cmd)
	status := "ok"
	if err != nil {
		status = "error"
		var werr wire.Error
		if !errors.As(err, &werr) {
			logger.Error("client command failed", "verb", cmd.Verb, "error", err)
			werr = wire.ErrInternal
		}
		_ = conn.WriteLine("%s", werr.Error())
	}
	s.metrics.ObserveRequest("client", cmd.Verb, status, time.Since(start))
}

func (s *Server) serveClientCommand(conn *wire.Conn, cmd wire.Command) error {
	switch cmd.Verb {
	case wire.VerbRead:
		return s.serveRead(conn, cmd.Arg(0))
	case wire.VerbStream:
		return s.serveStream(conn, cmd.Arg(0))
	case wire.VerbWrite:
		return s.serveWrite(conn, cmd)
	case wire.VerbUndo:
		return s.serveUndo(conn, cmd.Arg(0))
	case wire.VerbCheckpoint:
		return s.serveCheckpoint(conn, cmd.Arg(0), cmd.Arg(1))
	case wire.VerbRevert:
		return s.serveRevert(conn, cmd.Arg(0), cmd.Arg(1))
	case wire.VerbViewCheckpoint:
		return s.serveViewCheckpoint(conn, cmd.Arg(0), cmd.Arg(1))
	case wire.VerbListCheckpoints:
		return s.serveListCheckpoints(conn, cmd.Arg(0))
	case wire.VerbShutdown:
		logger.Info("shutdown requested over client port", "remote", conn.RemoteAddr())
		_ = conn.WriteLine(wire.Ack(wire.VerbShutdown))
		s.initiateShutdown()
		return nil
	default:
		logger.Debug("unknown client verb", "verb", cmd.Verb)
		return wire.ErrSSUnknownCommand
	}
}

// serveRead sends the file's bytes and closes; EOF marks the end for the
// reader. Replication fetches use the same path as clients.
func (s *Server) serveRead(conn *wire.Conn, name string) error {
	if name == "" {
		return wire.ErrInvalidArgs
	}
	data, err := s.store.Read(name)
	if err != nil {
		return wire.ErrFileNotFound
	}
	if err := conn.WriteRaw(data); err != nil {
		logger.Debug("read send failed", "file", name, "error", err)
		return nil
	}
	s.metrics.AddBytesRead(int64(len(data)))
	logger.Debug("served read", "file", name, "bytes", len(data))
	return nil
}

// serveStream sends the file one character at a time, pacing each by the
// configured delay. Shutdown aborts a stream in progress.
func (s *Server) serveStream(conn *wire.Conn, name string) error {
	if name == "" {
		return wire.ErrInvalidArgs
	}
	data, err := s.store.Read(name)
	if err != nil {
		return wire.ErrFileNotFound
	}

	var pace *time.Ticker
	if s.cfg.StreamDelay > 0 {
		pace = time.NewTicker(s.cfg.StreamDelay)
		defer pace.Stop()
	}
	for i := range data {
		if err := conn.WriteRaw(data[i : i+1]); err != nil {
			logger.Debug("stream aborted by reader", "file", name, "error", err)
			return nil
		}
		if pace != nil {
			select {
			case <-s.shutdown:
				return nil
			case <-pace.C:
			}
		}
	}
	s.metrics.AddBytesRead(int64(len(data)))
	logger.Debug("served stream", "file", name, "bytes", len(data))
	return nil
}

// serveUndo swaps the file's content for its undo snapshot and clears the
// slot, so a second UNDO has no history to replay.
func (s *Server) serveUndo(conn *wire.Conn, name string) error {
	if name == "" {
		return wire.ErrInvalidArgs
	}
	if !s.store.Exists(name) {
		return wire.ErrFileNotFound
	}
	prev, err := s.archive.TakeUndo(name)
	if errors.Is(err, archive.ErrNoUndo) {
		return wire.ErrUndoNoHistory
	}
	if err != nil {
		return fmt.Errorf("take undo snapshot: %w", err)
	}
	if err := s.store.Write(name, prev); err != nil {
		// Put the snapshot back so the history is not lost to a disk hiccup.
		_ = s.archive.SaveUndo(name, prev)
		return fmt.Errorf("restore undo snapshot: %w", err)
	}
	s.metrics.RecordArchiveOp("undo_restore")

	_ = conn.WriteLine(wire.AckUndoSuccess)
	logger.Info("undo applied", "file", name, "bytes", len(prev))
	s.reportModified(name)
	return nil
}

// serveCheckpoint snapshots the file's current content under a tag. Saving
// to an existing tag overwrites it.
func (s *Server) serveCheckpoint(conn *wire.Conn, name, tag string) error {
	if name == "" || tag == "" {
		return wire.ErrInvalidArgs
	}
	current, err := s.store.Read(name)
	if err != nil {
		return wire.ErrFileNotFound
	}
	if err := s.archive.SaveCheckpoint(name, tag, current); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.metrics.RecordArchiveOp("checkpoint_save")

	_ = conn.WriteLine(wire.Ack(wire.VerbCheckpoint))
	logger.Info("checkpoint saved", "file", name, "tag", tag, "bytes", len(current))
	return nil
}

// serveRevert restores a checkpoint's content. The pre-revert content goes
// to the undo slot first, so a mistaken revert is recoverable.
func (s *Server) serveRevert(conn *wire.Conn, name, tag string) error {
	if name == "" || tag == "" {
		return wire.ErrInvalidArgs
	}
	snap, err := s.archive.Checkpoint(name, tag)
	if errors.Is(err, archive.ErrNoCheckpoint) {
		return wire.ErrCheckpointNotFound
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	current, err := s.store.Read(name)
	if err != nil {
		return wire.ErrFileNotFound
	}
	if err := s.archive.SaveUndo(name, current); err != nil {
		return fmt.Errorf("save undo snapshot: %w", err)
	}
	if err := s.store.Write(name, snap); err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}
	s.metrics.RecordArchiveOp("revert")

	_ = conn.WriteLine(wire.Ack(wire.VerbRevert))
	logger.Info("checkpoint restored", "file", name, "tag", tag, "bytes", len(snap))
	s.reportModified(name)
	return nil
}

// serveViewCheckpoint sends a checkpoint's bytes like a READ of the past.
func (s *Server) serveViewCheckpoint(conn *wire.Conn, name, tag string) error {
	if name == "" || tag == "" {
		return wire.ErrInvalidArgs
	}
	snap, err := s.archive.Checkpoint(name, tag)
	if errors.Is(err, archive.ErrNoCheckpoint) {
		return wire.ErrCheckpointNotFound
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	s.metrics.RecordArchiveOp("checkpoint_view")
	if err := conn.WriteRaw(snap); err != nil {
		logger.Debug("checkpoint send failed", "file", name, "tag", tag, "error", err)
	}
	return nil
}

// serveListCheckpoints sends one tag per line and closes.
func (s *Server) serveListCheckpoints(conn *wire.Conn, name string) error {
	if name == "" {
		return wire.ErrInvalidArgs
	}
	if !s.store.Exists(name) {
		return wire.ErrFileNotFound
	}
	tags, err := s.archive.Checkpoints(name)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	s.metrics.RecordArchiveOp("checkpoint_list")
	for _, tag := range tags {
		if err := conn.WriteLine("%s", tag); err != nil {
			return nil
		}
	}
	return nil
}

// handleControl serves one control-port connection from the name server:
// one NM_* command, one reply line. Unknown verbs are dropped without a
// reply, matching what the name server's client treats as a dead exchange.
func (s *Server) handleControl(raw net.Conn) {
	defer s.conns.Done()
	conn := wire.NewConn(raw)
	defer conn.Close()

	line, err := conn.ReadLine()
	if err != nil {
		return
	}
	cmd := wire.ParseCommand(line)

	start := time.Now()
	reply, err := s.serveControlCommand(conn, cmd)
	status := "ok"
	if err != nil {
		status = "error"
		var werr wire.Error
		if !errors.As(err, &werr) {
			logger.Error("control command failed", "verb", cmd.Verb, "error", err)
			werr = wire.ErrInternal
		}
		reply = werr.Error()
	}
	if reply != "" {
		_ = conn.WriteLine("%s", reply)
	}
	s.metrics.ObserveRequest("management", cmd.Verb, status, time.Since(start))
}

func (s *Server) serveControlCommand(conn *wire.Conn, cmd wire.Command) (string, error) {
	switch cmd.Verb {
	case wire.VerbNMCreate:
		return s.controlCreate(cmd.Arg(0))
	case wire.VerbNMDelete:
		return s.controlDelete(cmd.Arg(0))
	case wire.VerbNMCreateFolder:
		return s.controlCreateFolder(cmd.Arg(0))
	case wire.VerbNMMove:
		return s.controlMove(cmd.Arg(0), cmd.Arg(1))
	case wire.VerbNMCheckLocks:
		if s.locks.Locked(cmd.Arg(0)) {
			return wire.FileLocked, nil
		}
		return wire.FileUnlocked, nil
	case wire.VerbNMGetSize:
		return s.controlSize(cmd.Arg(0)), nil
	case wire.VerbNMGetStats:
		return s.controlStats(cmd.Arg(0)), nil
	case wire.VerbNMWriteContent:
		return s.controlWriteContent(conn, cmd)
	default:
		logger.Warn("unknown control verb", "verb", cmd.Verb, "remote", conn.RemoteAddr())
		return "", nil
	}
}

func (s *Server) controlCreate(name string) (string, error) {
	if err := s.store.Create(name); err != nil {
		logger.Warn("control create failed", "file", name, "error", err)
		return "", wire.ErrNMCreate
	}
	s.metrics.SetFilesHeld(s.store.CountFiles())
	logger.Info("file created", "file", name)
	return wire.Ack(wire.VerbNMCreate), nil
}

// controlDelete refuses while any sentence is write-locked; the name server
// probes locks first, but the race is closed here.
func (s *Server) controlDelete(name string) (string, error) {
	if s.locks.Locked(name) {
		return "", wire.ErrFileLocked
	}
	if err := s.store.Delete(name); err != nil {
		logger.Warn("control delete failed", "file", name, "error", err)
		return "", wire.ErrNMDelete
	}
	if err := s.archive.Purge(name); err != nil {
		logger.Warn("archive purge failed", "file", name, "error", err)
	} else {
		s.metrics.RecordArchiveOp("purge")
	}
	s.metrics.SetFilesHeld(s.store.CountFiles())
	logger.Info("file deleted", "file", name)
	return wire.Ack(wire.VerbNMDelete), nil
}

func (s *Server) controlCreateFolder(name string) (string, error) {
	if err := s.store.CreateFolder(name); err != nil {
		logger.Warn("control createfolder failed", "folder", name, "error", err)
		return "", wire.ErrNMCreateFolder
	}
	logger.Info("folder created", "folder", name)
	return wire.Ack(wire.VerbNMCreateFolder), nil
}

func (s *Server) controlMove(name, dest string) (string, error) {
	if name == "" || dest == "" {
		return "", wire.ErrNMMove
	}
	newName, err := s.store.Move(name, dest)
	if err != nil {
		logger.Warn("control move failed", "file", name, "dest", dest, "error", err)
		return "", wire.ErrNMMove
	}
	// Undo and checkpoint history follows the file to its new name.
	if err := s.archive.Rename(name, newName); err != nil {
		logger.Warn("archive rename failed", "file", name, "new_name", newName, "error", err)
	} else if newName != name {
		s.metrics.RecordArchiveOp("rename")
	}
	logger.Info("file moved", "file", name, "new_name", newName)
	return wire.Ack(wire.VerbNMMove), nil
}

// controlSize answers with zero for anything unreadable; the name server
// treats the probe as best effort.
func (s *Server) controlSize(name string) string {
	st, err := s.store.Stats(name)
	if err != nil {
		logger.Debug("size probe failed", "file", name, "error", err)
		return "SIZE 0"
	}
	return fmt.Sprintf("SIZE %d", st.Size)
}

func (s *Server) controlStats(name string) string {
	st, err := s.store.Stats(name)
	if err != nil {
		logger.Debug("stats probe failed", "file", name, "error", err)
		return wire.Stats{}.String()
	}
	return wire.Stats{
		Size:       st.Size,
		Words:      st.Words,
		Chars:      st.Chars,
		LastAccess: st.LastAccess,
	}.String()
}

// controlWriteContent replaces a file's bytes wholesale from a framed push.
// This is the replication path, so it deliberately does not push a
// modification report of its own.
func (s *Server) controlWriteContent(conn *wire.Conn, cmd wire.Command) (string, error) {
	name := cmd.Arg(0)
	size, err := strconv.Atoi(cmd.Arg(1))
	if name == "" || err != nil || size < 0 || size > maxContentPush {
		return "", wire.ErrNMWriteContent
	}
	buf := make([]byte, size)
	if err := conn.ReadFull(buf); err != nil {
		logger.Warn("content push truncated", "file", name, "want", size, "error", err)
		return "", wire.ErrNMWriteContent
	}
	if err := s.store.Write(name, buf); err != nil {
		logger.Warn("content push write failed", "file", name, "error", err)
		return "", wire.ErrNMWriteContent
	}
	s.metrics.AddBytesWritten(int64(size))
	s.metrics.SetFilesHeld(s.store.CountFiles())
	logger.Info("content replaced", "file", name, "bytes", size)
	return wire.Ack(wire.VerbNMWriteContent), nil
}
