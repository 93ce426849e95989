package nameserver

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/nameserver/directory"
	"github.com/docfs/docfs/pkg/nameserver/registry"
	"github.com/docfs/docfs/pkg/wire"
)

func (s *Server) create(username, name string) (string, error) {
	if name == "" {
		return "", wire.ErrNoFilename
	}
	if err := directory.ValidateName(name); err != nil {
		return "", wire.ErrInvalidArgs
	}
	if n, ok := s.dir.Find(name, true); ok {
		if n.InTrash {
			return "", wire.ErrFileInTrash
		}
		return "", wire.ErrFileExists
	}

	primary, ok := s.fleet.PickPrimary()
	if !ok {
		return "", wire.ErrNoSSAvailable
	}
	if err := s.ss.CreateFile(s.ctx, primary.NMAddr(), name); err != nil {
		logger.Warn("create on storage server failed",
			"file", name, "ss_id", primary.ID, "error", err)
		return "", wire.ErrSSCreateFailed
	}

	ids := s.placement(primary)
	if err := s.dir.InsertFile(name, username, ids); err != nil {
		return "", wire.ErrFileExists
	}
	if len(ids) > 1 {
		s.engine.ReplicateNew(name, ids[1:])
	}
	s.cache.Put(name, primary.ID)
	logger.Info("file created", "file", name, "owner", username,
		"primary", primary.ID, "replicas", ids[1:])
	return wire.Ack(wire.VerbCreate), nil
}

func (s *Server) createFolder(username, name string) (string, error) {
	if name == "" {
		return "", wire.ErrNoFolderName
	}
	if err := directory.ValidateFolderName(name); err != nil {
		return "", wire.ErrInvalidArgs
	}
	if _, ok := s.dir.Find(name, true); ok {
		return "", wire.ErrFolderExists
	}

	primary, ok := s.fleet.PickPrimary()
	if !ok {
		return "", wire.ErrNoSSAvailable
	}
	if err := s.ss.CreateFolder(s.ctx, primary.NMAddr(), name); err != nil {
		logger.Warn("folder create on storage server failed",
			"folder", name, "ss_id", primary.ID, "error", err)
		return "", wire.ErrSSCreateFolderFailed
	}

	ids := s.placement(primary)
	if err := s.dir.InsertFolder(name, username, ids); err != nil {
		return "", wire.ErrFolderExists
	}
	if len(ids) > 1 {
		s.engine.ReplicateNewFolder(name, ids[1:])
	}
	logger.Info("folder created", "folder", name, "owner", username, "primary", primary.ID)
	return wire.Ack(wire.VerbCreateFolder), nil
}

// placement picks the replica set for a new entry: the chosen primary first,
// then enough distinct active servers to reach the replication factor.
func (s *Server) placement(primary registry.Server) []int {
	replicas := s.fleet.SelectReplicas(primary.ID, s.cfg.ReplicationFactor-1)
	ids := make([]int, 0, 1+len(replicas))
	ids = append(ids, primary.ID)
	for _, r := range replicas {
		ids = append(ids, r.ID)
	}
	return ids
}

func (s *Server) trash(username, name string) (string, error) {
	if name == "" {
		return "", wire.ErrNoFilename
	}
	n, ok := s.dir.Find(name, true)
	if !ok {
		return "", wire.ErrFileNotFound
	}
	if n.Owner != username {
		return "", wire.ErrPermissionDenied
	}
	if n.InTrash {
		return "", wire.ErrAlreadyInTrash
	}
	if n.IsFolder {
		return "", wire.ErrCannotDeleteFolder
	}
	if s.anyReplicaLocked(n) {
		return "", wire.ErrFileLocked
	}
	if err := s.dir.SetTrash(name, true); err != nil {
		return "", wire.ErrInternal
	}
	s.cache.Invalidate(name)
	logger.Info("file trashed", "file", name, "owner", username)
	return wire.AckTrashed, nil
}

func (s *Server) restore(username, name string) (string, error) {
	if name == "" {
		return "", wire.ErrNoFilename
	}
	n, ok := s.dir.Find(name, true)
	if !ok {
		return "", wire.ErrFileNotFound
	}
	if n.Owner != username {
		return "", wire.ErrPermissionDenied
	}
	if !n.InTrash {
		return "", wire.ErrNotInTrash
	}
	if err := s.dir.SetTrash(name, false); err != nil {
		return "", wire.ErrInternal
	}
	s.cache.Invalidate(name)
	logger.Info("file restored", "file", name, "owner", username)
	return wire.AckRestored, nil
}

// emptyTrash purges every trashed file the caller owns. Unreachable replicas
// are skipped; their copies get cleaned up by recovery sync if the server
// ever returns. A replica that refuses the delete because a write session
// still holds the file keeps the entry in trash for the next purge.
func (s *Server) emptyTrash(username string) (string, error) {
	purged := 0
	for _, n := range s.dir.ListTrash(username) {
		locked := false
		for _, id := range n.Replicas {
			srv, ok := s.fleet.Get(id)
			if !ok || !srv.Active {
				continue
			}
			if err := s.ss.DeleteFile(s.ctx, srv.NMAddr(), n.Name); err != nil {
				if errors.Is(err, wire.ErrFileLocked) {
					locked = true
				}
				logger.Warn("purge on storage server failed",
					"file", n.Name, "ss_id", id, "error", err)
			}
		}
		if locked {
			logger.Warn("purge skipped, file locked on a replica", "file", n.Name)
			continue
		}
		if err := s.dir.Delete(n.Name); err != nil {
			logger.Warn("purge from directory failed", "file", n.Name, "error", err)
			continue
		}
		s.cache.Invalidate(n.Name)
		purged++
	}
	logger.Info("trash emptied", "owner", username, "purged", purged)
	return fmt.Sprintf("%s %d files permanently deleted.", wire.Ack(wire.VerbEmptyTrash), purged), nil
}

func (s *Server) deleteFile(username, name string) (string, error) {
	if name == "" {
		return "", wire.ErrNoFilename
	}
	n, ok := s.dir.Find(name, false)
	if !ok {
		return "", wire.ErrFileNotFound
	}
	if n.Owner != username {
		return "", wire.ErrPermissionDenied
	}
	if n.IsFolder {
		return "", wire.ErrCannotDeleteFolder
	}
	if s.anyReplicaLocked(n) {
		return "", wire.ErrFileLocked
	}

	deleted := 0
	for _, id := range n.Replicas {
		srv, ok := s.fleet.Get(id)
		if !ok || !srv.Active {
			continue
		}
		if err := s.ss.DeleteFile(s.ctx, srv.NMAddr(), name); err != nil {
			logger.Warn("delete on storage server failed",
				"file", name, "ss_id", id, "error", err)
			continue
		}
		deleted++
	}
	if deleted == 0 {
		return "", wire.ErrSSDeleteFailed
	}
	if err := s.dir.Delete(name); err != nil {
		return "", wire.ErrInternal
	}
	s.cache.Invalidate(name)
	logger.Info("file deleted", "file", name, "owner", username, "copies", deleted)
	return wire.Ack(wire.VerbDelete), nil
}

func (s *Server) move(username, src, dest string) (string, error) {
	if src == "" || dest == "" {
		return "", wire.ErrInvalidArgs
	}
	n, ok := s.dir.Find(src, false)
	if !ok {
		return "", wire.ErrFileNotFound
	}
	if n.Access(username) < directory.LevelWrite {
		return "", wire.ErrPermissionDenied
	}
	if n.IsFolder {
		return "", wire.ErrMoveFailed
	}
	newName := directory.BaseName(src)
	if dest != "." {
		f, ok := s.dir.Find(dest, false)
		if !ok || !f.IsFolder {
			return "", wire.ErrFolderNotFound
		}
		newName = dest + "/" + directory.BaseName(src)
	}
	// A taken destination name, trashed or not, must be rejected before any
	// replica is told to rename; otherwise the rename would clobber the
	// occupant's bytes on disk.
	if newName != src {
		if _, taken := s.dir.Find(newName, true); taken {
			return "", wire.ErrFileExists
		}
	}

	moved := 0
	for _, id := range n.Replicas {
		srv, ok := s.fleet.Get(id)
		if !ok || !srv.Active {
			continue
		}
		if dest != "." {
			// The folder may not exist on this replica yet. Best effort;
			// the move below is what counts.
			if err := s.ss.CreateFolder(s.ctx, srv.NMAddr(), dest); err != nil {
				logger.Debug("folder ensure failed", "folder", dest, "ss_id", id, "error", err)
			}
		}
		if err := s.ss.Move(s.ctx, srv.NMAddr(), src, dest); err != nil {
			logger.Warn("move on storage server failed",
				"file", src, "dest", dest, "ss_id", id, "error", err)
			continue
		}
		moved++
	}
	if moved == 0 {
		return "", wire.ErrSSMoveFailed
	}

	newName, err := s.dir.Move(src, dest)
	if err != nil {
		logger.Warn("directory move failed", "file", src, "dest", dest, "error", err)
		return "", wire.ErrMoveFailed
	}
	s.cache.Invalidate(src)
	logger.Info("file moved", "from", src, "to", newName, "user", username, "copies", moved)
	return wire.Ack(wire.VerbMove), nil
}

// redirectPolicy is what a data verb requires before the name server hands
// out a storage server address.
type redirectPolicy struct {
	need   directory.Level
	denied wire.Error

	// primaryOnly pins the verb to the file's primary. Edit history and
	// checkpoints live only on the server that recorded them, so those
	// verbs must not fail over to a replica.
	primaryOnly bool
}

var redirectPolicies = map[string]redirectPolicy{
	wire.VerbRead:            {need: directory.LevelRead, denied: wire.ErrReadPermissionDenied},
	wire.VerbStream:          {need: directory.LevelRead, denied: wire.ErrReadPermissionDenied},
	wire.VerbWrite:           {need: directory.LevelWrite, denied: wire.ErrWritePermissionDenied},
	wire.VerbUndo:            {need: directory.LevelWrite, denied: wire.ErrPermissionDenied, primaryOnly: true},
	wire.VerbCheckpoint:      {need: directory.LevelWrite, denied: wire.ErrPermissionDenied, primaryOnly: true},
	wire.VerbRevert:          {need: directory.LevelWrite, denied: wire.ErrPermissionDenied, primaryOnly: true},
	wire.VerbViewCheckpoint:  {need: directory.LevelRead, denied: wire.ErrPermissionDenied, primaryOnly: true},
	wire.VerbListCheckpoints: {need: directory.LevelRead, denied: wire.ErrPermissionDenied, primaryOnly: true},
}

// redirect answers a data verb with the storage server the client should
// replay it against. Permissions are checked before server selection, so a
// denied caller learns nothing about replica placement or liveness.
func (s *Server) redirect(username string, cmd wire.Command) (string, error) {
	pol := redirectPolicies[cmd.Verb]
	name := cmd.Arg(0)
	if name == "" {
		return "", wire.ErrNoFilename
	}
	n, ok := s.dir.Find(name, true)
	if !ok {
		return "", wire.ErrFileNotFound
	}
	if n.InTrash {
		return "", wire.ErrFileInTrash
	}
	if n.Access(username) < pol.need {
		return "", pol.denied
	}

	var srv registry.Server
	if pol.primaryOnly {
		srv, ok = s.primaryServer(n)
	} else {
		srv, ok = s.pickCached(name, n.Replicas)
	}
	if !ok {
		return "", wire.ErrSSUnreachable
	}
	s.metrics.RecordRedirect(cmd.Verb)
	logger.Info("redirect", "verb", cmd.Verb, "file", name, "user", username,
		"ss_id", srv.ID, "addr", srv.ClientAddr())
	return wire.Redirect{Verb: cmd.Verb, Host: srv.IP, Port: srv.ClientPort}.String(), nil
}

// pickCached resolves a file to an active server, preferring the lookup
// cache and falling back to the first live replica in placement order.
func (s *Server) pickCached(name string, replicas []int) (registry.Server, bool) {
	if id, ok := s.cache.Get(name); ok {
		if srv, ok := s.fleet.Get(id); ok && srv.Active {
			logger.Debug("lookup cache hit", "file", name, "ss_id", id)
			return srv, true
		}
		s.cache.Invalidate(name)
		logger.Debug("cached server inactive, trying replicas", "file", name)
	}
	for _, id := range replicas {
		if srv, ok := s.fleet.Get(id); ok && srv.Active {
			s.cache.Put(name, id)
			return srv, true
		}
	}
	return registry.Server{}, false
}

// primaryServer returns the entry's primary if it is registered and active.
func (s *Server) primaryServer(n directory.Node) (registry.Server, bool) {
	id, ok := n.Primary()
	if !ok {
		return registry.Server{}, false
	}
	srv, ok := s.fleet.Get(id)
	if !ok || !srv.Active {
		return registry.Server{}, false
	}
	return srv, true
}

// anyReplicaLocked checks every live replica before a trash or permanent
// delete. An unreachable replica counts as unlocked; any lock it held dies
// with it.
func (s *Server) anyReplicaLocked(n directory.Node) bool {
	for _, id := range n.Replicas {
		srv, ok := s.fleet.Get(id)
		if !ok || !srv.Active {
			continue
		}
		locked, err := s.ss.CheckLocks(s.ctx, srv.NMAddr(), n.Name)
		if err != nil {
			logger.Debug("lock check failed", "file", n.Name, "ss_id", id, "error", err)
			continue
		}
		if locked {
			return true
		}
	}
	return false
}

// execScript fetches a document from its primary, runs it through the shell
// on the name server host, and returns whatever the script printed, stderr
// included. The script's exit status is ignored; output is the contract.
func (s *Server) execScript(username, name string) (string, error) {
	n, ok := s.dir.Find(name, false)
	if !ok {
		return "", wire.ErrFileNotFound
	}
	if n.Access(username) < directory.LevelRead {
		return "", wire.ErrReadPermissionDenied
	}
	srv, ok := s.primaryServer(n)
	if !ok {
		return "", wire.ErrSSUnreachable
	}

	content, err := s.ss.FetchFile(s.ctx, srv.ClientAddr(), name)
	if err != nil {
		logger.Warn("script fetch failed", "file", name, "ss_id", srv.ID, "error", err)
		return "", wire.ErrSSUnreachable
	}
	if len(content) == 0 {
		return "", wire.ErrFileEmpty
	}

	tmp, err := os.CreateTemp("", "docfs-exec-*.sh")
	if err != nil {
		return "", wire.ErrExecFailed
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", wire.ErrExecFailed
	}
	if err := tmp.Close(); err != nil {
		return "", wire.ErrExecFailed
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return "", wire.ErrExecFailed
	}

	out, err := exec.CommandContext(s.ctx, "/bin/sh", "-c", path).CombinedOutput()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		logger.Warn("script start failed", "file", name, "error", err)
		return "", wire.ErrExecStart
	}
	logger.Info("script executed", "file", name, "user", username, "output_bytes", len(out))
	return strings.TrimSuffix(string(out), "\n"), nil
}
