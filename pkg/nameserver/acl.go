package nameserver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/nameserver/access"
	"github.com/docfs/docfs/pkg/nameserver/directory"
	"github.com/docfs/docfs/pkg/wire"
)

const (
	flagRead  = "-R"
	flagWrite = "-W"
)

// reqAccess files an access request with the file's owner.
func (s *Server) reqAccess(username, flag, name string) (string, error) {
	if flag == "" || name == "" {
		return "", wire.ErrInvalidArgs
	}
	n, ok := s.dir.Find(name, false)
	if !ok {
		return "", wire.ErrFileNotFound
	}
	if n.Owner == username {
		return "", wire.ErrAlreadyOwner
	}
	perm := n.Access(username)
	if (flag == flagRead && perm >= directory.LevelRead) ||
		(flag == flagWrite && perm >= directory.LevelWrite) {
		return "", wire.ErrAlreadyHasAccess
	}
	if flag != flagRead && flag != flagWrite {
		return "", wire.ErrInvalidFlag
	}

	kind := access.KindRead
	if flag == flagWrite {
		kind = access.KindWrite
	}
	id, err := s.requests.Submit(name, username, n.Owner, kind)
	if err != nil {
		logger.Warn("access request rejected", "file", name, "requester", username, "error", err)
		return "", wire.ErrReqCreate
	}
	logger.Info("access requested", "file", name, "requester", username,
		"owner", n.Owner, "kind", kind.String(), "request_id", id)
	return fmt.Sprintf("%s %d", wire.Ack(wire.VerbReqAccess), id), nil
}

// listRequests renders every request the caller sent or received. The header
// is always present, so an empty table reads as just the column names.
func (s *Server) listRequests(username string) (string, error) {
	var b strings.Builder
	b.WriteString("ID  TYPE   FILE             REQUESTER        OWNER           STATUS")
	for _, r := range s.requests.ListFor(username) {
		fmt.Fprintf(&b, "\n%3d %-6s %-16.16s %-15.15s %-15.15s %-8s",
			r.ID, r.Kind.String(), r.File, r.Requester, r.Owner, r.Status.String())
	}
	return b.String(), nil
}

// resolveRequest approves or denies a pending request. Approval grants the
// permission immediately; grant failures are tolerated because the decision
// itself is already recorded.
func (s *Server) resolveRequest(username, idArg string, approve bool) (string, error) {
	id, err := strconv.Atoi(idArg)
	if err != nil || id <= 0 {
		return "", wire.ErrInvalidID
	}
	req, err := s.requests.Resolve(id, username, approve)
	switch {
	case errors.Is(err, access.ErrNotFound):
		return "", wire.ErrReqNotFound
	case errors.Is(err, access.ErrNotOwner):
		return "", wire.ErrNotRequestOwner
	case errors.Is(err, access.ErrNotPending):
		return "", wire.ErrReqNotPending
	case err != nil:
		return "", wire.ErrInternal
	}

	if !approve {
		logger.Info("access request denied", "request_id", id, "file", req.File,
			"requester", req.Requester, "kind", req.Kind.String())
		return wire.AckDenied, nil
	}

	level := directory.LevelRead
	if req.Kind == access.KindWrite {
		level = directory.LevelWrite
	}
	if err := s.dir.AddAccess(req.File, req.Requester, level); err != nil {
		// The file may be gone or the grant redundant; the approval stands
		// either way.
		switch {
		case errors.Is(err, directory.ErrNotFound),
			errors.Is(err, directory.ErrAlreadyOwner),
			errors.Is(err, directory.ErrAlreadyHasAccess):
		default:
			logger.Warn("grant after approval failed", "request_id", id,
				"file", req.File, "requester", req.Requester, "error", err)
		}
	}
	logger.Info("access request approved", "request_id", id, "file", req.File,
		"requester", req.Requester, "kind", req.Kind.String())
	return wire.AckApproved, nil
}

// addAccess lets an owner grant read or write access directly.
func (s *Server) addAccess(username, flag, name, grantee string) (string, error) {
	if flag == "" || name == "" || grantee == "" {
		return "", wire.ErrInvalidArgs
	}
	n, ok := s.dir.Find(name, false)
	if !ok || n.Owner != username {
		return "", wire.ErrNotFoundOrNotOwner
	}

	var level directory.Level
	var ack string
	switch flag {
	case flagRead:
		level, ack = directory.LevelRead, wire.AckAddAccessRead
	case flagWrite:
		level, ack = directory.LevelWrite, wire.AckAddAccessWrite
	default:
		return "", wire.ErrInvalidFlag
	}

	err := s.dir.AddAccess(name, grantee, level)
	switch {
	case errors.Is(err, directory.ErrACLFull):
		return "", wire.ErrACLFull
	case errors.Is(err, directory.ErrAlreadyOwner):
		return "", wire.ErrAlreadyOwner
	case errors.Is(err, directory.ErrAlreadyHasAccess):
		return "", wire.ErrAlreadyHasAccess
	case err != nil:
		return "", wire.ErrInternal
	}
	logger.Info("access granted", "file", name, "user", grantee,
		"level", flag, "owner", username)
	return ack, nil
}

// remAccess revokes whatever access the user holds on the file.
func (s *Server) remAccess(username, name, target string) (string, error) {
	if name == "" || target == "" {
		return "", wire.ErrInvalidArgs
	}
	n, ok := s.dir.Find(name, false)
	if !ok || n.Owner != username {
		return "", wire.ErrNotFoundOrNotOwner
	}

	level, err := s.dir.RemoveAccess(name, target)
	switch {
	case errors.Is(err, directory.ErrUserNotInACL):
		return "", wire.ErrUserNotInACL
	case err != nil:
		return "", wire.ErrInternal
	}
	logger.Info("access revoked", "file", n.Name, "user", target,
		"had", level.String(), "owner", username)
	return wire.Ack(wire.VerbRemAccess), nil
}
