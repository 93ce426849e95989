package nameserver

import (
	"errors"
	"strconv"
	"time"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/nameserver/registry"
	"github.com/docfs/docfs/pkg/nameserver/session"
	"github.com/docfs/docfs/pkg/wire"
)

// dispatch serves one queued connection. The opening line decides what the
// peer is: a storage server registering, a storage server reporting a commit,
// or a client starting a session. A client session occupies the worker until
// the client hangs up.
func (s *Server) dispatch(t task) {
	cmd := wire.ParseCommand(t.line)
	switch cmd.Verb {
	case wire.VerbRegServer:
		s.handleRegServer(t.conn, cmd)
		t.conn.Close()
	case wire.VerbFileModified:
		s.handleFileModified(cmd)
		t.conn.Close()
	case wire.VerbRegClient:
		s.serveSession(t.conn, cmd)
	default:
		logger.Warn("unrecognized first message", "line", t.line, "remote", t.conn.RemoteAddr())
		t.conn.Close()
	}
}

// handleRegServer processes "REG_SS <id> <client_port> <nm_port>". The
// server's IP is taken from the connection itself, never from the message. A
// known ID re-registering is a recovery: the entry is refreshed and the
// replication engine re-seeds everything the server should hold.
func (s *Server) handleRegServer(conn *wire.Conn, cmd wire.Command) {
	id, err1 := strconv.Atoi(cmd.Arg(0))
	clientPort, err2 := strconv.Atoi(cmd.Arg(1))
	nmPort, err3 := strconv.Atoi(cmd.Arg(2))
	if len(cmd.Args) != 3 || err1 != nil || err2 != nil || err3 != nil {
		logger.Warn("malformed storage server registration", "line", cmd.Raw)
		conn.WriteLine("%s", wire.ErrRegFormat)
		return
	}
	ip := conn.RemoteIP()
	if ip == "" {
		conn.WriteLine("%s", wire.ErrInternal)
		return
	}

	recovered, err := s.fleet.Register(id, ip, clientPort, nmPort)
	switch {
	case errors.Is(err, registry.ErrFull):
		logger.Warn("storage server rejected, fleet is full", "ss_id", id, "ip", ip)
		conn.WriteLine("%s", wire.ErrMaxServers)
	case err != nil:
		logger.Error("storage server registration failed", "ss_id", id, "error", err)
		conn.WriteLine("%s", wire.ErrInternal)
	case recovered:
		logger.Info("storage server re-registered, scheduling recovery sync",
			"ss_id", id, "ip", ip, "client_port", clientPort, "nm_port", nmPort)
		conn.WriteLine(wire.AckRegRecovery)
		s.engine.SyncRecovered(id)
	default:
		logger.Info("storage server registered",
			"ss_id", id, "ip", ip, "client_port", clientPort, "nm_port", nmPort)
		conn.WriteLine(wire.AckReg)
	}
}

// handleFileModified applies a storage server's post-commit stats report and
// kicks off replica synchronization. The report is fire-and-forget; nothing
// is written back.
func (s *Server) handleFileModified(cmd wire.Command) {
	report, err := wire.ParseFileModified(cmd.Args)
	if err != nil {
		logger.Warn("malformed modification report", "line", cmd.Raw, "error", err)
		return
	}
	err = s.dir.UpdateStats(report.Name, report.Size, report.Words, report.Chars, report.LastAccess)
	if err != nil {
		logger.Debug("modification report for unknown file",
			"file", report.Name, "ss_id", report.ServerID)
		return
	}
	logger.Info("file modified", "file", report.Name, "ss_id", report.ServerID,
		"size", report.Size, "words", report.Words, "chars", report.Chars)
	s.engine.SyncModified(report.Name, report.ServerID)
}

// serveSession registers a client and runs its command loop on the same
// connection until it disconnects.
func (s *Server) serveSession(conn *wire.Conn, cmd wire.Command) {
	username := cmd.Arg(0)
	if err := s.sessions.Register(username); err != nil {
		switch {
		case errors.Is(err, session.ErrUsernameInUse):
			logger.Warn("registration rejected, username in use",
				"username", username, "remote", conn.RemoteAddr())
			conn.WriteLine("%s", wire.ErrUsernameInUse)
		case errors.Is(err, session.ErrFull):
			logger.Warn("registration rejected, client table full", "username", username)
			conn.WriteLine("%s", wire.ErrMaxClients)
		default:
			logger.Warn("registration rejected", "error", err, "remote", conn.RemoteAddr())
		}
		conn.Close()
		return
	}
	conn.WriteLine(wire.AckReg)
	logger.Info("client registered", "username", username, "remote", conn.RemoteAddr())

	s.clientConns.Store(username, conn)
	defer func() {
		s.clientConns.Delete(username)
		s.sessions.Disconnect(username)
		conn.Close()
		logger.Info("client disconnected", "username", username)
	}()

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return
		}
		c := wire.ParseCommand(line)
		if c.Verb == "" {
			continue
		}

		start := time.Now()
		reply, cmdErr := s.handleCommand(username, c)
		label, status := c.Verb, "ok"
		if cmdErr != nil {
			status = "error"
			reply = cmdErr.Error()
			if errors.Is(cmdErr, wire.ErrUnknownCommand) {
				label = "unknown"
				logger.Warn("unknown command", "username", username, "line", line)
			}
		}
		s.metrics.ObserveCommand(label, status, time.Since(start))

		if err := conn.WriteLine("%s", reply); err != nil {
			logger.Debug("reply write failed", "username", username, "error", err)
			return
		}
	}
}

// handleCommand executes one session verb. It returns either the reply body
// (newline-joined, without the trailing newline) or a wire.Error whose value
// is the exact token to send. Keeping handlers off the connection lets them
// be tested without sockets.
func (s *Server) handleCommand(username string, cmd wire.Command) (string, error) {
	switch cmd.Verb {
	case wire.VerbCreate:
		return s.create(username, cmd.Arg(0))
	case wire.VerbTrash:
		return s.trash(username, cmd.Arg(0))
	case wire.VerbRestore:
		return s.restore(username, cmd.Arg(0))
	case wire.VerbEmptyTrash:
		return s.emptyTrash(username)
	case wire.VerbDelete:
		return s.deleteFile(username, cmd.Arg(0))
	case wire.VerbCreateFolder:
		return s.createFolder(username, cmd.Arg(0))
	case wire.VerbMove:
		return s.move(username, cmd.Arg(0), cmd.Arg(1))
	case wire.VerbRead, wire.VerbStream, wire.VerbWrite, wire.VerbUndo,
		wire.VerbCheckpoint, wire.VerbRevert, wire.VerbViewCheckpoint,
		wire.VerbListCheckpoints:
		return s.redirect(username, cmd)
	case wire.VerbExec:
		return s.execScript(username, cmd.Arg(0))
	case wire.VerbView:
		return s.view(username, cmd.Args)
	case wire.VerbViewTrash:
		return s.viewTrash(username)
	case wire.VerbViewFolder:
		return s.viewFolder(username, cmd.Arg(0))
	case wire.VerbInfo:
		return s.info(username, cmd.Arg(0))
	case wire.VerbList:
		return s.listUsers()
	case wire.VerbReqAccess:
		return s.reqAccess(username, cmd.Arg(0), cmd.Arg(1))
	case wire.VerbListReq:
		return s.listRequests(username)
	case wire.VerbApprove:
		return s.resolveRequest(username, cmd.Arg(0), true)
	case wire.VerbDeny:
		return s.resolveRequest(username, cmd.Arg(0), false)
	case wire.VerbAddAccess:
		return s.addAccess(username, cmd.Arg(0), cmd.Arg(1), cmd.Arg(2))
	case wire.VerbRemAccess:
		return s.remAccess(username, cmd.Arg(0), cmd.Arg(1))
	case wire.VerbMan:
		return manPage(cmd.Arg(0)), nil
	default:
		return "", wire.ErrUnknownCommand
	}
}

// manPage answers the lowercase man verb. Pages exist only for the commands
// whose behavior is not obvious from the usage line.
func manPage(topic string) string {
	switch topic {
	case "":
		return "Usage: man <COMMAND>\n" +
			"Try: man CREATE, man READ, man WRITE, man CHECKPOINT, man REQACCESS, man LISTREQ, man APPROVE, man DENY"
	case wire.VerbCheckpoint:
		return "CHECKPOINT <filename> <tag>\n" +
			"  Save current file content as a named checkpoint. Requires WRITE access."
	case wire.VerbViewCheckpoint:
		return "VIEWCHECKPOINT <filename> <tag>\n" +
			"  View contents of a specific checkpoint. Requires READ access."
	case wire.VerbListCheckpoints:
		return "LISTCHECKPOINTS <filename>\n" +
			"  List all checkpoint tags saved for the file. Requires READ access."
	case wire.VerbRevert:
		return "REVERT <filename> <tag>\n" +
			"  Revert file to the specified checkpoint. Creates a .bak for UNDO. Requires WRITE access."
	case wire.VerbReqAccess:
		return "REQACCESS -R|-W <filename>\n" +
			"  Ask the owner for READ or WRITE access to a file you don't own."
	case wire.VerbListReq:
		return "LISTREQ\n" +
			"  List access requests related to you. Shows sent and received with status and IDs."
	case wire.VerbApprove:
		return "APPROVE <request_id>\n" +
			"  Approve a pending access request for a file you own. Automatically updates ACL."
	case wire.VerbDeny:
		return "DENY <request_id>\n" +
			"  Deny a pending access request for a file you own."
	default:
		return "No manual entry for that command."
	}
}
