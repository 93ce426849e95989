// Package wire defines the line protocol spoken between clients, the name
// server, and storage servers.
//
// Every request and reply is a single ASCII line terminated by '\n'. Replies
// are either acknowledgements ("ACK_<VERB>", optionally followed by payload
// fields) or error tokens ("ERR_<REASON>"). A few operations carry a raw byte
// payload after the header line (see VerbNMWriteContent); everything else is
// plain text.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Client-facing verbs accepted by the name server.
const (
	VerbCreate          = "CREATE"
	VerbDelete          = "DELETE"
	VerbTrash           = "TRASH"
	VerbRestore         = "RESTORE"
	VerbEmptyTrash      = "EMPTYTRASH"
	VerbCreateFolder    = "CREATEFOLDER"
	VerbMove            = "MOVE"
	VerbView            = "VIEW"
	VerbViewTrash       = "VIEWTRASH"
	VerbViewFolder      = "VIEWFOLDER"
	VerbInfo            = "INFO"
	VerbList            = "LIST"
	VerbRead            = "READ"
	VerbStream          = "STREAM"
	VerbWrite           = "WRITE"
	VerbUndo            = "UNDO"
	VerbCheckpoint      = "CHECKPOINT"
	VerbRevert          = "REVERT"
	VerbViewCheckpoint  = "VIEWCHECKPOINT"
	VerbListCheckpoints = "LISTCHECKPOINTS"
	VerbReqAccess       = "REQACCESS"
	VerbListReq         = "LISTREQ"
	VerbApprove         = "APPROVE"
	VerbDeny            = "DENY"
	VerbAddAccess       = "ADDACCESS"
	VerbRemAccess       = "REMACCESS"
	VerbExec            = "EXEC"

	// VerbMan is deliberately lowercase on the wire.
	VerbMan = "man"
)

// Registration and liveness verbs.
const (
	VerbRegClient = "REG_CLIENT"
	VerbRegServer = "REG_SS"
	VerbHeartbeat = "HEARTBEAT"
	VerbShutdown  = "SHUTDOWN"
)

// Control-plane verbs sent to a storage server's NM port, plus the
// modification report a storage server pushes back to the name server.
const (
	VerbNMCreate       = "NM_CREATE"
	VerbNMDelete       = "NM_DELETE"
	VerbNMCreateFolder = "NM_CREATEFOLDER"
	VerbNMMove         = "NM_MOVE"
	VerbNMCheckLocks   = "NM_CHECK_LOCKS"
	VerbNMGetSize      = "NM_GETSIZE"
	VerbNMGetStats     = "NM_GETSTATS"
	VerbNMWriteContent = "NM_WRITECONTENT"
	VerbFileModified   = "NM_FILE_MODIFIED"
)

// EditCommit is the sentinel a client sends on its own line to commit a write
// session. It is WRITE reversed so it can never collide with word content.
const EditCommit = "ETIRW"

// Registration replies.
const (
	AckReg         = "ACK_REG"
	AckRegRecovery = "ACK_REG_RECOVERY"
)

// Acknowledgements that do not follow the Ack(verb) form: the name server
// answers a handful of verbs in the past tense, and ADDACCESS echoes the
// granted level.
const (
	AckTrashed        = "ACK_TRASHED"
	AckRestored       = "ACK_RESTORED"
	AckApproved       = "ACK_APPROVED"
	AckDenied         = "ACK_DENIED"
	AckAddAccessRead  = "ACK_ADDACCESS_READ"
	AckAddAccessWrite = "ACK_ADDACCESS_WRITE"
)

// Lock-probe replies from a storage server's NM port.
const (
	FileLocked   = "FILE_LOCKED"
	FileUnlocked = "FILE_UNLOCKED"
)

// Write-session replies from a storage server.
const (
	AckWriteLocked  = "ACK_WRITE_LOCKED"
	AckWriteSuccess = "ACK_WRITE_SUCCESS"
)

// AckUndoSuccess acknowledges a committed UNDO. The other storage verbs use
// the regular Ack(verb) form.
const AckUndoSuccess = "ACK_UNDO_SUCCESS"

// Error is a protocol error reply. Its value is the exact token written on
// the wire, so handlers can return one and the dispatcher can send it as-is.
type Error string

func (e Error) Error() string { return string(e) }

// Error tokens returned by the name server.
const (
	ErrFileExists            = Error("ERR_FILE_EXISTS")
	ErrFileNotFound          = Error("ERR_FILE_NOT_FOUND")
	ErrFileInTrash           = Error("ERR_FILE_IN_TRASH")
	ErrNotInTrash            = Error("ERR_NOT_IN_TRASH")
	ErrAlreadyInTrash        = Error("ERR_ALREADY_IN_TRASH")
	ErrCannotDeleteFolder    = Error("ERR_CANNOT_DELETE_FOLDER")
	ErrNoSSAvailable         = Error("ERR_NO_SS_AVAIL")
	ErrSSCreateFailed        = Error("ERR_SS_CREATE_FAILED")
	ErrSSCreateFolderFailed  = Error("ERR_SS_CREATEFOLDER_FAILED")
	ErrSSDeleteFailed        = Error("ERR_SS_DELETE_FAILED")
	ErrSSMoveFailed          = Error("ERR_SS_MOVE_FAILED")
	ErrSSUnreachable         = Error("ERR_SS_UNREACHABLE")
	ErrFileLocked            = Error("ERR_FILE_LOCKED")
	ErrNotOwner              = Error("ERR_NOT_OWNER")
	ErrIsFolder              = Error("ERR_IS_FOLDER")
	ErrReadPermissionDenied  = Error("ERR_READ_PERMISSION_DENIED")
	ErrWritePermissionDenied = Error("ERR_WRITE_PERMISSION_DENIED")
	ErrPermissionDenied      = Error("ERR_PERMISSION_DENIED")
	ErrAlreadyOwner          = Error("ERR_ALREADY_OWNER")
	ErrAlreadyHasAccess      = Error("ERR_ALREADY_HAS_ACCESS")
	ErrRequestsFull          = Error("ERR_REQUESTS_FULL")
	ErrReqCreate             = Error("ERR_REQ_CREATE")
	ErrInvalidID             = Error("ERR_INVALID_ID")
	ErrReqNotFound           = Error("ERR_REQ_NOT_FOUND")
	ErrNotRequestOwner       = Error("ERR_NOT_REQUEST_OWNER")
	ErrReqNotPending         = Error("ERR_REQ_NOT_PENDING")
	ErrACLFull               = Error("ERR_ACL_FULL")
	ErrUserNotInACL          = Error("ERR_USER_NOT_IN_ACL")
	ErrInvalidArgs           = Error("ERR_INVALID_ARGS")
	ErrInvalidFlag           = Error("ERR_INVALID_FLAG")
	ErrUnknownCommand        = Error("ERR_UNKNOWN_CMD")
	ErrUsernameInUse         = Error("ERR_USERNAME_IN_USE")
	ErrMaxClients            = Error("ERR_MAX_CLIENTS")
	ErrMaxServers            = Error("ERR_MAX_SS")
	ErrRegFormat             = Error("ERR_REG_FORMAT")
	ErrInternal              = Error("ERR_INTERNAL")
	ErrNoFilename            = Error("ERR_NO_FILENAME")
	ErrNoFolderName          = Error("ERR_NO_FOLDERNAME")
	ErrFolderExists          = Error("ERR_FOLDER_EXISTS")
	ErrFolderNotFound        = Error("ERR_FOLDER_NOT_FOUND")
	ErrMoveFailed            = Error("ERR_MOVE_FAILED")
	ErrExecFailed            = Error("ERR_NM_EXEC_FAILED")
	ErrExecStart             = Error("ERR_NM_POPEN_FAILED")
	ErrNotFoundOrNoAccess    = Error("ERR_FILE_NOT_FOUND_OR_NO_ACCESS")
	ErrNotFoundOrNotOwner    = Error("ERR_FILE_NOT_FOUND_OR_NOT_OWNER")
)

// Error tokens returned by a storage server on its client port.
const (
	ErrWriteLockConflict  = Error("ERR_WRITE_LOCK_CONFLICT")
	ErrInvalidSentence    = Error("ERR_INVALID_SENTENCE")
	ErrInvalidWordIndex   = Error("ERR_INVALID_WORD_INDEX")
	ErrUndoNoHistory      = Error("ERR_UNDO_NO_HISTORY")
	ErrCheckpointNotFound = Error("ERR_CHECKPOINT_NOT_FOUND")
	ErrFileEmpty          = Error("ERR_FILE_EMPTY")
	ErrSSUnknownCommand   = Error("ERR_SS_UNKNOWN_CMD")
)

// Error tokens returned by a storage server on its name-server port when a
// control command fails.
const (
	ErrNMCreate       = Error("ERR_NM_CREATE")
	ErrNMCreateFolder = Error("ERR_NM_CREATEFOLDER")
	ErrNMDelete       = Error("ERR_NM_DELETE")
	ErrNMMove         = Error("ERR_NM_MOVE")
	ErrNMWriteContent = Error("ERR_NM_WRITECONTENT")
)

// Ack returns the acknowledgement token for a verb, e.g. "ACK_CREATE".
func Ack(verb string) string {
	return "ACK_" + verb
}

// IsAck reports whether a reply line acknowledges the given verb.
func IsAck(line, verb string) bool {
	return line == Ack(verb) || strings.HasPrefix(line, Ack(verb)+" ")
}

// IsErr reports whether a reply line is an error token.
func IsErr(line string) bool {
	return strings.HasPrefix(line, "ERR_")
}

// Command is a parsed request line: the verb plus its whitespace-separated
// arguments. Raw preserves the original line for handlers that need the
// untokenized tail (EXEC arguments, VIEW flags).
type Command struct {
	Verb string
	Args []string
	Raw  string
}

// ParseCommand splits a request line into verb and arguments. An empty line
// yields a Command with an empty Verb.
func ParseCommand(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Raw: line}
	}
	return Command{Verb: fields[0], Args: fields[1:], Raw: line}
}

// Arg returns the i-th argument or "" when absent.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Redirect points a client at the storage server that should serve a data
// operation. On the wire it reads "ACK_<VERB> <host> <port>".
type Redirect struct {
	Verb string
	Host string
	Port int
}

func (r Redirect) String() string {
	return fmt.Sprintf("%s %s %d", Ack(r.Verb), r.Host, r.Port)
}

// ParseRedirect parses a redirect reply for the given verb. It returns false
// when the line is not an acknowledgement of that verb or lacks an address.
func ParseRedirect(verb, line string) (Redirect, bool) {
	if !IsAck(line, verb) {
		return Redirect{}, false
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Redirect{}, false
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil || port <= 0 {
		return Redirect{}, false
	}
	return Redirect{Verb: verb, Host: fields[1], Port: port}, true
}

// Addr returns the "host:port" form of the redirect target.
func (r Redirect) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// FileModified is the report a storage server pushes to the name server after
// committing an edit, carrying refreshed file statistics.
type FileModified struct {
	Name       string
	ServerID   int
	Size       int64
	Words      int64
	Chars      int64
	LastAccess int64
}

func (m FileModified) String() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d",
		VerbFileModified, m.Name, m.ServerID, m.Size, m.Words, m.Chars, m.LastAccess)
}

// ParseFileModified parses the arguments of an NM_FILE_MODIFIED line.
func ParseFileModified(args []string) (FileModified, error) {
	if len(args) != 6 {
		return FileModified{}, fmt.Errorf("file modified report: want 6 fields, got %d", len(args))
	}
	var m FileModified
	m.Name = args[0]
	ints := make([]int64, 5)
	for i, s := range args[1:] {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return FileModified{}, fmt.Errorf("file modified report: bad field %q: %w", s, err)
		}
		ints[i] = v
	}
	m.ServerID = int(ints[0])
	m.Size, m.Words, m.Chars, m.LastAccess = ints[1], ints[2], ints[3], ints[4]
	return m, nil
}

// Stats is a storage server's answer to NM_GETSTATS:
// "STATS <size> <words> <chars> <last_access>".
type Stats struct {
	Size       int64
	Words      int64
	Chars      int64
	LastAccess int64
}

func (s Stats) String() string {
	return fmt.Sprintf("STATS %d %d %d %d", s.Size, s.Words, s.Chars, s.LastAccess)
}

// ParseStats parses a STATS reply line.
func ParseStats(line string) (Stats, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 || fields[0] != "STATS" {
		return Stats{}, fmt.Errorf("malformed stats reply: %q", line)
	}
	var s Stats
	vals := make([]int64, 4)
	for i, f := range fields[1:] {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Stats{}, fmt.Errorf("malformed stats reply: %q", line)
		}
		vals[i] = v
	}
	s.Size, s.Words, s.Chars, s.LastAccess = vals[0], vals[1], vals[2], vals[3]
	return s, nil
}
