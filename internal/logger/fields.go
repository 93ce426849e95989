package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so the name server,
// storage servers, and client tooling can be queried with one vocabulary.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Protocol & Operation
	// ========================================================================
	KeyVerb   = "verb"   // Protocol verb: CREATE, READ, WRITE, APPROVE, ...
	KeyReply  = "reply"  // Reply token sent on the wire (ACK_*/ERR_*)
	KeyStatus = "status" // Coarse outcome: ok, error, redirect

	// ========================================================================
	// Files & Directory
	// ========================================================================
	KeyFile    = "file"    // File or folder name as stored in the directory
	KeyOldName = "old"     // Source name for move operations
	KeyNewName = "new"     // Destination name for move operations
	KeyOwner   = "owner"   // Owning username
	KeySize    = "size"    // File size in bytes
	KeyWords   = "words"   // Word count from the latest commit
	KeyChars   = "chars"   // Character count from the latest commit
	KeyTrash   = "trash"   // Whether the entry is trashed
	KeyEntries = "entries" // Number of directory entries in a listing

	// ========================================================================
	// Editing
	// ========================================================================
	KeySentence = "sentence" // 1-based sentence index in a write session
	KeyWord     = "word"     // 1-based word index within a sentence
	KeyTag      = "tag"      // Checkpoint tag

	// ========================================================================
	// Identity & Session
	// ========================================================================
	KeyUser      = "user"       // Username attached to the connection
	KeyClientIP  = "client_ip"  // Peer IP address
	KeySessionID = "session_id" // Connection/session identifier
	KeyRequestID = "request_id" // Access-request identifier

	// ========================================================================
	// Storage Servers & Replication
	// ========================================================================
	KeyServerID = "ss_id"    // Storage server numeric ID
	KeyReplica  = "replica"  // Replica storage server ID
	KeyAddr     = "addr"     // host:port of a peer
	KeyPort     = "port"     // Listening port
	KeyReplicas = "replicas" // Replica count

	// ========================================================================
	// Cache
	// ========================================================================
	KeyCacheHit  = "cache_hit"  // Lookup cache hit indicator
	KeyCacheSlot = "cache_slot" // Slot index touched by a lookup

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Verb returns a slog.Attr for the protocol verb
func Verb(v string) slog.Attr {
	return slog.String(KeyVerb, v)
}

// Reply returns a slog.Attr for the wire reply token
func Reply(token string) slog.Attr {
	return slog.String(KeyReply, token)
}

// File returns a slog.Attr for a file or folder name
func File(name string) slog.Attr {
	return slog.String(KeyFile, name)
}

// Owner returns a slog.Attr for the owning username
func Owner(name string) slog.Attr {
	return slog.String(KeyOwner, name)
}

// Size returns a slog.Attr for a byte size
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// User returns a slog.Attr for the username on a connection
func User(name string) slog.Attr {
	return slog.String(KeyUser, name)
}

// ClientIP returns a slog.Attr for the peer IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// RequestID returns a slog.Attr for an access-request identifier
func RequestID(id int) slog.Attr {
	return slog.Int(KeyRequestID, id)
}

// ServerID returns a slog.Attr for a storage server ID
func ServerID(id int) slog.Attr {
	return slog.Int(KeyServerID, id)
}

// Replica returns a slog.Attr for a replica storage server ID
func Replica(id int) slog.Attr {
	return slog.Int(KeyReplica, id)
}

// Addr returns a slog.Attr for a peer address
func Addr(addr string) slog.Attr {
	return slog.String(KeyAddr, addr)
}

// CacheHit returns a slog.Attr for a lookup cache hit indicator
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
