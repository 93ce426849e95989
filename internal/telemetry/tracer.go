package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for document-store operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Plane-agnostic keys use "doc." prefix, component-specific use their own prefix.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
	AttrUsername   = "user.name"
	AttrSessionID  = "session.id"

	// ========================================================================
	// Request attributes
	// ========================================================================
	AttrVerb     = "request.verb"  // CREATE, READ, WRITE, ...
	AttrReply    = "request.reply" // ACK_/ERR_ token sent back
	AttrRedirect = "request.redirect"

	// ========================================================================
	// Document attributes
	// ========================================================================
	AttrFile     = "doc.file"
	AttrOldName  = "doc.old_name"
	AttrNewName  = "doc.new_name"
	AttrOwner    = "doc.owner"
	AttrSize     = "doc.size"
	AttrWords    = "doc.words"
	AttrChars    = "doc.chars"
	AttrFolder   = "doc.folder"
	AttrTrash    = "doc.trash"
	AttrSentence = "doc.sentence"
	AttrWord     = "doc.word"
	AttrTag      = "doc.tag" // checkpoint tag

	// ========================================================================
	// Storage-server attributes
	// ========================================================================
	AttrServerID = "ss.id"
	AttrServerIP = "ss.ip"
	AttrPort     = "ss.port"
	AttrReplicas = "ss.replicas"

	// ========================================================================
	// Lookup cache attributes
	// ========================================================================
	AttrCacheHit  = "cache.hit"
	AttrCacheSlot = "cache.slot"

	// ========================================================================
	// Directory attributes
	// ========================================================================
	AttrEntries      = "dir.entries"
	AttrSnapshotPath = "dir.snapshot_path"

	// ========================================================================
	// Access-request attributes
	// ========================================================================
	AttrRequestID   = "access.request_id"
	AttrRequestType = "access.type" // READ or WRITE
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Root span for one client command on the name server
	SpanNSRequest = "nameserver.request"

	// Root span for one client command on a storage server
	SpanSSRequest = "storage.request"

	// Name-server internals
	SpanTrieLookup   = "trie.lookup"
	SpanTrieInsert   = "trie.insert"
	SpanTrieDelete   = "trie.delete"
	SpanTrieSnapshot = "trie.snapshot"
	SpanTrieRestore  = "trie.restore"
	SpanCacheLookup  = "cache.lookup"
	SpanCacheInsert  = "cache.insert"
	SpanCacheEvict   = "cache.evict"

	// Replication
	SpanReplicate = "replication.replicate"
	SpanSyncWrite = "replication.sync"
	SpanRecover   = "replication.recover"

	// Heartbeat plane
	SpanHeartbeat = "heartbeat.receive"

	// Storage-server internals
	SpanDocRead    = "docstore.read"
	SpanDocWrite   = "docstore.write"
	SpanUndoSave   = "archive.undo"
	SpanCheckpoint = "archive.checkpoint"
	SpanRevert     = "archive.revert"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Username returns an attribute for the registered username
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// SessionID returns an attribute for client session ID
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// Verb returns an attribute for the request verb
func Verb(verb string) attribute.KeyValue {
	return attribute.String(AttrVerb, verb)
}

// Reply returns an attribute for the reply token
func Reply(token string) attribute.KeyValue {
	return attribute.String(AttrReply, token)
}

// Redirected returns an attribute marking a redirect reply
func Redirected(addr string) attribute.KeyValue {
	return attribute.String(AttrRedirect, addr)
}

// File returns an attribute for the document name
func File(name string) attribute.KeyValue {
	return attribute.String(AttrFile, name)
}

// Owner returns an attribute for the document owner
func Owner(name string) attribute.KeyValue {
	return attribute.String(AttrOwner, name)
}

// Size returns an attribute for document size in bytes
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// Words returns an attribute for document word count
func Words(n int64) attribute.KeyValue {
	return attribute.Int64(AttrWords, n)
}

// Chars returns an attribute for document character count
func Chars(n int64) attribute.KeyValue {
	return attribute.Int64(AttrChars, n)
}

// Folder returns an attribute marking a folder entry
func Folder(folder bool) attribute.KeyValue {
	return attribute.Bool(AttrFolder, folder)
}

// Trash returns an attribute marking a trashed entry
func Trash(trash bool) attribute.KeyValue {
	return attribute.Bool(AttrTrash, trash)
}

// Sentence returns an attribute for a sentence index
func Sentence(idx int) attribute.KeyValue {
	return attribute.Int(AttrSentence, idx)
}

// Word returns an attribute for a word index
func Word(idx int) attribute.KeyValue {
	return attribute.Int(AttrWord, idx)
}

// Tag returns an attribute for a checkpoint tag
func Tag(tag string) attribute.KeyValue {
	return attribute.String(AttrTag, tag)
}

// ServerID returns an attribute for a storage server ID
func ServerID(id int) attribute.KeyValue {
	return attribute.Int(AttrServerID, id)
}

// ServerIP returns an attribute for a storage server IP
func ServerIP(ip string) attribute.KeyValue {
	return attribute.String(AttrServerIP, ip)
}

// Port returns an attribute for a port number
func Port(port int) attribute.KeyValue {
	return attribute.Int(AttrPort, port)
}

// Replicas returns an attribute for a replica count
func Replicas(n int) attribute.KeyValue {
	return attribute.Int(AttrReplicas, n)
}

// CacheHit returns an attribute for cache hit indicator
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// CacheSlot returns an attribute for the cache slot index
func CacheSlot(slot int) attribute.KeyValue {
	return attribute.Int(AttrCacheSlot, slot)
}

// Entries returns an attribute for a directory entry count
func Entries(n int) attribute.KeyValue {
	return attribute.Int(AttrEntries, n)
}

// SnapshotPath returns an attribute for the trie snapshot path
func SnapshotPath(path string) attribute.KeyValue {
	return attribute.String(AttrSnapshotPath, path)
}

// RequestID returns an attribute for an access request ID
func RequestID(id int) attribute.KeyValue {
	return attribute.Int(AttrRequestID, id)
}

// RequestType returns an attribute for an access request type
func RequestType(t string) attribute.KeyValue {
	return attribute.String(AttrRequestType, t)
}

// StartNameServerSpan starts a span for a name-server command.
// This is a convenience function that sets common attributes.
func StartNameServerSpan(ctx context.Context, verb string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Verb(verb),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "nameserver."+verb, trace.WithAttributes(allAttrs...))
}

// StartStorageSpan starts a span for a storage-server command.
func StartStorageSpan(ctx context.Context, verb string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Verb(verb),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "storage."+verb, trace.WithAttributes(allAttrs...))
}

// StartTrieSpan starts a span for a directory trie operation.
func StartTrieSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "trie."+operation, trace.WithAttributes(attrs...))
}

// StartCacheSpan starts a span for a lookup-cache operation.
func StartCacheSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "cache."+operation, trace.WithAttributes(attrs...))
}

// StartReplicationSpan starts a span for a replication operation.
func StartReplicationSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "replication."+operation, trace.WithAttributes(attrs...))
}

// StartArchiveSpan starts a span for an undo/checkpoint archive operation.
func StartArchiveSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "archive."+operation, trace.WithAttributes(attrs...))
}
