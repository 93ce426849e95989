package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorsAreSafe(t *testing.T) {
	// Instrumented code never checks for enablement; nil receivers must
	// swallow every call.
	var ns *NameServerMetrics
	assert.NotPanics(t, func() {
		ns.ObserveCommand("READ", "ok", time.Millisecond)
		ns.RecordRedirect("READ")
		ns.SetActiveSessions(3)
		ns.SetStorageServers(2, 3)
		ns.RecordHeartbeat()
		ns.RecordCacheLookup(true)
		ns.RecordReplicationTask("sync", "ok")
		ns.SetQueueDepth(10)
		ns.ObserveSnapshot(time.Millisecond)
		ns.SetPendingRequests(1)
	})

	var ss *StorageMetrics
	assert.NotPanics(t, func() {
		ss.ObserveRequest("client", "WRITE", "ok", time.Millisecond)
		ss.RecordWriteSession("committed")
		ss.RecordLockConflict()
		ss.AddBytesRead(128)
		ss.AddBytesWritten(128)
		ss.RecordArchiveOp("checkpoint")
		ss.RecordHeartbeatSent()
		ss.SetFilesHeld(4)
	})
}

func TestRegistryLifecycle(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())
	require.NotNil(t, GetRegistry())

	// Second init is a no-op, not a panic
	assert.NotPanics(t, InitRegistry)

	ns := NewNameServerMetrics()
	require.NotNil(t, ns)
	ss := NewStorageMetrics()
	require.NotNil(t, ss)

	// Exercise every collector once; promauto registration already
	// guarantees the metric names are unique within the registry.
	ns.ObserveCommand("CREATE", "ok", 2*time.Millisecond)
	ns.RecordRedirect("READ")
	ns.SetActiveSessions(1)
	ns.SetStorageServers(1, 2)
	ns.RecordHeartbeat()
	ns.RecordCacheLookup(false)
	ns.RecordReplicationTask("create", "ok")
	ns.SetQueueDepth(0)
	ns.ObserveSnapshot(time.Millisecond)
	ns.SetPendingRequests(0)

	ss.ObserveRequest("management", "NM_CREATE", "ok", time.Millisecond)
	ss.RecordWriteSession("rejected")
	ss.RecordLockConflict()
	ss.AddBytesRead(1024)
	ss.AddBytesWritten(512)
	ss.RecordArchiveOp("undo_save")
	ss.RecordHeartbeatSent()
	ss.SetFilesHeld(2)

	families, err := GetRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["docfs_ns_commands_total"])
	assert.True(t, names["docfs_ns_lookup_cache_total"])
	assert.True(t, names["docfs_ss_requests_total"])
	assert.True(t, names["docfs_ss_write_sessions_total"])
}
