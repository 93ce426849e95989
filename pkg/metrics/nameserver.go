package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NameServerMetrics instruments the name server's control plane.
//
// All methods are safe on a nil receiver, so callers never gate on whether
// metrics are enabled.
type NameServerMetrics struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	redirectsTotal   *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	storageServers   *prometheus.GaugeVec
	heartbeatsTotal  prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	replicationTasks *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	snapshotDuration prometheus.Histogram
	pendingRequests  prometheus.Gauge
}

// NewNameServerMetrics creates the name server collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewNameServerMetrics() *NameServerMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &NameServerMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_ns_commands_total",
				Help: "Total commands dispatched by verb and reply class",
			},
			[]string{"verb", "status"}, // status: "ok", "error"
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "docfs_ns_command_duration_milliseconds",
				Help: "Command handling duration in milliseconds",
				Buckets: []float64{
					0.1,  // trie-only commands
					0.5,
					1,
					5,
					10,   // single SS round trip
					50,
					100,
					500,  // multi-replica fan-out
					1000,
					5000, // EXEC and slow SS paths
				},
			},
			[]string{"verb"},
		),
		redirectsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_ns_redirects_total",
				Help: "Redirect replies sent to clients by verb",
			},
			[]string{"verb"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docfs_ns_active_sessions",
				Help: "Currently connected client sessions",
			},
		),
		storageServers: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docfs_ns_storage_servers",
				Help: "Registered storage servers by liveness state",
			},
			[]string{"state"}, // "active", "inactive"
		),
		heartbeatsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docfs_ns_heartbeats_total",
				Help: "Heartbeat messages received from storage servers",
			},
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_ns_lookup_cache_total",
				Help: "Lookup cache probes by outcome",
			},
			[]string{"status"}, // "hit", "miss"
		),
		replicationTasks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_ns_replication_tasks_total",
				Help: "Replication and recovery tasks by kind and outcome",
			},
			[]string{"kind", "outcome"}, // kind: "create", "sync", "recovery"; outcome: "ok", "error", "skipped"
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docfs_ns_task_queue_depth",
				Help: "Connections waiting for a worker",
			},
		),
		snapshotDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "docfs_ns_snapshot_duration_milliseconds",
				Help: "Directory snapshot write duration in milliseconds",
				Buckets: []float64{
					0.5,
					1,
					5,
					10,
					50,
					100,
					500,
				},
			},
		),
		pendingRequests: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docfs_ns_pending_access_requests",
				Help: "Access requests currently in PENDING state",
			},
		),
	}
}

// ObserveCommand records one dispatched command.
func (m *NameServerMetrics) ObserveCommand(verb, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(verb, status).Inc()
	m.commandDuration.WithLabelValues(verb).Observe(duration.Seconds() * 1000)
}

// RecordRedirect records a redirect reply for a verb.
func (m *NameServerMetrics) RecordRedirect(verb string) {
	if m == nil {
		return
	}
	m.redirectsTotal.WithLabelValues(verb).Inc()
}

// SetActiveSessions records the current number of live client sessions.
func (m *NameServerMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// SetStorageServers records the registry's liveness split.
func (m *NameServerMetrics) SetStorageServers(active, total int) {
	if m == nil {
		return
	}
	m.storageServers.WithLabelValues("active").Set(float64(active))
	m.storageServers.WithLabelValues("inactive").Set(float64(total - active))
}

// RecordHeartbeat counts one received heartbeat.
func (m *NameServerMetrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsTotal.Inc()
}

// RecordCacheLookup counts one lookup cache probe.
func (m *NameServerMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	status := "miss"
	if hit {
		status = "hit"
	}
	m.cacheLookups.WithLabelValues(status).Inc()
}

// RecordReplicationTask counts one replication/recovery task completion.
// kind: "create", "sync", "recovery"; outcome: "ok", "error", "skipped".
func (m *NameServerMetrics) RecordReplicationTask(kind, outcome string) {
	if m == nil {
		return
	}
	m.replicationTasks.WithLabelValues(kind, outcome).Inc()
}

// SetQueueDepth records the number of queued connections.
func (m *NameServerMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveSnapshot records one directory snapshot write.
func (m *NameServerMetrics) ObserveSnapshot(duration time.Duration) {
	if m == nil {
		return
	}
	m.snapshotDuration.Observe(duration.Seconds() * 1000)
}

// SetPendingRequests records the current number of pending access requests.
func (m *NameServerMetrics) SetPendingRequests(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}
