package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StorageMetrics instruments a storage server's data plane.
//
// All methods are safe on a nil receiver.
type StorageMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	writeSessions   *prometheus.CounterVec
	lockConflicts   prometheus.Counter
	bytesRead       prometheus.Counter
	bytesWritten    prometheus.Counter
	archiveOps      *prometheus.CounterVec
	heartbeatsSent  prometheus.Counter
	filesHeld       prometheus.Gauge
}

// NewStorageMetrics creates the storage server collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStorageMetrics() *StorageMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &StorageMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_ss_requests_total",
				Help: "Requests handled by verb, port and reply class",
			},
			[]string{"port", "verb", "status"}, // port: "client", "management"
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "docfs_ss_request_duration_milliseconds",
				Help: "Request handling duration in milliseconds",
				Buckets: []float64{
					0.1,
					0.5,
					1,
					5,
					10,
					50,
					100,
					500,
					1000,
				},
			},
			[]string{"port", "verb"},
		),
		writeSessions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_ss_write_sessions_total",
				Help: "Write edit sessions by outcome",
			},
			[]string{"outcome"}, // "committed", "aborted", "rejected"
		),
		lockConflicts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docfs_ss_lock_conflicts_total",
				Help: "Write attempts rejected because the sentence was locked",
			},
		),
		bytesRead: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docfs_ss_bytes_read_total",
				Help: "File bytes served to readers",
			},
		),
		bytesWritten: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docfs_ss_bytes_written_total",
				Help: "File bytes accepted from writers and replication pushes",
			},
		),
		archiveOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_ss_archive_operations_total",
				Help: "Undo and checkpoint store operations by kind",
			},
			[]string{"op"}, // "undo_save", "undo_restore", "checkpoint", "revert", "view", "list"
		),
		heartbeatsSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "docfs_ss_heartbeats_sent_total",
				Help: "Heartbeats sent to the name server",
			},
		),
		filesHeld: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "docfs_ss_files_held",
				Help: "Files currently present in the data directory",
			},
		),
	}
}

// ObserveRequest records one handled request.
// port is "client" or "management".
func (m *StorageMetrics) ObserveRequest(port, verb, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(port, verb, status).Inc()
	m.requestDuration.WithLabelValues(port, verb).Observe(duration.Seconds() * 1000)
}

// RecordWriteSession records the outcome of a write edit session.
// outcome: "committed", "aborted", "rejected".
func (m *StorageMetrics) RecordWriteSession(outcome string) {
	if m == nil {
		return
	}
	m.writeSessions.WithLabelValues(outcome).Inc()
}

// RecordLockConflict counts a rejected write due to a held sentence lock.
func (m *StorageMetrics) RecordLockConflict() {
	if m == nil {
		return
	}
	m.lockConflicts.Inc()
}

// AddBytesRead counts file bytes served.
func (m *StorageMetrics) AddBytesRead(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRead.Add(float64(n))
}

// AddBytesWritten counts file bytes accepted.
func (m *StorageMetrics) AddBytesWritten(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.Add(float64(n))
}

// RecordArchiveOp counts one undo/checkpoint store operation.
func (m *StorageMetrics) RecordArchiveOp(op string) {
	if m == nil {
		return
	}
	m.archiveOps.WithLabelValues(op).Inc()
}

// RecordHeartbeatSent counts one heartbeat sent to the name server.
func (m *StorageMetrics) RecordHeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

// SetFilesHeld records the number of files in the data directory.
func (m *StorageMetrics) SetFilesHeld(n int) {
	if m == nil {
		return
	}
	m.filesHeld.Set(float64(n))
}
