// Package replication runs the name server's background copy machinery:
// seeding fresh replicas when a file is created, re-syncing peer replicas
// after a storage server reports a modification, and rebuilding a server's
// files when it returns from a failure. Every task runs on its own goroutine
// so the command dispatcher never waits on replica traffic; a client's
// command succeeds or fails on the primary copy alone.
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/metrics"
	"github.com/docfs/docfs/pkg/nameserver/directory"
	"github.com/docfs/docfs/pkg/nameserver/registry"
)

// DefaultSettleDelay is how long a recovery task waits before copying files
// back, giving the returned server time to finish its own startup.
const DefaultSettleDelay = 2 * time.Second

// Fleet resolves storage servers by ID. Satisfied by *registry.Registry.
type Fleet interface {
	Get(id int) (registry.Server, bool)
}

// Catalog is the slice of the directory tree the engine needs. Satisfied by
// *directory.Directory.
type Catalog interface {
	Find(name string, includeTrashed bool) (directory.Node, bool)
	FilesOnServer(ssID int) []directory.Node
}

// Transport carries file content and control commands to storage servers.
// Satisfied by *ssclient.Client.
type Transport interface {
	CreateFile(ctx context.Context, addr, name string) error
	CreateFolder(ctx context.Context, addr, name string) error
	DeleteFile(ctx context.Context, addr, name string) error
	WriteContent(ctx context.Context, addr, name string, content []byte) error
	FetchFile(ctx context.Context, addr, name string) ([]byte, error)
}

// Config carries the engine's construction parameters.
type Config struct {
	Fleet     Fleet
	Catalog   Catalog
	Transport Transport

	// SettleDelay postpones recovery copying after a server returns.
	// Zero means DefaultSettleDelay.
	SettleDelay time.Duration

	Metrics *metrics.NameServerMetrics
}

// Engine spawns and tracks replication tasks. Start must be called before
// any task is spawned; Stop cancels pending work and waits for in-flight
// tasks to drain.
type Engine struct {
	fleet     Fleet
	catalog   Catalog
	transport Transport
	settle    time.Duration
	metrics   *metrics.NameServerMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an engine that is not yet started.
func New(cfg Config) *Engine {
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Engine{
		fleet:     cfg.Fleet,
		catalog:   cfg.Catalog,
		transport: cfg.Transport,
		settle:    settle,
		metrics:   cfg.Metrics,
	}
}

// Start arms the engine. The context bounds every task it spawns afterwards;
// cancelling it (or calling Stop) makes pending tasks exit early.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	logger.Info("replication engine started", "settle_delay", e.settle)
}

// Stop cancels outstanding work and blocks until every task goroutine has
// exited. Safe to call more than once.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// ReplicateNew seeds blank copies of a just-created file on its replica
// servers, one task per replica. The primary already holds the file; these
// copies start empty and catch up through modification sync.
func (e *Engine) ReplicateNew(name string, replicaIDs []int) {
	for _, id := range replicaIDs {
		task := taskID()
		e.wg.Add(1)
		go func(id int) {
			defer e.wg.Done()
			e.seedReplica(task, name, id, e.transport.CreateFile)
		}(id)
	}
}

// ReplicateNewFolder mirrors a just-created folder onto its replica servers
// so moves into it succeed on every copy.
func (e *Engine) ReplicateNewFolder(name string, replicaIDs []int) {
	for _, id := range replicaIDs {
		task := taskID()
		e.wg.Add(1)
		go func(id int) {
			defer e.wg.Done()
			e.seedReplica(task, name, id, e.transport.CreateFolder)
		}(id)
	}
}

func (e *Engine) seedReplica(task, name string, id int, create func(context.Context, string, string) error) {
	srv, ok := e.fleet.Get(id)
	if !ok || !srv.Active {
		logger.Warn("replica seed skipped, server unavailable",
			"task", task, "file", name, "ss_id", id)
		e.metrics.RecordReplicationTask("create", "skipped")
		return
	}
	if err := create(e.ctx, srv.NMAddr(), name); err != nil {
		logger.Warn("replica seed failed",
			"task", task, "file", name, "ss_id", id, "error", err)
		e.metrics.RecordReplicationTask("create", "error")
		return
	}
	logger.Info("replica seeded", "task", task, "file", name, "ss_id", id)
	e.metrics.RecordReplicationTask("create", "ok")
}

// SyncModified brings a file's other replicas up to date with the copy on
// the server that reported the write. One task handles all peers in replica
// order.
func (e *Engine) SyncModified(name string, notifierID int) {
	task := taskID()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.syncModified(task, name, notifierID)
	}()
}

func (e *Engine) syncModified(task, name string, notifierID int) {
	node, ok := e.catalog.Find(name, false)
	if !ok {
		logger.Warn("modified file vanished before sync", "task", task, "file", name)
		e.metrics.RecordReplicationTask("sync", "skipped")
		return
	}
	if len(node.Replicas) <= 1 {
		return
	}

	src, ok := e.fleet.Get(notifierID)
	if !ok || !src.Active {
		logger.Warn("modification sync skipped, source unavailable",
			"task", task, "file", name, "ss_id", notifierID)
		e.metrics.RecordReplicationTask("sync", "skipped")
		return
	}
	data, err := e.transport.FetchFile(e.ctx, src.ClientAddr(), name)
	if err != nil {
		logger.Warn("modification sync could not fetch content",
			"task", task, "file", name, "ss_id", notifierID, "error", err)
		e.metrics.RecordReplicationTask("sync", "error")
		return
	}

	for _, id := range node.Replicas {
		if id == notifierID {
			continue
		}
		dst, ok := e.fleet.Get(id)
		if !ok || !dst.Active {
			logger.Warn("modification sync skipped replica, server unavailable",
				"task", task, "file", name, "ss_id", id)
			e.metrics.RecordReplicationTask("sync", "skipped")
			continue
		}
		if err := e.push(dst.NMAddr(), name, data); err != nil {
			logger.Warn("modification sync failed",
				"task", task, "file", name, "ss_id", id, "error", err)
			e.metrics.RecordReplicationTask("sync", "error")
			continue
		}
		logger.Info("replica synced",
			"task", task, "file", name, "ss_id", id, "bytes", len(data))
		e.metrics.RecordReplicationTask("sync", "ok")
	}
}

// SyncRecovered rebuilds every file a returned server should hold, copying
// each from an active peer replica. The task sleeps for the settle delay
// first so the server can finish starting up.
func (e *Engine) SyncRecovered(ssID int) {
	task := taskID()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-time.After(e.settle):
		case <-e.ctx.Done():
			return
		}
		e.syncRecovered(task, ssID)
	}()
}

func (e *Engine) syncRecovered(task string, ssID int) {
	files := e.catalog.FilesOnServer(ssID)
	if len(files) == 0 {
		logger.Info("recovery sync has nothing to restore", "task", task, "ss_id", ssID)
		return
	}
	logger.Info("recovery sync started", "task", task, "ss_id", ssID, "files", len(files))

	var synced, skipped, failed int
	for _, node := range files {
		target, ok := e.fleet.Get(ssID)
		if !ok || !target.Active {
			logger.Warn("recovery sync aborted, server unavailable again",
				"task", task, "ss_id", ssID, "synced", synced, "skipped", skipped, "failed", failed)
			e.metrics.RecordReplicationTask("recovery", "skipped")
			return
		}
		src, ok := e.pickSource(node, ssID)
		if !ok {
			logger.Warn("recovery sync has no active source for file",
				"task", task, "file", node.Name, "ss_id", ssID)
			e.metrics.RecordReplicationTask("recovery", "skipped")
			skipped++
			continue
		}
		data, err := e.transport.FetchFile(e.ctx, src.ClientAddr(), node.Name)
		if err != nil {
			logger.Warn("recovery sync could not fetch content",
				"task", task, "file", node.Name, "ss_id", src.ID, "error", err)
			e.metrics.RecordReplicationTask("recovery", "error")
			failed++
			continue
		}
		if err := e.push(target.NMAddr(), node.Name, data); err != nil {
			logger.Warn("recovery sync failed to restore file",
				"task", task, "file", node.Name, "ss_id", ssID, "error", err)
			e.metrics.RecordReplicationTask("recovery", "error")
			failed++
			continue
		}
		synced++
		e.metrics.RecordReplicationTask("recovery", "ok")
	}
	logger.Info("recovery sync finished",
		"task", task, "ss_id", ssID, "synced", synced, "skipped", skipped, "failed", failed)
}

// pickSource returns the first active replica other than the excluded
// server, in replica-list order.
func (e *Engine) pickSource(node directory.Node, exclude int) (registry.Server, bool) {
	for _, id := range node.Replicas {
		if id == exclude {
			continue
		}
		if srv, ok := e.fleet.Get(id); ok && srv.Active {
			return srv, true
		}
	}
	return registry.Server{}, false
}

// push replaces a replica's copy wholesale: drop whatever it holds, recreate
// the file blank, then stream the full content. The delete is allowed to
// fail since the replica may never have had the file. The content write gets
// one retry.
func (e *Engine) push(addr, name string, data []byte) error {
	_ = e.transport.DeleteFile(e.ctx, addr, name)
	if err := e.transport.CreateFile(e.ctx, addr, name); err != nil {
		return err
	}
	err := e.transport.WriteContent(e.ctx, addr, name, data)
	if err != nil {
		err = e.transport.WriteContent(e.ctx, addr, name, data)
	}
	return err
}

func taskID() string {
	return uuid.New().String()[:8]
}
