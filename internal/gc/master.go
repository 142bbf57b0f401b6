package gc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
)

// Defaults for the background pool.
const (
	DefaultWorkers   = 10
	DefaultQueueSize = 100_000
	DefaultInterval  = 10 * time.Second
)

// Master owns the worker pool and the periodic scan over the gc index.
type Master struct {
	db       *engine.DB
	workers  []*worker
	interval time.Duration
	log      *zap.Logger
}

// NewMaster builds a pool of workerCount workers with bounded queues.
func NewMaster(db *engine.DB, workerCount, queueSize int, interval time.Duration, log *zap.Logger) *Master {
	log = log.Named("gc")
	workers := make([]*worker, workerCount)
	for id := range workers {
		workers[id] = newWorker(id, db, queueSize, log)
	}
	return &Master{db: db, workers: workers, interval: interval, log: log}
}

// Run starts the workers and the scan loop and blocks until ctx is
// cancelled.
func (m *Master) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range m.workers {
		g.Go(func() error { return w.run(ctx) })
	}
	g.Go(func() error { return m.scanLoop(ctx) })
	return g.Wait()
}

func (m *Master) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.scanOnce(); err != nil {
				// transient scan failures wait for the next tick
				m.log.Warn("gc scan failed", zap.Error(err))
			}
		}
	}
}

// scanOnce walks the staged-deletion index and dispatches one task per
// record. Dispatch is stable by checksum so the same (key, version) always
// lands on the same worker, where the in-flight set deduplicates it.
func (m *Master) scanOnce() error {
	gcVersionCF := m.db.Client.MustCF(store.CFNameGCVersion)
	start, end := m.db.Enc.GCVersionRange()
	pairs, err := m.db.Client.Scan(gcVersionCF, store.Range{Start: start, End: end}, maxSweep)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		ukey, version, err := m.db.Enc.GCUserKeyVersion(kv.K)
		if err != nil {
			return err
		}
		task := Task{Type: encoding.TypeFromByte(kv.V[0]), UserKey: ukey, Version: version}
		m.workers[task.shard(len(m.workers))].enqueue(task)
	}
	return nil
}
