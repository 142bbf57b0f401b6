package mapuche

import (
	"time"

	"go.uber.org/zap"
)

// OpenOptions configures a DB before opening. The zero value opens with
// deferred deletion disabled; use the With* builders to adjust.
type OpenOptions struct {
	asyncDeletion bool
	gcInterval    time.Duration
	gcWorkers     int
	gcQueueSize   int
	linsertLimit  uint32
	lremLimit     uint32
	inMemory      bool
	logger        *zap.Logger
}

// NewOpenOptions returns the default options: async deletion off, a 10s GC
// interval, 10 workers with 100k-slot queues, no list length caps.
func NewOpenOptions() OpenOptions {
	return OpenOptions{
		gcInterval:  10 * time.Second,
		gcWorkers:   10,
		gcQueueSize: 100_000,
	}
}

// WithAsyncDeletion toggles deferred deletion and the background GC pool.
func (o OpenOptions) WithAsyncDeletion(enabled bool) OpenOptions {
	o.asyncDeletion = enabled
	return o
}

// WithGCInterval sets the period of the GC master's index scan.
func (o OpenOptions) WithGCInterval(d time.Duration) OpenOptions {
	o.gcInterval = d
	return o
}

// WithGCWorkers sets the worker pool size.
func (o OpenOptions) WithGCWorkers(n int) OpenOptions {
	o.gcWorkers = n
	return o
}

// WithGCQueueSize bounds each worker's task queue.
func (o OpenOptions) WithGCQueueSize(n int) OpenOptions {
	o.gcQueueSize = n
	return o
}

// WithLinsertLimit caps the list length LINSERT will operate on (0 = no
// cap).
func (o OpenOptions) WithLinsertLimit(n uint32) OpenOptions {
	o.linsertLimit = n
	return o
}

// WithLremLimit caps the list length LREM will operate on (0 = no cap).
func (o OpenOptions) WithLremLimit(n uint32) OpenOptions {
	o.lremLimit = n
	return o
}

// WithInMemory keeps the whole store in memory; nothing touches disk and
// the path passed to Open is ignored. Meant for tests and ephemeral caches.
func (o OpenOptions) WithInMemory(enabled bool) OpenOptions {
	o.inMemory = enabled
	return o
}

// WithLogger attaches a logger; the default is a nop logger.
func (o OpenOptions) WithLogger(log *zap.Logger) OpenOptions {
	o.logger = log
	return o
}
