package gc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
)

// worker drains one bounded task queue. The inFlight set keeps a task from
// being queued twice while a previous copy is still pending; the master
// rediscovers dropped or failed tasks on its next scan anyway.
type worker struct {
	id  int
	db  *engine.DB
	log *zap.Logger

	tasks chan Task

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newWorker(id int, db *engine.DB, queueSize int, log *zap.Logger) *worker {
	return &worker{
		id:       id,
		db:       db,
		log:      log.Named(fmt.Sprintf("worker-%d", id)),
		tasks:    make(chan Task, queueSize),
		inFlight: make(map[string]struct{}),
	}
}

// enqueue offers a task, refusing duplicates and never blocking: a full
// queue drops the task silently.
func (w *worker) enqueue(task Task) {
	key := string(task.Bytes())
	w.mu.Lock()
	if _, dup := w.inFlight[key]; dup {
		w.mu.Unlock()
		return
	}
	w.inFlight[key] = struct{}{}
	w.mu.Unlock()

	select {
	case w.tasks <- task:
	default:
		w.forget(key)
		w.log.Debug("queue full, task dropped", zap.ByteString("key", task.UserKey))
	}
}

func (w *worker) forget(key string) {
	w.mu.Lock()
	delete(w.inFlight, key)
	w.mu.Unlock()
}

// run drains the queue until ctx is cancelled.
func (w *worker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-w.tasks:
			if err := handleTask(w.db, task); err != nil {
				w.log.Warn("gc task failed",
					zap.ByteString("key", task.UserKey),
					zap.Uint16("version", task.Version),
					zap.Error(err))
			}
			w.forget(string(task.Bytes()))
		}
	}
}

// handleTask erases everything staged under (key, version). Two
// transactions on purpose: the first reclaims data and the gc_version
// record, the second drops the gc head only while it still names this
// version, so a concurrent re-creation of the key is never disturbed.
func handleTask(db *engine.DB, task Task) error {
	gcCF := db.Client.MustCF(store.CFNameGC)
	gcVersionCF := db.Client.MustCF(store.CFNameGCVersion)
	key := string(task.UserKey)

	if _, err := store.ExecTxn(db.Client, func(txn *store.Txn) (struct{}, error) {
		var done struct{}
		cmd := db.CommandForType(task.Type)
		if cmd == nil {
			// strings are never staged; a tag like this means the gc
			// index is corrupt
			panic(fmt.Sprintf("gc: data type %q does not support async deletion", task.Type))
		}
		if err := cmd.TxnGC(txn, key, task.Version); err != nil {
			return done, err
		}
		return done, txn.Del(gcVersionCF, db.Enc.GCVersionKey(task.UserKey, task.Version))
	}); err != nil {
		return fmt.Errorf("reclaim data: %w", err)
	}

	// the head check rides its own small transaction to keep conflicts with
	// writers re-creating the key rare
	if _, err := store.ExecTxn(db.Client, func(txn *store.Txn) (struct{}, error) {
		var done struct{}
		gcKey := db.Enc.GCKey(task.UserKey)
		v, ok, err := txn.Get(gcCF, gcKey)
		if err != nil {
			return done, err
		}
		if ok && len(v) >= 2 && (uint16(v[0])<<8|uint16(v[1])) == task.Version {
			return done, txn.Del(gcCF, gcKey)
		}
		return done, nil
	}); err != nil {
		return fmt.Errorf("clear gc head: %w", err)
	}
	return nil
}

// Sweep runs one synchronous pass over every staged record, reclaiming each
// in place. It backs the manual DoGC entry point and deployments that keep
// the background pool disabled.
func Sweep(db *engine.DB) error {
	gcVersionCF := db.Client.MustCF(store.CFNameGCVersion)
	start, end := db.Enc.GCVersionRange()
	pairs, err := db.Client.Scan(gcVersionCF, store.Range{Start: start, End: end}, maxSweep)
	if err != nil {
		return fmt.Errorf("scan gc index: %w", err)
	}
	for _, kv := range pairs {
		ukey, version, err := db.Enc.GCUserKeyVersion(kv.K)
		if err != nil {
			return err
		}
		task := Task{Type: encoding.TypeFromByte(kv.V[0]), UserKey: ukey, Version: version}
		if err := handleTask(db, task); err != nil {
			return err
		}
	}
	return nil
}

const maxSweep = 1<<32 - 1
