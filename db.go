// Package mapuche is an embedded, transactional, multi-model key-value
// store with Redis-style semantics (strings, hashes, lists, sets, sorted
// sets) over a single ordered byte store. Logical objects are decomposed
// into flat ordered keys across prefixed column families; concurrent
// writers cooperate through optimistic transactions and sharded cardinality
// counters; large deletions are reclaimed by a background GC pipeline.
package mapuche

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/internal/gc"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
)

// DB is one opened store. It is safe for concurrent use; obtain a Conn per
// logical client.
type DB struct {
	inner *engine.DB
	bdb   *badger.DB
	fl    *flock.Flock
	log   *zap.Logger

	gcCancel context.CancelFunc
	gcDone   chan struct{}
}

// Open opens the store at path with default options.
func Open(path string) (*DB, error) {
	return NewOpenOptions().Open(path)
}

// Open opens (creating if missing) the store directory. Only one process
// may hold a directory at a time; a second open fails fast instead of
// corrupting state.
func (o OpenOptions) Open(path string) (*DB, error) {
	log := o.logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("mapuche")

	var fl *flock.Flock
	var bopts badger.Options
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		fl = flock.New(filepath.Join(path, "LOCK"))
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock data dir: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("data dir %s is locked by another instance", path)
		}
		bopts = badger.DefaultOptions(path)
	}
	bopts = bopts.WithLogger(nil)

	bdb, err := badger.Open(bopts)
	if err != nil {
		if fl != nil {
			_ = fl.Unlock()
		}
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := store.NewClient(bdb, o.asyncDeletion, log)
	inner := &engine.DB{
		Client: client,
		Enc:    encoding.NewKeyEncoder(0),
		Cfg: engine.Config{
			AsyncDeletion: o.asyncDeletion,
			LinsertLimit:  o.linsertLimit,
			LremLimit:     o.lremLimit,
		},
		Log: log,
	}

	db := &DB{inner: inner, bdb: bdb, fl: fl, log: log}
	if o.asyncDeletion {
		ctx, cancel := context.WithCancel(context.Background())
		master := gc.NewMaster(inner, o.gcWorkers, o.gcQueueSize, o.gcInterval, log)
		db.gcCancel = cancel
		db.gcDone = make(chan struct{})
		go func() {
			defer close(db.gcDone)
			if err := master.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("gc pool exited", zap.Error(err))
			}
		}()
		log.Info("gc pool started",
			zap.Int("workers", o.gcWorkers),
			zap.Duration("interval", o.gcInterval))
	}
	return db, nil
}

// Conn returns a handle for issuing commands.
func (db *DB) Conn() *Conn {
	return &Conn{inner: db.inner}
}

// Close stops the GC pool, closes the byte store and releases the
// directory lock.
func (db *DB) Close() error {
	if db.gcCancel != nil {
		db.gcCancel()
		<-db.gcDone
	}
	err := db.bdb.Close()
	if db.fl != nil {
		if uerr := db.fl.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}
