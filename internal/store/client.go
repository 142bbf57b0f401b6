package store

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
)

// Client wraps the badger handle with the column-family view, the shard
// index counter and the version-allocation protocol. One Client is shared by
// every connection and GC worker of a DB.
type Client struct {
	db            *badger.DB
	indexCount    atomic.Uint64
	asyncDeletion bool
	log           *zap.Logger
}

// NewClient builds a client over an opened badger DB. The shard index
// counter starts at a random point so independent processes spread their
// sub-meta writes across different shards from the first operation.
func NewClient(db *badger.DB, asyncDeletion bool, log *zap.Logger) *Client {
	c := &Client{
		db:            db,
		asyncDeletion: asyncDeletion,
		log:           log.Named("store"),
	}
	c.indexCount.Store(uint64(rand.UintN(math.MaxUint16)))
	return c
}

// CFHandle resolves a column family by name.
func (c *Client) CFHandle(name string) (CF, error) {
	prefix, ok := cfPrefixes[name]
	if !ok {
		return CF{}, fmt.Errorf("%w: %s", ErrCFMissing, name)
	}
	return CF{name: name, prefix: prefix}, nil
}

// MustCF resolves a column family that is known at compile time.
func (c *Client) MustCF(name string) CF {
	cf, err := c.CFHandle(name)
	if err != nil {
		panic(err)
	}
	return cf
}

// Get point-reads outside a transaction (snapshot view).
func (c *Client) Get(cf CF, key []byte) (val []byte, ok bool, err error) {
	err = c.db.View(func(btxn *badger.Txn) error {
		t := &Txn{b: btxn}
		val, ok, err = t.Get(cf, key)
		return err
	})
	return val, ok, err
}

// Put writes one record in its own transaction.
func (c *Client) Put(cf CF, key, val []byte) error {
	return c.update(func(t *Txn) error { return t.Put(cf, key, val) })
}

// Del removes one record in its own transaction.
func (c *Client) Del(cf CF, key []byte) error {
	return c.update(func(t *Txn) error { return t.Del(cf, key) })
}

// BatchGet point-reads many keys in one snapshot, returning found pairs.
func (c *Client) BatchGet(cf CF, keys [][]byte) (pairs []KvPair, err error) {
	err = c.db.View(func(btxn *badger.Txn) error {
		t := &Txn{b: btxn}
		pairs, err = t.BatchGet(cf, keys)
		return err
	})
	return pairs, err
}

// BatchPut writes many records through a write batch, outside transactional
// conflict detection (used by MSET, which overwrites unconditionally).
func (c *Client) BatchPut(cf CF, pairs []KvPair) error {
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, kv := range pairs {
		if err := wb.Set(cf.key(kv.K), kv.V); err != nil {
			return fmt.Errorf("batch put: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("batch flush: %w", err)
	}
	return nil
}

// Scan walks a range on a fresh snapshot.
func (c *Client) Scan(cf CF, rng Range, limit uint32) (pairs []KvPair, err error) {
	err = c.db.View(func(btxn *badger.Txn) error {
		t := &Txn{b: btxn}
		pairs, err = t.Scan(cf, rng, limit)
		return err
	})
	return pairs, err
}

func (c *Client) update(fn func(*Txn) error) error {
	err := c.db.Update(func(btxn *badger.Txn) error {
		return fn(&Txn{b: btxn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrTxnConflict
	}
	return err
}

// ExecTxn runs fn inside one optimistic transaction and commits it. A commit
// lost to a concurrent writer surfaces as ErrTxnConflict; fn's own error
// aborts without committing.
func ExecTxn[T any](c *Client, fn func(*Txn) (T, error)) (T, error) {
	var zero T
	btxn := c.db.NewTransaction(true)
	defer btxn.Discard()

	res, err := fn(&Txn{b: btxn})
	if err != nil {
		return zero, err
	}
	if err := btxn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return zero, ErrTxnConflict
		}
		return zero, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// NextMetaIndex returns the shard index for the next size-changing write.
// A striding counter with a random seed spreads concurrent writers across
// shards without coordination.
func (c *Client) NextMetaIndex() uint16 {
	idx := c.indexCount.Add(1)
	return uint16(idx % uint64(encoding.DefaultMetaIndexSize))
}

// AsyncDeletionEnabled reports whether deferred deletion was configured.
func (c *Client) AsyncDeletionEnabled() bool { return c.asyncDeletion }

// AsyncHandleThreshold is the object size above which deletion and expiry
// are staged for the GC workers instead of completed inline.
func (c *Client) AsyncHandleThreshold() int64 {
	if c.asyncDeletion {
		return 1000
	}
	return math.MaxUint32
}

// VersionForNew allocates the version for a key being (re)created inside
// txn. With async deletion off every incarnation uses version zero. With it
// on, the next version after the gc head is probed against in-flight GC;
// a collision fails the operation with ErrKeyVersionExhausted rather than
// risking the new incarnation's records being reclaimed.
func (c *Client) VersionForNew(txn *Txn, gcCF, gcVersionCF CF, enc *encoding.KeyEncoder, ukey []byte) (uint16, error) {
	if !c.asyncDeletion {
		return 0, nil
	}

	var next uint16
	if v, ok, err := txn.Get(gcCF, enc.GCKey(ukey)); err != nil {
		return 0, err
	} else if ok {
		stored := binary16(v)
		if stored != math.MaxUint16 {
			next = stored + 1
		}
	}

	if _, ok, err := txn.Get(gcVersionCF, enc.GCVersionKey(ukey, next)); err != nil {
		return 0, err
	} else if ok {
		return 0, ErrKeyVersionExhausted
	}
	return next, nil
}

func binary16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
