// Package engine implements the per-type command protocols over the byte
// store: strings, hashes, lists, sets and sorted sets, plus the shared
// deletion/expiry/GC transaction hooks. Every mutation runs inside one
// optimistic transaction; conflicting writers are serialized through
// get-for-update reads on the meta record or on the touched sub-meta shard.
package engine

import (
	"go.uber.org/zap"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
)

// Config is the engine-relevant slice of the open options.
type Config struct {
	AsyncDeletion bool
	LinsertLimit  uint32
	LremLimit     uint32
}

// DB bundles the shared dependencies of all engines.
type DB struct {
	Client *store.Client
	Enc    *encoding.KeyEncoder
	Cfg    Config
	Log    *zap.Logger
}

// TxnCommand is the per-type hook set used by the cross-type commands (DEL,
// EXPIRE, lazy expiry) and by the GC workers. Implementations mutate only
// records belonging to their own type and the shared meta/gc families.
type TxnCommand interface {
	// TxnDel removes the key inside txn, inline when small and staged to
	// the GC pipeline when above the async-handle threshold.
	TxnDel(txn *store.Txn, key string) error

	// TxnExpireIfNeeded reaps the key if its ttl has passed. Returns 1 if
	// it reaped, 0 otherwise.
	TxnExpireIfNeeded(txn *store.Txn, key string) (int64, error)

	// TxnExpire rewrites the key's deadline, reaping first if it is
	// already past due. Returns 1 if the deadline was set.
	TxnExpire(txn *store.Txn, key string, timestamp int64, metaValue []byte) (int64, error)

	// TxnGC erases every data and sub-meta record of (key, version).
	TxnGC(txn *store.Txn, key string, version uint16) error
}

// CommandForType resolves the engine owning a stored kind. Returns nil for
// strings (handled inline by the string engine) and unknown tags.
func (db *DB) CommandForType(dt encoding.DataType) TxnCommand {
	switch dt {
	case encoding.TypeHash:
		return NewHashCommand(db)
	case encoding.TypeList:
		return NewListCommand(db)
	case encoding.TypeSet:
		return NewSetCommand(db)
	case encoding.TypeZset:
		return NewZsetCommand(db)
	default:
		return nil
	}
}

// stageAsyncDelete moves (key, version) into the GC index: the meta record
// dies now, the bulk of the data is reclaimed by the workers later. Must run
// inside the same transaction that decided the object is too large to drop
// inline.
func (db *DB) stageAsyncDelete(txn *store.Txn, metaCF, gcCF, gcVersionCF store.CF, metaKey []byte, key string, version uint16, dt encoding.DataType) error {
	if err := txn.Del(metaCF, metaKey); err != nil {
		return err
	}
	ukey := []byte(key)
	if err := txn.Put(gcCF, db.Enc.GCKey(ukey), versionBytes(version)); err != nil {
		return err
	}
	return txn.Put(gcVersionCF, db.Enc.GCVersionKey(ukey, version), []byte{dt.TypeByte()})
}

// sumSubMeta adds up every cardinality shard of (key, version) on a fresh
// snapshot. Run outside the caller's transaction on purpose: the caller may
// hold write intents on a shard, and the sum must reflect committed state
// the same way a concurrent reader would see it.
func (db *DB) sumSubMeta(key string, version uint16, subMetaCF store.CF, want encoding.DataType) (int64, error) {
	metaCF := db.Client.MustCF(store.CFNameMeta)
	ukey := []byte(key)
	return store.ExecTxn(db.Client, func(txn *store.Txn) (int64, error) {
		metaValue, ok, err := txn.Get(metaCF, db.Enc.MetaKey(ukey))
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		if db.Enc.MetaType(metaValue) != want {
			return 0, store.ErrWrongType
		}
		start, end := db.Enc.SubMetaRange(ukey, version)
		pairs, err := txn.Scan(subMetaCF, store.Range{Start: start, End: end}, maxScan)
		if err != nil {
			return 0, err
		}
		var sum int64
		for _, kv := range pairs {
			sum += encoding.Int64(kv.V)
		}
		return sum, nil
	})
}

// deleteSubMeta drops every shard of (key, version) inside txn.
func (db *DB) deleteSubMeta(txn *store.Txn, subMetaCF store.CF, key string, version uint16) error {
	start, end := db.Enc.SubMetaRange([]byte(key), version)
	keys, err := txn.ScanKeys(subMetaCF, store.Range{Start: start, End: end}, maxScan)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Del(subMetaCF, k); err != nil {
			return err
		}
	}
	return nil
}

// adjustSubMeta applies a signed delta to one shard, creating it when
// missing. The shard is read for update so two writers hitting the same
// shard conflict instead of losing a delta.
func (db *DB) adjustSubMeta(txn *store.Txn, subMetaCF store.CF, key string, version, idx uint16, delta int64) error {
	subMetaKey := db.Enc.SubMetaKey([]byte(key), version, idx)
	newVal := delta
	if v, ok, err := txn.GetForUpdate(subMetaCF, subMetaKey); err != nil {
		return err
	} else if ok {
		newVal = encoding.Int64(v) + delta
	}
	return txn.Put(subMetaCF, subMetaKey, encoding.AppendInt64(nil, newVal))
}

const maxScan = 1<<32 - 1

func versionBytes(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
