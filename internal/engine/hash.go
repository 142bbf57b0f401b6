package engine

import (
	"strconv"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
	"github.com/xiaoyuz/mapuche-embedded/internal/utils"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

type hashCFs struct {
	meta      store.CF
	subMeta   store.CF
	gc        store.CF
	gcVersion store.CF
	data      store.CF
}

// HashCommand serves the hash commands. Cardinality is partitioned across
// sub-meta shards: each size-changing write picks one shard and applies a
// signed delta, HLEN sums them all.
type HashCommand struct {
	db *DB
}

// NewHashCommand binds the hash engine to db.
func NewHashCommand(db *DB) *HashCommand { return &HashCommand{db: db} }

func (c *HashCommand) cfs() hashCFs {
	return hashCFs{
		meta:      c.db.Client.MustCF(store.CFNameMeta),
		subMeta:   c.db.Client.MustCF(store.CFNameHashSubMeta),
		gc:        c.db.Client.MustCF(store.CFNameGC),
		gcVersion: c.db.Client.MustCF(store.CFNameGCVersion),
		data:      c.db.Client.MustCF(store.CFNameHashData),
	}
}

// FieldValue pairs one hash field with its value.
type FieldValue struct {
	Field string
	Value []byte
}

// HSet writes fields, creating the hash as needed. isNX restricts to a
// single field and refuses present ones. The reply is the number of newly
// added fields (OK for HMSET, 0 for a refused HSETNX).
func (c *HashCommand) HSet(key string, fvs []FieldValue, isHMSet, isNX bool) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	idx := c.db.Client.NextMetaIndex()
	metaKey := c.db.Enc.MetaKey(ukey)

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int64, error) {
		metaValue, ok, err := txn.Get(cfs.meta, metaKey)
		if err != nil {
			return 0, err
		}

		if !ok {
			version, err := c.db.Client.VersionForNew(txn, cfs.gc, cfs.gcVersion, c.db.Enc, ukey)
			if err != nil {
				return 0, err
			}
			// lock the chosen shard before the field writes
			subMetaKey := c.db.Enc.SubMetaKey(ukey, version, idx)
			if _, _, err := txn.GetForUpdate(cfs.subMeta, subMetaKey); err != nil {
				return 0, err
			}

			fields := make([]string, len(fvs))
			for i, fv := range fvs {
				fields[i] = fv.Field
				dataKey := c.db.Enc.HashDataKey(ukey, []byte(fv.Field), version)
				if err := txn.Put(cfs.data, dataKey, fv.Value); err != nil {
					return 0, err
				}
			}
			added := int64(utils.CountUniqueStrings(fields))

			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.HashMetaValue(0, version, 0)); err != nil {
				return 0, err
			}
			if err := txn.Put(cfs.subMeta, subMetaKey, encoding.AppendInt64(nil, added)); err != nil {
				return 0, err
			}
			return added, nil
		}

		if c.db.Enc.MetaType(metaValue) != encoding.TypeHash {
			return 0, store.ErrWrongType
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)

		expired := false
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return 0, err
			}
			expired = true
			if version, err = c.db.Client.VersionForNew(txn, cfs.gc, cfs.gcVersion, c.db.Enc, ukey); err != nil {
				return 0, err
			}
		}

		subMetaKey := c.db.Enc.SubMetaKey(ukey, version, idx)
		subMetaValue, subOk, err := txn.GetForUpdate(cfs.subMeta, subMetaKey)
		if err != nil {
			return 0, err
		}

		if isNX && !expired {
			// single field by contract; refuse if it already exists
			dataKey := c.db.Enc.HashDataKey(ukey, []byte(fvs[0].Field), version)
			if _, ok, err := txn.Get(cfs.data, dataKey); err != nil {
				return 0, err
			} else if ok {
				return 0, nil
			}
		}

		added := int64(1)
		if !isNX {
			fieldKeys := make([][]byte, len(fvs))
			fields := make([]string, len(fvs))
			for i, fv := range fvs {
				fields[i] = fv.Field
				fieldKeys[i] = c.db.Enc.HashDataKey(ukey, []byte(fv.Field), version)
			}
			present, err := txn.BatchGetForUpdate(cfs.data, fieldKeys)
			if err != nil {
				return 0, err
			}
			added = int64(utils.CountUniqueStrings(fields)) - int64(len(present))
		}

		for _, fv := range fvs {
			dataKey := c.db.Enc.HashDataKey(ukey, []byte(fv.Field), version)
			if err := txn.Put(cfs.data, dataKey, fv.Value); err != nil {
				return 0, err
			}
		}

		newSub := added
		if subOk {
			newSub = encoding.Int64(subMetaValue) + added
		}
		if err := txn.Put(cfs.subMeta, subMetaKey, encoding.AppendInt64(nil, newSub)); err != nil {
			return 0, err
		}
		if expired {
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.HashMetaValue(0, version, 0)); err != nil {
				return 0, err
			}
		}
		return added, nil
	})
	if err != nil {
		return nil, err
	}
	if isHMSet {
		return resp.OK(), nil
	}
	return resp.Int(n), nil
}

// readMeta loads and type-checks a hash meta record inside txn. ok is false
// when the key is absent.
func (c *HashCommand) readMeta(txn *store.Txn, metaKey []byte) (metaValue []byte, ok bool, err error) {
	metaValue, ok, err = txn.Get(c.cfs().meta, metaKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	if c.db.Enc.MetaType(metaValue) != encoding.TypeHash {
		return nil, false, store.ErrWrongType
	}
	return metaValue, true, nil
}

// HGet returns one field's value.
func (c *HashCommand) HGet(key, field string) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil || !ok {
			return resp.Null(), err
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Null(), nil
		}
		val, ok, err := txn.Get(cfs.data, c.db.Enc.HashDataKey(ukey, []byte(field), version))
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Null(), nil
		}
		return resp.Bulk(val), nil
	})
}

// HStrlen returns one field's value length, 0 when absent.
func (c *HashCommand) HStrlen(key, field string) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil || !ok {
			return resp.Int(0), err
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Int(0), nil
		}
		val, ok, err := txn.Get(cfs.data, c.db.Enc.HashDataKey(ukey, []byte(field), version))
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Int(0), nil
		}
		return resp.Int(int64(len(val))), nil
	})
}

// HExists reports field membership as 0/1.
func (c *HashCommand) HExists(key, field string) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil || !ok {
			return resp.Int(0), err
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Int(0), nil
		}
		if _, ok, err := txn.Get(cfs.data, c.db.Enc.HashDataKey(ukey, []byte(field), version)); err != nil {
			return nil, err
		} else if ok {
			return resp.Int(1), nil
		}
		return resp.Int(0), nil
	})
}

// HMGet returns the values of the requested fields, null for absentees.
func (c *HashCommand) HMGet(key string, fields []string) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		out := make([]*resp.Frame, 0, len(fields))
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			for range fields {
				out = append(out, resp.Null())
			}
			return resp.Array(out), nil
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			for range fields {
				out = append(out, resp.Null())
			}
			return resp.Array(out), nil
		}

		fieldKeys := make([][]byte, len(fields))
		for i, f := range fields {
			fieldKeys[i] = c.db.Enc.HashDataKey(ukey, []byte(f), version)
		}
		pairs, err := txn.BatchGet(cfs.data, fieldKeys)
		if err != nil {
			return nil, err
		}
		found := make(map[string][]byte, len(pairs))
		for _, kv := range pairs {
			found[string(kv.K)] = kv.V
		}
		for _, fk := range fieldKeys {
			if v, ok := found[string(fk)]; ok {
				out = append(out, resp.Bulk(v))
			} else {
				out = append(out, resp.Null())
			}
		}
		return resp.Array(out), nil
	})
}

// HLen sums the cardinality shards.
func (c *HashCommand) HLen(key string) (*resp.Frame, error) {
	metaKey := c.db.Enc.MetaKey([]byte(key))

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil || !ok {
			return resp.Int(0), err
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Int(0), nil
		}
		size, err := c.db.sumSubMeta(key, version, c.cfs().subMeta, encoding.TypeHash)
		if err != nil {
			return nil, err
		}
		return resp.Int(size), nil
	})
}

// HGetAll scans the field records; withField/withValue select the HGETALL,
// HKEYS and HVALS projections.
func (c *HashCommand) HGetAll(key string, withField, withValue bool) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Array(nil), nil
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Array(nil), nil
		}

		start, end := c.db.Enc.HashDataRange(ukey, version)
		pairs, err := txn.Scan(cfs.data, store.Range{Start: start, End: end}, maxScan)
		if err != nil {
			return nil, err
		}
		var out []*resp.Frame
		for _, kv := range pairs {
			if withField {
				out = append(out, resp.Bulk(c.db.Enc.HashFieldFromDataKey(ukey, kv.K)))
			}
			if withValue {
				out = append(out, resp.Bulk(kv.V))
			}
		}
		return resp.Array(out), nil
	})
}

// HDel removes fields; when the shard sum hits zero the whole hash goes.
func (c *HashCommand) HDel(key string, fields []string) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int64, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil || !ok {
			return 0, err
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return 0, err
			}
			return 0, nil
		}

		fieldKeys := make([][]byte, len(fields))
		for i, f := range fields {
			fieldKeys[i] = c.db.Enc.HashDataKey(ukey, []byte(f), version)
		}
		present, err := txn.BatchGetForUpdate(cfs.data, fieldKeys)
		if err != nil {
			return 0, err
		}
		var deleted int64
		for _, kv := range present {
			if err := txn.Del(cfs.data, kv.K); err != nil {
				return 0, err
			}
			deleted++
		}

		oldSize, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeHash)
		if err != nil {
			return 0, err
		}
		if oldSize <= deleted {
			if err := txn.Del(cfs.meta, metaKey); err != nil {
				return 0, err
			}
			if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
				return 0, err
			}
		} else {
			idx := c.db.Client.NextMetaIndex()
			if err := c.db.adjustSubMeta(txn, cfs.subMeta, key, version, idx, -deleted); err != nil {
				return 0, err
			}
		}
		return deleted, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// HIncrBy adds step to a field's integer value, creating hash and field as
// needed.
func (c *HashCommand) HIncrBy(key, field string, step int64) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	idx := c.db.Client.NextMetaIndex()
	metaKey := c.db.Enc.MetaKey(ukey)

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int64, error) {
		var prev int64
		var dataKey []byte

		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return 0, err
		}
		if ok {
			ttl, version, _ := c.db.Enc.Meta(metaValue)
			expired := false
			if utils.KeyIsExpired(ttl) {
				if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
					return 0, err
				}
				expired = true
				if version, err = c.db.Client.VersionForNew(txn, cfs.gc, cfs.gcVersion, c.db.Enc, ukey); err != nil {
					return 0, err
				}
			}

			dataKey = c.db.Enc.HashDataKey(ukey, []byte(field), version)
			dataValue, ok, err := txn.GetForUpdate(cfs.data, dataKey)
			if err != nil {
				return 0, err
			}
			if ok {
				if prev, err = strconv.ParseInt(string(dataValue), 10, 64); err != nil {
					return 0, store.ErrValueNotInteger
				}
			} else {
				// new field joins the count on one shard
				if err := c.db.adjustSubMeta(txn, cfs.subMeta, key, version, idx, 1); err != nil {
					return 0, err
				}
				if expired {
					if err := txn.Put(cfs.meta, metaKey, c.db.Enc.HashMetaValue(0, version, 0)); err != nil {
						return 0, err
					}
				}
			}
		} else {
			version, err := c.db.Client.VersionForNew(txn, cfs.gc, cfs.gcVersion, c.db.Enc, ukey)
			if err != nil {
				return 0, err
			}
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.HashMetaValue(0, version, 0)); err != nil {
				return 0, err
			}
			subMetaKey := c.db.Enc.SubMetaKey(ukey, version, idx)
			if err := txn.Put(cfs.subMeta, subMetaKey, encoding.AppendInt64(nil, 1)); err != nil {
				return 0, err
			}
			dataKey = c.db.Enc.HashDataKey(ukey, []byte(field), version)
		}

		next := prev + step
		if err := txn.Put(cfs.data, dataKey, []byte(strconv.FormatInt(next, 10))); err != nil {
			return 0, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// TxnDel implements TxnCommand: inline erase below the async threshold,
// otherwise stage for the GC workers.
func (c *HashCommand) TxnDel(txn *store.Txn, key string) error {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	metaValue, ok, err := txn.Get(cfs.meta, metaKey)
	if err != nil || !ok {
		return err
	}
	version := c.db.Enc.MetaVersion(metaValue)
	size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeHash)
	if err != nil {
		return err
	}

	if size > c.db.Client.AsyncHandleThreshold() {
		return c.db.stageAsyncDelete(txn, cfs.meta, cfs.gc, cfs.gcVersion, metaKey, key, version, encoding.TypeHash)
	}

	start, end := c.db.Enc.HashDataRange(ukey, version)
	keys, err := txn.ScanKeys(cfs.data, store.Range{Start: start, End: end}, maxScan)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Del(cfs.data, k); err != nil {
			return err
		}
	}
	if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
		return err
	}
	return txn.Del(cfs.meta, metaKey)
}

// TxnExpireIfNeeded implements TxnCommand.
func (c *HashCommand) TxnExpireIfNeeded(txn *store.Txn, key string) (int64, error) {
	cfs := c.cfs()
	metaKey := c.db.Enc.MetaKey([]byte(key))

	metaValue, ok, err := txn.Get(cfs.meta, metaKey)
	if err != nil || !ok {
		return 0, err
	}
	if !utils.KeyIsExpired(c.db.Enc.MetaTTL(metaValue)) {
		return 0, nil
	}
	if err := c.TxnDel(txn, key); err != nil {
		return 0, err
	}
	return 1, nil
}

// TxnExpire implements TxnCommand.
func (c *HashCommand) TxnExpire(txn *store.Txn, key string, timestamp int64, metaValue []byte) (int64, error) {
	cfs := c.cfs()
	if utils.KeyIsExpired(c.db.Enc.MetaTTL(metaValue)) {
		if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
			return 0, err
		}
		return 0, nil
	}
	version := c.db.Enc.MetaVersion(metaValue)
	metaKey := c.db.Enc.MetaKey([]byte(key))
	if err := txn.Put(cfs.meta, metaKey, c.db.Enc.HashMetaValue(timestamp, version, 0)); err != nil {
		return 0, err
	}
	return 1, nil
}

// TxnGC implements TxnCommand: erase every shard and field of (key,
// version).
func (c *HashCommand) TxnGC(txn *store.Txn, key string, version uint16) error {
	cfs := c.cfs()
	if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
		return err
	}
	start, end := c.db.Enc.HashDataRange([]byte(key), version)
	keys, err := txn.ScanKeys(cfs.data, store.Range{Start: start, End: end}, maxScan)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Del(cfs.data, k); err != nil {
			return err
		}
	}
	return nil
}
