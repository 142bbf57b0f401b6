package engine

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"github.com/gobwas/glob"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
	"github.com/xiaoyuz/mapuche-embedded/internal/utils"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

type stringCFs struct {
	meta store.CF
}

// StringCommand serves the flat string commands plus the cross-type
// dispatchers (EXPIRE, TTL, DEL, TYPE, KEYS, SCAN) that key off the meta
// record regardless of stored kind.
type StringCommand struct {
	db *DB
}

// NewStringCommand binds the string engine to db.
func NewStringCommand(db *DB) *StringCommand { return &StringCommand{db: db} }

func (c *StringCommand) cfs() stringCFs {
	return stringCFs{meta: c.db.Client.MustCF(store.CFNameMeta)}
}

// reapIfExpired drops an expired key inside txn, dispatching collections to
// their engines so data and shard records go with the meta. Reports whether
// the key was (or is being) reaped.
func (c *StringCommand) reapIfExpired(txn *store.Txn, key string, ekey, metaValue []byte) (bool, error) {
	if !utils.KeyIsExpired(c.db.Enc.MetaTTL(metaValue)) {
		return false, nil
	}
	dt := c.db.Enc.MetaType(metaValue)
	if dt == encoding.TypeString {
		return true, txn.Del(c.cfs().meta, ekey)
	}
	if cmd := c.db.CommandForType(dt); cmd != nil {
		if _, err := cmd.TxnExpireIfNeeded(txn, key); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Get returns the payload, lazily reaping an expired record.
func (c *StringCommand) Get(key string) (*resp.Frame, error) {
	cfs := c.cfs()
	ekey := c.db.Enc.MetaKey([]byte(key))

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		val, ok, err := txn.Get(cfs.meta, ekey)
		if err != nil || !ok {
			return resp.Null(), err
		}
		if expired, err := c.reapIfExpired(txn, key, ekey, val); err != nil {
			return nil, err
		} else if expired {
			return resp.Null(), nil
		}
		if c.db.Enc.MetaType(val) != encoding.TypeString {
			return nil, store.ErrWrongType
		}
		return resp.Bulk(c.db.Enc.StringPayload(val)), nil
	})
}

// GetType implements TYPE over any stored kind.
func (c *StringCommand) GetType(key string) (*resp.Frame, error) {
	cfs := c.cfs()
	ekey := c.db.Enc.MetaKey([]byte(key))

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		val, ok, err := txn.Get(cfs.meta, ekey)
		if err != nil || !ok {
			return resp.Simple(encoding.TypeNull.String()), err
		}
		if expired, err := c.reapIfExpired(txn, key, ekey, val); err != nil {
			return nil, err
		} else if expired {
			return resp.Simple(encoding.TypeNull.String()), nil
		}
		return resp.Simple(c.db.Enc.MetaType(val).String()), nil
	})
}

// Strlen returns the payload length, 0 for missing keys.
func (c *StringCommand) Strlen(key string) (*resp.Frame, error) {
	cfs := c.cfs()
	ekey := c.db.Enc.MetaKey([]byte(key))

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		val, ok, err := txn.Get(cfs.meta, ekey)
		if err != nil || !ok {
			return resp.Int(0), err
		}
		if expired, err := c.reapIfExpired(txn, key, ekey, val); err != nil {
			return nil, err
		} else if expired {
			return resp.Int(0), nil
		}
		if c.db.Enc.MetaType(val) != encoding.TypeString {
			return nil, store.ErrWrongType
		}
		return resp.Int(int64(len(c.db.Enc.StringPayload(val)))), nil
	})
}

// Put overwrites unconditionally. timestamp is the absolute deadline in ms,
// 0 for no expiration.
func (c *StringCommand) Put(key string, value []byte, timestamp int64) (*resp.Frame, error) {
	cfs := c.cfs()
	ekey := c.db.Enc.MetaKey([]byte(key))
	if err := c.db.Client.Put(cfs.meta, ekey, c.db.Enc.StringValue(value, timestamp)); err != nil {
		return nil, err
	}
	return resp.OK(), nil
}

// BatchGet serves MGET; expired entries are reaped and reported as null,
// non-string entries are null without error.
func (c *StringCommand) BatchGet(keys []string) (*resp.Frame, error) {
	cfs := c.cfs()

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		values := make([]*resp.Frame, 0, len(keys))
		for _, key := range keys {
			ekey := c.db.Enc.MetaKey([]byte(key))
			val, ok, err := txn.Get(cfs.meta, ekey)
			if err != nil {
				return nil, err
			}
			if !ok {
				values = append(values, resp.Null())
				continue
			}
			if expired, err := c.reapIfExpired(txn, key, ekey, val); err != nil {
				return nil, err
			} else if expired || c.db.Enc.MetaType(val) != encoding.TypeString {
				values = append(values, resp.Null())
				continue
			}
			values = append(values, resp.Bulk(c.db.Enc.StringPayload(val)))
		}
		return resp.Array(values), nil
	})
}

// BatchPut serves MSET: unconditional overwrite of every pair.
func (c *StringCommand) BatchPut(kvs []store.KvPair) (*resp.Frame, error) {
	cfs := c.cfs()
	pairs := make([]store.KvPair, len(kvs))
	for i, kv := range kvs {
		pairs[i] = store.KvPair{
			K: c.db.Enc.MetaKey(kv.K),
			V: c.db.Enc.StringValue(kv.V, 0),
		}
	}
	if err := c.db.Client.BatchPut(cfs.meta, pairs); err != nil {
		return nil, err
	}
	return resp.OK(), nil
}

// PutNotExists serves SET NX: writes only if the key is absent or expired.
func (c *StringCommand) PutNotExists(key string, value []byte) (*resp.Frame, error) {
	cfs := c.cfs()
	ekey := c.db.Enc.MetaKey([]byte(key))
	eval := c.db.Enc.StringValue(value, 0)

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int, error) {
		val, ok, err := txn.GetForUpdate(cfs.meta, ekey)
		if err != nil {
			return 0, err
		}
		if ok && !utils.KeyIsExpired(c.db.Enc.MetaTTL(val)) {
			return 0, nil
		}
		// expired records are simply overwritten
		if err := txn.Put(cfs.meta, ekey, eval); err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return resp.Null(), nil
	}
	return resp.OK(), nil
}

// Exists counts how many of keys are present and unexpired, reaping the
// expired ones along the way.
func (c *StringCommand) Exists(keys []string) (*resp.Frame, error) {
	cfs := c.cfs()

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		var nums int64
		for _, key := range keys {
			ekey := c.db.Enc.MetaKey([]byte(key))
			val, ok, err := txn.Get(cfs.meta, ekey)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if expired, err := c.reapIfExpired(txn, key, ekey, val); err != nil {
				return nil, err
			} else if expired {
				continue
			}
			nums++
		}
		return resp.Int(nums), nil
	})
}

// Incr adds step to the integer payload inside one transaction. Absent and
// expired keys start from zero; a non-integer payload fails the operation.
func (c *StringCommand) Incr(key string, step int64) (*resp.Frame, error) {
	cfs := c.cfs()
	ekey := c.db.Enc.MetaKey([]byte(key))

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		var prev int64
		val, ok, err := txn.GetForUpdate(cfs.meta, ekey)
		if err != nil {
			return nil, err
		}
		if ok {
			if c.db.Enc.MetaType(val) != encoding.TypeString {
				return nil, store.ErrWrongType
			}
			if utils.KeyIsExpired(c.db.Enc.MetaTTL(val)) {
				if err := txn.Del(cfs.meta, ekey); err != nil {
					return nil, err
				}
			} else {
				prev, err = strconv.ParseInt(string(c.db.Enc.StringPayload(val)), 10, 64)
				if err != nil {
					return nil, store.ErrValueNotInteger
				}
			}
		}
		next := prev + step
		eval := c.db.Enc.StringValue([]byte(strconv.FormatInt(next, 10)), 0)
		if err := txn.Put(cfs.meta, ekey, eval); err != nil {
			return nil, err
		}
		return resp.Int(next), nil
	})
}

// Expire rewrites the deadline of any stored kind, dispatching collections
// to their engines so version and shard layout survive. Expiring an already
// past-due key reaps it and returns 0.
func (c *StringCommand) Expire(key string, timestamp int64) (*resp.Frame, error) {
	cfs := c.cfs()
	ekey := c.db.Enc.MetaKey([]byte(key))

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int64, error) {
		metaValue, ok, err := txn.GetForUpdate(cfs.meta, ekey)
		if err != nil {
			return 0, err
		}
		if !ok || timestamp == 0 {
			return 0, nil
		}
		dt := c.db.Enc.MetaType(metaValue)
		if dt == encoding.TypeString {
			if utils.KeyIsExpired(c.db.Enc.MetaTTL(metaValue)) {
				if _, err := c.txnExpireIfNeeded(txn, ekey, metaValue); err != nil {
					return 0, err
				}
				return 0, nil
			}
			payload := c.db.Enc.StringPayload(metaValue)
			if err := txn.Put(cfs.meta, ekey, c.db.Enc.StringValue(payload, timestamp)); err != nil {
				return 0, err
			}
			return 1, nil
		}
		if cmd := c.db.CommandForType(dt); cmd != nil {
			return cmd.TxnExpire(txn, key, timestamp, metaValue)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// TTL returns the remaining lifetime: -2 missing or expired, -1 no
// expiration, otherwise milliseconds (or seconds when isMillis is false).
func (c *StringCommand) TTL(key string, isMillis bool) (*resp.Frame, error) {
	cfs := c.cfs()
	ekey := c.db.Enc.MetaKey([]byte(key))

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := txn.Get(cfs.meta, ekey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Int(-2), nil
		}
		ttl := c.db.Enc.MetaTTL(metaValue)
		if utils.KeyIsExpired(ttl) {
			dt := c.db.Enc.MetaType(metaValue)
			if dt == encoding.TypeString {
				if _, err := c.txnExpireIfNeeded(txn, ekey, metaValue); err != nil {
					return nil, err
				}
			} else if cmd := c.db.CommandForType(dt); cmd != nil {
				if _, err := cmd.TxnExpireIfNeeded(txn, key); err != nil {
					return nil, err
				}
			}
			return resp.Int(-2), nil
		}
		if ttl == 0 {
			return resp.Int(-1), nil
		}
		remain := utils.TTLFromTimestamp(ttl)
		if !isMillis {
			remain /= 1000
		}
		return resp.Int(remain), nil
	})
}

// Del removes every named key, dispatching on the stored kind. Returns the
// count of keys that existed.
func (c *StringCommand) Del(keys []string) (*resp.Frame, error) {
	cfs := c.cfs()

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int64, error) {
		var deleted int64
		for _, key := range keys {
			ekey := c.db.Enc.MetaKey([]byte(key))
			metaValue, ok, err := txn.Get(cfs.meta, ekey)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
			dt := c.db.Enc.MetaType(metaValue)
			if dt == encoding.TypeString {
				if err := txn.Del(cfs.meta, ekey); err != nil {
					return 0, err
				}
				deleted++
				continue
			}
			cmd := c.db.CommandForType(dt)
			if cmd == nil {
				continue
			}
			if err := cmd.TxnDel(txn, key); err != nil {
				return 0, err
			}
			deleted++
		}
		return deleted, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// Keys walks the whole meta keyspace in bounded rounds and returns the user
// keys matching a glob pattern. Shard records sharing a key's prefix are
// skipped, expired keys are filtered without reaping (this is a read).
func (c *StringCommand) Keys(pattern string) (*resp.Frame, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile glob %q: %w", pattern, err)
	}
	cfs := c.cfs()
	leftBound := c.db.Enc.MetaKey(nil)
	keyspaceEnd := c.db.Enc.KeyspaceEnd()

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		var keys []*resp.Frame
		lastRound := 1
		for lastRound != 0 {
			pairs, err := txn.Scan(cfs.meta, store.Range{Start: leftBound, End: keyspaceEnd}, scanBatch)
			if err != nil {
				return nil, err
			}
			lastRound = 0
			for _, kv := range pairs {
				// the left bound was consumed by the previous round
				if bytes.Equal(kv.K, leftBound) {
					continue
				}
				leftBound = kv.K
				lastRound++

				ukey, isMeta, err := c.db.Enc.UserKeyFromMetaKey(kv.K)
				if err != nil {
					return nil, err
				}
				if !isMeta {
					continue
				}
				if utils.KeyIsExpired(c.db.Enc.MetaTTL(kv.V)) {
					continue
				}
				if g.Match(string(ukey)) {
					keys = append(keys, resp.Bulk(ukey))
				}
			}
		}
		return resp.Array(keys), nil
	})
}

// Scan pages through the meta keyspace from a cursor. It returns
// [next-cursor, matched-keys]; an empty cursor means the iteration is done.
func (c *StringCommand) Scan(start string, count uint32, pattern string) (*resp.Frame, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile regex %q: %w", pattern, err)
	}
	cfs := c.cfs()
	leftBound := c.db.Enc.MetaKey([]byte(start))
	keyspaceEnd := c.db.Enc.KeyspaceEnd()

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		var keys []*resp.Frame
		var nextKey []byte
		retrieved := uint32(0)
		lastRound := 1

		for retrieved < count {
			if lastRound == 0 {
				nextKey = nil
				break
			}
			pairs, err := txn.Scan(cfs.meta, store.Range{Start: leftBound, End: keyspaceEnd}, scanBatch)
			if err != nil {
				return nil, err
			}
			lastRound = 0
			for _, kv := range pairs {
				if bytes.Equal(kv.K, leftBound) {
					continue
				}
				leftBound = kv.K
				lastRound++

				ukey, isMeta, err := c.db.Enc.UserKeyFromMetaKey(kv.K)
				if err != nil {
					return nil, err
				}
				if !isMeta {
					continue
				}
				if utils.KeyIsExpired(c.db.Enc.MetaTTL(kv.V)) {
					continue
				}
				if retrieved == count-1 {
					nextKey = ukey
					retrieved++
					if re.Match(ukey) {
						keys = append(keys, resp.Bulk(ukey))
					}
					break
				}
				retrieved++
				if re.Match(ukey) {
					keys = append(keys, resp.Bulk(ukey))
				}
			}
		}
		return resp.Array([]*resp.Frame{resp.Bulk(nextKey), resp.Array(keys)}), nil
	})
}

// txnExpireIfNeeded reaps a string record whose deadline has passed.
func (c *StringCommand) txnExpireIfNeeded(txn *store.Txn, ekey, metaValue []byte) (int64, error) {
	if !utils.KeyIsExpired(c.db.Enc.MetaTTL(metaValue)) {
		return 0, nil
	}
	if err := txn.Del(c.cfs().meta, ekey); err != nil {
		return 0, err
	}
	return 1, nil
}

const scanBatch = 100
