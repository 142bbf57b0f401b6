package engine

import (
	"math/rand/v2"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
	"github.com/xiaoyuz/mapuche-embedded/internal/utils"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

// randomBase is the minimum oversample for SRANDMEMBER: scanning a bit more
// than requested keeps the shuffle cheap without loading huge sets.
const randomBase = int64(100)

type setCFs struct {
	meta      store.CF
	subMeta   store.CF
	gc        store.CF
	gcVersion store.CF
	data      store.CF
}

// SetCommand serves the set commands. Members are value-less data records;
// cardinality lives in the shared sub-meta shard protocol.
type SetCommand struct {
	db *DB
}

// NewSetCommand binds the set engine to db.
func NewSetCommand(db *DB) *SetCommand { return &SetCommand{db: db} }

func (c *SetCommand) cfs() setCFs {
	return setCFs{
		meta:      c.db.Client.MustCF(store.CFNameMeta),
		subMeta:   c.db.Client.MustCF(store.CFNameSetSubMeta),
		gc:        c.db.Client.MustCF(store.CFNameGC),
		gcVersion: c.db.Client.MustCF(store.CFNameGCVersion),
		data:      c.db.Client.MustCF(store.CFNameSetData),
	}
}

func (c *SetCommand) readMeta(txn *store.Txn, metaKey []byte) (metaValue []byte, ok bool, err error) {
	metaValue, ok, err = txn.Get(c.cfs().meta, metaKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	if c.db.Enc.MetaType(metaValue) != encoding.TypeSet {
		return nil, false, store.ErrWrongType
	}
	return metaValue, true, nil
}

// placeholder value for member records: presence is membership.
var setMemberValue = []byte{0}

// SAdd inserts members and returns how many were new.
func (c *SetCommand) SAdd(key string, members []string) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)
	randIdx := c.db.Client.NextMetaIndex()

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int64, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return 0, err
		}

		if !ok {
			version, err := c.db.Client.VersionForNew(txn, cfs.gc, cfs.gcVersion, c.db.Enc, ukey)
			if err != nil {
				return 0, err
			}
			subMetaKey := c.db.Enc.SubMetaKey(ukey, version, randIdx)
			if _, _, err := txn.GetForUpdate(cfs.subMeta, subMetaKey); err != nil {
				return 0, err
			}
			for _, m := range members {
				// the value byte keeps zero-length-value backends happy
				if err := txn.Put(cfs.data, c.db.Enc.SetDataKey(ukey, []byte(m), version), setMemberValue); err != nil {
					return 0, err
				}
			}
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.SetMetaValue(0, version, 0)); err != nil {
				return 0, err
			}
			added := int64(utils.CountUniqueStrings(members))
			if err := txn.Put(cfs.subMeta, subMetaKey, encoding.AppendInt64(nil, added)); err != nil {
				return 0, err
			}
			return added, nil
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
		subMetaKey := c.db.Enc.SubMetaKey(ukey, version, randIdx)
		subMetaValue, subOk, err := txn.GetForUpdate(cfs.subMeta, subMetaKey)
		if err != nil {
			return 0, err
		}

		memberKeys := make([][]byte, len(members))
		for i, m := range members {
			memberKeys[i] = c.db.Enc.SetDataKey(ukey, []byte(m), version)
		}
		present, err := txn.BatchGetForUpdate(cfs.data, memberKeys)
		if err != nil {
			return 0, err
		}
		added := int64(utils.CountUniqueBytes(memberKeys)) - int64(len(present))
		for _, mk := range memberKeys {
			if err := txn.Put(cfs.data, mk, setMemberValue); err != nil {
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
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.SetMetaValue(0, version, 0)); err != nil {
				return 0, err
			}
		}
		return added, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// SCard sums the cardinality shards.
func (c *SetCommand) SCard(key string) (*resp.Frame, error) {
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
		size, err := c.db.sumSubMeta(key, version, c.cfs().subMeta, encoding.TypeSet)
		if err != nil {
			return nil, err
		}
		return resp.Int(size), nil
	})
}

// SIsMember answers membership for one member (respInArr false, SISMEMBER)
// or many (respInArr true, SMISMEMBER).
func (c *SetCommand) SIsMember(key string, members []string, respInArr bool) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	zeros := func() *resp.Frame {
		if !respInArr {
			return resp.Int(0)
		}
		out := make([]*resp.Frame, len(members))
		for i := range out {
			out[i] = resp.Int(0)
		}
		return resp.Array(out)
	}

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return zeros(), nil
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return zeros(), nil
		}

		if !respInArr {
			if _, ok, err := txn.Get(cfs.data, c.db.Enc.SetDataKey(ukey, []byte(members[0]), version)); err != nil {
				return nil, err
			} else if ok {
				return resp.Int(1), nil
			}
			return resp.Int(0), nil
		}

		memberKeys := make([][]byte, len(members))
		for i, m := range members {
			memberKeys[i] = c.db.Enc.SetDataKey(ukey, []byte(m), version)
		}
		pairs, err := txn.BatchGet(cfs.data, memberKeys)
		if err != nil {
			return nil, err
		}
		found := make(map[string]struct{}, len(pairs))
		for _, kv := range pairs {
			found[string(kv.K)] = struct{}{}
		}
		out := make([]*resp.Frame, len(memberKeys))
		for i, mk := range memberKeys {
			if _, ok := found[string(mk)]; ok {
				out[i] = resp.Int(1)
			} else {
				out[i] = resp.Int(0)
			}
		}
		return resp.Array(out), nil
	})
}

// SRandMember samples members without removing them. It oversamples the
// scan, shuffles, then trims to count, repeating entries only for the
// negative-count form.
func (c *SetCommand) SRandMember(key string, count int64, repeatable, arrayResp bool) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			if arrayResp {
				return resp.Array(nil), nil
			}
			return resp.Null(), nil
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			if arrayResp {
				return resp.Array(nil), nil
			}
			return resp.Null(), nil
		}

		eleCount := randomBase
		if count > eleCount {
			eleCount = count
		}
		start, end := c.db.Enc.SetDataRange(ukey, version)
		keys, err := txn.ScanKeys(cfs.data, store.Range{Start: start, End: end}, uint32(eleCount))
		if err != nil {
			return nil, err
		}
		out := make([]*resp.Frame, 0, len(keys))
		for _, k := range keys {
			out = append(out, resp.Bulk(c.db.Enc.SetMemberFromDataKey(ukey, k)))
		}
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

		respLen := len(out)
		if respLen == 0 {
			if arrayResp {
				return resp.Array(nil), nil
			}
			return resp.Null(), nil
		}
		if !arrayResp {
			return out[rand.IntN(respLen)], nil
		}
		for repeatable && int64(len(out)) < count {
			out = append(out, out[rand.IntN(respLen)])
		}
		if count < int64(respLen) {
			out = out[:count]
		}
		return resp.Array(out), nil
	})
}

// SMembers lists every member in key order.
func (c *SetCommand) SMembers(key string) (*resp.Frame, error) {
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

		start, end := c.db.Enc.SetDataRange(ukey, version)
		keys, err := txn.ScanKeys(cfs.data, store.Range{Start: start, End: end}, maxScan)
		if err != nil {
			return nil, err
		}
		out := make([]*resp.Frame, 0, len(keys))
		for _, k := range keys {
			out = append(out, resp.Bulk(c.db.Enc.SetMemberFromDataKey(ukey, k)))
		}
		return resp.Array(out), nil
	})
}

// SRem removes members; a zero shard sum removes the whole set.
func (c *SetCommand) SRem(key string, members []string) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)
	randIdx := c.db.Client.NextMetaIndex()

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

		size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeSet)
		if err != nil {
			return 0, err
		}
		memberKeys := make([][]byte, len(members))
		for i, m := range members {
			memberKeys[i] = c.db.Enc.SetDataKey(ukey, []byte(m), version)
		}
		present, err := txn.BatchGetForUpdate(cfs.data, memberKeys)
		if err != nil {
			return 0, err
		}
		var removed int64
		for _, kv := range present {
			if err := txn.Del(cfs.data, kv.K); err != nil {
				return 0, err
			}
			removed++
		}

		if removed >= size {
			if err := txn.Del(cfs.meta, metaKey); err != nil {
				return 0, err
			}
			if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
				return 0, err
			}
		} else if err := c.db.adjustSubMeta(txn, cfs.subMeta, key, version, randIdx, -removed); err != nil {
			return 0, err
		}
		return removed, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// SPop removes and returns the first count members in key order.
func (c *SetCommand) SPop(key string, count uint64) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)
	randIdx := c.db.Client.NextMetaIndex()

	popped, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) ([]*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil || !ok {
			return nil, err
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return nil, nil
		}

		start, end := c.db.Enc.SetDataRange(ukey, version)
		keys, err := txn.ScanKeys(cfs.data, store.Range{Start: start, End: end}, uint32(count))
		if err != nil {
			return nil, err
		}
		out := make([]*resp.Frame, 0, len(keys))
		for _, k := range keys {
			out = append(out, resp.Bulk(c.db.Enc.SetMemberFromDataKey(ukey, k)))
			if err := txn.Del(cfs.data, k); err != nil {
				return nil, err
			}
		}
		poppedCount := int64(len(keys))

		size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeSet)
		if err != nil {
			return nil, err
		}
		if poppedCount >= size {
			if err := txn.Del(cfs.meta, metaKey); err != nil {
				return nil, err
			}
			if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
				return nil, err
			}
		} else if err := c.db.adjustSubMeta(txn, cfs.subMeta, key, version, randIdx, -poppedCount); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if count == 1 {
		if len(popped) == 0 {
			return resp.Null(), nil
		}
		return popped[len(popped)-1], nil
	}
	return resp.Array(popped), nil
}

// TxnDel implements TxnCommand.
func (c *SetCommand) TxnDel(txn *store.Txn, key string) error {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	metaValue, ok, err := txn.Get(cfs.meta, metaKey)
	if err != nil || !ok {
		return err
	}
	version := c.db.Enc.MetaVersion(metaValue)
	size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeSet)
	if err != nil {
		return err
	}

	if size > c.db.Client.AsyncHandleThreshold() {
		return c.db.stageAsyncDelete(txn, cfs.meta, cfs.gc, cfs.gcVersion, metaKey, key, version, encoding.TypeSet)
	}

	if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
		return err
	}
	start, end := c.db.Enc.SetDataRange(ukey, version)
	keys, err := txn.ScanKeys(cfs.data, store.Range{Start: start, End: end}, maxScan)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Del(cfs.data, k); err != nil {
			return err
		}
	}
	return txn.Del(cfs.meta, metaKey)
}

// TxnExpireIfNeeded implements TxnCommand.
func (c *SetCommand) TxnExpireIfNeeded(txn *store.Txn, key string) (int64, error) {
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
func (c *SetCommand) TxnExpire(txn *store.Txn, key string, timestamp int64, metaValue []byte) (int64, error) {
	cfs := c.cfs()
	if utils.KeyIsExpired(c.db.Enc.MetaTTL(metaValue)) {
		if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
			return 0, err
		}
		return 0, nil
	}
	version := c.db.Enc.MetaVersion(metaValue)
	metaKey := c.db.Enc.MetaKey([]byte(key))
	if err := txn.Put(cfs.meta, metaKey, c.db.Enc.SetMetaValue(timestamp, version, 0)); err != nil {
		return 0, err
	}
	return 1, nil
}

// TxnGC implements TxnCommand.
func (c *SetCommand) TxnGC(txn *store.Txn, key string, version uint16) error {
	cfs := c.cfs()
	if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
		return err
	}
	start, end := c.db.Enc.SetDataRange([]byte(key), version)
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
