package engine

import (
	"bytes"
	"fmt"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
	"github.com/xiaoyuz/mapuche-embedded/internal/utils"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

// initIndex is the midpoint of the u64 index space; a fresh list grows in
// both directions from here. The window [left, right) holds the live
// elements, empty iff left == right.
const initIndex uint64 = 1 << 32

type listCFs struct {
	meta      store.CF
	gc        store.CF
	gcVersion store.CF
	data      store.CF
}

// ListCommand serves the list commands over a windowed u64 index space.
type ListCommand struct {
	db *DB
}

// NewListCommand binds the list engine to db.
func NewListCommand(db *DB) *ListCommand { return &ListCommand{db: db} }

func (c *ListCommand) cfs() listCFs {
	return listCFs{
		meta:      c.db.Client.MustCF(store.CFNameMeta),
		gc:        c.db.Client.MustCF(store.CFNameGC),
		gcVersion: c.db.Client.MustCF(store.CFNameGCVersion),
		data:      c.db.Client.MustCF(store.CFNameListData),
	}
}

func (c *ListCommand) readMeta(txn *store.Txn, metaKey []byte, forUpdate bool) (metaValue []byte, ok bool, err error) {
	if forUpdate {
		metaValue, ok, err = txn.GetForUpdate(c.cfs().meta, metaKey)
	} else {
		metaValue, ok, err = txn.Get(c.cfs().meta, metaKey)
	}
	if err != nil || !ok {
		return nil, ok, err
	}
	if c.db.Enc.MetaType(metaValue) != encoding.TypeList {
		return nil, false, store.ErrWrongType
	}
	return metaValue, true, nil
}

// Push appends values on the left or right end, creating the list on first
// insert. Returns the resulting length.
func (c *ListCommand) Push(key string, values [][]byte, opLeft bool) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (uint64, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey, true)
		if err != nil {
			return 0, err
		}

		ttl := int64(0)
		left, right := initIndex, initIndex
		var version uint16
		if ok {
			var l, r uint64
			ttl, version, l, r = c.db.Enc.ListMeta(metaValue)
			left, right = l, r
			if utils.KeyIsExpired(ttl) {
				if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
					return 0, err
				}
				ttl = 0
				left, right = initIndex, initIndex
				if version, err = c.db.Client.VersionForNew(txn, cfs.gc, cfs.gcVersion, c.db.Enc, ukey); err != nil {
					return 0, err
				}
			}
		} else {
			if version, err = c.db.Client.VersionForNew(txn, cfs.gc, cfs.gcVersion, c.db.Enc, ukey); err != nil {
				return 0, err
			}
		}

		for _, value := range values {
			var idx uint64
			if opLeft {
				left--
				idx = left
			} else {
				idx = right
				right++
			}
			if err := txn.Put(cfs.data, c.db.Enc.ListDataKey(ukey, idx, version), value); err != nil {
				return 0, err
			}
		}
		if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ListMetaValue(ttl, version, left, right)); err != nil {
			return 0, err
		}
		return right - left, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(int64(n)), nil
}

// Pop removes count elements from one end. A count of one replies with a
// bulk, more with an array, an empty list with null.
func (c *ListCommand) Pop(key string, opLeft bool, count int64) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	values, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) ([]*resp.Frame, error) {
		var values []*resp.Frame
		metaValue, ok, err := c.readMeta(txn, metaKey, true)
		if err != nil || !ok {
			return values, err
		}
		ttl, version, left, right := c.db.Enc.ListMeta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return values, nil
		}

		realCount := uint64(count)
		if realCount > right-left {
			realCount = right - left
		}
		dataKeys := make([][]byte, 0, realCount)
		for i := uint64(0); i < realCount; i++ {
			var idx uint64
			if opLeft {
				idx = left
				left++
			} else {
				right--
				idx = right
			}
			dataKeys = append(dataKeys, c.db.Enc.ListDataKey(ukey, idx, version))
		}
		pairs, err := txn.BatchGet(cfs.data, dataKeys)
		if err != nil {
			return nil, err
		}
		if len(pairs) != len(dataKeys) {
			return nil, fmt.Errorf("list %q: window references %d missing records", key, len(dataKeys)-len(pairs))
		}
		for _, kv := range pairs {
			values = append(values, resp.Bulk(kv.V))
			if err := txn.Del(cfs.data, kv.K); err != nil {
				return nil, err
			}
		}

		if left == right {
			if err := txn.Del(cfs.meta, metaKey); err != nil {
				return nil, err
			}
		} else {
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ListMetaValue(ttl, version, left, right)); err != nil {
				return nil, err
			}
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	switch {
	case len(values) == 0:
		return resp.Null(), nil
	case count == 1:
		return values[0], nil
	default:
		return resp.Array(values), nil
	}
}

// LTrim drops every element outside [start, end] after index normalization.
func (c *ListCommand) LTrim(key string, start, end int64) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	_, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (struct{}, error) {
		var done struct{}
		metaValue, ok, err := c.readMeta(txn, metaKey, true)
		if err != nil || !ok {
			return done, err
		}
		ttl, version, left, right := c.db.Enc.ListMeta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return done, err
			}
			return done, nil
		}

		length := int64(right - left)
		if start < 0 {
			start += length
		}
		if end < 0 {
			end += length
		}
		if start < 0 {
			start = 0
		}
		if start > length-1 {
			start = length - 1
		}
		if end < 0 {
			end = 0
		}
		if end > length-1 {
			end = length - 1
		}
		start += int64(left)
		end += int64(left)

		for idx := left; idx < uint64(start); idx++ {
			if err := txn.Del(cfs.data, c.db.Enc.ListDataKey(ukey, idx, version)); err != nil {
				return done, err
			}
		}
		if trim := start - int64(left); trim > 0 {
			left += uint64(trim)
		}
		for idx := uint64(end + 1); idx < right; idx++ {
			if err := txn.Del(cfs.data, c.db.Enc.ListDataKey(ukey, idx, version)); err != nil {
				return done, err
			}
		}
		if trim := int64(right) - end - 1; trim > 0 {
			right -= uint64(trim)
		}

		if left >= right {
			if err := txn.Del(cfs.meta, metaKey); err != nil {
				return done, err
			}
		} else {
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ListMetaValue(ttl, version, left, right)); err != nil {
				return done, err
			}
		}
		return done, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.OK(), nil
}

// LRange returns the elements between two normalized logical positions.
func (c *ListCommand) LRange(key string, rLeft, rRight int64) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey, false)
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Array(nil), nil
		}
		ttl, version, left, right := c.db.Enc.ListMeta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Array(nil), nil
		}

		llen := int64(right - left)
		if rLeft < 0 {
			rLeft += llen
		}
		if rRight < 0 {
			rRight += llen
		}
		if rLeft > rRight || rLeft > llen {
			return resp.Array(nil), nil
		}
		realLeft := rLeft + int64(left)
		realLength := rRight - rLeft + 1
		if realLength > llen {
			realLength = llen
		}

		startKey := c.db.Enc.ListDataKey(ukey, uint64(realLeft), version)
		_, endKey := c.db.Enc.ListDataRange(ukey, version)
		pairs, err := txn.Scan(cfs.data, store.Range{Start: startKey, End: endKey}, uint32(realLength))
		if err != nil {
			return nil, err
		}
		out := make([]*resp.Frame, 0, len(pairs))
		for _, kv := range pairs {
			out = append(out, resp.Bulk(kv.V))
		}
		return resp.Array(out), nil
	})
}

// LLen returns the window width.
func (c *ListCommand) LLen(key string) (*resp.Frame, error) {
	metaKey := c.db.Enc.MetaKey([]byte(key))

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey, false)
		if err != nil || !ok {
			return resp.Int(0), err
		}
		ttl, _, left, right := c.db.Enc.ListMeta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Int(0), nil
		}
		return resp.Int(int64(right - left)), nil
	})
}

// LIndex point-reads one normalized position.
func (c *ListCommand) LIndex(key string, idx int64) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey, false)
		if err != nil || !ok {
			return resp.Null(), err
		}
		ttl, version, left, right := c.db.Enc.ListMeta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Null(), nil
		}

		if idx < 0 {
			idx += int64(right - left)
		}
		realIdx := int64(left) + idx
		val, ok, err := txn.Get(cfs.data, c.db.Enc.ListDataKey(ukey, uint64(realIdx), version))
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Null(), nil
		}
		return resp.Bulk(val), nil
	})
}

// LSet overwrites one position; missing key and out-of-window index are
// distinct errors.
func (c *ListCommand) LSet(key string, idx int64, element []byte) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	_, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (struct{}, error) {
		var done struct{}
		metaValue, ok, err := c.readMeta(txn, metaKey, true)
		if err != nil {
			return done, err
		}
		if !ok {
			return done, store.ErrNoSuchKey
		}
		ttl, version, left, right := c.db.Enc.ListMeta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return done, err
			}
			return done, store.ErrNoSuchKey
		}

		if idx < 0 {
			idx += int64(right - left)
		}
		uidx := idx + int64(left)
		if idx < 0 || uidx < int64(left) || uidx > int64(right-1) {
			return done, store.ErrIndexOutOfRange
		}
		if err := txn.Put(cfs.data, c.db.Enc.ListDataKey(ukey, uint64(uidx), version), element); err != nil {
			return done, err
		}
		return done, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.OK(), nil
}

// LInsert places element before or after the first occurrence of pivot,
// shifting the shorter side to open a slot. Returns the new length, -1 when
// the pivot is absent, 0 when the key is missing.
func (c *ListCommand) LInsert(key string, beforePivot bool, pivot, element []byte) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int64, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey, true)
		if err != nil || !ok {
			return 0, err
		}
		ttl, version, left, right := c.db.Enc.ListMeta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return 0, err
			}
			return 0, nil
		}

		if limit := c.db.Cfg.LinsertLimit; limit > 0 && right-left > uint64(limit) {
			return 0, store.ErrListTooLarge
		}

		start, end := c.db.Enc.ListDataRange(ukey, version)
		pairs, err := txn.Scan(cfs.data, store.Range{Start: start, End: end}, maxScan)
		if err != nil {
			return 0, err
		}
		pivotIdx, found := uint64(0), false
		for _, kv := range pairs {
			if bytes.Equal(kv.V, pivot) {
				pivotIdx = c.db.Enc.ListIdxFromDataKey(ukey, kv.K)
				found = true
				break
			}
		}
		if !found {
			return -1, nil
		}

		// shift the side with fewer elements to free one slot
		fromLeft := pivotIdx-left < right-pivotIdx
		var idxOp uint64
		if fromLeft {
			if beforePivot {
				idxOp = pivotIdx - 1
			} else {
				idxOp = pivotIdx
			}
			if idxOp >= left {
				s, e := c.db.Enc.ListDataIdxRange(ukey, left, idxOp, version)
				window, err := txn.Scan(cfs.data, store.Range{Start: s, End: e, IncludeEnd: true}, maxScan)
				if err != nil {
					return 0, err
				}
				for _, kv := range window {
					keyIdx := c.db.Enc.ListIdxFromDataKey(ukey, kv.K)
					if err := txn.Put(cfs.data, c.db.Enc.ListDataKey(ukey, keyIdx-1, version), kv.V); err != nil {
						return 0, err
					}
				}
			}
			left--
		} else {
			if beforePivot {
				idxOp = pivotIdx
			} else {
				idxOp = pivotIdx + 1
			}
			if idxOp < right {
				s, e := c.db.Enc.ListDataIdxRange(ukey, idxOp, right-1, version)
				window, err := txn.Scan(cfs.data, store.Range{Start: s, End: e, IncludeEnd: true}, maxScan)
				if err != nil {
					return 0, err
				}
				for _, kv := range window {
					keyIdx := c.db.Enc.ListIdxFromDataKey(ukey, kv.K)
					if err := txn.Put(cfs.data, c.db.Enc.ListDataKey(ukey, keyIdx+1, version), kv.V); err != nil {
						return 0, err
					}
				}
			}
			right++
		}

		if err := txn.Put(cfs.data, c.db.Enc.ListDataKey(ukey, idxOp, version), element); err != nil {
			return 0, err
		}
		if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ListMetaValue(ttl, version, left, right)); err != nil {
			return 0, err
		}
		return int64(right - left), nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// LRem removes up to count occurrences of element (all when count is zero),
// walking from the head or the tail, and compacts the survivors to close
// the holes. Returns the number removed.
func (c *ListCommand) LRem(key string, count uint64, fromHead bool, element []byte) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	n, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (int64, error) {
		metaValue, ok, err := c.readMeta(txn, metaKey, true)
		if err != nil || !ok {
			return 0, err
		}
		ttl, version, left, right := c.db.Enc.ListMeta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return 0, err
			}
			return 0, nil
		}

		length := right - left
		if limit := c.db.Cfg.LremLimit; limit > 0 && length > uint64(limit) {
			return 0, store.ErrListTooLarge
		}

		start, end := c.db.Enc.ListDataRange(ukey, version)
		rng := store.Range{Start: start, End: end}
		pairs, err := txn.Scan(cfs.data, rng, maxScan)
		if err != nil {
			return 0, err
		}
		// hole collects the indices to remove, in removal order
		var hole []uint64
		for _, kv := range pairs {
			if bytes.Equal(kv.V, element) {
				hole = append(hole, c.db.Enc.ListIdxFromDataKey(ukey, kv.K))
			}
		}
		if len(hole) == 0 {
			return 0, nil
		}
		if !fromHead {
			for i, j := 0, len(hole)-1; i < j; i, j = i+1, j-1 {
				hole[i], hole[j] = hole[j], hole[i]
			}
		}

		removed := uint64(0)
		walk := func(kv store.KvPair, shiftDown bool) error {
			keyIdx := c.db.Enc.ListIdxFromDataKey(ukey, kv.K)
			if !((count > 0 && removed == count) || removed == uint64(len(hole))) && hole[removed] == keyIdx {
				if err := txn.Del(cfs.data, kv.K); err != nil {
					return err
				}
				removed++
				return nil
			}
			if removed > 0 {
				newIdx := keyIdx + removed
				if shiftDown {
					newIdx = keyIdx - removed
				}
				if err := txn.Put(cfs.data, c.db.Enc.ListDataKey(ukey, newIdx, version), kv.V); err != nil {
					return err
				}
				if err := txn.Del(cfs.data, kv.K); err != nil {
					return err
				}
			}
			return nil
		}

		if fromHead {
			for _, kv := range pairs {
				if err := walk(kv, true); err != nil {
					return 0, err
				}
			}
		} else {
			rev, err := txn.ScanReverse(cfs.data, rng, maxScan)
			if err != nil {
				return 0, err
			}
			for _, kv := range rev {
				if err := walk(kv, false); err != nil {
					return 0, err
				}
			}
		}

		if length == removed {
			if err := txn.Del(cfs.meta, metaKey); err != nil {
				return 0, err
			}
		} else {
			newLeft, newRight := left, right
			if fromHead {
				newRight = right - removed
			} else {
				newLeft = left + removed
			}
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ListMetaValue(ttl, version, newLeft, newRight)); err != nil {
				return 0, err
			}
		}
		return int64(removed), nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// TxnDel implements TxnCommand.
func (c *ListCommand) TxnDel(txn *store.Txn, key string) error {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	metaValue, ok, err := txn.Get(cfs.meta, metaKey)
	if err != nil || !ok {
		return err
	}
	_, version, left, right := c.db.Enc.ListMeta(metaValue)

	if int64(right-left) > c.db.Client.AsyncHandleThreshold() {
		return c.db.stageAsyncDelete(txn, cfs.meta, cfs.gc, cfs.gcVersion, metaKey, key, version, encoding.TypeList)
	}

	start, end := c.db.Enc.ListDataRange(ukey, version)
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
func (c *ListCommand) TxnExpireIfNeeded(txn *store.Txn, key string) (int64, error) {
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
func (c *ListCommand) TxnExpire(txn *store.Txn, key string, timestamp int64, metaValue []byte) (int64, error) {
	cfs := c.cfs()
	if utils.KeyIsExpired(c.db.Enc.MetaTTL(metaValue)) {
		if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
			return 0, err
		}
		return 0, nil
	}
	_, version, left, right := c.db.Enc.ListMeta(metaValue)
	metaKey := c.db.Enc.MetaKey([]byte(key))
	if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ListMetaValue(timestamp, version, left, right)); err != nil {
		return 0, err
	}
	return 1, nil
}

// TxnGC implements TxnCommand.
func (c *ListCommand) TxnGC(txn *store.Txn, key string, version uint16) error {
	cfs := c.cfs()
	start, end := c.db.Enc.ListDataRange([]byte(key), version)
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
