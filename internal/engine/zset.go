package engine

import (
	"bytes"
	"strconv"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
	"github.com/xiaoyuz/mapuche-embedded/internal/utils"
	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

type zsetCFs struct {
	meta      store.CF
	subMeta   store.CF
	gc        store.CF
	gcVersion store.CF
	data      store.CF
	score     store.CF
}

// ZsetCommand serves the sorted-set commands. Every member lives in two
// records kept coherent inside one transaction: the member index
// (member → cmp-encoded score) and the score index (score‖member → member),
// which byte-scans in ascending score order.
type ZsetCommand struct {
	db *DB
}

// NewZsetCommand binds the sorted-set engine to db.
func NewZsetCommand(db *DB) *ZsetCommand { return &ZsetCommand{db: db} }

func (c *ZsetCommand) cfs() zsetCFs {
	return zsetCFs{
		meta:      c.db.Client.MustCF(store.CFNameMeta),
		subMeta:   c.db.Client.MustCF(store.CFNameZsetSubMeta),
		gc:        c.db.Client.MustCF(store.CFNameGC),
		gcVersion: c.db.Client.MustCF(store.CFNameGCVersion),
		data:      c.db.Client.MustCF(store.CFNameZsetData),
		score:     c.db.Client.MustCF(store.CFNameZsetScore),
	}
}

func (c *ZsetCommand) readMeta(txn *store.Txn, metaKey []byte) (metaValue []byte, ok bool, err error) {
	metaValue, ok, err = txn.Get(c.cfs().meta, metaKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	if c.db.Enc.MetaType(metaValue) != encoding.TypeZset {
		return nil, false, store.ErrWrongType
	}
	return metaValue, true, nil
}

// ScoredMember pairs one member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// ZAddFlags carries the NX/XX/CH modifiers: Exists nil means uncon-
// ditional, true only-update (XX), false only-insert (NX); ChangedOnly
// switches the reply from added-count to changed-count.
type ZAddFlags struct {
	Exists      *bool
	ChangedOnly bool
}

// writeMember writes both index records for (member, score), dropping the
// stale score record when the member already had a different score.
func (c *ZsetCommand) writeMember(txn *store.Txn, cfs zsetCFs, ukey []byte, member string, oldScore *float64, newScore float64, version uint16) error {
	dataKey := c.db.Enc.ZsetDataKey(ukey, []byte(member), version)
	if err := txn.Put(cfs.data, dataKey, c.db.Enc.ZsetDataValue(newScore)); err != nil {
		return err
	}
	if oldScore != nil && *oldScore != newScore {
		oldScoreKey := c.db.Enc.ZsetScoreKey(ukey, *oldScore, []byte(member), version)
		if err := txn.Del(cfs.score, oldScoreKey); err != nil {
			return err
		}
	}
	scoreKey := c.db.Enc.ZsetScoreKey(ukey, newScore, []byte(member), version)
	return txn.Put(cfs.score, scoreKey, []byte(member))
}

// ZAdd inserts or updates members per the flags and returns the added count
// (changed count with CH).
func (c *ZsetCommand) ZAdd(key string, members []ScoredMember, flags ZAddFlags) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)
	randIdx := c.db.Client.NextMetaIndex()

	// a member named more than once keeps its last score
	seen := make(map[string]int, len(members))
	uniq := make([]ScoredMember, 0, len(members))
	for _, sm := range members {
		if i, dup := seen[sm.Member]; dup {
			uniq[i] = sm
			continue
		}
		seen[sm.Member] = len(uniq)
		uniq = append(uniq, sm)
	}
	members = uniq

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
			if flags.Exists != nil && *flags.Exists {
				// XX against a missing key creates nothing
				return 0, nil
			}
			for _, sm := range members {
				if err := c.writeMember(txn, cfs, ukey, sm.Member, nil, sm.Score, version); err != nil {
					return 0, err
				}
			}
			if err := txn.Put(cfs.subMeta, subMetaKey, encoding.AppendInt64(nil, int64(len(members)))); err != nil {
				return 0, err
			}
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ZsetMetaValue(0, version, 0)); err != nil {
				return 0, err
			}
			return int64(len(members)), nil
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

		dataKeys := make([][]byte, len(members))
		for i, sm := range members {
			dataKeys[i] = c.db.Enc.ZsetDataKey(ukey, []byte(sm.Member), version)
		}
		pairs, err := txn.BatchGetForUpdate(cfs.data, dataKeys)
		if err != nil {
			return 0, err
		}
		dataMap := make(map[string][]byte, len(pairs))
		for _, kv := range pairs {
			dataMap[string(kv.K)] = kv.V
		}

		var updatedCount, addedCount int64
		for i, sm := range members {
			oldValue, memberExists := dataMap[string(dataKeys[i])]
			if flags.Exists != nil {
				want := *flags.Exists
				// XX touches only present members, NX only absent ones
				if (want && !memberExists) || (!want && memberExists) {
					continue
				}
			}
			if !memberExists {
				addedCount++
			}
			var oldScore *float64
			if memberExists {
				s := c.db.Enc.ZsetScoreFromDataValue(oldValue)
				oldScore = &s
			}
			if flags.ChangedOnly {
				if !memberExists || *oldScore != sm.Score {
					updatedCount++
				}
			}
			if err := c.writeMember(txn, cfs, ukey, sm.Member, oldScore, sm.Score, version); err != nil {
				return 0, err
			}
		}

		if addedCount > 0 {
			newSub := addedCount
			if subOk {
				newSub = encoding.Int64(subMetaValue) + addedCount
			}
			if err := txn.Put(cfs.subMeta, subMetaKey, encoding.AppendInt64(nil, newSub)); err != nil {
				return 0, err
			}
		}
		if expired {
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ZsetMetaValue(0, version, 0)); err != nil {
				return 0, err
			}
		}
		if flags.ChangedOnly {
			return updatedCount, nil
		}
		return addedCount, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// ZCard sums the cardinality shards.
func (c *ZsetCommand) ZCard(key string) (*resp.Frame, error) {
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
		size, err := c.db.sumSubMeta(key, version, c.cfs().subMeta, encoding.TypeZset)
		if err != nil {
			return nil, err
		}
		return resp.Int(size), nil
	})
}

// ZScore returns the member's score as a bulk string.
func (c *ZsetCommand) ZScore(key, member string) (*resp.Frame, error) {
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
		dataValue, ok, err := txn.Get(cfs.data, c.db.Enc.ZsetDataKey(ukey, []byte(member), version))
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Null(), nil
		}
		score := c.db.Enc.ZsetScoreFromDataValue(dataValue)
		return resp.BulkString(formatScore(score)), nil
	})
}

// ZCount counts the members inside a clipped score interval.
func (c *ZsetCommand) ZCount(key string, min float64, minInclusive bool, max float64, maxInclusive bool) (*resp.Frame, error) {
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
		if min > max {
			return resp.Int(0), nil
		}

		startKey := c.db.Enc.ZsetScoreKeyScoreStart(ukey, min, minInclusive, version)
		endKey := c.db.Enc.ZsetScoreKeyScoreEnd(ukey, max, maxInclusive, version)
		keys, err := txn.ScanKeys(cfs.score, store.Range{Start: startKey, End: endKey, IncludeEnd: true}, maxScan)
		if err != nil {
			return nil, err
		}
		return resp.Int(int64(len(keys))), nil
	})
}

// ZRange returns members between two ranks; reverse flips the direction,
// withScores interleaves the scores.
func (c *ZsetCommand) ZRange(key string, min, max int64, withScores, reverse bool) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		var out []*resp.Frame
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Array(out), nil
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Array(out), nil
		}

		size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeZset)
		if err != nil {
			return nil, err
		}
		if min < 0 {
			min += size
		}
		if max < 0 {
			max += size
		}
		if reverse {
			min, max = size-max-1, size-min-1
		}

		start, end := c.db.Enc.ZsetScoreRange(ukey, version)
		pairs, err := txn.Scan(cfs.score, store.Range{Start: start, End: end}, uint32(size))
		if err != nil {
			return nil, err
		}
		idx := int64(0)
		var picked []store.KvPair
		for _, kv := range pairs {
			if idx < min {
				idx++
				continue
			}
			if idx > max {
				break
			}
			idx++
			picked = append(picked, kv)
		}
		out = c.emitScorePairs(ukey, picked, withScores, reverse)
		return resp.Array(out), nil
	})
}

// emitScorePairs renders score-index records as reply frames, newest-rank
// first when reverse is set, score interleaved when withScores is set.
func (c *ZsetCommand) emitScorePairs(ukey []byte, pairs []store.KvPair, withScores, reverse bool) []*resp.Frame {
	out := make([]*resp.Frame, 0, len(pairs)*2)
	emit := func(kv store.KvPair) {
		out = append(out, resp.Bulk(kv.V))
		if withScores {
			out = append(out, resp.BulkString(formatScore(c.db.Enc.ZsetScoreFromScoreKey(ukey, kv.K))))
		}
	}
	if reverse {
		for i := len(pairs) - 1; i >= 0; i-- {
			emit(pairs[i])
		}
	} else {
		for _, kv := range pairs {
			emit(kv)
		}
	}
	return out
}

// ZRangeByScore returns members inside a score interval; reverse swaps the
// bounds and reverses the output order.
func (c *ZsetCommand) ZRangeByScore(key string, min float64, minInclusive bool, max float64, maxInclusive bool, withScores, reverse bool) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	return store.ExecTxn(c.db.Client, func(txn *store.Txn) (*resp.Frame, error) {
		var out []*resp.Frame
		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Array(out), nil
		}
		ttl, version, _ := c.db.Enc.Meta(metaValue)
		if utils.KeyIsExpired(ttl) {
			if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
				return nil, err
			}
			return resp.Array(out), nil
		}

		if reverse {
			min, max = max, min
			minInclusive, maxInclusive = maxInclusive, minInclusive
		}
		if min > max {
			return resp.Array(nil), nil
		}

		size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeZset)
		if err != nil {
			return nil, err
		}
		startKey := c.db.Enc.ZsetScoreKeyScoreStart(ukey, min, minInclusive, version)
		endKey := c.db.Enc.ZsetScoreKeyScoreEnd(ukey, max, maxInclusive, version)
		pairs, err := txn.Scan(cfs.score, store.Range{Start: startKey, End: endKey}, uint32(size))
		if err != nil {
			return nil, err
		}
		out = c.emitScorePairs(ukey, pairs, withScores, reverse)
		return resp.Array(out), nil
	})
}

// ZPop removes count members from the low (ZPOPMIN) or high (ZPOPMAX) end
// of the score index, returning member/score pairs.
func (c *ZsetCommand) ZPop(key string, fromMin bool, count uint64) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)
	randIdx := c.db.Client.NextMetaIndex()

	out, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) ([]*resp.Frame, error) {
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

		start, end := c.db.Enc.ZsetScoreRange(ukey, version)
		rng := store.Range{Start: start, End: end}
		var scoreKeys [][]byte
		if fromMin {
			scoreKeys, err = txn.ScanKeys(cfs.score, rng, uint32(count))
		} else {
			scoreKeys, err = txn.ScanKeysReverse(cfs.score, rng, uint32(count))
		}
		if err != nil {
			return nil, err
		}

		var out []*resp.Frame
		var poppedCount int64
		for _, k := range scoreKeys {
			member := c.db.Enc.ZsetMemberFromScoreKey(ukey, k)
			dataKey := c.db.Enc.ZsetDataKey(ukey, member, version)
			out = append(out, resp.Bulk(member))
			out = append(out, resp.BulkString(formatScore(c.db.Enc.ZsetScoreFromScoreKey(ukey, k))))
			if err := txn.Del(cfs.data, dataKey); err != nil {
				return nil, err
			}
			if err := txn.Del(cfs.score, k); err != nil {
				return nil, err
			}
			poppedCount++
		}

		size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeZset)
		if err != nil {
			return nil, err
		}
		if poppedCount >= size {
			if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
				return nil, err
			}
			if err := txn.Del(cfs.meta, metaKey); err != nil {
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
	return resp.Array(out), nil
}

// ZRank returns the member's ascending rank in the score index.
func (c *ZsetCommand) ZRank(key, member string) (*resp.Frame, error) {
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

		dataValue, ok, err := txn.Get(cfs.data, c.db.Enc.ZsetDataKey(ukey, []byte(member), version))
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp.Null(), nil
		}
		score := c.db.Enc.ZsetScoreFromDataValue(dataValue)
		scoreKey := c.db.Enc.ZsetScoreKey(ukey, score, []byte(member), version)

		start, end := c.db.Enc.ZsetScoreRange(ukey, version)
		keys, err := txn.ScanKeys(cfs.score, store.Range{Start: start, End: end}, maxScan)
		if err != nil {
			return nil, err
		}
		var rank int64
		for _, k := range keys {
			if bytes.Equal(k, scoreKey) {
				break
			}
			rank++
		}
		return resp.Int(rank), nil
	})
}

// ZIncrBy adds step to the member's score, creating key and member as
// needed, and returns the new score.
func (c *ZsetCommand) ZIncrBy(key string, step float64, member string) (*resp.Frame, error) {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	score, err := store.ExecTxn(c.db.Client, func(txn *store.Txn) (float64, error) {
		var prevScore float64
		var version uint16

		metaValue, ok, err := c.readMeta(txn, metaKey)
		if err != nil {
			return 0, err
		}
		if ok {
			ttl, ver, _ := c.db.Enc.Meta(metaValue)
			version = ver
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

			dataKey := c.db.Enc.ZsetDataKey(ukey, []byte(member), version)
			dataValue, ok, err := txn.GetForUpdate(cfs.data, dataKey)
			if err != nil {
				return 0, err
			}
			if ok {
				prevScore = c.db.Enc.ZsetScoreFromDataValue(dataValue)
				prevScoreKey := c.db.Enc.ZsetScoreKey(ukey, prevScore, []byte(member), version)
				if err := txn.Del(cfs.score, prevScoreKey); err != nil {
					return 0, err
				}
			} else {
				if err := c.db.adjustSubMeta(txn, cfs.subMeta, key, version, c.db.Client.NextMetaIndex(), 1); err != nil {
					return 0, err
				}
				if expired {
					if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ZsetMetaValue(0, version, 0)); err != nil {
						return 0, err
					}
				}
			}
		} else {
			if version, err = c.db.Client.VersionForNew(txn, cfs.gc, cfs.gcVersion, c.db.Enc, ukey); err != nil {
				return 0, err
			}
			if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ZsetMetaValue(0, version, 0)); err != nil {
				return 0, err
			}
			subMetaKey := c.db.Enc.SubMetaKey(ukey, version, c.db.Client.NextMetaIndex())
			if err := txn.Put(cfs.subMeta, subMetaKey, encoding.AppendInt64(nil, 1)); err != nil {
				return 0, err
			}
		}

		newScore := prevScore + step
		if err := c.writeMember(txn, cfs, ukey, member, nil, newScore, version); err != nil {
			return 0, err
		}
		return newScore, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.BulkString(formatScore(score)), nil
}

// ZRem removes members, deleting both index records of each.
func (c *ZsetCommand) ZRem(key string, members []string) (*resp.Frame, error) {
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

		dataKeys := make([][]byte, len(members))
		for i, m := range members {
			dataKeys[i] = c.db.Enc.ZsetDataKey(ukey, []byte(m), version)
		}
		pairs, err := txn.BatchGetForUpdate(cfs.data, dataKeys)
		if err != nil {
			return 0, err
		}
		dataMap := make(map[string][]byte, len(pairs))
		for _, kv := range pairs {
			dataMap[string(kv.K)] = kv.V
		}
		for i, m := range members {
			dataValue, ok := dataMap[string(dataKeys[i])]
			if !ok {
				continue
			}
			score := c.db.Enc.ZsetScoreFromDataValue(dataValue)
			scoreKey := c.db.Enc.ZsetScoreKey(ukey, score, []byte(m), version)
			if err := txn.Del(cfs.data, dataKeys[i]); err != nil {
				return 0, err
			}
			if err := txn.Del(cfs.score, scoreKey); err != nil {
				return 0, err
			}
		}
		removed := int64(len(pairs))

		size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeZset)
		if err != nil {
			return 0, err
		}
		if removed >= size {
			if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
				return 0, err
			}
			if err := txn.Del(cfs.meta, metaKey); err != nil {
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

// ZRemRangeByRank removes the members ranked inside [min, max].
func (c *ZsetCommand) ZRemRangeByRank(key string, min, max int64) (*resp.Frame, error) {
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

		size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeZset)
		if err != nil {
			return 0, err
		}
		if min < 0 {
			min += size
		}
		if max < 0 {
			max += size
		}

		start, end := c.db.Enc.ZsetScoreRange(ukey, version)
		pairs, err := txn.Scan(cfs.score, store.Range{Start: start, End: end}, uint32(size))
		if err != nil {
			return 0, err
		}
		var removed, idx int64
		for _, kv := range pairs {
			if idx < min {
				idx++
				continue
			}
			if idx > max {
				break
			}
			idx++

			memberKey := c.db.Enc.ZsetDataKey(ukey, kv.V, version)
			if err := txn.Del(cfs.data, memberKey); err != nil {
				return 0, err
			}
			if err := txn.Del(cfs.score, kv.K); err != nil {
				return 0, err
			}
			removed++
		}

		if removed >= size {
			if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
				return 0, err
			}
			if err := txn.Del(cfs.meta, metaKey); err != nil {
				return 0, err
			}
		} else if removed > 0 {
			if err := c.db.adjustSubMeta(txn, cfs.subMeta, key, version, randIdx, -removed); err != nil {
				return 0, err
			}
		}
		return removed, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Int(n), nil
}

// ZRemRangeByScore removes the members with scores inside [min, max].
func (c *ZsetCommand) ZRemRangeByScore(key string, min, max float64) (*resp.Frame, error) {
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
		if min > max {
			return 0, nil
		}

		startKey := c.db.Enc.ZsetScoreKeyScoreStart(ukey, min, true, version)
		endKey := c.db.Enc.ZsetScoreKeyScoreEnd(ukey, max, true, version)
		keys, err := txn.ScanKeys(cfs.score, store.Range{Start: startKey, End: endKey, IncludeEnd: true}, maxScan)
		if err != nil {
			return 0, err
		}
		var removed int64
		for _, k := range keys {
			member := c.db.Enc.ZsetMemberFromScoreKey(ukey, k)
			if err := txn.Del(cfs.data, c.db.Enc.ZsetDataKey(ukey, member, version)); err != nil {
				return 0, err
			}
			if err := txn.Del(cfs.score, k); err != nil {
				return 0, err
			}
			removed++
		}

		size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeZset)
		if err != nil {
			return 0, err
		}
		if removed >= size {
			if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
				return 0, err
			}
			if err := txn.Del(cfs.meta, metaKey); err != nil {
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

// TxnDel implements TxnCommand.
func (c *ZsetCommand) TxnDel(txn *store.Txn, key string) error {
	cfs := c.cfs()
	ukey := []byte(key)
	metaKey := c.db.Enc.MetaKey(ukey)

	metaValue, ok, err := txn.Get(cfs.meta, metaKey)
	if err != nil || !ok {
		return err
	}
	version := c.db.Enc.MetaVersion(metaValue)
	size, err := c.db.sumSubMeta(key, version, cfs.subMeta, encoding.TypeZset)
	if err != nil {
		return err
	}

	if size > c.db.Client.AsyncHandleThreshold() {
		return c.db.stageAsyncDelete(txn, cfs.meta, cfs.gc, cfs.gcVersion, metaKey, key, version, encoding.TypeZset)
	}

	start, end := c.db.Enc.ZsetDataRange(ukey, version)
	pairs, err := txn.Scan(cfs.data, store.Range{Start: start, End: end}, maxScan)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		score := c.db.Enc.ZsetScoreFromDataValue(kv.V)
		member := c.db.Enc.ZsetMemberFromDataKey(ukey, kv.K)
		scoreKey := c.db.Enc.ZsetScoreKey(ukey, score, member, version)
		if err := txn.Del(cfs.data, kv.K); err != nil {
			return err
		}
		if err := txn.Del(cfs.score, scoreKey); err != nil {
			return err
		}
	}
	if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
		return err
	}
	return txn.Del(cfs.meta, metaKey)
}

// TxnExpireIfNeeded implements TxnCommand.
func (c *ZsetCommand) TxnExpireIfNeeded(txn *store.Txn, key string) (int64, error) {
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
func (c *ZsetCommand) TxnExpire(txn *store.Txn, key string, timestamp int64, metaValue []byte) (int64, error) {
	cfs := c.cfs()
	if utils.KeyIsExpired(c.db.Enc.MetaTTL(metaValue)) {
		if _, err := c.TxnExpireIfNeeded(txn, key); err != nil {
			return 0, err
		}
		return 0, nil
	}
	version := c.db.Enc.MetaVersion(metaValue)
	metaKey := c.db.Enc.MetaKey([]byte(key))
	if err := txn.Put(cfs.meta, metaKey, c.db.Enc.ZsetMetaValue(timestamp, version, 0)); err != nil {
		return 0, err
	}
	return 1, nil
}

// TxnGC implements TxnCommand: shards, score index, then member index.
func (c *ZsetCommand) TxnGC(txn *store.Txn, key string, version uint16) error {
	cfs := c.cfs()
	ukey := []byte(key)
	if err := c.db.deleteSubMeta(txn, cfs.subMeta, key, version); err != nil {
		return err
	}
	start, end := c.db.Enc.ZsetScoreRange(ukey, version)
	keys, err := txn.ScanKeys(cfs.score, store.Range{Start: start, End: end}, maxScan)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Del(cfs.score, k); err != nil {
			return err
		}
	}
	start, end = c.db.Enc.ZsetDataRange(ukey, version)
	keys, err = txn.ScanKeys(cfs.data, store.Range{Start: start, End: end}, maxScan)
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

// formatScore renders a score the way Redis replies do: integral scores
// print without a decimal point.
func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
