package store

import (
	"bytes"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Txn adapts one badger transaction to the column-family shaped operations
// the engines use. Reads inside an update transaction join badger's conflict
// set, so GetForUpdate carries the get-for-update intent of the protocol:
// a concurrent committed write to the same key fails this transaction's
// commit with ErrTxnConflict.
type Txn struct {
	b *badger.Txn
}

// Get reads one record. ok is false when the key is absent.
func (t *Txn) Get(cf CF, key []byte) (val []byte, ok bool, err error) {
	item, err := t.b.Get(cf.key(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get: %w", err)
	}
	val, err = item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("get value: %w", err)
	}
	return val, true, nil
}

// GetForUpdate reads one record and registers a write intent on it.
func (t *Txn) GetForUpdate(cf CF, key []byte) ([]byte, bool, error) {
	return t.Get(cf, key)
}

// Put writes one record.
func (t *Txn) Put(cf CF, key, val []byte) error {
	if err := t.b.Set(cf.key(key), val); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

// Del removes one record; deleting an absent key is a no-op.
func (t *Txn) Del(cf CF, key []byte) error {
	if err := t.b.Delete(cf.key(key)); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// BatchGet point-reads a set of keys and returns only the pairs found.
func (t *Txn) BatchGet(cf CF, keys [][]byte) ([]KvPair, error) {
	pairs := make([]KvPair, 0, len(keys))
	for _, k := range keys {
		v, ok, err := t.Get(cf, k)
		if err != nil {
			return nil, err
		}
		if ok {
			pairs = append(pairs, KvPair{K: k, V: v})
		}
	}
	return pairs, nil
}

// BatchGetForUpdate is BatchGet with write intents on every probed key,
// present or not.
func (t *Txn) BatchGetForUpdate(cf CF, keys [][]byte) ([]KvPair, error) {
	return t.BatchGet(cf, keys)
}

func (t *Txn) iterate(cf CF, rng Range, limit uint32, wantValues bool, fn func(k, v []byte) error) error {
	if limit == 0 {
		return nil
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = wantValues
	it := t.b.NewIterator(opts)
	defer it.Close()

	start := cf.key(rng.Start)
	var end []byte
	if rng.End != nil {
		end = cf.key(rng.End)
	}

	var n uint32
	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		if len(k) == 0 || k[0] != cf.prefix {
			break
		}
		if end != nil {
			c := bytes.Compare(k, end)
			if c > 0 || (c == 0 && !rng.IncludeEnd) {
				break
			}
		}
		var v []byte
		if wantValues {
			var err error
			if v, err = item.ValueCopy(nil); err != nil {
				return fmt.Errorf("scan value: %w", err)
			}
		}
		if err := fn(k[1:], v); err != nil {
			return err
		}
		n++
		if n >= limit {
			break
		}
	}
	return nil
}

func (t *Txn) iterateReverse(cf CF, rng Range, limit uint32, wantValues bool, fn func(k, v []byte) error) error {
	if limit == 0 {
		return nil
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = wantValues
	opts.Reverse = true
	it := t.b.NewIterator(opts)
	defer it.Close()

	start := cf.key(rng.Start)
	// Seek lands on the greatest key <= the seek target.
	var end, seek []byte
	if rng.End != nil {
		end = cf.key(rng.End)
		seek = end
	} else {
		seek = []byte{cf.prefix + 1}
	}

	var n uint32
	for it.Seek(seek); it.Valid(); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		if len(k) == 0 || k[0] != cf.prefix {
			break
		}
		if end != nil {
			c := bytes.Compare(k, end)
			if c > 0 || (c == 0 && !rng.IncludeEnd) {
				continue
			}
		}
		if bytes.Compare(k, start) < 0 {
			break
		}
		var v []byte
		if wantValues {
			var err error
			if v, err = item.ValueCopy(nil); err != nil {
				return fmt.Errorf("scan value: %w", err)
			}
		}
		if err := fn(k[1:], v); err != nil {
			return err
		}
		n++
		if n >= limit {
			break
		}
	}
	return nil
}

// Scan walks rng in ascending key order, at most limit records.
func (t *Txn) Scan(cf CF, rng Range, limit uint32) ([]KvPair, error) {
	var pairs []KvPair
	err := t.iterate(cf, rng, limit, true, func(k, v []byte) error {
		pairs = append(pairs, KvPair{K: k, V: v})
		return nil
	})
	return pairs, err
}

// ScanReverse walks rng in descending key order, at most limit records.
func (t *Txn) ScanReverse(cf CF, rng Range, limit uint32) ([]KvPair, error) {
	var pairs []KvPair
	err := t.iterateReverse(cf, rng, limit, true, func(k, v []byte) error {
		pairs = append(pairs, KvPair{K: k, V: v})
		return nil
	})
	return pairs, err
}

// ScanKeys walks rng ascending, returning keys only.
func (t *Txn) ScanKeys(cf CF, rng Range, limit uint32) ([][]byte, error) {
	var keys [][]byte
	err := t.iterate(cf, rng, limit, false, func(k, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	return keys, err
}

// ScanKeysReverse walks rng descending, returning keys only.
func (t *Txn) ScanKeysReverse(cf CF, rng Range, limit uint32) ([][]byte, error) {
	var keys [][]byte
	err := t.iterateReverse(cf, rng, limit, false, func(k, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	return keys, err
}
