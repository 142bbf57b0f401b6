package store

import (
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
)

func newTestClient(t *testing.T, asyncDeletion bool) *Client {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewClient(db, asyncDeletion, zap.NewNop())
}

func TestCFHandle(t *testing.T) {
	c := newTestClient(t, false)

	cf, err := c.CFHandle(CFNameMeta)
	require.NoError(t, err)
	assert.Equal(t, CFNameMeta, cf.Name())

	_, err = c.CFHandle("bogus")
	assert.ErrorIs(t, err, ErrCFMissing)
}

func TestPutGetDel(t *testing.T) {
	c := newTestClient(t, false)
	meta := c.MustCF(CFNameMeta)

	_, ok, err := c.Get(meta, []byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(meta, []byte("k"), []byte("v")))
	val, ok, err := c.Get(meta, []byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Del(meta, []byte("k")))
	_, ok, err = c.Get(meta, []byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestColumnFamiliesIsolate(t *testing.T) {
	c := newTestClient(t, false)
	meta := c.MustCF(CFNameMeta)
	hashData := c.MustCF(CFNameHashData)

	require.NoError(t, c.Put(meta, []byte("k"), []byte("meta")))
	require.NoError(t, c.Put(hashData, []byte("k"), []byte("data")))

	v, ok, err := c.Get(meta, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("meta"), v)

	v, ok, err = c.Get(hashData, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("data"), v)

	require.NoError(t, c.Del(meta, []byte("k")))
	_, ok, _ = c.Get(hashData, []byte("k"))
	assert.True(t, ok, "deleting in one family must not touch another")
}

func TestExecTxnCommitVisibility(t *testing.T) {
	c := newTestClient(t, false)
	meta := c.MustCF(CFNameMeta)

	_, err := ExecTxn(c, func(txn *Txn) (struct{}, error) {
		var done struct{}
		if err := txn.Put(meta, []byte("a"), []byte("1")); err != nil {
			return done, err
		}
		// own writes are visible inside the transaction
		v, ok, err := txn.Get(meta, []byte("a"))
		if err != nil {
			return done, err
		}
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), v)
		return done, nil
	})
	require.NoError(t, err)

	v, ok, err := c.Get(meta, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestExecTxnAbortDiscardsWrites(t *testing.T) {
	c := newTestClient(t, false)
	meta := c.MustCF(CFNameMeta)

	_, err := ExecTxn(c, func(txn *Txn) (struct{}, error) {
		var done struct{}
		if err := txn.Put(meta, []byte("a"), []byte("1")); err != nil {
			return done, err
		}
		return done, ErrWrongType
	})
	require.ErrorIs(t, err, ErrWrongType)

	_, ok, err := c.Get(meta, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConflictingWritersDetect(t *testing.T) {
	c := newTestClient(t, false)
	meta := c.MustCF(CFNameMeta)
	require.NoError(t, c.Put(meta, []byte("counter"), []byte("0")))

	// first txn reads the key, then a second writer commits it underneath
	txnErr := make(chan error, 1)
	_, err := ExecTxn(c, func(txn *Txn) (struct{}, error) {
		var done struct{}
		if _, _, err := txn.GetForUpdate(meta, []byte("counter")); err != nil {
			return done, err
		}
		_, err := ExecTxn(c, func(inner *Txn) (struct{}, error) {
			return struct{}{}, inner.Put(meta, []byte("counter"), []byte("1"))
		})
		txnErr <- err
		return done, txn.Put(meta, []byte("counter"), []byte("2"))
	})
	require.NoError(t, <-txnErr)
	assert.ErrorIs(t, err, ErrTxnConflict)
}

func TestScanRangesAndLimits(t *testing.T) {
	c := newTestClient(t, false)
	data := c.MustCF(CFNameListData)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, c.Put(data, []byte(k), []byte("v"+k)))
	}

	_, err := ExecTxn(c, func(txn *Txn) (struct{}, error) {
		var done struct{}

		pairs, err := txn.Scan(data, Range{Start: []byte("b"), End: []byte("d")}, 100)
		require.NoError(t, err)
		require.Len(t, pairs, 2)
		assert.Equal(t, []byte("b"), pairs[0].K)
		assert.Equal(t, []byte("c"), pairs[1].K)

		pairs, err = txn.Scan(data, Range{Start: []byte("b"), End: []byte("d"), IncludeEnd: true}, 100)
		require.NoError(t, err)
		require.Len(t, pairs, 3)
		assert.Equal(t, []byte("d"), pairs[2].K)

		pairs, err = txn.Scan(data, Range{Start: []byte("a"), End: []byte("z")}, 2)
		require.NoError(t, err)
		assert.Len(t, pairs, 2)

		keys, err := txn.ScanKeys(data, Range{Start: []byte("a"), End: nil}, 100)
		require.NoError(t, err)
		assert.Len(t, keys, 5)

		rev, err := txn.ScanReverse(data, Range{Start: []byte("b"), End: []byte("e")}, 100)
		require.NoError(t, err)
		require.Len(t, rev, 3)
		assert.Equal(t, []byte("d"), rev[0].K)
		assert.Equal(t, []byte("c"), rev[1].K)
		assert.Equal(t, []byte("b"), rev[2].K)

		revKeys, err := txn.ScanKeysReverse(data, Range{Start: []byte("a"), End: nil}, 2)
		require.NoError(t, err)
		require.Len(t, revKeys, 2)
		assert.Equal(t, []byte("e"), revKeys[0])
		assert.Equal(t, []byte("d"), revKeys[1])
		return done, nil
	})
	require.NoError(t, err)
}

func TestBatchGetReturnsOnlyFound(t *testing.T) {
	c := newTestClient(t, false)
	meta := c.MustCF(CFNameMeta)
	require.NoError(t, c.Put(meta, []byte("x"), []byte("1")))
	require.NoError(t, c.Put(meta, []byte("z"), []byte("3")))

	pairs, err := c.BatchGet(meta, [][]byte{[]byte("x"), []byte("y"), []byte("z")})
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, []byte("x"), pairs[0].K)
	assert.Equal(t, []byte("z"), pairs[1].K)
}

func TestVersionForNew(t *testing.T) {
	enc := encoding.NewKeyEncoder(0)
	ukey := []byte("k")

	t.Run("disabled always zero", func(t *testing.T) {
		c := newTestClient(t, false)
		gcCF, gcVersionCF := c.MustCF(CFNameGC), c.MustCF(CFNameGCVersion)
		v, err := ExecTxn(c, func(txn *Txn) (uint16, error) {
			return c.VersionForNew(txn, gcCF, gcVersionCF, enc, ukey)
		})
		require.NoError(t, err)
		assert.Equal(t, uint16(0), v)
	})

	t.Run("advances past gc head", func(t *testing.T) {
		c := newTestClient(t, true)
		gcCF, gcVersionCF := c.MustCF(CFNameGC), c.MustCF(CFNameGCVersion)

		v, err := ExecTxn(c, func(txn *Txn) (uint16, error) {
			return c.VersionForNew(txn, gcCF, gcVersionCF, enc, ukey)
		})
		require.NoError(t, err)
		assert.Equal(t, uint16(0), v)

		require.NoError(t, c.Put(gcCF, enc.GCKey(ukey), []byte{0x00, 0x05}))
		v, err = ExecTxn(c, func(txn *Txn) (uint16, error) {
			return c.VersionForNew(txn, gcCF, gcVersionCF, enc, ukey)
		})
		require.NoError(t, err)
		assert.Equal(t, uint16(6), v)
	})

	t.Run("collision with staged gc fails", func(t *testing.T) {
		c := newTestClient(t, true)
		gcCF, gcVersionCF := c.MustCF(CFNameGC), c.MustCF(CFNameGCVersion)

		require.NoError(t, c.Put(gcCF, enc.GCKey(ukey), []byte{0x00, 0x05}))
		require.NoError(t, c.Put(gcVersionCF, enc.GCVersionKey(ukey, 6), []byte{3}))

		_, err := ExecTxn(c, func(txn *Txn) (uint16, error) {
			return c.VersionForNew(txn, gcCF, gcVersionCF, enc, ukey)
		})
		assert.ErrorIs(t, err, ErrKeyVersionExhausted)
	})

	t.Run("wraps at the top of the range", func(t *testing.T) {
		c := newTestClient(t, true)
		gcCF, gcVersionCF := c.MustCF(CFNameGC), c.MustCF(CFNameGCVersion)

		require.NoError(t, c.Put(gcCF, enc.GCKey(ukey), []byte{0xff, 0xff}))
		v, err := ExecTxn(c, func(txn *Txn) (uint16, error) {
			return c.VersionForNew(txn, gcCF, gcVersionCF, enc, ukey)
		})
		require.NoError(t, err)
		assert.Equal(t, uint16(0), v)
	})
}

func TestNextMetaIndexStrides(t *testing.T) {
	c := newTestClient(t, false)
	a, b := c.NextMetaIndex(), c.NextMetaIndex()
	assert.NotEqual(t, a, b)
}
