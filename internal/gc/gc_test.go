package gc

import (
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
	"github.com/xiaoyuz/mapuche-embedded/internal/engine"
	"github.com/xiaoyuz/mapuche-embedded/internal/store"
)

func newTestEngineDB(t *testing.T) *engine.DB {
	t.Helper()
	bdb, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bdb.Close() })
	return &engine.DB{
		Client: store.NewClient(bdb, true, zap.NewNop()),
		Enc:    encoding.NewKeyEncoder(0),
		Cfg:    engine.Config{AsyncDeletion: true},
		Log:    zap.NewNop(),
	}
}

func TestTaskBytesCanonical(t *testing.T) {
	a := Task{Type: encoding.TypeSet, UserKey: []byte("k"), Version: 3}
	b := Task{Type: encoding.TypeSet, UserKey: []byte("k"), Version: 3}
	c := Task{Type: encoding.TypeSet, UserKey: []byte("k"), Version: 4}

	assert.Equal(t, a.Bytes(), b.Bytes())
	assert.NotEqual(t, a.Bytes(), c.Bytes())
}

func TestTaskShardStable(t *testing.T) {
	task := Task{Type: encoding.TypeHash, UserKey: []byte("user:42"), Version: 1}
	first := task.shard(10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, task.shard(10))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 10)
}

func TestWorkerEnqueueDeduplicates(t *testing.T) {
	db := newTestEngineDB(t)
	w := newWorker(0, db, 10, zap.NewNop())

	task := Task{Type: encoding.TypeSet, UserKey: []byte("k"), Version: 0}
	w.enqueue(task)
	w.enqueue(task)
	w.enqueue(task)
	assert.Len(t, w.tasks, 1, "in-flight duplicates must be refused")

	// after the entry is cleared the task may queue again
	w.forget(string(task.Bytes()))
	<-w.tasks
	w.enqueue(task)
	assert.Len(t, w.tasks, 1)
}

func TestWorkerEnqueueDropsWhenFull(t *testing.T) {
	db := newTestEngineDB(t)
	w := newWorker(0, db, 1, zap.NewNop())

	w.enqueue(Task{Type: encoding.TypeSet, UserKey: []byte("a"), Version: 0})
	w.enqueue(Task{Type: encoding.TypeSet, UserKey: []byte("b"), Version: 0})
	assert.Len(t, w.tasks, 1)

	// the dropped task was forgotten, so a later attempt is not treated as
	// an in-flight duplicate
	<-w.tasks
	w.forget(string(Task{Type: encoding.TypeSet, UserKey: []byte("a"), Version: 0}.Bytes()))
	w.enqueue(Task{Type: encoding.TypeSet, UserKey: []byte("b"), Version: 0})
	assert.Len(t, w.tasks, 1)
}

func TestHandleTaskClearsHeadOnlyOnVersionMatch(t *testing.T) {
	db := newTestEngineDB(t)
	client, enc := db.Client, db.Enc
	gcCF := client.MustCF(store.CFNameGC)
	gcVersionCF := client.MustCF(store.CFNameGCVersion)
	ukey := []byte("s")

	// stage version 0 while the head already names version 1 (the key was
	// re-created and deleted again in between)
	require.NoError(t, client.Put(gcVersionCF, enc.GCVersionKey(ukey, 0), []byte{encoding.TypeSet.TypeByte()}))
	require.NoError(t, client.Put(gcCF, enc.GCKey(ukey), []byte{0x00, 0x01}))

	require.NoError(t, handleTask(db, Task{Type: encoding.TypeSet, UserKey: ukey, Version: 0}))

	_, ok, err := client.Get(gcVersionCF, enc.GCVersionKey(ukey, 0))
	require.NoError(t, err)
	assert.False(t, ok, "staged record must be consumed")

	_, ok, err = client.Get(gcCF, enc.GCKey(ukey))
	require.NoError(t, err)
	assert.True(t, ok, "head naming a different version must survive")
}

func TestSweepReclaimsStagedRecords(t *testing.T) {
	db := newTestEngineDB(t)
	client, enc := db.Client, db.Enc
	dataCF := client.MustCF(store.CFNameSetData)
	subMetaCF := client.MustCF(store.CFNameSetSubMeta)
	gcCF := client.MustCF(store.CFNameGC)
	gcVersionCF := client.MustCF(store.CFNameGCVersion)
	ukey := []byte("s")

	require.NoError(t, client.Put(dataCF, enc.SetDataKey(ukey, []byte("m1"), 0), []byte{0}))
	require.NoError(t, client.Put(dataCF, enc.SetDataKey(ukey, []byte("m2"), 0), []byte{0}))
	require.NoError(t, client.Put(subMetaCF, enc.SubMetaKey(ukey, 0, 9), encoding.AppendInt64(nil, 2)))
	require.NoError(t, client.Put(gcCF, enc.GCKey(ukey), []byte{0x00, 0x00}))
	require.NoError(t, client.Put(gcVersionCF, enc.GCVersionKey(ukey, 0), []byte{encoding.TypeSet.TypeByte()}))

	require.NoError(t, Sweep(db))

	start, end := enc.SetDataRange(ukey, 0)
	pairs, err := client.Scan(dataCF, store.Range{Start: start, End: end}, 100)
	require.NoError(t, err)
	assert.Empty(t, pairs)

	_, ok, err := client.Get(gcCF, enc.GCKey(ukey))
	require.NoError(t, err)
	assert.False(t, ok, "head naming the swept version must be cleared")
}
