package mapuche

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyuz/mapuche-embedded/internal/store"
)

func memberBatch(n int) []string {
	members := make([]string, n)
	for i := range members {
		members[i] = "m" + strconv.Itoa(i)
	}
	return members
}

// countRecords scans one column family for the records of (key, version).
func countRecords(t *testing.T, db *DB, cfName, key string, version uint16) int {
	t.Helper()
	client, enc := db.inner.Client, db.inner.Enc
	cf := client.MustCF(cfName)

	var start, end []byte
	switch cfName {
	case store.CFNameSetData:
		start, end = enc.SetDataRange([]byte(key), version)
	case store.CFNameSetSubMeta:
		start, end = enc.SubMetaRange([]byte(key), version)
	case store.CFNameZsetScore:
		start, end = enc.ZsetScoreRange([]byte(key), version)
	default:
		t.Fatalf("unhandled column family %s", cfName)
	}
	pairs, err := client.Scan(cf, store.Range{Start: start, End: end}, 1<<32-1)
	require.NoError(t, err)
	return len(pairs)
}

func gcStaged(t *testing.T, db *DB, key string, version uint16) bool {
	t.Helper()
	client, enc := db.inner.Client, db.inner.Enc
	_, ok, err := client.Get(client.MustCF(store.CFNameGCVersion), enc.GCVersionKey([]byte(key), version))
	require.NoError(t, err)
	return ok
}

func gcHead(t *testing.T, db *DB, key string) ([]byte, bool) {
	t.Helper()
	client, enc := db.inner.Client, db.inner.Enc
	v, ok, err := client.Get(client.MustCF(store.CFNameGC), enc.GCKey([]byte(key)))
	require.NoError(t, err)
	return v, ok
}

func TestExpiryReclaimsInline(t *testing.T) {
	// async deletion off: every reclamation completes inside the
	// expiring transaction.
	db, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.SAdd(ctx, "s", memberBatch(500)...))
	require.Equal(t, int64(500), frInt(t, conn.SCard(ctx, "s")))

	frInt(t, conn.PExpire(ctx, "s", 1))
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int64(0), frInt(t, conn.Exists(ctx, "s")))
	assert.Equal(t, 0, countRecords(t, db, store.CFNameSetData, "s", 0))
	assert.Equal(t, 0, countRecords(t, db, store.CFNameSetSubMeta, "s", 0))
	assert.False(t, gcStaged(t, db, "s", 0))
}

func TestExpiryStagesAsync(t *testing.T) {
	// above the async threshold, expiry only rolls the version into
	// the gc index; a sweep reclaims the records.
	db, conn := newTestDBWithOptions(t,
		NewOpenOptions().WithAsyncDeletion(true).WithGCInterval(time.Hour).WithGCWorkers(2).WithGCQueueSize(1000))
	ctx := ctxb()

	frInt(t, conn.SAdd(ctx, "s", memberBatch(2000)...))
	frInt(t, conn.PExpire(ctx, "s", 1))
	time.Sleep(10 * time.Millisecond)

	// first read observes absence and stages the reclamation
	assert.Equal(t, int64(0), frInt(t, conn.Exists(ctx, "s")))
	assert.True(t, gcStaged(t, db, "s", 0))
	assert.Equal(t, 2000, countRecords(t, db, store.CFNameSetData, "s", 0))

	requireNull(t, conn.DoGC(ctx))

	assert.Equal(t, 0, countRecords(t, db, store.CFNameSetData, "s", 0))
	assert.Equal(t, 0, countRecords(t, db, store.CFNameSetSubMeta, "s", 0))
	assert.False(t, gcStaged(t, db, "s", 0))
	_, headOK := gcHead(t, db, "s")
	assert.False(t, headOK)
}

func TestVersionReuseSafety(t *testing.T) {
	// a key re-created while its previous incarnation awaits GC gets a
	// fresh version, and the sweep must not touch the new records.
	db, conn := newTestDBWithOptions(t,
		NewOpenOptions().WithAsyncDeletion(true).WithGCInterval(time.Hour).WithGCWorkers(2).WithGCQueueSize(1000))
	ctx := ctxb()

	frInt(t, conn.SAdd(ctx, "s", memberBatch(2000)...))
	assert.Equal(t, int64(1), frInt(t, conn.Del(ctx, "s")))
	assert.True(t, gcStaged(t, db, "s", 0))

	// immediate re-creation: version 1, invisible to the staged records
	assert.Equal(t, int64(1), frInt(t, conn.SAdd(ctx, "s", "x")))
	assert.Equal(t, []string{"x"}, frStrings(t, conn.SMembers(ctx, "s")))
	assert.Equal(t, int64(1), frInt(t, conn.SCard(ctx, "s")))
	assert.Equal(t, 1, countRecords(t, db, store.CFNameSetData, "s", 1))

	requireNull(t, conn.DoGC(ctx))

	// old incarnation reclaimed, new one untouched
	assert.Equal(t, 0, countRecords(t, db, store.CFNameSetData, "s", 0))
	assert.Equal(t, []string{"x"}, frStrings(t, conn.SMembers(ctx, "s")))
	assert.Equal(t, int64(1), frInt(t, conn.SCard(ctx, "s")))

	// head cleared: it still named version 0 when the task ran
	_, headOK := gcHead(t, db, "s")
	assert.False(t, headOK)
}

func TestBackgroundGCPool(t *testing.T) {
	db, conn := newTestDBWithOptions(t,
		NewOpenOptions().WithAsyncDeletion(true).WithGCInterval(50*time.Millisecond).WithGCWorkers(2).WithGCQueueSize(1000))
	ctx := ctxb()

	frInt(t, conn.SAdd(ctx, "big", memberBatch(1500)...))
	frInt(t, conn.Del(ctx, "big"))
	require.True(t, gcStaged(t, db, "big", 0))

	assert.Eventually(t, func() bool {
		return !gcStaged(t, db, "big", 0) &&
			countRecords(t, db, store.CFNameSetData, "big", 0) == 0
	}, 5*time.Second, 20*time.Millisecond, "background workers must reclaim the staged set")
}

func TestLargeZsetAsyncDelete(t *testing.T) {
	db, conn := newTestDBWithOptions(t,
		NewOpenOptions().WithAsyncDeletion(true).WithGCInterval(time.Hour).WithGCWorkers(2).WithGCQueueSize(1000))
	ctx := ctxb()

	members := make([]ZMember, 1500)
	for i := range members {
		members[i] = ZMember{Member: "m" + strconv.Itoa(i), Score: float64(i)}
	}
	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{}, members...))
	frInt(t, conn.Del(ctx, "z"))
	require.True(t, gcStaged(t, db, "z", 0))

	requireNull(t, conn.DoGC(ctx))
	assert.Equal(t, 0, countRecords(t, db, store.CFNameZsetScore, "z", 0))
	assert.False(t, gcStaged(t, db, "z", 0))
}
