package mapuche

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

func TestZAddScoreOrdering(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	assert.Equal(t, int64(3), frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{},
		ZMember{"a", 1}, ZMember{"b", 2}, ZMember{"c", 3})))

	// XX CH: an existing member's score change counts as one change
	assert.Equal(t, int64(1), frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{XX: true, CH: true},
		ZMember{"b", 5})))

	assert.Equal(t, []string{"a", "1", "c", "3", "b", "5"},
		frStrings(t, conn.ZRange(ctx, "z", 0, -1, true)))

	assert.Equal(t, []string{"c", "b"},
		frStrings(t, conn.ZRangeByScore(ctx, "z", 1, false, 5, true, false)))

	assert.Equal(t, []string{"a", "1", "c", "3"},
		frStrings(t, conn.ZPopMin(ctx, "z", 2)))
	assert.Equal(t, int64(1), frInt(t, conn.ZCard(ctx, "z")))
}

func TestZAddFlags(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	// XX on a missing key creates nothing
	assert.Equal(t, int64(0), frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{XX: true}, ZMember{"a", 1})))
	require.Equal(t, "none", conn.Type(ctx, "z").Str)

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{}, ZMember{"a", 1}))

	// NX refuses to touch an existing member
	assert.Equal(t, int64(0), frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{NX: true}, ZMember{"a", 9})))
	assert.Equal(t, "1", frBulk(t, conn.ZScore(ctx, "z", "a")))

	// NX inserts a missing member, and CH counts it
	assert.Equal(t, int64(1), frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{NX: true, CH: true}, ZMember{"b", 2})))

	// plain update of an existing score is not an add
	assert.Equal(t, int64(0), frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{}, ZMember{"a", 7})))
	assert.Equal(t, "7", frBulk(t, conn.ZScore(ctx, "z", "a")))

	// NX and XX together are invalid
	requireErrContains(t, conn.ZAdd(ctx, "z", ZAddOptions{NX: true, XX: true}, ZMember{"x", 1}), "Invalid")

	// NaN scores are rejected up front
	requireErrContains(t, conn.ZAdd(ctx, "z", ZAddOptions{}, ZMember{"n", math.NaN()}), "not a valid float")
}

func TestZScoreZRank(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{}, ZMember{"a", -1.5}, ZMember{"b", 0}, ZMember{"c", 10}))

	assert.Equal(t, "-1.5", frBulk(t, conn.ZScore(ctx, "z", "a")))
	requireNull(t, conn.ZScore(ctx, "z", "missing"))
	requireNull(t, conn.ZScore(ctx, "missing", "a"))

	assert.Equal(t, int64(0), frInt(t, conn.ZRank(ctx, "z", "a")))
	assert.Equal(t, int64(2), frInt(t, conn.ZRank(ctx, "z", "c")))
	requireNull(t, conn.ZRank(ctx, "z", "missing"))
}

func TestZRangeForms(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{},
		ZMember{"a", 1}, ZMember{"b", 2}, ZMember{"c", 3}, ZMember{"d", 4}))

	assert.Equal(t, []string{"a", "b", "c", "d"}, frStrings(t, conn.ZRange(ctx, "z", 0, -1, false)))
	assert.Equal(t, []string{"b", "c"}, frStrings(t, conn.ZRange(ctx, "z", 1, 2, false)))
	assert.Equal(t, []string{"d", "c", "b", "a"}, frStrings(t, conn.ZRevRange(ctx, "z", 0, -1, false)))
	assert.Equal(t, []string{"d", "4", "c", "3"}, frStrings(t, conn.ZRevRange(ctx, "z", 0, 1, true)))

	assert.Equal(t, []string{"b", "c"},
		frStrings(t, conn.ZRangeByScore(ctx, "z", 2, true, 3, true, false)))
	assert.Equal(t, []string{"c"},
		frStrings(t, conn.ZRangeByScore(ctx, "z", 2, false, 3, true, false)))
	assert.Equal(t, []string{"c", "b"},
		frStrings(t, conn.ZRevRangeByScore(ctx, "z", 3, true, 2, true, false)))
}

func TestZCount(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{},
		ZMember{"a", 1}, ZMember{"b", 2}, ZMember{"c", 3}))

	assert.Equal(t, int64(3), frInt(t, conn.ZCount(ctx, "z", 1, true, 3, true)))
	assert.Equal(t, int64(1), frInt(t, conn.ZCount(ctx, "z", 1, false, 3, false)))
	assert.Equal(t, int64(0), frInt(t, conn.ZCount(ctx, "z", 5, true, 1, true)))
}

func TestZIncrBy(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	// creates key and member
	assert.Equal(t, "2.5", frBulk(t, conn.ZIncrBy(ctx, "z", 2.5, "m")))
	assert.Equal(t, "1.5", frBulk(t, conn.ZIncrBy(ctx, "z", -1, "m")))
	assert.Equal(t, int64(1), frInt(t, conn.ZCard(ctx, "z")))

	// both indexes moved: the score range finds the member at its new score
	assert.Equal(t, []string{"m"},
		frStrings(t, conn.ZRangeByScore(ctx, "z", 1.5, true, 1.5, true, false)))

	requireErrContains(t, conn.ZIncrBy(ctx, "z", math.NaN(), "m"), "not a valid float")
}

func TestZRem(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{}, ZMember{"a", 1}, ZMember{"b", 2}))
	assert.Equal(t, int64(1), frInt(t, conn.ZRem(ctx, "z", "a", "zz")))
	assert.Equal(t, int64(1), frInt(t, conn.ZCard(ctx, "z")))

	assert.Equal(t, int64(1), frInt(t, conn.ZRem(ctx, "z", "b")))
	require.Equal(t, "none", conn.Type(ctx, "z").Str)
}

func TestZRemRangeByRank(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{},
		ZMember{"a", 1}, ZMember{"b", 2}, ZMember{"c", 3}, ZMember{"d", 4}))

	assert.Equal(t, int64(2), frInt(t, conn.ZRemRangeByRank(ctx, "z", 0, 1)))
	assert.Equal(t, []string{"c", "d"}, frStrings(t, conn.ZRange(ctx, "z", 0, -1, false)))

	assert.Equal(t, int64(2), frInt(t, conn.ZRemRangeByRank(ctx, "z", 0, -1)))
	require.Equal(t, "none", conn.Type(ctx, "z").Str)
}

func TestZRemRangeByScore(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{},
		ZMember{"a", 1}, ZMember{"b", 2}, ZMember{"c", 3}))

	assert.Equal(t, int64(2), frInt(t, conn.ZRemRangeByScore(ctx, "z", 1, 2)))
	assert.Equal(t, []string{"c"}, frStrings(t, conn.ZRange(ctx, "z", 0, -1, false)))

	// member index entries went with the score entries
	requireNull(t, conn.ZScore(ctx, "z", "a"))
	requireNull(t, conn.ZScore(ctx, "z", "b"))
}

func TestZPopMax(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{},
		ZMember{"a", 1}, ZMember{"b", 2}, ZMember{"c", 3}))

	assert.Equal(t, []string{"c", "3", "b", "2"}, frStrings(t, conn.ZPopMax(ctx, "z", 2)))
	assert.Equal(t, int64(1), frInt(t, conn.ZCard(ctx, "z")))
}

func TestZsetDualIndexCoherence(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{}, ZMember{"m", 1}))
	frInt(t, conn.ZAdd(ctx, "z", ZAddOptions{}, ZMember{"m", 9}))

	// the old score record must be gone: only the new score finds m
	assert.Empty(t, frStrings(t, conn.ZRangeByScore(ctx, "z", 1, true, 1, true, false)))
	assert.Equal(t, []string{"m"}, frStrings(t, conn.ZRangeByScore(ctx, "z", 9, true, 9, true, false)))
	assert.Equal(t, "9", frBulk(t, conn.ZScore(ctx, "z", "m")))
	assert.Equal(t, int64(1), frInt(t, conn.ZCard(ctx, "z")))
}

func TestZsetWrongType(t *testing.T) {
	_, conn := newTestDB(t)
	ctx := ctxb()

	requireOK(t, conn.Set(ctx, "k", []byte("v")))
	fr := conn.ZAdd(ctx, "k", ZAddOptions{}, ZMember{"m", 1})
	require.Equal(t, resp.KindError, fr.Kind)
	assert.Contains(t, fr.Str, "WRONGTYPE")
}
