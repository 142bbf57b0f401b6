package encoding

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBytesRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		[]byte("k"),
		[]byte("12345678"),  // exactly one group
		[]byte("123456789"), // one group + 1
		[]byte("a longer key that spans several groups"),
		{0x00},
		{0x60},                   // the intra-prefix delimiter
		{0xff, 0xff, 0xff},       // the group marker byte
		{0x00, 0x60, 0xff, 0x00}, // all the troublesome bytes together
	}
	for _, key := range cases {
		enc := EncodeBytes(key)
		require.Equal(t, EncodedLen(len(key)), len(enc))

		dec, consumed, err := DecodeBytes(enc)
		require.NoError(t, err)
		assert.Equal(t, len(enc), consumed)
		if len(key) == 0 {
			assert.Empty(t, dec)
		} else {
			assert.Equal(t, key, dec)
		}
	}
}

func TestEncodeBytesPreservesOrder(t *testing.T) {
	keys := [][]byte{
		{},
		{0x00},
		{0x00, 0x00},
		{0x00, 0x01},
		{0x60},
		[]byte("a"),
		[]byte("aa"),
		[]byte("ab"),
		[]byte("abcdefgh"),
		[]byte("abcdefgh\x00"),
		[]byte("b"),
		{0xff},
		{0xff, 0xff},
	}
	encoded := make([][]byte, len(keys))
	for i, k := range keys {
		encoded[i] = EncodeBytes(k)
	}
	require.True(t, sort.SliceIsSorted(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	}))
	assert.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}), "encoded order must equal raw order")
}

func TestDecodeBytesRejectsGarbage(t *testing.T) {
	_, _, err := DecodeBytes([]byte{1, 2, 3})
	assert.Error(t, err)

	// a full group whose marker claims an impossible pad
	bad := append(make([]byte, 8), 0x10)
	_, _, err = DecodeBytes(bad)
	assert.Error(t, err)
}

func TestCmpUint64PreservesFloatOrder(t *testing.T) {
	scores := []float64{
		math.Inf(-1), -math.MaxFloat64, -1e9, -2.5, -1, -0.25, 0, 0.25, 1, 2.5, 1e9, math.MaxFloat64, math.Inf(1),
	}
	for i := 1; i < len(scores); i++ {
		a, b := scores[i-1], scores[i]
		assert.Less(t, EncodeF64ToCmpUint64(a), EncodeF64ToCmpUint64(b), "%v vs %v", a, b)
	}
}

func TestCmpUint64ZeroSigns(t *testing.T) {
	negZero := math.Copysign(0, -1)
	assert.Equal(t, EncodeF64ToCmpUint64(0), EncodeF64ToCmpUint64(negZero))
}

func TestCmpUint64RoundTrip(t *testing.T) {
	for _, s := range []float64{-1e12, -3.75, -1, 0, 1, 3.75, 1e12} {
		assert.Equal(t, s, DecodeCmpUint64ToF64(EncodeF64ToCmpUint64(s)))
	}
}

func TestMetaKeyDetection(t *testing.T) {
	e := NewKeyEncoder(0)
	ukey := []byte("user:1")

	metaKey := e.MetaKey(ukey)
	got, isMeta, err := e.UserKeyFromMetaKey(metaKey)
	require.NoError(t, err)
	assert.True(t, isMeta)
	assert.Equal(t, ukey, got)

	subMetaKey := e.SubMetaKey(ukey, 3, 42)
	got, isMeta, err = e.UserKeyFromMetaKey(subMetaKey)
	require.NoError(t, err)
	assert.False(t, isMeta, "shard records must not look like meta records")
	assert.Equal(t, ukey, got)
}

func TestSubMetaRangeBounds(t *testing.T) {
	e := NewKeyEncoder(0)
	ukey := []byte("h")
	start, end := e.SubMetaRange(ukey, 7)

	inside := e.SubMetaKey(ukey, 7, 0)
	insideHigh := e.SubMetaKey(ukey, 7, math.MaxUint16)
	otherVersion := e.SubMetaKey(ukey, 8, 0)

	assert.True(t, bytes.Compare(start, inside) <= 0 && bytes.Compare(inside, end) < 0)
	assert.True(t, bytes.Compare(start, insideHigh) <= 0 && bytes.Compare(insideHigh, end) < 0)
	assert.False(t, bytes.Compare(start, otherVersion) <= 0 && bytes.Compare(otherVersion, end) < 0)
}

func TestHashDataKeyDecoding(t *testing.T) {
	e := NewKeyEncoder(0)
	ukey := []byte("myhash")
	field := []byte("fi\x60eld") // delimiters in fields must survive

	dataKey := e.HashDataKey(ukey, field, 5)
	assert.Equal(t, field, e.HashFieldFromDataKey(ukey, dataKey))

	start, end := e.HashDataRange(ukey, 5)
	assert.True(t, bytes.Compare(start, dataKey) <= 0 && bytes.Compare(dataKey, end) < 0)

	foreign := e.HashDataKey(ukey, field, 6)
	assert.False(t, bytes.Compare(start, foreign) <= 0 && bytes.Compare(foreign, end) < 0)
}

func TestListDataKeyDecoding(t *testing.T) {
	e := NewKeyEncoder(0)
	ukey := []byte("mylist")

	dataKey := e.ListDataKey(ukey, 1<<32, 2)
	assert.Equal(t, uint64(1<<32), e.ListIdxFromDataKey(ukey, dataKey))

	// index order must equal byte order
	lo := e.ListDataKey(ukey, 100, 2)
	hi := e.ListDataKey(ukey, 101, 2)
	assert.Negative(t, bytes.Compare(lo, hi))
}

func TestZsetScoreKeyDecoding(t *testing.T) {
	e := NewKeyEncoder(0)
	ukey := []byte("myzset")
	member := []byte("m1")

	scoreKey := e.ZsetScoreKey(ukey, -2.5, member, 9)
	assert.Equal(t, member, e.ZsetMemberFromScoreKey(ukey, scoreKey))
	assert.Equal(t, -2.5, e.ZsetScoreFromScoreKey(ukey, scoreKey))

	// ascending score means ascending bytes, member breaking ties
	low := e.ZsetScoreKey(ukey, -3, member, 9)
	high := e.ZsetScoreKey(ukey, 4, member, 9)
	assert.Negative(t, bytes.Compare(low, scoreKey))
	assert.Negative(t, bytes.Compare(scoreKey, high))
}

func TestZsetScoreBoundsEncodeExclusivity(t *testing.T) {
	e := NewKeyEncoder(0)
	ukey := []byte("z")
	at := e.ZsetScoreKey(ukey, 5, []byte("m"), 0)

	inclStart := e.ZsetScoreKeyScoreStart(ukey, 5, true, 0)
	exclStart := e.ZsetScoreKeyScoreStart(ukey, 5, false, 0)
	assert.True(t, bytes.Compare(inclStart, at) <= 0)
	assert.Positive(t, bytes.Compare(exclStart, at))

	inclEnd := e.ZsetScoreKeyScoreEnd(ukey, 5, true, 0)
	exclEnd := e.ZsetScoreKeyScoreEnd(ukey, 5, false, 0)
	assert.Positive(t, bytes.Compare(inclEnd, at))
	assert.Negative(t, bytes.Compare(exclEnd, at))
}

func TestGCVersionKeyRoundTrip(t *testing.T) {
	e := NewKeyEncoder(0)
	ukey := []byte("big-set")

	key := e.GCVersionKey(ukey, 513)
	got, version, err := e.GCUserKeyVersion(key)
	require.NoError(t, err)
	assert.Equal(t, ukey, got)
	assert.Equal(t, uint16(513), version)

	start, end := e.GCVersionRange()
	assert.True(t, bytes.Compare(start, key) <= 0 && bytes.Compare(key, end) < 0)
}

func TestMetaValueAccessors(t *testing.T) {
	e := NewKeyEncoder(0)

	hv := e.HashMetaValue(12345, 7, 0)
	ttl, version, indexSize := e.Meta(hv)
	assert.Equal(t, int64(12345), ttl)
	assert.Equal(t, uint16(7), version)
	assert.Equal(t, DefaultMetaIndexSize, indexSize)
	assert.Equal(t, TypeHash, e.MetaType(hv))

	lv := e.ListMetaValue(0, 3, 1<<32-2, 1<<32+5)
	ttl, version, left, right := e.ListMeta(lv)
	assert.Equal(t, int64(0), ttl)
	assert.Equal(t, uint16(3), version)
	assert.Equal(t, uint64(1<<32-2), left)
	assert.Equal(t, uint64(1<<32+5), right)
	assert.Equal(t, TypeList, e.MetaType(lv))

	sv := e.StringValue([]byte("payload"), 99)
	assert.Equal(t, TypeString, e.MetaType(sv))
	assert.Equal(t, int64(99), e.MetaTTL(sv))
	assert.Equal(t, []byte("payload"), e.StringPayload(sv))
}

func TestInt64RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -1000, math.MaxInt64, math.MinInt64} {
		assert.Equal(t, v, Int64(AppendInt64(nil, v)))
	}
}
