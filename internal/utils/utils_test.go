package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsExpired(t *testing.T) {
	assert.False(t, KeyIsExpired(0), "zero means no expiration")
	assert.False(t, KeyIsExpired(-1), "negative deadlines never expire")
	assert.False(t, KeyIsExpired(NowMillis()+60_000))
	assert.True(t, KeyIsExpired(NowMillis()-1))
}

func TestTimestampFromTTL(t *testing.T) {
	ts := TimestampFromTTL(5_000)
	assert.InDelta(t, time.Now().UnixMilli()+5_000, ts, 100)
}

func TestTTLFromTimestamp(t *testing.T) {
	assert.Equal(t, int64(0), TTLFromTimestamp(NowMillis()-10))
	remain := TTLFromTimestamp(NowMillis() + 10_000)
	assert.Greater(t, remain, int64(9_000))
	assert.LessOrEqual(t, remain, int64(10_000))
}

func TestCountUnique(t *testing.T) {
	assert.Equal(t, 0, CountUniqueStrings(nil))
	assert.Equal(t, 2, CountUniqueStrings([]string{"a", "b", "a"}))
	assert.Equal(t, 1, CountUniqueBytes([][]byte{[]byte("x"), []byte("x")}))
}
