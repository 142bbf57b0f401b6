package encoding

import (
	"encoding/binary"
	"fmt"
)

// Decoders recover logical fields from persisted keys and values. They are
// paired with the encoders in encode.go; every offset is derived from the encoded
// length of the user key, never guessed from delimiters (user bytes are
// escaped and cannot alias them).

// headerLen is prefix + instance id + keyspace kind.
const headerLen = 4

// UserKeyFromMetaKey parses a key read from the meta keyspace. isMeta is
// false for records that merely share the meta-key prefix (cardinality
// shards); such keys must be skipped by keyspace iteration.
func (e *KeyEncoder) UserKeyFromMetaKey(key []byte) (ukey []byte, isMeta bool, err error) {
	if len(key) < headerLen {
		return nil, false, fmt.Errorf("meta key too short: %d bytes", len(key))
	}
	ukey, consumed, err := DecodeBytes(key[headerLen:])
	if err != nil {
		return nil, false, fmt.Errorf("decode user key: %w", err)
	}
	rest := key[headerLen+consumed:]
	isMeta = len(rest) == 1 && rest[0] == dataTypeMeta
	return ukey, isMeta, nil
}

// dataSuffixOffset locates the first byte after "header|enc(uk)|kind|version|`".
func dataSuffixOffset(ukey []byte) int {
	return headerLen + EncodedLen(len(ukey)) + 4
}

// HashFieldFromDataKey recovers the raw field from a hash data key.
func (e *KeyEncoder) HashFieldFromDataKey(ukey, key []byte) []byte {
	return key[dataSuffixOffset(ukey):]
}

// SetMemberFromDataKey recovers the raw member from a set data key.
func (e *KeyEncoder) SetMemberFromDataKey(ukey, key []byte) []byte {
	return key[dataSuffixOffset(ukey):]
}

// ZsetMemberFromDataKey recovers the raw member from a member-index key.
func (e *KeyEncoder) ZsetMemberFromDataKey(ukey, key []byte) []byte {
	return key[dataSuffixOffset(ukey):]
}

// ListIdxFromDataKey recovers the byte-index from a list data key.
func (e *KeyEncoder) ListIdxFromDataKey(ukey, key []byte) uint64 {
	return binary.BigEndian.Uint64(key[dataSuffixOffset(ukey):])
}

// ZsetScoreFromScoreKey recovers the score from a score-index key.
func (e *KeyEncoder) ZsetScoreFromScoreKey(ukey, key []byte) float64 {
	off := dataSuffixOffset(ukey)
	return DecodeCmpUint64ToF64(binary.BigEndian.Uint64(key[off : off+8]))
}

// ZsetMemberFromScoreKey recovers the raw member from a score-index key.
func (e *KeyEncoder) ZsetMemberFromScoreKey(ukey, key []byte) []byte {
	return key[dataSuffixOffset(ukey)+9:]
}

// ZsetScoreFromDataValue recovers the score from a member-index value.
func (e *KeyEncoder) ZsetScoreFromDataValue(val []byte) float64 {
	return DecodeCmpUint64ToF64(binary.BigEndian.Uint64(val))
}

// GCUserKeyVersion parses a gc_version key into its (user key, version).
func (e *KeyEncoder) GCUserKeyVersion(key []byte) (ukey []byte, version uint16, err error) {
	if len(key) < headerLen+3 {
		return nil, 0, fmt.Errorf("gc version key too short: %d bytes", len(key))
	}
	ukey, consumed, err := DecodeBytes(key[headerLen+1:])
	if err != nil {
		return nil, 0, fmt.Errorf("decode user key: %w", err)
	}
	rest := key[headerLen+1+consumed:]
	if len(rest) != 2 {
		return nil, 0, fmt.Errorf("gc version key has %d trailing bytes, want 2", len(rest))
	}
	return ukey, binary.BigEndian.Uint16(rest), nil
}

// Meta value accessors. Every meta value starts with
// "type(1)|ttl(8)|version(2)".

// MetaType returns the persisted kind tag of a meta value.
func (e *KeyEncoder) MetaType(val []byte) DataType { return TypeFromByte(val[0]) }

// MetaTTL returns the absolute expiry deadline (0 = none).
func (e *KeyEncoder) MetaTTL(val []byte) int64 {
	return int64(binary.BigEndian.Uint64(val[1:9]))
}

// MetaVersion returns the generation counter of a meta value.
func (e *KeyEncoder) MetaVersion(val []byte) uint16 {
	return binary.BigEndian.Uint16(val[9:11])
}

// Meta unpacks the common collection header (ttl, version, shard count).
func (e *KeyEncoder) Meta(val []byte) (ttl int64, version uint16, indexSize uint16) {
	return e.MetaTTL(val), e.MetaVersion(val), binary.BigEndian.Uint16(val[11:13])
}

// ListMeta unpacks a list meta value including its window.
func (e *KeyEncoder) ListMeta(val []byte) (ttl int64, version uint16, left, right uint64) {
	return e.MetaTTL(val), e.MetaVersion(val),
		binary.BigEndian.Uint64(val[11:19]), binary.BigEndian.Uint64(val[19:27])
}

// StringPayload returns the inline payload of a string meta value.
func (e *KeyEncoder) StringPayload(val []byte) []byte { return val[11:] }

// AppendInt64 encodes a signed shard delta big-endian.
func AppendInt64(dst []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v))
}

// Int64 decodes a signed shard delta.
func Int64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
