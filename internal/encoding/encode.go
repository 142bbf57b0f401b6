package encoding

import "encoding/binary"

// DefaultMetaIndexSize is the sub-meta shard count stamped into newly
// created collection meta values.
const DefaultMetaIndexSize uint16 = 1<<16 - 1

// KeyEncoder builds every persisted key and meta value for one instance.
// The two instance-id bytes sit right after the global prefix so several
// logical instances can share one byte store.
type KeyEncoder struct {
	instanceID [2]byte
}

// NewKeyEncoder returns an encoder bound to the given instance id.
func NewKeyEncoder(instanceID uint16) *KeyEncoder {
	var e KeyEncoder
	binary.BigEndian.PutUint16(e.instanceID[:], instanceID)
	return &e
}

func (e *KeyEncoder) header(kind byte, extra int) []byte {
	key := make([]byte, 0, 4+extra)
	key = append(key, txnKeyPrefix)
	key = append(key, e.instanceID[:]...)
	key = append(key, kind)
	return key
}

// MetaKey encodes the meta record key for a user key; the same layout backs
// string records (value carries the inline payload).
func (e *KeyEncoder) MetaKey(ukey []byte) []byte {
	enc := EncodeBytes(ukey)
	key := e.header(dataTypeUser, len(enc)+1)
	key = append(key, enc...)
	key = append(key, dataTypeMeta)
	return key
}

// KeyspaceEnd is the exclusive upper bound of the whole user keyspace.
func (e *KeyEncoder) KeyspaceEnd() []byte {
	return e.header(dataTypeUserEnd, 0)
}

// SubMetaKey encodes one cardinality shard for (ukey, version).
func (e *KeyEncoder) SubMetaKey(ukey []byte, version, idx uint16) []byte {
	key := e.MetaKey(ukey)
	key = binary.BigEndian.AppendUint16(key, version)
	key = append(key, placeHolder)
	key = binary.BigEndian.AppendUint16(key, idx)
	return key
}

// SubMetaRange bounds every shard of (ukey, version), end exclusive.
func (e *KeyEncoder) SubMetaRange(ukey []byte, version uint16) ([]byte, []byte) {
	start := e.MetaKey(ukey)
	start = binary.BigEndian.AppendUint16(start, version)
	end := append([]byte(nil), start...)
	start = append(start, placeHolder)
	end = append(end, placeHolder+1)
	return start, end
}

// GCKey encodes the gc head record for a user key.
func (e *KeyEncoder) GCKey(ukey []byte) []byte {
	enc := EncodeBytes(ukey)
	key := e.header(dataTypeGC, len(enc)+1)
	key = append(key, placeHolder)
	key = append(key, enc...)
	return key
}

// GCVersionKey encodes the staged-deletion record for (ukey, version).
func (e *KeyEncoder) GCVersionKey(ukey []byte, version uint16) []byte {
	enc := EncodeBytes(ukey)
	key := e.header(dataTypeGCVersion, len(enc)+3)
	key = append(key, placeHolder)
	key = append(key, enc...)
	key = binary.BigEndian.AppendUint16(key, version)
	return key
}

// GCVersionRange bounds every staged-deletion record of the instance.
func (e *KeyEncoder) GCVersionRange() ([]byte, []byte) {
	start := e.header(dataTypeGCVersion, 1)
	end := append([]byte(nil), start...)
	start = append(start, placeHolder)
	end = append(end, placeHolder+1)
	return start, end
}

func (e *KeyEncoder) typeDataPrefix(kind byte, ukey []byte, version uint16) []byte {
	enc := EncodeBytes(ukey)
	key := e.header(dataTypeUser, len(enc)+3)
	key = append(key, enc...)
	key = append(key, kind)
	key = binary.BigEndian.AppendUint16(key, version)
	return key
}

func (e *KeyEncoder) typeDataRange(kind byte, ukey []byte, version uint16) ([]byte, []byte) {
	start := e.typeDataPrefix(kind, ukey, version)
	end := append([]byte(nil), start...)
	start = append(start, placeHolder)
	end = append(end, placeHolder+1)
	return start, end
}

// HashDataKey encodes one hash field record.
func (e *KeyEncoder) HashDataKey(ukey []byte, field []byte, version uint16) []byte {
	key := e.typeDataPrefix(dataTypeHash, ukey, version)
	key = append(key, placeHolder)
	key = append(key, field...)
	return key
}

// HashDataRange bounds every field of (ukey, version), end exclusive.
func (e *KeyEncoder) HashDataRange(ukey []byte, version uint16) ([]byte, []byte) {
	return e.typeDataRange(dataTypeHash, ukey, version)
}

// SetDataKey encodes one set member record.
func (e *KeyEncoder) SetDataKey(ukey []byte, member []byte, version uint16) []byte {
	key := e.typeDataPrefix(dataTypeSet, ukey, version)
	key = append(key, placeHolder)
	key = append(key, member...)
	return key
}

// SetDataRange bounds every member of (ukey, version), end exclusive.
func (e *KeyEncoder) SetDataRange(ukey []byte, version uint16) ([]byte, []byte) {
	return e.typeDataRange(dataTypeSet, ukey, version)
}

// ListDataKey encodes the element record at byte-index idx.
func (e *KeyEncoder) ListDataKey(ukey []byte, idx uint64, version uint16) []byte {
	key := e.typeDataPrefix(dataTypeList, ukey, version)
	key = append(key, placeHolder)
	key = binary.BigEndian.AppendUint64(key, idx)
	return key
}

// ListDataRange bounds every element of (ukey, version), end exclusive.
func (e *KeyEncoder) ListDataRange(ukey []byte, version uint16) ([]byte, []byte) {
	return e.typeDataRange(dataTypeList, ukey, version)
}

// ListDataIdxRange bounds elements with byte-index in [start, end], both
// inclusive.
func (e *KeyEncoder) ListDataIdxRange(ukey []byte, start, end uint64, version uint16) ([]byte, []byte) {
	return e.ListDataKey(ukey, start, version), e.ListDataKey(ukey, end, version)
}

// ZsetDataKey encodes the member-index record of a sorted-set member.
func (e *KeyEncoder) ZsetDataKey(ukey []byte, member []byte, version uint16) []byte {
	key := e.typeDataPrefix(dataTypeZset, ukey, version)
	key = append(key, placeHolder)
	key = append(key, member...)
	return key
}

// ZsetDataRange bounds the member index of (ukey, version), end exclusive.
func (e *KeyEncoder) ZsetDataRange(ukey []byte, version uint16) ([]byte, []byte) {
	return e.typeDataRange(dataTypeZset, ukey, version)
}

// ZsetDataValue encodes a score as its cmp-uint64 big-endian bytes.
func (e *KeyEncoder) ZsetDataValue(score float64) []byte {
	return binary.BigEndian.AppendUint64(nil, EncodeF64ToCmpUint64(score))
}

// ZsetScoreKey encodes the score-index record of (member, score).
func (e *KeyEncoder) ZsetScoreKey(ukey []byte, score float64, member []byte, version uint16) []byte {
	key := e.typeDataPrefix(dataTypeScore, ukey, version)
	key = append(key, placeHolder)
	key = binary.BigEndian.AppendUint64(key, EncodeF64ToCmpUint64(score))
	key = append(key, placeHolder)
	key = append(key, member...)
	return key
}

// ZsetScoreRange bounds the whole score index of (ukey, version), end
// exclusive.
func (e *KeyEncoder) ZsetScoreRange(ukey []byte, version uint16) ([]byte, []byte) {
	return e.typeDataRange(dataTypeScore, ukey, version)
}

// ZsetScoreKeyScoreStart returns the lower bound of the score index at
// score. Exclusive bounds are encoded by nudging one step in cmp space.
func (e *KeyEncoder) ZsetScoreKeyScoreStart(ukey []byte, score float64, withFrontier bool, version uint16) []byte {
	cmp := EncodeF64ToCmpUint64(score)
	if !withFrontier {
		cmp++
	}
	key := e.typeDataPrefix(dataTypeScore, ukey, version)
	key = append(key, placeHolder)
	key = binary.BigEndian.AppendUint64(key, cmp)
	key = append(key, placeHolder)
	return key
}

// ZsetScoreKeyScoreEnd returns the upper bound of the score index at score.
func (e *KeyEncoder) ZsetScoreKeyScoreEnd(ukey []byte, score float64, withFrontier bool, version uint16) []byte {
	cmp := EncodeF64ToCmpUint64(score)
	if !withFrontier {
		cmp--
	}
	key := e.typeDataPrefix(dataTypeScore, ukey, version)
	key = append(key, placeHolder)
	key = binary.BigEndian.AppendUint64(key, cmp)
	key = append(key, placeHolder+1)
	return key
}

// StringValue packs a string payload with its ttl. String records never
// take part in versioned GC, so the version field stays zero.
func (e *KeyEncoder) StringValue(value []byte, ttl int64) []byte {
	val := make([]byte, 0, 11+len(value))
	val = append(val, TypeString.TypeByte())
	val = binary.BigEndian.AppendUint64(val, uint64(ttl))
	val = binary.BigEndian.AppendUint16(val, 0)
	val = append(val, value...)
	return val
}

func collectionMetaValue(dt DataType, ttl int64, version, indexSize uint16) []byte {
	val := make([]byte, 0, 13)
	val = append(val, dt.TypeByte())
	val = binary.BigEndian.AppendUint64(val, uint64(ttl))
	val = binary.BigEndian.AppendUint16(val, version)
	// zero means a fresh key: stamp the default shard count
	if indexSize == 0 {
		indexSize = DefaultMetaIndexSize
	}
	val = binary.BigEndian.AppendUint16(val, indexSize)
	return val
}

// HashMetaValue packs a hash meta value.
func (e *KeyEncoder) HashMetaValue(ttl int64, version, indexSize uint16) []byte {
	return collectionMetaValue(TypeHash, ttl, version, indexSize)
}

// SetMetaValue packs a set meta value.
func (e *KeyEncoder) SetMetaValue(ttl int64, version, indexSize uint16) []byte {
	return collectionMetaValue(TypeSet, ttl, version, indexSize)
}

// ZsetMetaValue packs a sorted-set meta value.
func (e *KeyEncoder) ZsetMetaValue(ttl int64, version, indexSize uint16) []byte {
	return collectionMetaValue(TypeZset, ttl, version, indexSize)
}

// ListMetaValue packs a list meta value with its [left, right) window.
func (e *KeyEncoder) ListMetaValue(ttl int64, version uint16, left, right uint64) []byte {
	val := make([]byte, 0, 27)
	val = append(val, TypeList.TypeByte())
	val = binary.BigEndian.AppendUint64(val, uint64(ttl))
	val = binary.BigEndian.AppendUint16(val, version)
	val = binary.BigEndian.AppendUint64(val, left)
	val = binary.BigEndian.AppendUint64(val, right)
	return val
}
