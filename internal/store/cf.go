package store

// Column-family names. Badger exposes a single ordered keyspace, so each
// family is realized as a one-byte key prefix owned by the store layer;
// encoded keys and range bounds never see it. Prefixes are part of the
// on-disk format and must not be reordered.
const (
	CFNameMeta        = "meta"
	CFNameGC          = "gc"
	CFNameGCVersion   = "gc_version"
	CFNameSetSubMeta  = "set_sub_meta"
	CFNameSetData     = "set_data"
	CFNameListData    = "list_data"
	CFNameHashSubMeta = "hash_sub_meta"
	CFNameHashData    = "hash_data"
	CFNameZsetSubMeta = "zset_sub_meta"
	CFNameZsetData    = "zset_data"
	CFNameZsetScore   = "zset_score"
)

var cfPrefixes = map[string]byte{
	CFNameMeta:        0x01,
	CFNameGC:          0x02,
	CFNameGCVersion:   0x03,
	CFNameSetSubMeta:  0x04,
	CFNameSetData:     0x05,
	CFNameListData:    0x06,
	CFNameHashSubMeta: 0x07,
	CFNameHashData:    0x08,
	CFNameZsetSubMeta: 0x09,
	CFNameZsetData:    0x0a,
	CFNameZsetScore:   0x0b,
}

// CF is a resolved column-family handle.
type CF struct {
	name   string
	prefix byte
}

// Name returns the family name the handle was resolved from.
func (cf CF) Name() string { return cf.name }

// key maps an encoded key into the family's keyspace.
func (cf CF) key(k []byte) []byte {
	out := make([]byte, 0, len(k)+1)
	out = append(out, cf.prefix)
	return append(out, k...)
}

// KvPair is one scanned or fetched record; K carries the encoded key with
// the family prefix already stripped.
type KvPair struct {
	K []byte
	V []byte
}

// Range bounds a scan: Start inclusive, End exclusive unless IncludeEnd.
// A nil End runs to the end of the column family.
type Range struct {
	Start      []byte
	End        []byte
	IncludeEnd bool
}
