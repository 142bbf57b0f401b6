package store

import "errors"

// Command-visible errors. The messages mirror the Redis wire conventions and
// are rendered verbatim into Error frames by the command layer, so they must
// not be reworded. ErrTxnConflict is the one retryable member of the set.
var (
	ErrWrongType           = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrValueNotInteger     = errors.New("ERR value is not an integer or out of range")
	ErrValueNotFloat       = errors.New("ERR value is not a valid float")
	ErrNoSuchKey           = errors.New("ERR no such key")
	ErrIndexOutOfRange     = errors.New("ERR index out of range")
	ErrKeyVersionExhausted = errors.New("ERR key version exhausted")
	ErrListTooLarge        = errors.New("ERR list is too large")
	ErrDecrementOverflow   = errors.New("Decrement would overflow")
	ErrTxnConflict         = errors.New("Txn commit failed")
	ErrCFMissing           = errors.New("column family not existed")
)
