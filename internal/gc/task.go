// Package gc reclaims the data of large deleted or expired objects. The
// mutating transaction only rolls the key's version into the gc index; the
// master periodically scans that index, fans tasks out to a fixed worker
// pool by checksum, and each worker erases the staged records in two
// transactions (data first, then the head record guarded by version).
package gc

import (
	"github.com/sigurn/crc16"

	"github.com/xiaoyuz/mapuche-embedded/internal/encoding"
)

// Task names one staged reclamation unit.
type Task struct {
	Type    encoding.DataType
	UserKey []byte
	Version uint16
}

// Bytes is the canonical serialization used for both worker dispatch and
// in-flight deduplication.
func (t Task) Bytes() []byte {
	b := make([]byte, 0, 3+len(t.UserKey))
	b = append(b, t.Type.TypeByte())
	b = append(b, t.UserKey...)
	b = append(b, byte(t.Version>>8), byte(t.Version))
	return b
}

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// shard picks the worker index for a task.
func (t Task) shard(n int) int {
	return int(crc16.Checksum(t.Bytes(), crcTable)) % n
}
