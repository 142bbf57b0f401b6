package encoding

import "fmt"

const (
	encGroupSize = 8
	encMarker    = byte(0xff)
)

var encPadding [encGroupSize]byte

// EncodeBytes escapes key into fixed 8-byte groups, each followed by a
// marker byte 0xff-pad. Lexicographic order of the output equals the order
// of the input, and no escaped key is a prefix of another, so arbitrary user
// bytes (including 0x00, the placeholder 0x60 and 0xff) can never collide
// with layout delimiters.
func EncodeBytes(key []byte) []byte {
	n := len(key)
	enc := make([]byte, 0, (n/encGroupSize+1)*(encGroupSize+1))
	for idx := 0; idx <= n; idx += encGroupSize {
		remain := n - idx
		pad := 0
		if remain >= encGroupSize {
			enc = append(enc, key[idx:idx+encGroupSize]...)
		} else {
			pad = encGroupSize - remain
			enc = append(enc, key[idx:]...)
			enc = append(enc, encPadding[:pad]...)
		}
		enc = append(enc, encMarker-byte(pad))
	}
	return enc
}

// DecodeBytes reverses EncodeBytes. It returns the decoded key and the
// number of encoded bytes consumed, so callers can locate the suffix that
// follows the escaped key inside a larger layout.
func DecodeBytes(enc []byte) ([]byte, int, error) {
	var key []byte
	for idx := 0; ; idx += encGroupSize + 1 {
		if idx+encGroupSize+1 > len(enc) {
			return nil, 0, fmt.Errorf("truncated escaped key (len %d at offset %d)", len(enc), idx)
		}
		group := enc[idx : idx+encGroupSize]
		marker := enc[idx+encGroupSize]
		pad := int(encMarker - marker)
		if pad < 0 || pad > encGroupSize {
			return nil, 0, fmt.Errorf("invalid group marker 0x%02x", marker)
		}
		key = append(key, group[:encGroupSize-pad]...)
		if pad > 0 {
			return key, idx + encGroupSize + 1, nil
		}
	}
}

// EncodedLen returns len(EncodeBytes(key)) without allocating.
func EncodedLen(keyLen int) int {
	return (keyLen/encGroupSize + 1) * (encGroupSize + 1)
}
