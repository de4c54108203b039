package storage

import "encoding/binary"

// Key prefixes owned by this package.
// The exchange and the application define their own prefixes next to their code.
//
//	blk:<8-byte height>  → Block
//	cm                   → committed height
const (
	prefixBlock = "blk:"
	keyCommit   = "cm"
)

// KeyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:0x123:" -> upper bound "bal:0x123;" (next byte after ':')
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff: no upper bound
}

// Uint64Key encodes v big-endian so keys sort numerically.
func Uint64Key(prefix string, v uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], v)
	return k
}

// EncodeUint64 / DecodeUint64 store counters as 8-byte big-endian values.
func EncodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func DecodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
