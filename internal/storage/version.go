package storage

import (
	"encoding/binary"
	"math"
	"time"
)

// Version is one immutable entry in a key's chain.
// Never mutated after the store accepts it.
type Version struct {
	Value     []byte
	VersionID uint64
	CreatedAt time.Time
}

// EncodeKey appends the inverted version id to the user key.
// Format: Key + (MaxUint64 - id)
//
// Inverting makes newer versions sort BEFORE older ones within a key:
// id=20 stores Max-20, id=10 stores Max-10, and Max-20 < Max-10.
// A snapshot read is then just "seek to Encode(key, snapshot) and take
// the first entry still on this key".
func EncodeKey(key []byte, id uint64) []byte {
	buf := make([]byte, len(key)+8)
	copy(buf, key)

	inv := math.MaxUint64 - id
	binary.BigEndian.PutUint64(buf[len(key):], inv)

	return buf
}

// DecodeKey splits an encoded entry back into user key and version id.
func DecodeKey(joined []byte) ([]byte, uint64) {
	if len(joined) < 8 {
		return joined, 0 // not a valid versioned key
	}

	keyLen := len(joined) - 8
	key := joined[:keyLen]
	inv := binary.BigEndian.Uint64(joined[keyLen:])

	return key, math.MaxUint64 - inv
}
