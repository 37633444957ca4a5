package storage

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/google/btree"
)

// ErrNotFound means no version of the key is visible at the snapshot.
var ErrNotFound = errors.New("key not found")

// MemoryStore implements Engine.
//
// All versions of all keys live in one B-tree keyed by the encoded
// (userKey, inverted version id) form. Within a user key, newer versions
// sort first. Entries are only ever inserted or deleted, never updated,
// which is what makes concurrent snapshot reads safe under an RLock.
type MemoryStore struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

type item struct {
	key     []byte // encoded: userKey + inverted id
	value   []byte
	created time.Time
}

func (i *item) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*item).key) < 0
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree: btree.New(32),
	}
}

// Write appends a version. Version ids are allocated by the transaction
// manager and strictly increase, so this never overwrites an entry.
func (s *MemoryStore) Write(key, value []byte, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree.ReplaceOrInsert(&item{
		key:     EncodeKey(key, id),
		value:   value,
		created: time.Now(),
	})
}

// Read returns the newest version with id <= snapshot.
//
// Seek to Encode(key, snapshot). Versions newer than the snapshot encode
// to SMALLER suffixes, so they sort before the seek point and the scan
// never sees them. The first entry at or after the seek point that is
// still on this user key is exactly the visible version.
func (s *MemoryStore) Read(key []byte, snapshot uint64) ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seek := EncodeKey(key, snapshot)

	var foundVal []byte
	var foundID uint64
	found := false

	s.tree.AscendGreaterOrEqual(&item{key: seek}, func(i btree.Item) bool {
		it := i.(*item)
		userKey, id := DecodeKey(it.key)

		if !bytes.Equal(userKey, key) {
			// Entries of a longer key sharing our prefix ("ab" while
			// reading "a") sort between the seek point and our chain.
			// Skip them; stop only once the prefix no longer matches.
			return bytes.HasPrefix(userKey, key)
		}

		foundVal = it.value
		foundID = id
		found = true
		return false // first entry of our own chain is the answer
	})

	if !found {
		return nil, 0, ErrNotFound
	}
	return foundVal, foundID, nil
}

// LatestVersion returns the id of the newest version of key.
func (s *MemoryStore) LatestVersion(key []byte) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest version sorts first within the key, so seek with the
	// maximum id and take the first entry.
	seek := EncodeKey(key, ^uint64(0))

	var id uint64
	found := false

	s.tree.AscendGreaterOrEqual(&item{key: seek}, func(i btree.Item) bool {
		it := i.(*item)
		userKey, ver := DecodeKey(it.key)
		if !bytes.Equal(userKey, key) {
			// Skip interleaved entries of longer prefix-sharing keys.
			return bytes.HasPrefix(userKey, key)
		}
		id = ver
		found = true
		return false
	})

	return id, found
}

// RunGC removes versions no snapshot >= minSnapshot can reach.
//
// Iteration order per user key is newest first. Everything with
// id >= minSnapshot stays. Below the horizon we keep the first entry we
// meet (the floor: the version a snapshot exactly at the horizon resolves
// to) and delete the rest, which is shadowed history.
func (s *MemoryStore) RunGC(minSnapshot uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Deleting during Ascend is not safe; collect first.
	var doomed []btree.Item

	var currentKey []byte
	foundFloor := false

	s.tree.Ascend(func(i btree.Item) bool {
		it := i.(*item)
		userKey, id := DecodeKey(it.key)

		if !bytes.Equal(userKey, currentKey) {
			currentKey = userKey
			foundFloor = false
		}

		if id >= minSnapshot {
			return true // still reachable by an active snapshot
		}
		if !foundFloor {
			foundFloor = true // newest below the horizon, keep it
			return true
		}
		doomed = append(doomed, i)
		return true
	})

	for _, i := range doomed {
		s.tree.Delete(i)
	}

	return len(doomed)
}

// Versions returns key's chain oldest-first, for inspection.
func (s *MemoryStore) Versions(key []byte) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Tree order is newest first; walk then reverse.
	var out []Version

	seek := EncodeKey(key, ^uint64(0))
	s.tree.AscendGreaterOrEqual(&item{key: seek}, func(i btree.Item) bool {
		it := i.(*item)
		userKey, id := DecodeKey(it.key)
		if !bytes.Equal(userKey, key) {
			// Skip interleaved entries of longer prefix-sharing keys.
			return bytes.HasPrefix(userKey, key)
		}
		out = append(out, Version{Value: it.value, VersionID: id, CreatedAt: it.created})
		return true
	})

	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// Scan iterates raw encoded entries in [start, end).
func (s *MemoryStore) Scan(start, end []byte, handler func(key, value []byte) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.tree.AscendGreaterOrEqual(&item{key: EncodeKey(start, ^uint64(0))}, func(i btree.Item) bool {
		it := i.(*item)
		userKey, _ := DecodeKey(it.key)
		if end != nil && bytes.Compare(userKey, end) >= 0 {
			return false
		}
		return handler(it.key, it.value)
	})
}

// Len is the total number of live versions across all keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}
