package storage

// Engine is the interface the transaction layer depends on.
// Implementations must be safe for concurrent use; readers must never
// block behind a writer that is only appending new versions.
type Engine interface {
	// Write appends a new version to key's chain. The caller guarantees
	// id is greater than every version id already in the store.
	Write(key []byte, value []byte, id uint64)

	// Read returns the value and version id of the newest version with
	// id <= snapshot, or ErrNotFound if the key has no version visible
	// at that snapshot.
	Read(key []byte, snapshot uint64) ([]byte, uint64, error)

	// LatestVersion returns the id of the newest version of key.
	// Used by commit validation to detect write-write conflicts.
	LatestVersion(key []byte) (uint64, bool)

	// RunGC deletes versions unreachable from any snapshot >= minSnapshot,
	// keeping per key the single newest version below the horizon.
	// Returns the number of versions removed.
	RunGC(minSnapshot uint64) int

	// Versions returns a key's full chain, oldest first.
	Versions(key []byte) []Version

	// Scan iterates encoded entries in [start, end); end nil means no
	// upper bound. handler returning false stops the scan.
	Scan(start, end []byte, handler func(key, value []byte) bool)

	// Len returns the total number of live versions.
	Len() int
}
