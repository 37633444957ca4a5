package txn

import (
	"time"

	"github.com/myuser/mvccstore/internal/storage"
)

type TxnState int

const (
	StateActive    TxnState = 0
	StateCommitted TxnState = 1
	StateAborted   TxnState = 2
)

func (s TxnState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is one unit of work against the store.
//
// All reads resolve against the fixed Snapshot taken at Begin. Writes are
// staged in the write set and reach the store only through a successful
// Manager.Commit. The handle belongs to the caller that began it and is
// not safe for use from multiple goroutines.
type Transaction struct {
	ID        string
	Snapshot  uint64
	State     TxnState
	StartTime time.Time

	engine storage.Engine

	// readSet records, per key read from the store, the version id that
	// was observed. Commit validation compares these against the store's
	// current latest ids.
	readSet map[string]uint64

	// writeSet holds staged values. Nothing here is visible to anyone
	// else before commit.
	writeSet map[string][]byte
}

// Read returns the value of key as of the transaction's snapshot.
// A key staged in the write set is served from there (read your own
// writes) and does not touch the store or the read set.
func (t *Transaction) Read(key string) ([]byte, error) {
	if t.State != StateActive {
		return nil, ErrTxnNotActive
	}

	if val, ok := t.writeSet[key]; ok {
		return val, nil
	}

	val, id, err := t.engine.Read([]byte(key), t.Snapshot)
	if err != nil {
		return nil, err
	}

	// The store is append-only and the snapshot is fixed, so a repeated
	// read resolves to the same version; overwriting the entry is
	// idempotent.
	t.readSet[key] = id
	return val, nil
}

// Write stages value under key. A read-set entry for the key, if any,
// is kept: commit still has to validate the original observation.
func (t *Transaction) Write(key string, value []byte) error {
	if t.State != StateActive {
		return ErrTxnNotActive
	}
	t.writeSet[key] = value
	return nil
}

// WriteSetLen reports how many keys this transaction has staged.
func (t *Transaction) WriteSetLen() int {
	return len(t.writeSet)
}
