package txn

import "errors"

var (
	// ErrConflict means commit validation saw a newer committed version
	// of a key this transaction had read. The transaction is aborted.
	ErrConflict = errors.New("write-write conflict")

	// ErrTxnNotActive means an operation was attempted on a transaction
	// that already committed or aborted.
	ErrTxnNotActive = errors.New("transaction not active")
)
