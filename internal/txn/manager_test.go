package txn

import (
	"context"
	"strconv"
	"testing"
	"time"

	retry "github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/myuser/mvccstore/internal/storage"
)

func newManager() *Manager {
	return NewManager(storage.NewMemoryStore())
}

func mustRead(t *testing.T, m *Manager, tx *Transaction, key string) string {
	t.Helper()
	val, err := m.Read(tx, key)
	require.NoError(t, err)
	return string(val)
}

func TestSnapshotStability(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("price", []byte("100")))

	reader := m.Begin()

	// Two commits land after the reader's snapshot.
	require.NoError(t, m.Set("price", []byte("200")))
	require.NoError(t, m.Set("price", []byte("300")))

	// The reader keeps seeing the world as of its begin, however often
	// it asks.
	require.Equal(t, "100", mustRead(t, m, reader, "price"))
	require.Equal(t, "100", mustRead(t, m, reader, "price"))

	require.NoError(t, m.Abort(reader))

	// A fresh transaction sees the latest commit.
	after := m.Begin()
	require.Equal(t, "300", mustRead(t, m, after, "price"))
}

func TestWriteWriteConflict(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("a", []byte("100")))
	base := m.CurrentVersion()

	t1 := m.Begin()
	require.NoError(t, m.Write(t1, "a", []byte("150")))

	t2 := m.Begin()
	require.Equal(t, "100", mustRead(t, m, t2, "a"))

	// First committer wins.
	require.NoError(t, m.Commit(t1))
	require.Equal(t, base+1, m.CurrentVersion())

	// t2 based its outcome on the old version of "a"; its commit must
	// fail and the transaction must end up aborted.
	require.NoError(t, m.Write(t2, "a", []byte("200")))
	require.ErrorIs(t, m.Commit(t2), ErrConflict)
	require.Equal(t, StateAborted, t2.State)

	// t1's value is what survives.
	check := m.Begin()
	require.Equal(t, "150", mustRead(t, m, check, "a"))
}

// A committed key that prefixes another ("a" next to "ab") must not
// confuse commit validation: an uncontended transaction that read it has
// to commit on the first try, or retry loops would spin forever.
func TestCommitWithPrefixRelatedKeys(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("a", []byte("1")))
	require.NoError(t, m.Set("ab", []byte("2")))

	tx := m.Begin()
	require.Equal(t, "1", mustRead(t, m, tx, "a"))
	require.Equal(t, "2", mustRead(t, m, tx, "ab"))
	require.NoError(t, m.Write(tx, "a", []byte("10")))
	require.NoError(t, m.Commit(tx))

	// Conflicts on such keys are still real conflicts.
	t1 := m.Begin()
	require.Equal(t, "10", mustRead(t, m, t1, "a"))
	require.NoError(t, m.Set("a", []byte("raced")))
	require.NoError(t, m.Write(t1, "a", []byte("11")))
	require.ErrorIs(t, m.Commit(t1), ErrConflict)
}

func TestReadYourOwnWrites(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("k", []byte("committed")))

	tx := m.Begin()
	require.NoError(t, m.Write(tx, "k", []byte("staged")))

	// The staged value wins over the store, and reading it must not
	// create a read-set dependency that another commit could break.
	require.Equal(t, "staged", mustRead(t, m, tx, "k"))

	require.NoError(t, m.Set("k", []byte("raced")))
	require.NoError(t, m.Commit(tx))

	check := m.Begin()
	require.Equal(t, "staged", mustRead(t, m, check, "k"))
}

func TestReadThenWriteKeepsDependency(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("k", []byte("1")))

	tx := m.Begin()
	require.Equal(t, "1", mustRead(t, m, tx, "k"))
	require.NoError(t, m.Write(tx, "k", []byte("2")))

	// The read happened before the write, so the observation must still
	// be validated: an external commit in between is a conflict.
	require.NoError(t, m.Set("k", []byte("99")))
	require.ErrorIs(t, m.Commit(tx), ErrConflict)
}

func TestAbortDiscardsWrites(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("alice", []byte("400")))

	tx := m.Begin()
	require.NoError(t, m.Write(tx, "alice", []byte("300")))
	require.Equal(t, 1, tx.WriteSetLen())
	require.NoError(t, m.Abort(tx))
	require.Zero(t, tx.WriteSetLen())
	require.Equal(t, StateAborted, tx.State)
	require.Zero(t, m.ActiveCount())

	check := m.Begin()
	require.Equal(t, "400", mustRead(t, m, check, "alice"))
}

func TestTerminalStateRejected(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("k", []byte("v")))

	tx := m.Begin()
	require.NoError(t, m.Commit(tx))
	require.Equal(t, StateCommitted, tx.State)

	_, err := m.Read(tx, "k")
	require.ErrorIs(t, err, ErrTxnNotActive)
	require.ErrorIs(t, m.Write(tx, "k", []byte("x")), ErrTxnNotActive)
	require.ErrorIs(t, m.Commit(tx), ErrTxnNotActive)
	require.ErrorIs(t, m.Abort(tx), ErrTxnNotActive)
}

func TestReadMissingKey(t *testing.T) {
	m := newManager()
	tx := m.Begin()
	_, err := m.Read(tx, "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// A key committed after our snapshot is just as invisible.
	require.NoError(t, m.Set("late", []byte("v")))
	_, err = m.Read(tx, "late")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBlindWriteDoesNotConflict(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("k", []byte("1")))

	// tx never reads "k", so a racing commit on it is not a dependency.
	tx := m.Begin()
	require.NoError(t, m.Write(tx, "k", []byte("blind")))
	require.NoError(t, m.Set("k", []byte("racer")))
	require.NoError(t, m.Commit(tx))

	check := m.Begin()
	require.Equal(t, "blind", mustRead(t, m, check, "k"))
}

func TestEmptyCommit(t *testing.T) {
	m := newManager()
	base := m.CurrentVersion()

	tx := m.Begin()
	require.NoError(t, m.Commit(tx))

	// Nothing written, no version allocated.
	require.Equal(t, base, m.CurrentVersion())
}

func TestMonotonicVersionsAcrossGC(t *testing.T) {
	m := newManager()

	var seen []uint64
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Set("k", []byte(strconv.Itoa(i))))
		seen = append(seen, m.CurrentVersion())
	}

	m.GC()

	for i := 3; i < 6; i++ {
		require.NoError(t, m.Set("k", []byte(strconv.Itoa(i))))
		seen = append(seen, m.CurrentVersion())
	}

	// Ids keep strictly increasing; GC never recycles them.
	for i := 1; i < len(seen); i++ {
		require.Greater(t, seen[i], seen[i-1])
	}
}

func TestGCFloorKeepsActiveSnapshotReadable(t *testing.T) {
	m := newManager()

	require.NoError(t, m.Set("a", []byte("1")))
	require.NoError(t, m.Set("a", []byte("2")))

	// Pinned between the second and third write.
	tx := m.Begin()

	require.NoError(t, m.Set("a", []byte("3")))

	// Horizon is tx's snapshot (2): v2 and v3 are at or above it, v1 is
	// the floor. Nothing is removable.
	pruned := m.GC()
	require.Equal(t, 0, pruned)

	// The active snapshot must still resolve after GC.
	require.Equal(t, "2", mustRead(t, m, tx, "a"))
	require.NoError(t, m.Abort(tx))

	// With no one active the horizon advances to the current version
	// (3); v2 becomes the floor and v1 is shadowed history.
	prunedAfter := m.GC()
	require.Equal(t, 1, prunedAfter)

	check := m.Begin()
	require.Equal(t, "3", mustRead(t, m, check, "a"))
}

func TestGCWithNoActiveTransactions(t *testing.T) {
	m := newManager()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Set("k", []byte(strconv.Itoa(i))))
	}

	// Horizon = current version (5). Version 5 stays, version 4 is the
	// floor, 1..3 are shadowed history.
	pruned := m.GC()
	require.Equal(t, 3, pruned)

	check := m.Begin()
	require.Equal(t, "4", mustRead(t, m, check, "k"))
}

// Five concurrent transfers of 10 from alice to bob, each retrying on
// conflict until it lands. Money is conserved and all five apply.
func TestConcurrentTransfersConserveTotal(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("alice", []byte("1000")))
	require.NoError(t, m.Set("bob", []byte("1000")))

	transfer := func(ctx context.Context) error {
		tx := m.Begin()

		a, err := m.Read(tx, "alice")
		if err != nil {
			return err
		}
		b, err := m.Read(tx, "bob")
		if err != nil {
			return err
		}

		av, _ := strconv.Atoi(string(a))
		bv, _ := strconv.Atoi(string(b))

		if err := m.Write(tx, "alice", []byte(strconv.Itoa(av-10))); err != nil {
			return err
		}
		if err := m.Write(tx, "bob", []byte(strconv.Itoa(bv+10))); err != nil {
			return err
		}

		if err := m.Commit(tx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}

	eg, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 5; i++ {
		eg.Go(func() error {
			return retry.Do(ctx, retry.WithMaxRetries(100, retry.NewConstant(time.Millisecond)), transfer)
		})
	}
	require.NoError(t, eg.Wait())

	check := m.Begin()
	alice, _ := strconv.Atoi(mustRead(t, m, check, "alice"))
	bob, _ := strconv.Atoi(mustRead(t, m, check, "bob"))

	require.Equal(t, 2000, alice+bob)
	require.Equal(t, 950, alice)
	require.Equal(t, 1050, bob)
}

func TestStats(t *testing.T) {
	m := newManager()
	require.NoError(t, m.Set("k", []byte("1"))) // commit #1

	t1 := m.Begin()
	require.Equal(t, "1", mustRead(t, m, t1, "k"))

	require.NoError(t, m.Set("k", []byte("2"))) // commit #2

	require.NoError(t, m.Write(t1, "k", []byte("3")))
	require.ErrorIs(t, m.Commit(t1), ErrConflict) // conflict (counts as abort too)

	t2 := m.Begin()
	require.NoError(t, m.Abort(t2)) // explicit abort

	require.NoError(t, m.Set("k", []byte("3"))) // commit #3
	m.GC()

	st := m.Stats()
	require.EqualValues(t, 3, st.Committed)
	require.EqualValues(t, 1, st.Conflicts)
	require.EqualValues(t, 2, st.Aborted) // conflict abort + explicit abort
	require.EqualValues(t, 1, st.GCRuns)
	require.EqualValues(t, 1, st.VersionsPruned) // k@1, shadowed by the floor k@2

	// Registry snapshot carries the same numbers.
	snap := m.Metrics().Snapshot()
	require.EqualValues(t, 3, snap["txn.committed"])
}
