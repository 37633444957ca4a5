package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/myuser/mvccstore/internal/storage"
	"github.com/myuser/mvccstore/internal/txn"
)

// Interactive walkthrough of the engine: snapshot isolation, write-write
// conflicts, atomic aborts and behavior under contention.
func main() {
	demoTimeTravel()
	demoConflict()
	demoAtomicTransfer()
	demoTraders()
}

func header(title string) {
	fmt.Println()
	fmt.Println("======================================================")
	fmt.Println(" " + title)
	fmt.Println("======================================================")
}

func demoTimeTravel() {
	header("DEMO 1: Snapshot Isolation (Time Travel)")

	m := txn.NewManager(storage.NewMemoryStore())

	m.Set("price", []byte("100"))
	fmt.Printf("Initial price set to 100 (version %d)\n", m.CurrentVersion())

	// Long-running reader pins the old view.
	reader := m.Begin()
	fmt.Printf("Reader transaction started (snapshot %d)\n", reader.Snapshot)

	m.Set("price", []byte("200"))
	m.Set("price", []byte("300"))
	fmt.Printf("Two updates committed; current version is %d\n", m.CurrentVersion())

	val, _ := m.Read(reader, "price")
	fmt.Printf("Real-time value: 300, reader sees: %s\n", val)

	if string(val) == "100" {
		fmt.Println("PASS: reader ignored the newer commits.")
	} else {
		fmt.Println("FAIL: isolation leaked.")
	}
	m.Abort(reader)
}

func demoConflict() {
	header("DEMO 2: Write-Write Conflict (The Race)")

	m := txn.NewManager(storage.NewMemoryStore())
	m.Set("tickets_left", []byte("1"))
	fmt.Println("Initial state: 1 ticket left")

	// Alice and Bob both load the page.
	txA := m.Begin()
	txB := m.Begin()

	a, _ := m.Read(txA, "tickets_left")
	b, _ := m.Read(txB, "tickets_left")
	fmt.Printf("Alice sees %s, Bob sees %s\n", a, b)

	// Both buy the last ticket.
	m.Write(txA, "tickets_left", []byte("0"))
	m.Write(txB, "tickets_left", []byte("0"))

	errA := m.Commit(txA)
	errB := m.Commit(txB)
	fmt.Printf("Alice commit: %v\n", errOrOK(errA))
	fmt.Printf("Bob commit:   %v\n", errOrOK(errB))

	if errA == nil && errors.Is(errB, txn.ErrConflict) {
		fmt.Println("PASS: double booking prevented.")
	} else {
		fmt.Println("FAIL: expected Bob to hit a conflict.")
	}
}

func demoAtomicTransfer() {
	header("DEMO 3: Atomic Bank Transfer")

	m := txn.NewManager(storage.NewMemoryStore())
	m.Set("alice", []byte("500"))
	m.Set("bob", []byte("500"))
	fmt.Println("Initial: alice=500, bob=500")

	// Successful transfer: both sides land under one version.
	t1 := m.Begin()
	m.Write(t1, "alice", []byte("400"))
	m.Write(t1, "bob", []byte("600"))
	m.Commit(t1)
	fmt.Printf("Transferred 100: alice=%s, bob=%s\n", latest(m, "alice"), latest(m, "bob"))

	// Broken transfer: debit staged, then abort before the credit.
	t2 := m.Begin()
	cur, _ := m.Read(t2, "alice")
	n, _ := strconv.Atoi(string(cur))
	m.Write(t2, "alice", []byte(strconv.Itoa(n-100)))
	fmt.Println("Debited alice (staged only), then... ERROR. Aborting.")
	m.Abort(t2)

	fmt.Printf("After abort: alice=%s, bob=%s\n", latest(m, "alice"), latest(m, "bob"))
	if string(latest(m, "alice")) == "400" {
		fmt.Println("PASS: the failed transaction left no trace.")
	} else {
		fmt.Println("FAIL: partial write escaped.")
	}
}

func demoTraders() {
	header("DEMO 4: Five Concurrent Traders")

	m := txn.NewManager(storage.NewMemoryStore())
	m.Set("AAPL", []byte("150"))

	changes := []int{1, 2, -1, 5, -2}

	var committed, conflicted int
	eg, _ := errgroup.WithContext(context.Background())
	results := make([]error, len(changes))

	for i, delta := range changes {
		i, delta := i, delta
		eg.Go(func() error {
			tx := m.Begin()
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)

			cur, err := m.Read(tx, "AAPL")
			if err != nil {
				return err
			}
			n, _ := strconv.Atoi(string(cur))
			if err := m.Write(tx, "AAPL", []byte(strconv.Itoa(n+delta))); err != nil {
				return err
			}

			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
			results[i] = m.Commit(tx)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		fmt.Printf("FAIL: unexpected error: %v\n", err)
		return
	}

	for i, err := range results {
		status := "COMMITTED"
		if err != nil {
			status = "ABORTED (retry needed)"
			conflicted++
		} else {
			committed++
		}
		fmt.Printf("  Trader %d: %s\n", i+1, status)
	}

	st := m.Stats()
	fmt.Printf("Summary: %d committed, %d conflicted\n", committed, conflicted)
	fmt.Printf("Engine stats: %+v\n", st)

	if committed >= 1 && committed+conflicted == len(changes) {
		fmt.Println("PASS: every trader either committed or got a clean conflict.")
	}
}

func errOrOK(err error) string {
	if err == nil {
		return "OK"
	}
	return err.Error()
}

func latest(m *txn.Manager, key string) []byte {
	t := m.Begin()
	defer m.Abort(t)
	v, _ := m.Read(t, key)
	return v
}
