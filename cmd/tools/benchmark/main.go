package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	retry "github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/myuser/mvccstore/internal/storage"
	"github.com/myuser/mvccstore/internal/txn"
)

func main() {
	concurrency := flag.Int("concurrency", 10, "Number of concurrent workers")
	duration := flag.Duration("duration", 10*time.Second, "Test duration")
	accounts := flag.Int("accounts", 100, "Number of accounts")
	gcEvery := flag.Duration("gc", time.Second, "GC interval (0 disables)")
	flag.Parse()

	fmt.Printf("Starting Benchmark: %d workers, %v duration, %d accounts\n",
		*concurrency, *duration, *accounts)

	store := storage.NewMemoryStore()
	m := txn.NewManager(store)
	for i := 0; i < *accounts; i++ {
		if err := m.Set(acct(i), []byte("1000")); err != nil {
			fmt.Printf("seed failed: %v\n", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var ops, conflicts int64
	start := time.Now()

	// Background GC, the way a real deployment would run it.
	if *gcEvery > 0 {
		go func() {
			tick := time.NewTicker(*gcEvery)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tick.C:
					m.GC()
				}
			}
		}()
	}

	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < *concurrency; w++ {
		w := w
		eg.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)))
			for ctx.Err() == nil {
				from, to := rng.Intn(*accounts), rng.Intn(*accounts)
				if from == to {
					continue
				}
				err := retry.Do(ctx, retry.WithMaxRetries(50, retry.NewConstant(100*time.Microsecond)),
					func(ctx context.Context) error {
						if err := transfer(m, acct(from), acct(to), 1); err != nil {
							if errors.Is(err, txn.ErrConflict) {
								atomic.AddInt64(&conflicts, 1)
								return retry.RetryableError(err)
							}
							return err
						}
						return nil
					})
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				atomic.AddInt64(&ops, 1)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		fmt.Printf("Benchmark error: %v\n", err)
		return
	}
	elapsed := time.Since(start)

	// Conservation check: transfers move money, never create it.
	total := 0
	check := m.Begin()
	for i := 0; i < *accounts; i++ {
		v, err := m.Read(check, acct(i))
		if err != nil {
			fmt.Printf("read %s failed: %v\n", acct(i), err)
			return
		}
		n, _ := strconv.Atoi(string(v))
		total += n
	}
	m.Abort(check)

	st := m.Stats()
	fmt.Println("Benchmark Finished.")
	fmt.Printf("Committed transfers: %d\n", ops)
	fmt.Printf("Conflicts (retried): %d\n", conflicts)
	fmt.Printf("Duration: %v\n", elapsed)
	fmt.Printf("TPS: %.2f\n", float64(ops)/elapsed.Seconds())
	fmt.Printf("Live versions: %d, pruned by GC: %d over %d runs\n",
		store.Len(), st.VersionsPruned, st.GCRuns)
	fmt.Printf("Total balance: %d (expected %d)\n", total, *accounts*1000)
	if total != *accounts*1000 {
		fmt.Println("FAIL: conservation violated")
	} else {
		fmt.Println("PASS: conservation holds")
	}
}

func acct(i int) string {
	return fmt.Sprintf("acct%04d", i)
}

// transfer moves amount between two accounts in one transaction.
func transfer(m *txn.Manager, from, to string, amount int) error {
	tx := m.Begin()

	f, err := m.Read(tx, from)
	if err != nil {
		m.Abort(tx)
		return err
	}
	t, err := m.Read(tx, to)
	if err != nil {
		m.Abort(tx)
		return err
	}

	fv, _ := strconv.Atoi(string(f))
	tv, _ := strconv.Atoi(string(t))

	m.Write(tx, from, []byte(strconv.Itoa(fv-amount)))
	m.Write(tx, to, []byte(strconv.Itoa(tv+amount)))

	return m.Commit(tx)
}
