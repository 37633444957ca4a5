package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
)

// Registry is a set of named counters. Construct one per engine instance
// and pass it down; there is no package-level registry.
// Keys are strings, values are *int64 updated atomically.
type Registry struct {
	counters sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Inc increments a counter by 1.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add adds delta to a counter.
func (r *Registry) Add(name string, delta int64) {
	val, ok := r.counters.Load(name)
	if !ok {
		newVal := new(int64)
		val, _ = r.counters.LoadOrStore(name, newVal)
	}
	atomic.AddInt64(val.(*int64), delta)
}

// Get returns the current value of a counter.
func (r *Registry) Get(name string) int64 {
	val, ok := r.counters.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(val.(*int64))
}

// Snapshot returns all counters at once.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	r.counters.Range(func(key, value any) bool {
		out[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})
	return out
}

// Handler exposes all counters as JSON.
func (r *Registry) Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(r.Snapshot())
}
