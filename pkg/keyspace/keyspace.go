// This module holds the named lists served by dlist. Names are spread over shards so that goroutines working on
// different lists rarely wait on the same lock: each goroutine only locks the shard its list belongs to.
// Every shard also keeps a bloom filter of the names it has ever created, which lets lookups of never seen names
// return without touching the shard's map.

package keyspace

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/dlist/pkg/list"
	"github.com/nobletooth/dlist/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	shardCount    = flag.Int("keyspace_shards", 16, "Number of shards the named lists are spread over.")
	bloomCapacity = flag.Uint("keyspace_bloom_capacity", 10_000,
		"Expected number of list names per shard; sizes the bloom filter of each shard.")
)

// bloomFalsePositiveRate is the target false positive rate of each shard's bloom filter.
const bloomFalsePositiveRate = 0.01

var (
	operationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlist_list_operations_total",
		Help: "The total number of operations applied to named lists",
	}, []string{"op"})
	listsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dlist_keyspace_lists",
		Help: "The number of non-empty named lists",
	})
	bloomSkipsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlist_keyspace_bloom_skips_total",
		Help: "The total number of lookups answered by the bloom filter alone",
	})
)

// shard owns a subset of the named lists.
type shard struct {
	mux   sync.RWMutex
	lists map[string]*list.List
	seen  *bloom.BloomFilter // Names ever created in this shard; never shrinks.
}

// lookup returns the list called `name` or nil. Caller must hold the shard's lock.
func (s *shard) lookup(name string) *list.List {
	if !s.seen.TestString(name) {
		bloomSkipsMetric.Inc()
		return nil
	}
	return s.lists[name]
}

// getOrCreate returns the list called `name`, creating it if needed. Caller must hold the write lock.
func (s *shard) getOrCreate(name string) *list.List {
	if l := s.lookup(name); l != nil {
		return l
	}
	l := list.New()
	s.lists[name] = l
	s.seen.AddString(name)
	listsMetric.Inc()
	return l
}

// dropIfEmpty removes the list called `name` once it has no elements. Caller must hold the write lock.
func (s *shard) dropIfEmpty(name string, l *list.List) {
	if l.IsEmpty() {
		delete(s.lists, name)
		listsMetric.Dec()
	}
}

// Store maps names to lists. It is safe for concurrent use; the lists themselves never leave the store.
type Store struct {
	shards []*shard
}

// NewStore creates a store with `shards` shards, each sized for `expectedNames` names.
func NewStore(shards int, expectedNames uint) *Store {
	// Ensure there is at least one shard.
	if shards <= 0 {
		utils.RaiseInvariant("keyspace", "non_positive_shard_count",
			"Invalid shard count has been given to the keyspace.", "shards", shards)
		shards = 1
	}
	if expectedNames == 0 {
		expectedNames = 1
	}
	store := &Store{shards: make([]*shard, shards)}
	for i := range shards {
		store.shards[i] = &shard{
			lists: make(map[string]*list.List),
			seen:  bloom.NewWithEstimates(expectedNames, bloomFalsePositiveRate),
		}
	}
	return store
}

// NewStoreFromFlags creates a store sized by the --keyspace_shards and --keyspace_bloom_capacity flags.
func NewStoreFromFlags() *Store {
	return NewStore(*shardCount, *bloomCapacity)
}

// getShard hashes `name` to the shard that owns it.
func (s *Store) getShard(name string) *shard {
	return s.shards[xxhash.Sum64String(name)%uint64(len(s.shards))]
}

// PushFront inserts `values` one by one at the front of the list `name`, creating it if needed.
// Returns the length of the list afterward.
func (s *Store) PushFront(name string, values ...string) int {
	operationsMetric.WithLabelValues("push_front").Inc()
	sh := s.getShard(name)
	sh.mux.Lock()
	defer sh.mux.Unlock()

	l := sh.getOrCreate(name)
	for _, value := range values {
		l.InsertFront(value)
	}
	sh.dropIfEmpty(name, l) // Only when no values were given.
	return l.Size()
}

// PushBack inserts `values` one by one at the back of the list `name`, creating it if needed.
// Returns the length of the list afterward.
func (s *Store) PushBack(name string, values ...string) int {
	operationsMetric.WithLabelValues("push_back").Inc()
	sh := s.getShard(name)
	sh.mux.Lock()
	defer sh.mux.Unlock()

	l := sh.getOrCreate(name)
	for _, value := range values {
		l.InsertBack(value)
	}
	sh.dropIfEmpty(name, l)
	return l.Size()
}

// pop removes one value from the list `name` with `del`; a list left empty is dropped.
func (s *Store) pop(name string, del func(*list.List) (string, bool)) (string, bool) {
	sh := s.getShard(name)
	sh.mux.Lock()
	defer sh.mux.Unlock()

	l := sh.lookup(name)
	if l == nil {
		return "", false
	}
	value, found := del(l)
	sh.dropIfEmpty(name, l)
	return value, found
}

// PopFront removes and returns the first value of the list `name`.
func (s *Store) PopFront(name string) (string, bool) {
	operationsMetric.WithLabelValues("pop_front").Inc()
	return s.pop(name, (*list.List).DeleteFront)
}

// PopBack removes and returns the last value of the list `name`.
func (s *Store) PopBack(name string) (string, bool) {
	operationsMetric.WithLabelValues("pop_back").Inc()
	return s.pop(name, (*list.List).DeleteBack)
}

// read runs `fn` on the list `name` under the shard's read lock. Returns false if there is no such list.
func (s *Store) read(name string, fn func(*list.List)) bool {
	sh := s.getShard(name)
	sh.mux.RLock()
	defer sh.mux.RUnlock()

	l := sh.lookup(name)
	if l == nil {
		return false
	}
	fn(l)
	return true
}

// Index returns the value at `index` of the list `name`. Negative indices count from the back, -1 being the last.
func (s *Store) Index(name string, index int) (string, bool) {
	operationsMetric.WithLabelValues("index").Inc()
	var value string
	var found bool
	s.read(name, func(l *list.List) {
		if index < 0 {
			index += l.Size()
		}
		value, found = l.Get(index)
	})
	return value, found
}

// Len returns the length of the list `name`, 0 if it doesn't exist.
func (s *Store) Len(name string) int {
	operationsMetric.WithLabelValues("len").Inc()
	size := 0
	s.read(name, func(l *list.List) { size = l.Size() })
	return size
}

// Range returns the values of the list `name` between `start` and `stop` inclusive; see list.List.Range.
func (s *Store) Range(name string, start, stop int) []string {
	operationsMetric.WithLabelValues("range").Inc()
	values := []string{}
	s.read(name, func(l *list.List) { values = l.Range(start, stop) })
	return values
}

// Display returns the display string of the list `name`.
func (s *Store) Display(name string) (string, bool) {
	operationsMetric.WithLabelValues("display").Inc()
	var display string
	found := s.read(name, func(l *list.List) { display = l.String() })
	return display, found
}

// Exists counts how many of `names` are existing lists. Repeated names are counted each time.
func (s *Store) Exists(names ...string) int {
	operationsMetric.WithLabelValues("exists").Inc()
	count := 0
	for _, name := range names {
		if s.read(name, func(*list.List) {}) {
			count++
		}
	}
	return count
}

// Delete removes the lists called `names` and returns how many existed.
func (s *Store) Delete(names ...string) int {
	operationsMetric.WithLabelValues("delete").Inc()
	deleted := 0
	for _, name := range names {
		sh := s.getShard(name)
		sh.mux.Lock()
		if sh.lookup(name) != nil {
			delete(sh.lists, name)
			listsMetric.Dec()
			deleted++
		}
		sh.mux.Unlock()
	}
	return deleted
}

// Names returns the names of all lists in sorted order. This locks every shard in turn.
func (s *Store) Names() []string {
	operationsMetric.WithLabelValues("names").Inc()
	names := make([]string, 0)
	for _, sh := range s.shards {
		sh.mux.RLock()
		for name := range sh.lists {
			names = append(names, name)
		}
		sh.mux.RUnlock()
	}
	slices.Sort(names)
	return names
}

// Verify checks the structure of every list and raises an invariant for each corrupted one.
func (s *Store) Verify() error {
	var errs []error
	for _, sh := range s.shards {
		sh.mux.RLock()
		for name, l := range sh.lists {
			if err := l.Verify(); err != nil {
				utils.RaiseInvariant("keyspace", "corrupted_list", "Found a corrupted list.",
					"name", name, "error", err)
				errs = append(errs, fmt.Errorf("list '%s': %w", name, err))
			} else if l.IsEmpty() {
				utils.RaiseInvariant("keyspace", "empty_list_kept", "An empty list was kept in the keyspace.",
					"name", name)
				errs = append(errs, fmt.Errorf("list '%s' is empty", name))
			}
		}
		sh.mux.RUnlock()
	}
	return errors.Join(errs...)
}

// RunVerifier calls Verify every `interval` until `ctx` is cancelled.
func (s *Store) RunVerifier(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Verify(); err != nil {
				slog.Warn("Keyspace verification found problems.", "error", err)
			}
		}
	}
}
