package dedup

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/herambskanda/teletrade/internal/logger"
)

const numShards = 16

// Result of a fingerprint registration.
type Result int

const (
	Admitted Result = iota
	Duplicate
)

func (r Result) String() string {
	if r == Admitted {
		return "admitted"
	}
	return "duplicate"
}

// Store is the first-seen-wins fingerprint registry. Sharded by fingerprint
// so concurrent registration for unrelated signals never contends on one
// lock; registration for the identical fingerprint is decided under the
// owning shard's lock, so exactly one caller is admitted.
type Store struct {
	shards [numShards]*shard
}

type shard struct {
	mu    sync.Mutex
	items map[string]time.Time // fingerprint -> expiry
}

func NewStore() *Store {
	s := &Store{}
	for i := 0; i < numShards; i++ {
		s.shards[i] = &shard{items: make(map[string]time.Time)}
	}
	return s
}

func (s *Store) getShard(fp string) *shard {
	h := fnv.New32a()
	h.Write([]byte(fp))
	return s.shards[h.Sum32()%numShards]
}

// Register records fp with an expiry of window. The first caller for a live
// fingerprint gets Admitted; everyone else gets Duplicate until the entry
// expires.
func (s *Store) Register(fp string, window time.Duration) Result {
	if window <= 0 {
		window = 2 * time.Minute
	}
	now := time.Now()
	sh := s.getShard(fp)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if exp, ok := sh.items[fp]; ok && exp.After(now) {
		return Duplicate
	}
	sh.items[fp] = now.Add(window)
	return Admitted
}

// Len reports live entries across all shards.
func (s *Store) Len() int {
	now := time.Now()
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, exp := range sh.items {
			if exp.After(now) {
				total++
			}
		}
		sh.mu.Unlock()
	}
	return total
}

// Cleanup evicts expired entries and returns how many were removed.
func (s *Store) Cleanup() int {
	now := time.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for fp, exp := range sh.items {
			if !exp.After(now) {
				delete(sh.items, fp)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// RunJanitor periodically evicts expired fingerprints until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Cleanup(); n > 0 {
				logger.Debugf("dedup: evicted %d expired fingerprints", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
