package mstore

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/murmur/mpubsub"
)

// Value is a single unit of disseminated information.
// The store never interprets it beyond equality.
type Value = uint64

// DefaultDenseLimit is the dense limit used when [Config.DenseLimit] is zero.
const DefaultDenseLimit = 1 << 16

// Config is the configuration passed to [New].
type Config struct {
	// Values strictly below DenseLimit are indexed in a bitset,
	// and all other values in a hash set.
	// Workloads that broadcast small sequential integers
	// benefit from a limit just above the largest expected value.
	//
	// Zero means DefaultDenseLimit.
	// A negative value disables the dense index.
	DenseLimit int
}

// Store is the set of learned values.
// All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	denseLimit uint64
	dense      *bitset.BitSet
	sparse     map[Value]struct{}

	// Values in first-learned order.
	order []Value

	// Tail of the learned-value stream.
	// Only published to while mu is held,
	// which keeps the stream single-writer.
	learned *mpubsub.Stream[Value]
}

// New returns an empty Store.
func New(cfg Config) *Store {
	limit := cfg.DenseLimit
	if limit == 0 {
		limit = DefaultDenseLimit
	}
	if limit < 0 {
		limit = 0
	}

	return &Store{
		denseLimit: uint64(limit),

		// The bitset grows on demand,
		// so don't pay for the whole limit up front.
		dense:  bitset.New(0),
		sparse: make(map[Value]struct{}),

		learned: mpubsub.NewStream[Value](),
	}
}

// Record inserts v if it is absent,
// and reports whether this call inserted it.
//
// The check and the insert happen in one critical section,
// so of any number of concurrent calls with the same v,
// exactly one returns true.
func (s *Store) Record(v Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.insert(v) {
		return false
	}

	s.learned = s.learned.Publish(v)
	return true
}

// Restore inserts vs without publishing them to the learned-value stream.
// Values already present are skipped.
// It is intended for populating the store from a journal at startup.
func (s *Store) Restore(vs []Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range vs {
		_ = s.insert(v)
	}
}

// insert must be called with s.mu held.
func (s *Store) insert(v Value) bool {
	if v < s.denseLimit {
		if s.dense.Test(uint(v)) {
			return false
		}
		s.dense.Set(uint(v))
	} else {
		if _, ok := s.sparse[v]; ok {
			return false
		}
		s.sparse[v] = struct{}{}
	}

	s.order = append(s.order, v)
	return true
}

// Contains reports whether v has been recorded.
func (s *Store) Contains(v Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v < s.denseLimit {
		return s.dense.Test(uint(v))
	}
	_, ok := s.sparse[v]
	return ok
}

// Snapshot returns a copy of every recorded value in first-learned order.
// The result is never nil.
func (s *Store) Snapshot() []Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Value, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of recorded values.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.order)
}

// Learned returns the current tail of the learned-value stream.
// The follower observes every value recorded after Learned returns,
// in the order they were recorded.
// Values passed to [*Store.Restore] never appear on the stream.
func (s *Store) Learned() *mpubsub.Stream[Value] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.learned
}
