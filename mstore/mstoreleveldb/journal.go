// Package mstoreleveldb persists learned values to a LevelDB journal,
// so a restarted node can restore its [mstore.Store].
package mstoreleveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordian-engine/murmur/mmetrics"
	"github.com/gordian-engine/murmur/mpubsub"
	"github.com/gordian-engine/murmur/mstore"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout: valuePrefix followed by the big-endian sequence number,
// so iteration order is append order.
// The value is the big-endian encoded mstore.Value.
var valuePrefix = []byte("v/")

// Journal is an append-only log of learned values.
type Journal struct {
	log *slog.Logger

	db *leveldb.DB

	metrics *mmetrics.Metrics

	// Guards nextSeq and serializes appends.
	mu      sync.Mutex
	nextSeq uint64

	// Sync every write to disk.
	sync bool

	followDone chan struct{}
}

// Config is the configuration passed to [Open] and [OpenMem].
type Config struct {
	// Optional metrics sink for persistence failures.
	Metrics *mmetrics.Metrics

	// If true, every append is fsynced before returning.
	Sync bool
}

// Open opens or creates the journal database in the directory at path.
func Open(log *slog.Logger, path string, cfg Config) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}
	return newJournal(log, db, cfg)
}

// OpenMem opens a journal backed by memory only.
// It is useful in tests and for nodes that only want the journal's ordering.
func OpenMem(log *slog.Logger, cfg Config) (*Journal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory journal: %w", err)
	}
	return newJournal(log, db, cfg)
}

func newJournal(log *slog.Logger, db *leveldb.DB, cfg Config) (*Journal, error) {
	j := &Journal{
		log: log,
		db:  db,

		metrics: cfg.Metrics,

		sync: cfg.Sync,
	}

	last, ok, err := j.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if ok {
		j.nextSeq = last + 1
	}

	return j, nil
}

func (j *Journal) lastSeq() (uint64, bool, error) {
	it := j.db.NewIterator(util.BytesPrefix(valuePrefix), nil)
	defer it.Release()

	if !it.Last() {
		if err := it.Error(); err != nil {
			return 0, false, fmt.Errorf("failed to seek journal end: %w", err)
		}
		return 0, false, nil
	}

	seq, err := decodeKey(it.Key())
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

// Append persists v as the next journal entry.
func (j *Journal) Append(v mstore.Value) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := make([]byte, len(valuePrefix)+8)
	copy(key, valuePrefix)
	binary.BigEndian.PutUint64(key[len(valuePrefix):], j.nextSeq)

	var val [8]byte
	binary.BigEndian.PutUint64(val[:], v)

	if err := j.db.Put(key, val[:], &opt.WriteOptions{Sync: j.sync}); err != nil {
		return fmt.Errorf("failed to append value %d: %w", v, err)
	}

	j.nextSeq++
	return nil
}

// Load returns every journaled value in append order.
func (j *Journal) Load() ([]mstore.Value, error) {
	it := j.db.NewIterator(util.BytesPrefix(valuePrefix), nil)
	defer it.Release()

	var out []mstore.Value
	for it.Next() {
		if _, err := decodeKey(it.Key()); err != nil {
			return nil, err
		}
		raw := it.Value()
		if len(raw) != 8 {
			return nil, fmt.Errorf(
				"corrupt journal entry %x: value has length %d (want 8)",
				it.Key(), len(raw),
			)
		}
		out = append(out, binary.BigEndian.Uint64(raw))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal: %w", err)
	}

	return out, nil
}

func decodeKey(k []byte) (uint64, error) {
	if len(k) != len(valuePrefix)+8 {
		return 0, fmt.Errorf("corrupt journal key %x", k)
	}
	return binary.BigEndian.Uint64(k[len(valuePrefix):]), nil
}

// Follow starts a background goroutine that appends
// every value published on s until ctx is canceled.
// Use [*Journal.Wait] to block until it stops.
//
// Once ctx is canceled, values already published on s are still appended.
// A failed append is logged and counted, then skipped:
// the value stays visible in memory,
// and durability of that single value is lost.
//
// Follow must be called at most once per Journal.
func (j *Journal) Follow(ctx context.Context, s *mpubsub.Stream[mstore.Value]) {
	if j.followDone != nil {
		panic(errors.New("BUG: Journal.Follow called twice"))
	}
	j.followDone = make(chan struct{})

	go j.follow(ctx, s)
}

func (j *Journal) follow(ctx context.Context, s *mpubsub.Stream[mstore.Value]) {
	defer close(j.followDone)

	next, err := mpubsub.Follow(ctx, s, func(v mstore.Value) error {
		j.appendLearned(v)
		return nil
	})

	// Values already published when ctx ended are still persisted,
	// so a clean shutdown loses nothing.
	nDrained := 0
drain:
	for {
		select {
		case <-next.Ready:
			j.appendLearned(next.Val)
			next = next.Next
			nDrained++
		default:
			break drain
		}
	}

	j.log.Info("Stopping journal follower", "cause", err, "n_drained", nDrained)
}

func (j *Journal) appendLearned(v mstore.Value) {
	if err := j.Append(v); err != nil {
		j.log.Warn("Failed to journal learned value", "value", v, "err", err)
		j.metrics.ObserveJournalError()
	}
}

// Wait blocks until the goroutine started by [*Journal.Follow] returns.
// It returns immediately if Follow was never called.
func (j *Journal) Wait() {
	if j.followDone == nil {
		return
	}
	<-j.followDone
}

// Close closes the underlying database.
// Any follower must have stopped first.
func (j *Journal) Close() error {
	return j.db.Close()
}
