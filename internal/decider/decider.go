package decider

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sync"
	"time"

	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/hasher"
)

// Decider decides whether a node needs building and commits records after
// verified success. Safe for concurrent use; commits to the same key are
// serialized by key-scoped locks, not a global mutex.
type Decider struct {
	store  Store
	logger *slog.Logger
	locks  [64]sync.Mutex
}

// New wraps a record store.
func New(store Store) *Decider {
	return &Decider{store: store, logger: slog.Default()}
}

// WithLogger sets the logger used for cache diagnostics.
func (d *Decider) WithLogger(logger *slog.Logger) *Decider {
	d.logger = logger
	return d
}

func (d *Decider) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &d.locks[h.Sum32()%uint32(len(d.locks))]
}

// NeedsBuild reports whether b must run. A build is needed when no record
// exists, the input digest changed, any declared output is absent, or an
// output's digest no longer matches the record. A corrupt or unreadable
// record counts as "needs build", never as an error.
//
// A missing input is a hard error (hasher.ErrDependencyMissing), not a
// rebuild signal.
func (d *Decider) NeedsBuild(s *hasher.Session, b builders.Builder) (bool, error) {
	inputDigest, err := s.Files(b.Inputs())
	if err != nil {
		return false, err
	}

	key := builders.Identity(b)
	rec, ok, err := d.store.Get(key)
	if err != nil {
		d.logger.Warn("cache record unreadable, rebuilding", "kind", b.Kind(), "error", err)
		return true, nil
	}
	if !ok {
		return true, nil
	}
	if rec.InputDigest != string(inputDigest) {
		return true, nil
	}
	for _, out := range b.Outputs() {
		if _, err := os.Stat(out); err != nil {
			return true, nil
		}
	}
	outputDigest, err := s.Files(b.Outputs())
	if err != nil {
		return true, nil
	}
	if rec.OutputDigest != string(outputDigest) {
		// Output was altered behind the cache's back.
		return true, nil
	}
	return false, nil
}

// Commit records b's inputs and outputs after a verified successful build.
// The record replaces any prior one atomically; a crashed build never leaves
// a partial record behind.
func (d *Decider) Commit(s *hasher.Session, b builders.Builder) error {
	for _, out := range b.Outputs() {
		if _, err := os.Stat(out); err != nil {
			return fmt.Errorf("commit %s: output %s absent: %w", b.Kind(), out, err)
		}
	}

	inputDigest, err := s.Files(b.Inputs())
	if err != nil {
		return fmt.Errorf("commit %s: %w", b.Kind(), err)
	}

	outParts := make([]hasher.Digest, 0, len(b.Outputs()))
	for _, out := range b.Outputs() {
		dg, err := s.Rehash(out)
		if err != nil {
			return fmt.Errorf("commit %s: %w", b.Kind(), err)
		}
		outParts = append(outParts, dg)
	}

	key := builders.Identity(b)
	lock := d.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	return d.store.Put(Record{
		Key:          key,
		InputDigest:  string(inputDigest),
		OutputDigest: string(hasher.Combine(outParts...)),
		BuiltAt:      time.Now(),
	})
}

// Invalidate drops the record for one node.
func (d *Decider) Invalidate(b builders.Builder) error {
	key := builders.Identity(b)
	lock := d.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	return d.store.Delete(key)
}
