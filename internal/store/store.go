// Package store implements the LogStore: the durable, compacted,
// single-writer-per-leader log abstraction every node consumes into its
// LookupCache. The concrete implementation is backed by a NATS
// JetStream KeyValue bucket, the same mechanism
// cmd/schemaregistry/main.go already uses for bucket bring-up
// (makeBucket, embedded-NATS test mode).
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schemaregistry/internal/rerrors"

	"github.com/nats-io/nats.go"
)

// Applier is implemented by the LookupCache: it is invoked once per log
// record, strictly in log order, by the store's single consumer
// goroutine.
type Applier interface {
	// Apply applies one record to the cache. value is nil for a
	// tombstone (delete). revision is the store's monotonically
	// increasing per-bucket sequence number.
	Apply(key string, value []byte, revision uint64)
}

// Store is the LogStore contract (spec §4.1).
type Store interface {
	// Put writes value at key. Fails with rerrors.NotLeader if this
	// node is not the leader. Blocks until the local consumer has
	// observed the write, or fails with rerrors.Timeout.
	Put(ctx context.Context, key string, value []byte) error
	// Delete tombstones key. Same leader and readback rules as Put.
	Delete(ctx context.Context, key string) error
	// Get reads the latest materialized value from the store directly
	// (bypassing the cache), used sparingly where read-your-writes
	// freshness matters more than cache speed.
	Get(key string) ([]byte, bool, error)
	// GetAll returns every currently stored (non-tombstoned) key/value
	// pair whose key has the given prefix.
	GetAll(prefix string) (map[string][]byte, error)
	// WaitUntilReaderReachesLastOffset writes a Noop record keyed by
	// subject (or a global one if subject is empty) and blocks until
	// the local consumer has applied it.
	WaitUntilReaderReachesLastOffset(ctx context.Context, subject string, timeout time.Duration) error
	// MarkLastWrittenOffsetInvalid forces the next barrier to re-query
	// the log end; called on leader transition.
	MarkLastWrittenOffsetInvalid()
	// LockFor returns the per-subject mutex serializing orchestration
	// on a single subject.
	LockFor(subject string) *sync.Mutex
	// SetLeader updates this node's leader status, guarded internally by
	// a private leader-identity lock nesting inside any held subject
	// lock, never the reverse. epoch is recorded alongside the flag, but
	// Put and Delete check only the leader flag: writes are not fenced
	// by epoch.
	SetLeader(isLeader bool, epoch string)
	// IsLeader reports this node's current leader status.
	IsLeader() bool
	// Close stops the background consumer.
	Close()
}

// natsStore is the JetStream-KV-backed Store implementation.
type natsStore struct {
	kv         nats.KeyValue
	applier    Applier
	timeout    time.Duration
	maxPayload int

	leaderMu sync.Mutex
	isLeader bool
	epoch    string

	subjectLocks sync.Map // string -> *sync.Mutex

	mu              sync.Mutex
	lastAppliedRev  uint64
	lastAppliedCond *sync.Cond

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// New starts a watch-based consumer over kv and returns a ready Store.
// The watch goroutine runs until ctx is cancelled. maxPayload bounds the
// size of a single record value; a non-positive value disables the
// check (the broker's own limit still applies).
func New(ctx context.Context, kv nats.KeyValue, applier Applier, timeout time.Duration, maxPayload int) (Store, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	s := &natsStore{
		kv:         kv,
		applier:    applier,
		timeout:    timeout,
		maxPayload: maxPayload,
		stopWatch:  cancel,
		watchDone:  make(chan struct{}),
	}
	s.lastAppliedCond = sync.NewCond(&s.mu)

	watcher, err := kv.WatchAll()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch bucket: %w", err)
	}

	ready := make(chan struct{})
	go s.consume(watchCtx, watcher, ready)

	select {
	case <-ready:
	case <-time.After(timeout):
		cancel()
		return nil, rerrors.New(rerrors.Initialization, "timed out waiting for initial log catch-up")
	}

	return s, nil
}

func (s *natsStore) consume(ctx context.Context, watcher nats.KeyWatcher, ready chan struct{}) {
	defer close(s.watchDone)
	defer watcher.Stop()

	initialized := false
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				if !initialized {
					initialized = true
					close(ready)
				}
				continue
			}
			var value []byte
			if entry.Operation() == nats.KeyValuePut {
				value = entry.Value()
			}
			s.applier.Apply(entry.Key(), value, entry.Revision())

			s.mu.Lock()
			if entry.Revision() > s.lastAppliedRev {
				s.lastAppliedRev = entry.Revision()
			}
			s.lastAppliedCond.Broadcast()
			s.mu.Unlock()
		}
	}
}

func (s *natsStore) Put(ctx context.Context, key string, value []byte) error {
	if !s.IsLeader() {
		return rerrors.New(rerrors.NotLeader, "node is not the leader")
	}
	if s.maxPayload > 0 && len(value) > s.maxPayload {
		return rerrors.Newf(rerrors.SchemaTooLarge, "record of %d bytes exceeds limit of %d", len(value), s.maxPayload)
	}
	rev, err := s.kv.Put(key, value)
	if err != nil {
		return rerrors.Wrap(rerrors.Store, "put failed", err)
	}
	return s.waitForRevision(ctx, uint64(rev))
}

func (s *natsStore) Delete(ctx context.Context, key string) error {
	if !s.IsLeader() {
		return rerrors.New(rerrors.NotLeader, "node is not the leader")
	}
	if err := s.kv.Delete(key); err != nil {
		return rerrors.Wrap(rerrors.Store, "delete failed", err)
	}
	// Deletes don't report the resulting revision; use a barrier to
	// confirm the tombstone has been applied locally.
	return s.WaitUntilReaderReachesLastOffset(ctx, "", s.timeout)
}

func (s *natsStore) Get(key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(key)
	if err == nats.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, rerrors.Wrap(rerrors.Store, "get failed", err)
	}
	if entry.Operation() != nats.KeyValuePut {
		return nil, false, nil
	}
	return entry.Value(), true, nil
}

func (s *natsStore) GetAll(prefix string) (map[string][]byte, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if err == nats.ErrNoKeysFound {
			return map[string][]byte{}, nil
		}
		return nil, rerrors.Wrap(rerrors.Store, "list keys failed", err)
	}
	out := make(map[string][]byte)
	for _, key := range keys {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		value, ok, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}

func (s *natsStore) WaitUntilReaderReachesLastOffset(ctx context.Context, subject string, timeout time.Duration) error {
	key := noopKey(subject)
	rev, err := s.kv.Put(key, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	if err != nil {
		return rerrors.Wrap(rerrors.Store, "barrier write failed", err)
	}
	return s.waitForRevisionTimeout(ctx, uint64(rev), timeout)
}

// MarkLastWrittenOffsetInvalid is a no-op in this implementation: every
// barrier writes a fresh noop key and waits on its own revision rather
// than a cached "last offset", so there is nothing to invalidate. The
// method exists to satisfy the Store contract for callers written
// against implementations that do cache a last-known offset.
func (s *natsStore) MarkLastWrittenOffsetInvalid() {}

func (s *natsStore) waitForRevision(ctx context.Context, rev uint64) error {
	return s.waitForRevisionTimeout(ctx, rev, s.timeout)
}

func (s *natsStore) waitForRevisionTimeout(ctx context.Context, rev uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.lastAppliedRev < rev {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return rerrors.New(rerrors.Timeout, "timed out waiting for local reader to catch up")
		}
		if ctx.Err() != nil {
			return rerrors.Wrap(rerrors.Timeout, "context cancelled waiting for local reader", ctx.Err())
		}
		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.lastAppliedCond.Broadcast()
			s.mu.Unlock()
		})
		s.lastAppliedCond.Wait()
		timer.Stop()
	}
	return nil
}

func noopKey(subject string) string {
	if subject == "" {
		return fmt.Sprintf("noop.global.%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("noop.subjects.%s.%d", sanitizeKeySegment(subject), time.Now().UnixNano())
}

func sanitizeKeySegment(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '.', '*', '>', ' ', '\t', '\n', ':':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

func (s *natsStore) LockFor(subject string) *sync.Mutex {
	actual, _ := s.subjectLocks.LoadOrStore(subject, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (s *natsStore) SetLeader(isLeader bool, epoch string) {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()
	s.isLeader = isLeader
	s.epoch = epoch
}

func (s *natsStore) IsLeader() bool {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()
	return s.isLeader
}

// Close stops the consumer goroutine and waits for it to exit.
func (s *natsStore) Close() {
	s.stopWatch()
	<-s.watchDone
}
