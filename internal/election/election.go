// Package election implements LeaderElector (spec §4.4): NATS-KV
// compare-and-swap leader election, grounded on the
// revision-gated CAS semantics the teacher already models for its
// in-memory KV fallback (MemoryKeyValue.Update taking a last-known
// revision) applied to a real NATS KV bucket, plus google/uuid
// (amtp-protocol-agentry) for the epoch token carried in each leader
// record. The revision check keeps a node that lost the leader key from
// renewing it; the epoch is handed to the store, which does not check it
// on writes.
package election

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const leaderKey = "leader"

// Identity is this node's self-reported address, used as the value
// written to the leader key.
type Identity struct {
	ID    string `json:"id"`
	Host  string `json:"host"`
	Epoch string `json:"epoch"`
}

// Callback is invoked whenever this node observes a change in the
// elected leader's identity. leader is the zero Identity when no leader
// is currently known.
type Callback func(leader Identity, isSelf bool)

// Elector runs the leader-election protocol for one node.
type Elector struct {
	kv       nats.KeyValue
	self     Identity
	eligible bool
	lease    time.Duration

	mu       sync.Mutex
	current  Identity
	haveLock bool
	revision uint64

	onChange Callback
	stop     chan struct{}
	done     chan struct{}
}

// New builds an Elector. selfHost identifies this node for the Identity
// payload; eligible gates whether this node ever attempts to become
// leader (config key leader.eligibility).
func New(kv nats.KeyValue, selfHost string, eligible bool, lease time.Duration, onChange Callback) *Elector {
	return &Elector{
		kv:       kv,
		self:     Identity{ID: uuid.NewString(), Host: selfHost},
		eligible: eligible,
		lease:    lease,
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Init starts the election loop. It returns once the initial leader
// state (possibly "no leader yet") has been observed.
func (e *Elector) Init(ctx context.Context) error {
	e.refresh()
	go e.loop(ctx)
	return nil
}

// Close stops the election loop, releasing leadership if held.
func (e *Elector) Close() {
	close(e.stop)
	<-e.done
	e.release()
}

func (e *Elector) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Elector) tick() {
	e.mu.Lock()
	haveLock := e.haveLock
	e.mu.Unlock()

	if haveLock {
		e.renew()
		return
	}
	if e.eligible {
		e.tryAcquire()
	}
	e.refresh()
}

// refresh reads the current leader entry and fires the callback if it
// changed since the last observation.
func (e *Elector) refresh() {
	entry, err := e.kv.Get(leaderKey)
	if err == nats.ErrKeyNotFound {
		e.mu.Lock()
		changed := e.current != (Identity{})
		e.current = Identity{}
		e.mu.Unlock()
		if changed {
			e.onChange(Identity{}, false)
		}
		return
	}
	if err != nil {
		return
	}
	var id Identity
	if err := unmarshalIdentity(entry.Value(), &id); err != nil {
		return
	}
	e.mu.Lock()
	changed := e.current != id
	e.current = id
	e.revision = entry.Revision()
	e.mu.Unlock()
	if changed {
		e.onChange(id, id.ID == e.self.ID)
	}
}

func (e *Elector) tryAcquire() {
	payload, err := marshalIdentity(Identity{ID: e.self.ID, Host: e.self.Host, Epoch: uuid.NewString()})
	if err != nil {
		return
	}
	rev, err := e.kv.Create(leaderKey, payload)
	if err != nil {
		// Someone else holds it, or a transient error; either way we
		// are not leader this round.
		return
	}
	e.mu.Lock()
	e.haveLock = true
	e.revision = rev
	var id Identity
	_ = unmarshalIdentity(payload, &id)
	e.current = id
	e.mu.Unlock()
	e.onChange(id, true)
}

func (e *Elector) renew() {
	e.mu.Lock()
	rev := e.revision
	e.mu.Unlock()

	payload, err := marshalIdentity(Identity{ID: e.self.ID, Host: e.self.Host, Epoch: uuid.NewString()})
	if err != nil {
		return
	}
	newRev, err := e.kv.Update(leaderKey, payload, rev)
	if err != nil {
		// Lost the lease — another node fenced us out.
		e.mu.Lock()
		e.haveLock = false
		e.mu.Unlock()
		e.refresh()
		return
	}
	e.mu.Lock()
	e.revision = newRev
	e.mu.Unlock()
}

func (e *Elector) release() {
	e.mu.Lock()
	haveLock := e.haveLock
	rev := e.revision
	e.haveLock = false
	e.mu.Unlock()
	if haveLock {
		_ = e.kv.Delete(leaderKey, nats.LastRevision(rev))
	}
}

// CurrentLeader returns the last-observed leader identity and whether
// this node is it.
func (e *Elector) CurrentLeader() (Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.current.ID == e.self.ID && e.haveLock
}

func marshalIdentity(id Identity) ([]byte, error) {
	return json.Marshal(id)
}

func unmarshalIdentity(data []byte, id *Identity) error {
	return json.Unmarshal(data, id)
}
