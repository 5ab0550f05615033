package election

import (
	"context"
	"testing"
	"time"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func setupTestKV(t *testing.T) (nats.KeyValue, func()) {
	t.Helper()
	opts := &natsd.Options{Port: -1, JetStream: true, StoreDir: t.TempDir()}
	ns, err := natsd.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second))

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	js, err := nc.JetStream()
	require.NoError(t, err)
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "ELECTION"})
	require.NoError(t, err)

	return kv, func() {
		nc.Close()
		ns.Shutdown()
	}
}

func TestElector_SoleEligibleNodeBecomesLeader(t *testing.T) {
	kv, cleanup := setupTestKV(t)
	defer cleanup()

	changes := make(chan Identity, 8)
	e := New(kv, "node-a", true, 300*time.Millisecond, func(leader Identity, isSelf bool) {
		if isSelf {
			changes <- leader
		}
	})
	require.NoError(t, e.Init(context.Background()))
	defer e.Close()

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("node never became leader")
	}

	_, isSelf := e.CurrentLeader()
	require.True(t, isSelf)
}

func TestElector_IneligibleNodeNeverAcquires(t *testing.T) {
	kv, cleanup := setupTestKV(t)
	defer cleanup()

	e := New(kv, "node-b", false, 300*time.Millisecond, func(Identity, bool) {})
	require.NoError(t, e.Init(context.Background()))
	defer e.Close()

	time.Sleep(400 * time.Millisecond)
	_, isSelf := e.CurrentLeader()
	require.False(t, isSelf)
}

func TestElector_SecondNodeObservesFirstAsLeader(t *testing.T) {
	kv, cleanup := setupTestKV(t)
	defer cleanup()

	leaderUp := make(chan struct{}, 1)
	e1 := New(kv, "node-a", true, 300*time.Millisecond, func(leader Identity, isSelf bool) {
		if isSelf {
			select {
			case leaderUp <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, e1.Init(context.Background()))
	defer e1.Close()

	select {
	case <-leaderUp:
	case <-time.After(2 * time.Second):
		t.Fatal("node-a never became leader")
	}

	observed := make(chan Identity, 8)
	e2 := New(kv, "node-b", true, 300*time.Millisecond, func(leader Identity, isSelf bool) {
		if !isSelf && leader.Host != "" {
			observed <- leader
		}
	})
	require.NoError(t, e2.Init(context.Background()))
	defer e2.Close()

	select {
	case leader := <-observed:
		require.Equal(t, "node-a", leader.Host)
	case <-time.After(2 * time.Second):
		t.Fatal("node-b never observed node-a as leader")
	}

	_, isSelf := e2.CurrentLeader()
	require.False(t, isSelf)
}

func TestElector_CloseReleasesLeadership(t *testing.T) {
	kv, cleanup := setupTestKV(t)
	defer cleanup()

	up := make(chan struct{}, 1)
	e1 := New(kv, "node-a", true, 300*time.Millisecond, func(leader Identity, isSelf bool) {
		if isSelf {
			select {
			case up <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, e1.Init(context.Background()))

	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("node-a never became leader")
	}
	e1.Close()

	_, err := kv.Get(leaderKey)
	require.ErrorIs(t, err, nats.ErrKeyNotFound)
}
