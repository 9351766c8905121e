package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/adapters/redis"
	"github.com/aretw0/docsync/pkg/core"
)

type recorder struct {
	mu     sync.Mutex
	events []core.ChangeEvent
}

func (r *recorder) Publish(ev core.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []core.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.ChangeEvent(nil), r.events...)
}

func startRelay(t *testing.T, s *miniredis.Miniredis, local core.Publisher, opts ...redis.Option) *redis.Relay {
	t.Helper()

	relay, err := redis.NewRelay("redis://"+s.Addr(), local, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = relay.Close()
	})

	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}
	return relay
}

func TestRelay_FansOutToPeers(t *testing.T) {
	s := miniredis.RunT(t)

	var localA, localB recorder
	a := startRelay(t, s, &localA)
	b := startRelay(t, s, &localB)
	require.NotEqual(t, a.Instance(), b.Instance())

	a.Publish(core.ChangeEvent{
		Kind:      core.EventUpdated,
		Namespace: "demo",
		Name:      "a.yaml",
		Payload:   map[string]any{"title": "Hello"},
		Raw:       []byte("title: Hello\n"),
		Origin:    core.OriginService,
		Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool { return len(localB.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	got := localB.snapshot()[0]
	assert.Equal(t, core.EventUpdated, got.Kind)
	assert.Equal(t, core.Key{Namespace: "demo", Name: "a.yaml"}, got.Key())
	assert.Equal(t, core.OriginRelay, got.Origin)
	assert.Equal(t, map[string]any{"title": "Hello"}, got.Payload)
	assert.Equal(t, []byte("title: Hello\n"), got.Raw)

	// the publisher sees its own event exactly once
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, localA.snapshot(), 1)

	assert.Equal(t, int64(1), a.State().(redis.RelayState).Sent)
	assert.Equal(t, int64(1), b.State().(redis.RelayState).Received)
}

func TestRelay_DoesNotEchoPeerEvents(t *testing.T) {
	s := miniredis.RunT(t)

	var localA, localB recorder
	a := startRelay(t, s, &localA)
	startRelay(t, s, &localB)

	a.Publish(core.ChangeEvent{Kind: core.EventDeleted, Namespace: "demo", Name: "a.yaml", Origin: core.OriginRelay})

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, localA.snapshot(), 1)
	assert.Empty(t, localB.snapshot())
}

func TestRelay_KeepsWatcherEventsLocal(t *testing.T) {
	s := miniredis.RunT(t)

	var localA, localB recorder
	a := startRelay(t, s, &localA)
	startRelay(t, s, &localB)

	// every instance sharing the directory sees the file change through its own watcher
	a.Publish(core.ChangeEvent{Kind: core.EventUpdated, Namespace: "demo", Name: "a.yaml", Origin: core.OriginWatcher})

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, localA.snapshot(), 1)
	assert.Empty(t, localB.snapshot())
	assert.Equal(t, int64(0), a.State().(redis.RelayState).Sent)
}

func TestRelay_WithInbound(t *testing.T) {
	s := miniredis.RunT(t)

	var localA, localB, inboundB recorder
	a := startRelay(t, s, &localA)
	startRelay(t, s, &localB, redis.WithInbound(&inboundB))

	a.Publish(core.ChangeEvent{Kind: core.EventDeleted, Namespace: "demo", Name: "a.yaml", Origin: core.OriginService})

	require.Eventually(t, func() bool { return len(inboundB.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := inboundB.snapshot()[0]
	assert.Equal(t, core.EventDeleted, got.Kind)
	assert.Equal(t, core.OriginRelay, got.Origin)
	assert.Empty(t, localB.snapshot(), "peer events go to the inbound publisher only")
}

func TestNewRelay_BadURL(t *testing.T) {
	_, err := redis.NewRelay("not-a-url", &recorder{})
	assert.Error(t, err)
}
