package hub_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/core"
	"github.com/aretw0/docsync/pkg/hub"
)

func runHub(t *testing.T, opts ...hub.Option) *hub.Hub {
	t.Helper()
	h := hub.New(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func update(n int) core.ChangeEvent {
	return core.ChangeEvent{
		Kind:      core.EventUpdated,
		Namespace: "demo",
		Name:      "a.yaml",
		Payload:   map[string]any{"n": n},
		Timestamp: time.Now(),
	}
}

func receive(t *testing.T, s *hub.Session) hub.Message {
	t.Helper()
	select {
	case frame := <-s.Outbound():
		var msg hub.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return hub.Message{}
	}
}

func TestHub_DeliversInPublishOrder(t *testing.T) {
	h := runHub(t, hub.WithSendBuffer(128))

	a, err := h.Join()
	require.NoError(t, err)
	b, err := h.Join()
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		h.Publish(update(i))
	}

	for _, s := range []*hub.Session{a, b} {
		for i := 0; i < 100; i++ {
			msg := receive(t, s)
			assert.Equal(t, hub.TypeFileUpdate, msg.Type)
			assert.Equal(t, map[string]any{"n": float64(i)}, msg.Data)
		}
	}
}

func TestHub_DeleteMessage(t *testing.T) {
	h := runHub(t)
	s, err := h.Join()
	require.NoError(t, err)

	h.Publish(core.ChangeEvent{Kind: core.EventDeleted, Namespace: "demo", Name: "a.yaml"})

	msg := receive(t, s)
	assert.Equal(t, hub.TypeFileDelete, msg.Type)
	assert.Equal(t, "demo", msg.ProductName)
	assert.Nil(t, msg.Data)
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	h := runHub(t, hub.WithSendBuffer(2))

	slow, err := h.Join()
	require.NoError(t, err)
	fast, err := h.Join()
	require.NoError(t, err)

	var got []hub.Message
	for i := 0; i < 5; i++ {
		h.Publish(update(i))
		got = append(got, receive(t, fast))
	}

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow session was not dropped")
	}
	assert.ErrorIs(t, slow.Err(), hub.ErrSlowConsumer)
	assert.Len(t, got, 5)
	assert.NoError(t, fast.Err())

	state := h.State().(hub.HubState)
	assert.Equal(t, 1, state.Sessions)
	assert.Equal(t, int64(1), state.Dropped)
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	h := runHub(t)
	s, err := h.Join()
	require.NoError(t, err)

	h.Leave(s)
	h.Leave(s)
	h.Leave(nil)

	<-s.Done()
	assert.NoError(t, s.Err())
	assert.Equal(t, 0, h.State().(hub.HubState).Sessions)
}

func TestHub_ConcurrentJoinLeavePublish(t *testing.T) {
	h := runHub(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s, err := h.Join()
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			h.Leave(s)
		}()
		go func(n int) {
			defer wg.Done()
			h.Publish(update(n))
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return h.State().(hub.HubState).Sessions == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	h := hub.New()
	s, err := h.Join()
	require.NoError(t, err)

	h.Close()
	h.Close()

	<-s.Done()
	assert.ErrorIs(t, s.Err(), hub.ErrClosed)

	_, err = h.Join()
	assert.ErrorIs(t, err, hub.ErrClosed)

	h.Publish(update(1))
	assert.NoError(t, h.Run(context.Background()))
}

func TestSession_Keys(t *testing.T) {
	h := hub.New()
	s, err := h.Join()
	require.NoError(t, err)

	s.Subscribe("demo/b.yaml", "demo/a.yaml")
	s.Subscribe("demo/a.yaml")
	s.Unsubscribe("demo/b.yaml")
	assert.Equal(t, []string{"demo/a.yaml"}, s.Keys())
	assert.Len(t, s.ID, 36)
}
