package platform_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/internal/platform"
	"github.com/aretw0/docsync/pkg/hub"
)

// Writes must not wait on Start: the hub dispatches from New onwards.
func TestNew_WritesWithoutStart(t *testing.T) {
	engine, err := platform.New(t.TempDir(), platform.WithWatch(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	const writes = hub.DefaultInboundBuffer + 44
	done := make(chan error, 1)
	go func() {
		for i := range writes {
			raw := fmt.Appendf(nil, "title: doc %d\n", i)
			if err := engine.Service.Create(context.Background(), "demo", fmt.Sprintf("d%03d.yaml", i), raw); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writes blocked on an engine that was never started")
	}

	require.Eventually(t, func() bool {
		return engine.Hub.State().(hub.HubState).Published == writes
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_StartContextStopsHub(t *testing.T) {
	engine, err := platform.New(t.TempDir(), platform.WithWatch(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))
	assert.Error(t, engine.Start(ctx), "second start")

	session, err := engine.Hub.Join()
	require.NoError(t, err)

	require.NoError(t, engine.Service.Create(context.Background(), "demo", "a.yaml", []byte("title: Hello\n")))
	select {
	case frame := <-session.Outbound():
		assert.Contains(t, string(frame), "a.yaml")
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}

	// cancelling the Start context stops the hub
	cancel()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after cancel")
	}
}
