package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	source "github.com/aretw0/docsync/pkg/adapters/lifecycle"
	"github.com/aretw0/docsync/pkg/core"
)

func TestSource_Forwards(t *testing.T) {
	in := make(chan core.ChangeEvent, 2)
	src := source.NewSource(in)
	require.NoError(t, src.Start(context.Background()))

	in <- core.ChangeEvent{Kind: core.EventUpdated, Namespace: "demo", Name: "a.yaml"}
	in <- core.ChangeEvent{Kind: core.EventDeleted, Namespace: "demo", Name: "b.yaml"}
	close(in)

	var got []string
	for e := range src.Events() {
		got = append(got, e.String())
	}
	assert.Equal(t, []string{"UPDATED demo/a.yaml", "DELETED demo/b.yaml"}, got)
}

func TestSource_StopsOnCancel(t *testing.T) {
	in := make(chan core.ChangeEvent)
	src := source.NewSource(in)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, src.Start(ctx))
	cancel()

	select {
	case _, ok := <-src.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("source did not close after cancel")
	}
}

func TestSource_Filters(t *testing.T) {
	changes := []core.ChangeEvent{
		{Kind: core.EventUpdated, Namespace: "demo", Name: "a.yaml", Origin: core.OriginWatcher},
		{Kind: core.EventDeleted, Namespace: "demo", Name: "b.yaml", Origin: core.OriginService},
		{Kind: core.EventUpdated, Namespace: "other", Name: "c.yaml", Origin: core.OriginRelay},
		{Kind: core.EventDeleted, Namespace: "other", Name: "d.yaml", Origin: core.OriginWatcher},
	}

	tests := []struct {
		name    string
		opts    []source.SourceOption
		want    []string
		skipped int64
	}{
		{
			name:    "namespace",
			opts:    []source.SourceOption{source.WithNamespaces("other")},
			want:    []string{"UPDATED other/c.yaml", "DELETED other/d.yaml"},
			skipped: 2,
		},
		{
			name:    "kind",
			opts:    []source.SourceOption{source.WithKinds(core.EventDeleted)},
			want:    []string{"DELETED demo/b.yaml", "DELETED other/d.yaml"},
			skipped: 2,
		},
		{
			name:    "origin and namespace",
			opts:    []source.SourceOption{source.WithOrigins(core.OriginWatcher), source.WithNamespaces("demo")},
			want:    []string{"UPDATED demo/a.yaml"},
			skipped: 3,
		},
		{
			name:    "nothing matches",
			opts:    []source.SourceOption{source.WithNamespaces("missing")},
			skipped: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make(chan core.ChangeEvent, len(changes))
			for _, ev := range changes {
				in <- ev
			}
			close(in)

			src := source.NewSource(in, tt.opts...)
			require.NoError(t, src.Start(context.Background()))

			var got []string
			for e := range src.Events() {
				got = append(got, e.String())
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.skipped, src.Skipped())
		})
	}
}
