package core_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/adapters/fs"
	"github.com/aretw0/docsync/pkg/core"
)

// MockRepository implements core.Repository in memory.
type MockRepository struct {
	mu       sync.Mutex
	docs     map[core.Key][]byte
	writeLog []string
	delay    time.Duration
	inFlight map[core.Key]int
	maxSeen  atomic.Int32
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		docs:     make(map[core.Key][]byte),
		inFlight: make(map[core.Key]int),
	}
}

func (m *MockRepository) Read(ctx context.Context, ns, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[core.Key{Namespace: ns, Name: name}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return raw, nil
}

func (m *MockRepository) Write(ctx context.Context, ns, name string, raw []byte) error {
	k := core.Key{Namespace: ns, Name: name}

	m.mu.Lock()
	m.inFlight[k]++
	if n := int32(m.inFlight[k]); n > m.maxSeen.Load() {
		m.maxSeen.Store(n)
	}
	m.mu.Unlock()

	time.Sleep(m.delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[k]--
	m.docs[k] = append([]byte(nil), raw...)
	m.writeLog = append(m.writeLog, string(raw))
	return nil
}

func (m *MockRepository) Delete(ctx context.Context, ns, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := core.Key{Namespace: ns, Name: name}
	if _, ok := m.docs[k]; !ok {
		return core.ErrNotFound
	}
	delete(m.docs, k)
	return nil
}

func (m *MockRepository) Exists(ctx context.Context, ns, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[core.Key{Namespace: ns, Name: name}]
	return ok, nil
}

func (m *MockRepository) List(ctx context.Context, ns string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for k := range m.docs {
		if k.Namespace == ns {
			names = append(names, k.Name)
		}
	}
	// Sort for deterministic tests
	sort.Strings(names)
	return names, nil
}

func (m *MockRepository) Namespaces(ctx context.Context) ([]string, error) {
	return nil, nil
}

// requireTitle accepts only maps that carry a string title.
type requireTitle struct{}

func (requireTitle) Validate(raw []byte, schemaID string) core.ValidationResult {
	data, err := fs.NewYAMLCodec().Decode(raw)
	if err != nil {
		return core.ValidationResult{Errors: []core.FieldError{{Message: "malformed syntax"}}}
	}
	m, _ := data.(map[string]any)
	if _, ok := m["title"].(string); !ok {
		return core.ValidationResult{Errors: []core.FieldError{{Path: "title", Message: "Missing key: title"}}}
	}
	return core.ValidationResult{}
}

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

func newService(repo core.Repository, rec *recorder) *core.Service {
	return core.NewService(repo, fs.NewYAMLCodec(),
		core.WithValidator(requireTitle{}),
		core.WithPublisher(rec),
	)
}

func TestService_CRUD(t *testing.T) {
	repo := NewMockRepository()
	rec := &recorder{}
	service := newService(repo, rec)
	ctx := context.TODO()

	// 1. Create
	require.NoError(t, service.Create(ctx, "demo", "a.yaml", []byte("title: first\n")))

	// 2. Create again
	err := service.Create(ctx, "demo", "a.yaml", []byte("title: again\n"))
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	// 3. Get
	doc, err := service.Get(ctx, "demo", "a.yaml")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "first"}, doc.Data)

	// 4. Update
	require.NoError(t, service.Update(ctx, "demo", "a.yaml", []byte("title: second\n")))

	// 5. List
	require.NoError(t, service.Create(ctx, "demo", "b.yaml", []byte("title: b\n")))
	names, err := service.List(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, names)

	// 6. Remove
	require.NoError(t, service.Remove(ctx, "demo", "a.yaml"))
	_, err = service.Get(ctx, "demo", "a.yaml")
	assert.ErrorIs(t, err, core.ErrNotFound)

	events := rec.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, core.EventUpdated, events[0].Kind)
	assert.Equal(t, map[string]any{"title": "second"}, events[1].Payload)
	assert.Equal(t, core.EventDeleted, events[3].Kind)
	assert.Nil(t, events[3].Payload)
}

func TestService_UpdateNeverCreates(t *testing.T) {
	repo := NewMockRepository()
	service := newService(repo, &recorder{})

	err := service.Update(context.TODO(), "demo", "ghost.yaml", []byte("title: boo\n"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	exists, _ := repo.Exists(context.TODO(), "demo", "ghost.yaml")
	assert.False(t, exists)
}

func TestService_RemoveIsIdempotent(t *testing.T) {
	repo := NewMockRepository()
	rec := &recorder{}
	service := newService(repo, rec)
	ctx := context.TODO()

	// The repository itself reports the absence...
	assert.ErrorIs(t, repo.Delete(ctx, "demo", "a.yaml"), core.ErrNotFound)

	// ...the service absorbs it.
	assert.NoError(t, service.Remove(ctx, "demo", "a.yaml"))
	assert.NoError(t, service.Remove(ctx, "demo", "a.yaml"))
	assert.Empty(t, rec.snapshot())
}

func TestService_RejectedWriteLeavesStoreUnchanged(t *testing.T) {
	repo := NewMockRepository()
	rec := &recorder{}
	service := newService(repo, rec)
	ctx := context.TODO()

	original := []byte("title: keep me\ncount: 1\n")
	require.NoError(t, service.Create(ctx, "demo", "a.yaml", original))

	err := service.Update(ctx, "demo", "a.yaml", []byte("count: 2\n"))
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.Contains(t, verr.Errors[0].Message, "title")

	stored, err := repo.Read(ctx, "demo", "a.yaml")
	require.NoError(t, err)
	assert.Equal(t, original, stored)
	assert.Len(t, rec.snapshot(), 1, "rejected write must not emit an event")
}

func TestService_MalformedContent(t *testing.T) {
	service := newService(NewMockRepository(), &recorder{})

	err := service.Create(context.TODO(), "demo", "a.yaml", []byte("title: [unclosed\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMalformed)

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []core.FieldError{{Path: "", Message: "malformed syntax"}}, verr.Errors)
}

func TestService_SerializesWritersPerKey(t *testing.T) {
	repo := NewMockRepository()
	repo.delay = 5 * time.Millisecond
	rec := &recorder{}
	service := newService(repo, rec)
	ctx := context.TODO()

	require.NoError(t, service.Create(ctx, "demo", "a.yaml", []byte("title: v0\n")))

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := []byte(fmt.Sprintf("title: v%d\n", i))
			assert.NoError(t, service.Update(ctx, "demo", "a.yaml", raw))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), repo.maxSeen.Load(), "same-key writes overlapped")

	// Events reach the publisher in exactly the order the writes hit the store.
	events := rec.snapshot()
	require.Len(t, events, len(repo.writeLog))
	for i, ev := range events {
		assert.Equal(t, repo.writeLog[i], string(ev.Raw))
	}
}

func TestService_DifferentKeysProceedIndependently(t *testing.T) {
	repo := NewMockRepository()
	repo.delay = 50 * time.Millisecond
	service := newService(repo, &recorder{})
	ctx := context.TODO()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("doc-%d.yaml", i)
			assert.NoError(t, service.Create(ctx, "demo", name, []byte("title: x\n")))
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestService_ObserveDropsOwnEcho(t *testing.T) {
	repo := NewMockRepository()
	rec := &recorder{}
	service := newService(repo, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw := []byte("title: mine\n")
	require.NoError(t, service.Create(ctx, "demo", "a.yaml", raw))

	events := make(chan core.ChangeEvent, 2)
	events <- core.ChangeEvent{Kind: core.EventUpdated, Namespace: "demo", Name: "a.yaml", Raw: raw, Origin: core.OriginWatcher}
	events <- core.ChangeEvent{Kind: core.EventUpdated, Namespace: "demo", Name: "a.yaml", Raw: []byte("oops: 1\n"), Origin: core.OriginWatcher}
	close(events)

	service.Observe(ctx, events)

	got := rec.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, core.OriginService, got[0].Origin)
	assert.Equal(t, core.OriginWatcher, got[1].Origin)
	assert.True(t, strings.HasPrefix(string(got[1].Raw), "oops"), "invalid external content is still broadcast")
}

func TestService_Query(t *testing.T) {
	service := newService(NewMockRepository(), &recorder{})
	ctx := context.TODO()

	require.NoError(t, service.Create(ctx, "demo", "a.yaml", []byte("title: t\nitems:\n  - name: one\n  - name: two\n")))

	got, err := service.Query(ctx, "demo", "a.yaml", "$.items[*].name")
	require.NoError(t, err)
	assert.Equal(t, []any{"one", "two"}, got)

	_, err = service.Query(ctx, "demo", "a.yaml", "$[")
	assert.ErrorIs(t, err, core.ErrInvalidQuery)
}

func TestService_EncodeData(t *testing.T) {
	service := newService(NewMockRepository(), &recorder{})

	raw, err := service.EncodeData("title: verbatim\n")
	require.NoError(t, err)
	assert.Equal(t, "title: verbatim\n", string(raw))

	raw, err = service.EncodeData(map[string]any{"title": "structured"})
	require.NoError(t, err)
	assert.Equal(t, "title: structured\n", string(raw))
}

func TestService_RejectsValuesWithoutJSONForm(t *testing.T) {
	repo := NewMockRepository()
	rec := &recorder{}
	service := newService(repo, rec)

	err := service.Create(context.TODO(), "demo", "a.yaml", []byte("title: Hello\nlimits:\n  - 1\n  - .inf\ncount: .nan\n"))
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 2)
	assert.Equal(t, "count", verr.Errors[0].Path)
	assert.Equal(t, "limits[1]", verr.Errors[1].Path)

	ok, _ := repo.Exists(context.TODO(), "demo", "a.yaml")
	assert.False(t, ok)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, uint64(1), service.State().(core.ServiceState).Rejected)
}

// The same write can arrive from a peer relay and from the local watcher of
// a shared directory, in either order. Only the first one is broadcast.
func TestService_IngestDropsSecondCopy(t *testing.T) {
	raw := []byte("title: shared\n")
	relayed := core.ChangeEvent{Kind: core.EventUpdated, Namespace: "demo", Name: "a.yaml", Raw: raw, Origin: core.OriginRelay}
	watched := core.ChangeEvent{Kind: core.EventUpdated, Namespace: "demo", Name: "a.yaml", Raw: raw, Origin: core.OriginWatcher}

	orders := map[string][]core.ChangeEvent{
		"relay first":   {relayed, watched},
		"watcher first": {watched, relayed},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			service := newService(NewMockRepository(), rec)
			for _, ev := range order {
				service.Ingest(ev)
			}
			got := rec.snapshot()
			require.Len(t, got, 1)
			assert.Equal(t, order[0].Origin, got[0].Origin)

			// a later, different change still goes through
			service.Ingest(core.ChangeEvent{Kind: core.EventDeleted, Namespace: "demo", Name: "a.yaml", Origin: core.OriginWatcher})
			assert.Len(t, rec.snapshot(), 2)
		})
	}
}

func TestService_IngestFallsBackToRawText(t *testing.T) {
	rec := &recorder{}
	service := newService(NewMockRepository(), rec)

	raw := []byte("title: x\ncount: .inf\n")
	data, err := fs.NewYAMLCodec().Decode(raw)
	require.NoError(t, err)

	service.Ingest(core.ChangeEvent{Kind: core.EventUpdated, Namespace: "demo", Name: "a.yaml", Raw: raw, Payload: data, Origin: core.OriginWatcher})

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, string(raw), got[0].Payload)
}
