package actor_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cseflow/internal/actor"
	"cseflow/internal/workflow"
)

// memStore is an in-memory actor.Store for runtime tests.
type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	puts   int
	putErr error
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) key(id actor.ID, key string) string { return string(id) + "/" + key }

func (m *memStore) Get(_ context.Context, id actor.ID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[m.key(id, key)]
	return v, ok, nil
}

func (m *memStore) Put(_ context.Context, id actor.ID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.data[m.key(id, key)] = value
	m.puts++
	return nil
}

func TestMuxParams(t *testing.T) {
	var mux actor.Mux
	mux.Handle("POST", "/steps/:stepID/comments", func(_ context.Context, req actor.Request) (any, error) {
		return req.Params["stepID"], nil
	})
	got, err := mux.Dispatch(context.Background(), actor.Request{Method: "POST", Path: "/steps/walls/comments"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != "walls" {
		t.Errorf("param = %v, want walls", got)
	}
}

func TestMuxNoMatch(t *testing.T) {
	var mux actor.Mux
	mux.Handle("GET", "/form", func(_ context.Context, _ actor.Request) (any, error) { return nil, nil })

	_, err := mux.Dispatch(context.Background(), actor.Request{Method: "POST", Path: "/form"})
	var nfe *workflow.NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("method mismatch: expected NotFoundError, got %v", err)
	}
	_, err = mux.Dispatch(context.Background(), actor.Request{Method: "GET", Path: "/form/extra"})
	if !errors.As(err, &nfe) {
		t.Fatalf("length mismatch: expected NotFoundError, got %v", err)
	}
}

func TestMuxFirstRegisteredWins(t *testing.T) {
	var mux actor.Mux
	mux.Handle("GET", "/a/:x", func(_ context.Context, _ actor.Request) (any, error) { return "first", nil })
	mux.Handle("GET", "/a/b", func(_ context.Context, _ actor.Request) (any, error) { return "second", nil })
	got, err := mux.Dispatch(context.Background(), actor.Request{Method: "GET", Path: "/a/b"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "first" {
		t.Errorf("got %v, want first", got)
	}
}

func TestMuxMergesCallerParams(t *testing.T) {
	var mux actor.Mux
	mux.Handle("GET", "/list", func(_ context.Context, req actor.Request) (any, error) {
		return req.Params["status"], nil
	})
	got, err := mux.Dispatch(context.Background(), actor.Request{
		Method: "GET",
		Path:   "/list",
		Params: actor.Params{"status": "approved"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "approved" {
		t.Errorf("got %v, want approved", got)
	}
}

type counter struct {
	N int `json:"n"`
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	st := actor.NewState[counter](ms, "a1", "k")

	if _, ok, err := st.Get(ctx); err != nil || ok {
		t.Fatalf("empty state: ok=%v err=%v", ok, err)
	}
	if err := st.Set(ctx, counter{N: 3}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := st.Get(ctx)
	if err != nil || !ok || v.N != 3 {
		t.Fatalf("got %+v ok=%v err=%v", v, ok, err)
	}

	// Fresh state over the same store sees the persisted value.
	v2, ok, err := actor.NewState[counter](ms, "a1", "k").Get(ctx)
	if err != nil || !ok || v2.N != 3 {
		t.Fatalf("reload got %+v ok=%v err=%v", v2, ok, err)
	}
}

func TestStateUpdateSingleWrite(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	st := actor.NewState[counter](ms, "a1", "k")
	if err := st.Set(ctx, counter{N: 1}); err != nil {
		t.Fatal(err)
	}
	before := ms.puts
	v, err := st.Update(ctx, func(c counter) (counter, error) {
		c.N++
		return c, nil
	})
	if err != nil || v.N != 2 {
		t.Fatalf("update got %+v err=%v", v, err)
	}
	if ms.puts != before+1 {
		t.Errorf("update made %d writes, want 1", ms.puts-before)
	}
}

func TestStateUpdateErrorLeavesValue(t *testing.T) {
	ctx := context.Background()
	st := actor.NewState[counter](newMemStore(), "a1", "k")
	if err := st.Set(ctx, counter{N: 5}); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if _, err := st.Update(ctx, func(c counter) (counter, error) { return c, boom }); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	v, _, _ := st.Get(ctx)
	if v.N != 5 {
		t.Errorf("value changed to %d after failed update", v.N)
	}
}

func TestStateFailedWriteDropsCache(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	st := actor.NewState[*counter](ms, "a1", "k")
	if err := st.Set(ctx, &counter{N: 1}); err != nil {
		t.Fatal(err)
	}

	// The mutation lands on the cached value before the write fails.
	ms.putErr = errors.New("disk full")
	if _, err := st.Update(ctx, func(c *counter) (*counter, error) {
		c.N++
		return c, nil
	}); err == nil {
		t.Fatal("expected write failure")
	}

	ms.putErr = nil
	v, ok, err := st.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("reload: ok=%v err=%v", ok, err)
	}
	if v.N != 1 {
		t.Errorf("got N=%d after failed write, want durable 1", v.N)
	}
}

func TestInitializeIfAbsent(t *testing.T) {
	ctx := context.Background()
	st := actor.NewState[counter](newMemStore(), "a1", "k")
	v, err := st.InitializeIfAbsent(ctx, counter{N: 7})
	if err != nil || v.N != 7 {
		t.Fatalf("got %+v err=%v", v, err)
	}
	v, err = st.InitializeIfAbsent(ctx, counter{N: 99})
	if err != nil || v.N != 7 {
		t.Fatalf("second init got %+v, want existing 7 (err=%v)", v, err)
	}
}

// slowActor records whether two calls ever overlap.
type slowActor struct {
	mu      sync.Mutex
	active  int
	overlap bool
}

func (s *slowActor) Dispatch(_ context.Context, _ actor.Request) (any, error) {
	s.mu.Lock()
	s.active++
	if s.active > 1 {
		s.overlap = true
	}
	s.mu.Unlock()

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return nil, nil
}

func TestHostSerializesPerInstance(t *testing.T) {
	instances := map[actor.ID]*slowActor{}
	var mu sync.Mutex
	host := actor.NewHost(func(id actor.ID) actor.Actor {
		mu.Lock()
		defer mu.Unlock()
		a := &slowActor{}
		instances[id] = a
		return a
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := actor.ID("a")
			if i%2 == 1 {
				id = "b"
			}
			host.Invoke(context.Background(), id, actor.Request{Method: "GET", Path: "/"})
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(instances) != 2 {
		t.Fatalf("got %d instances, want 2", len(instances))
	}
	for id, a := range instances {
		if a.overlap {
			t.Errorf("instance %s saw overlapping calls", id)
		}
	}
}
