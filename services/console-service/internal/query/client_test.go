package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetdesk/libs/runtime"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/backend"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/filter"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestClient(t *testing.T) (*Client, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	c := NewClient(t.Context(), Options{
		Store:                store,
		Logger:               runtime.DiscardLogger(),
		RetryInitialInterval: time.Millisecond,
		Now:                  clock.Now,
	})
	return c, store, clock
}

// counter returns a fetch func yielding successive values of next.
func counter(calls *atomic.Int32, next func(n int32) (any, error)) FetchFunc {
	return func(context.Context) (any, error) {
		return next(calls.Add(1))
	}
}

func listQuery(fetch FetchFunc) Query {
	comb := filter.NewCombinator(20, "scheduled_start", filter.SortAsc)
	return Query{Key: ListKey("c1", comb.Initial()), Enabled: true, Fetch: fetch}
}

func TestKeyDeterminism(t *testing.T) {
	status := model.StatusPending
	a := Key{Entity: EntityAppointment, View: ViewGrid, ClinicID: "c1", Date: "2026-03-02",
		Resources: []string{"r2", "r1"}, Filters: filter.Filters{Status: &status}}
	b := Key{Entity: EntityAppointment, View: ViewGrid, ClinicID: "c1", Date: "2026-03-02",
		Resources: []string{"r1"}, Filters: filter.Filters{Status: &status, Resources: []string{"r2", "r1"}}}
	if a.String() != b.String() {
		t.Fatalf("expected equal keys:\n%s\n%s", a.String(), b.String())
	}
	want := "appointment/grid?clinic=c1&date=2026-03-02&status=pending&res=r1%2Cr2"
	if a.String() != want {
		t.Fatalf("unexpected canonical key %s", a.String())
	}

	other := status
	c := a
	c.Filters = filter.Filters{Status: &other}
	if c.String() != a.String() {
		t.Fatalf("key must depend on values, not pointers")
	}
	c.Date = "2026-03-03"
	if c.String() == a.String() {
		t.Fatalf("different dates must give different keys")
	}
}

func TestEmptyFilterValueIsDistinctFromUnset(t *testing.T) {
	comb := filter.NewCombinator(20, "", filter.SortAsc)
	unset := ListKey("c1", comb.Initial()).String()
	empty := ListKey("c1", comb.Apply(comb.Initial(), filter.Patch{Type: filter.Set("")})).String()
	if unset == empty {
		t.Fatalf("type set to empty and unset type share key %s", unset)
	}
}

func TestGridPrefixMatchesFilteredGrids(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	comb := filter.NewCombinator(20, "", filter.SortAsc)
	v := comb.WithResources(comb.Apply(comb.Initial(), filter.Patch{Type: filter.Set("surgery")}), []string{"r1"})
	key := GridKey("c1", day, v).String()
	if len(key) <= len(GridPrefix("c1", day)) || key[:len(GridPrefix("c1", day))] != GridPrefix("c1", day) {
		t.Fatalf("grid key %s does not start with %s", key, GridPrefix("c1", day))
	}
}

func TestDisabledQueryIsIdle(t *testing.T) {
	c, store, _ := newTestClient(t)
	var calls atomic.Int32
	q := listQuery(counter(&calls, func(int32) (any, error) { return "x", nil }))
	q.Enabled = false

	st := c.Fetch(context.Background(), q)
	if st.Status != StatusIdle || calls.Load() != 0 || store.Len() != 0 {
		t.Fatalf("disabled query executed: %+v calls=%d", st, calls.Load())
	}
}

func TestFreshHitDoesNotRefetch(t *testing.T) {
	c, _, clock := newTestClient(t)
	var calls atomic.Int32
	q := listQuery(counter(&calls, func(n int32) (any, error) { return n, nil }))

	first := c.Fetch(context.Background(), q)
	clock.Advance(10 * time.Second)
	second := c.Fetch(context.Background(), q)
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
	if first.Status != StatusSuccess || string(second.Data) != "1" || second.Stale {
		t.Fatalf("unexpected states %+v %+v", first, second)
	}
}

func TestStaleReadReturnsCachedAndRefetches(t *testing.T) {
	c, _, clock := newTestClient(t)
	var calls atomic.Int32
	q := listQuery(counter(&calls, func(n int32) (any, error) { return n, nil }))

	c.Fetch(context.Background(), q)
	clock.Advance(DefaultPolicy.StaleTime + time.Second)

	st := c.Fetch(context.Background(), q)
	if !st.Stale || !st.Fetching || string(st.Data) != "1" {
		t.Fatalf("expected stale cached data with background fetch, got %+v", st)
	}
	c.Wait()

	st = c.Fetch(context.Background(), q)
	if st.Stale || string(st.Data) != "2" || calls.Load() != 2 {
		t.Fatalf("expected refreshed data, got %+v calls=%d", st, calls.Load())
	}
}

func TestRetryPolicy(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		calls int32
		kind  error
	}{
		{"auth once", &backend.APIError{Status: http.StatusUnauthorized}, 1, backend.ErrAuth},
		{"validation once", &backend.APIError{Status: http.StatusUnprocessableEntity}, 1, backend.ErrValidation},
		{"not found once", &backend.APIError{Status: http.StatusNotFound}, 1, backend.ErrNotFound},
		{"server bounded", &backend.APIError{Status: http.StatusServiceUnavailable}, 3, backend.ErrServer},
		{"transport bounded", backend.ErrTransport, 3, backend.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, store, _ := newTestClient(t)
			var calls atomic.Int32
			q := listQuery(counter(&calls, func(int32) (any, error) { return nil, tc.err }))

			st := c.Fetch(context.Background(), q)
			if st.Status != StatusError || !errors.Is(st.Err, tc.kind) {
				t.Fatalf("expected error of kind %v, got %+v", tc.kind, st)
			}
			if calls.Load() != tc.calls {
				t.Fatalf("expected %d attempts, got %d", tc.calls, calls.Load())
			}
			if store.Len() != 0 {
				t.Fatalf("failed fetch must not be cached")
			}
		})
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	c, _, _ := newTestClient(t)
	var calls atomic.Int32
	q := listQuery(counter(&calls, func(n int32) (any, error) {
		if n == 1 {
			return nil, backend.ErrTransport
		}
		return "ok", nil
	}))
	st := c.Fetch(context.Background(), q)
	if st.Status != StatusSuccess || string(st.Data) != `"ok"` || calls.Load() != 2 {
		t.Fatalf("unexpected state %+v calls=%d", st, calls.Load())
	}
}

func TestResponseIssuedBeforeInvalidationIsNotStored(t *testing.T) {
	c, _, _ := newTestClient(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	q := listQuery(func(context.Context) (any, error) {
		close(entered)
		<-release
		return "old", nil
	})

	done := make(chan State, 1)
	go func() { done <- c.Fetch(context.Background(), q) }()
	<-entered
	if err := c.InvalidatePrefix(context.Background(), EntityPrefix(EntityAppointment)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(release)

	st := <-done
	if st.Status != StatusSuccess || !st.Stale {
		t.Fatalf("expected the caller to get the response marked stale, got %+v", st)
	}
	if _, ok := c.Peek(context.Background(), q.Key); ok {
		t.Fatalf("a response issued before invalidation must not be cached")
	}
}

func TestAbandonedFetchStaysGuarded(t *testing.T) {
	c, _, _ := newTestClient(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	q := listQuery(func(context.Context) (any, error) {
		close(entered)
		<-release
		return "old", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan State, 1)
	go func() { done <- c.Fetch(ctx, q) }()
	<-entered
	cancel()
	if st := <-done; st.Status != StatusError || !errors.Is(st.Err, context.Canceled) {
		t.Fatalf("expected the caller to give up, got %+v", st)
	}

	if err := c.InvalidatePrefix(context.Background(), EntityPrefix(EntityAppointment)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(release)
	waitIdle(t, c)
	if _, ok := c.Peek(context.Background(), q.Key); ok {
		t.Fatalf("a fetch abandoned by its caller must still respect a later invalidation")
	}
}

func TestInvalidationGenerationsAreReleased(t *testing.T) {
	c, store, clock := newTestClient(t)
	ctx := context.Background()
	comb := filter.NewCombinator(20, "scheduled_start", filter.SortAsc)
	value := func(context.Context) (any, error) { return "v", nil }

	for i := range 1000 {
		v := comb.SetSearch(comb.Initial(), fmt.Sprintf("bella %d", i))
		c.Fetch(ctx, Query{Key: ListKey("c1", v), Enabled: true, Fetch: value})
		if err := c.InvalidatePrefix(ctx, EntityPrefix(EntityAppointment)); err != nil {
			t.Fatalf("invalidate: %v", err)
		}
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan State, 1)
	go func() {
		done <- c.Fetch(ctx, listQuery(func(context.Context) (any, error) {
			close(entered)
			<-release
			return "v", nil
		}))
	}()
	<-entered
	if err := c.InvalidatePrefix(ctx, EntityPrefix(EntityAppointment)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	c.mu.Lock()
	held := len(c.gens)
	c.mu.Unlock()
	if held != 1 {
		t.Fatalf("expected a generation only for the running fetch, got %d", held)
	}
	close(release)
	<-done
	waitIdle(t, c)

	clock.Advance(time.Hour)
	store.evictExpired()
	c.mu.Lock()
	gens, inflight := len(c.gens), len(c.inflight)
	c.mu.Unlock()
	if store.Len() != 0 || gens != 0 || inflight != 0 {
		t.Fatalf("expected nothing retained, got store=%d gens=%d inflight=%d", store.Len(), gens, inflight)
	}
}

// waitIdle waits until no fetch is in flight.
func waitIdle(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		n := len(c.inflight)
		c.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("fetches still in flight: %d", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOlderSequenceDoesNotOverwrite(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	key := DetailKey("c1", "a1").String()

	c.commit(ctx, key, Entry{Data: []byte(`"new"`), Seq: 20}, 0)
	got := c.commit(ctx, key, Entry{Data: []byte(`"old"`), Seq: 10}, 0)
	if string(got.Data) != `"new"` {
		t.Fatalf("older write won: %s", got.Data)
	}
	st, _ := c.Peek(ctx, DetailKey("c1", "a1"))
	if string(st.Data) != `"new"` {
		t.Fatalf("store holds %s", st.Data)
	}
}

func TestPrefixInvalidationLeavesResources(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	comb := filter.NewCombinator(20, "", filter.SortAsc)
	value := func(context.Context) (any, error) { return "v", nil }

	keys := []Key{
		ListKey("c1", comb.Initial()),
		GridKey("c1", day, comb.Initial()),
		DetailKey("c1", "a1"),
	}
	for _, k := range keys {
		c.Fetch(ctx, Query{Key: k, Enabled: true, Fetch: value})
	}
	c.Fetch(ctx, Query{Key: RosterKey("c1"), Enabled: true, Fetch: value})

	if err := c.InvalidatePrefix(ctx, EntityPrefix(EntityAppointment)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	for _, k := range keys {
		if st, ok := c.Peek(ctx, k); !ok || !st.Stale {
			t.Fatalf("%s: expected invalidated entry, got %+v", k.String(), st)
		}
	}
	if st, ok := c.Peek(ctx, RosterKey("c1")); !ok || st.Stale {
		t.Fatalf("resource roster must survive appointment invalidation, got %+v", st)
	}
}

func TestInvalidatedEntryIsFetchedBeforeReturning(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	var calls atomic.Int32
	q := listQuery(counter(&calls, func(n int32) (any, error) {
		if n == 2 {
			return nil, &backend.APIError{Status: http.StatusBadRequest}
		}
		return n, nil
	}))

	c.Fetch(ctx, q)
	if err := c.Invalidate(ctx, q.Key); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	st := c.Fetch(ctx, q)
	if st.Status != StatusError || string(st.Data) != "1" || !st.Stale {
		t.Fatalf("expected error carrying last good data, got %+v", st)
	}
	st = c.Fetch(ctx, q)
	if st.Status != StatusSuccess || string(st.Data) != "3" {
		t.Fatalf("expected fresh fetch, got %+v", st)
	}
}

func TestObservedQueryRefetchedOnInvalidation(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	var calls atomic.Int32
	q := listQuery(counter(&calls, func(n int32) (any, error) { return n, nil }))

	release := c.Observe(q)
	c.Fetch(ctx, q)
	if err := c.InvalidatePrefix(ctx, EntityPrefix(EntityAppointment)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	st, ok := c.Peek(ctx, q.Key)
	if !ok || st.Stale || string(st.Data) != "2" {
		t.Fatalf("expected active query refetched, got %+v", st)
	}

	release()
	release()
	if err := c.InvalidatePrefix(ctx, EntityPrefix(EntityAppointment)); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("released query must not be refetched, calls=%d", calls.Load())
	}
}

func TestConcurrentFetchesCoalesce(t *testing.T) {
	c, _, _ := newTestClient(t)
	var calls atomic.Int32
	release := make(chan struct{})
	q := listQuery(func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st := c.Fetch(context.Background(), q); st.Status != StatusSuccess {
				t.Errorf("unexpected state %+v", st)
			}
		}()
	}
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls.Load() != 1 {
		t.Fatalf("expected one backend call, got %d", calls.Load())
	}
}

func TestGetDecodes(t *testing.T) {
	c, _, _ := newTestClient(t)
	q := listQuery(func(context.Context) (any, error) {
		return model.Page[model.Appointment]{Items: []model.Appointment{{ID: "a1"}}, Total: 1}, nil
	})
	page, st, err := Get[model.Page[model.Appointment]](context.Background(), c, q)
	if err != nil || st.Status != StatusSuccess || len(page.Items) != 1 || page.Items[0].ID != "a1" {
		t.Fatalf("unexpected result %+v %+v %v", page, st, err)
	}
}

func TestMemoryStoreGC(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.Now
	ctx := context.Background()

	_ = s.Set(ctx, "a", Entry{Data: []byte("1"), GCTime: 5 * time.Minute})
	_ = s.Set(ctx, "b", Entry{Data: []byte("2"), GCTime: 5 * time.Minute})
	clock.Advance(4 * time.Minute)
	_ = s.Touch(ctx, "a", 5*time.Minute)
	clock.Advance(2 * time.Minute)

	if _, ok, _ := s.Get(ctx, "a"); !ok {
		t.Fatalf("touched entry evicted")
	}
	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Fatalf("untouched entry survived past gc time")
	}
	clock.Advance(10 * time.Minute)
	if n := s.evictExpired(); n != 1 || s.Len() != 0 {
		t.Fatalf("expected cleanup to evict one entry, got %d len=%d", n, s.Len())
	}
}
