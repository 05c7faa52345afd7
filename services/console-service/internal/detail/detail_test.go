package detail

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetdesk/libs/runtime"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/backend"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/query"
)

// gatedFetch blocks each id until its gate is closed.
type gatedFetch struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	err   error
}

func (g *gatedFetch) gate(id string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates == nil {
		g.gates = map[string]chan struct{}{}
	}
	ch, ok := g.gates[id]
	if !ok {
		ch = make(chan struct{})
		g.gates[id] = ch
	}
	return ch
}

func (g *gatedFetch) fetch(ctx context.Context, id string) (model.AppointmentDetail, error) {
	select {
	case <-g.gate(id):
	case <-ctx.Done():
		return model.AppointmentDetail{}, ctx.Err()
	}
	if g.err != nil {
		return model.AppointmentDetail{}, g.err
	}
	return model.AppointmentDetail{Appointment: model.Appointment{ID: id}, Notes: "notes for " + id}, nil
}

func newClient(t *testing.T) *query.Client {
	t.Helper()
	return query.NewClient(t.Context(), query.Options{Logger: runtime.DiscardLogger(), RetryInitialInterval: time.Millisecond})
}

func TestOpenShowsSummaryThenDetail(t *testing.T) {
	g := &gatedFetch{}
	o := NewOrchestrator(newClient(t), "c1", g.fetch)

	o.Open(context.Background(), model.Appointment{ID: "a1", PetName: "Bella"})
	v := o.View()
	if !v.Open || !v.Loading || v.Detail != nil || v.Summary.PetName != "Bella" {
		t.Fatalf("expected summary with loading, got %+v", v)
	}

	close(g.gate("a1"))
	o.Wait()
	v = o.View()
	if v.Loading || v.Detail == nil || v.Detail.Notes != "notes for a1" {
		t.Fatalf("expected resolved detail, got %+v", v)
	}
}

func TestStaleResolutionIgnored(t *testing.T) {
	g := &gatedFetch{}
	client := newClient(t)
	o := NewOrchestrator(client, "c1", g.fetch)
	ctx := context.Background()

	o.Open(ctx, model.Appointment{ID: "A"})
	o.Open(ctx, model.Appointment{ID: "B"})
	close(g.gate("A"))

	// A's response lands while B is open.
	for {
		if _, ok := client.Peek(ctx, query.DetailKey("c1", "A")); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	v := o.View()
	if v.Summary.ID != "B" || v.Detail != nil || !v.Loading {
		t.Fatalf("A's resolution leaked into B's view: %+v", v)
	}

	close(g.gate("B"))
	o.Wait()
	v = o.View()
	if v.Detail == nil || v.Detail.ID != "B" {
		t.Fatalf("expected B's detail, got %+v", v)
	}
}

func TestCloseKeepsCacheEntry(t *testing.T) {
	g := &gatedFetch{}
	client := newClient(t)
	o := NewOrchestrator(client, "c1", g.fetch)
	ctx := context.Background()

	close(g.gate("a1"))
	o.Open(ctx, model.Appointment{ID: "a1"})
	o.Wait()
	o.Close()
	if v := o.View(); v.Open {
		t.Fatalf("expected closed view, got %+v", v)
	}
	if _, ok := client.Peek(ctx, query.DetailKey("c1", "a1")); !ok {
		t.Fatalf("close must not evict the detail entry")
	}

	// Reopening within the stale window is served from cache.
	o.Open(ctx, model.Appointment{ID: "a1"})
	o.Wait()
	if v := o.View(); v.Detail == nil {
		t.Fatalf("expected cached detail on reopen, got %+v", v)
	}
}

func TestDetailErrorSurfaces(t *testing.T) {
	g := &gatedFetch{err: &backend.APIError{Status: http.StatusNotFound}}
	o := NewOrchestrator(newClient(t), "c1", g.fetch)
	close(g.gate("gone"))
	o.Open(context.Background(), model.Appointment{ID: "gone"})
	o.Wait()
	v := o.View()
	if v.Loading || !errors.Is(v.Err, backend.ErrNotFound) || v.Error == "" || v.Summary == nil {
		t.Fatalf("expected not found with summary kept, got %+v", v)
	}
}

func TestSessionsEvictIdle(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	create := func() *Orchestrator { return NewOrchestrator(newClient(t), "c1", (&gatedFetch{}).fetch) }
	s := NewSessions(time.Minute)
	s.now = func() time.Time { return now }

	a := s.Get("s1", create)
	if s.Get("s1", create) != a {
		t.Fatalf("expected the same orchestrator for one session")
	}
	s.Get("s2", create)
	now = now.Add(2 * time.Minute)
	s.Get("s2", create)
	if n := s.evictIdle(); n != 1 || s.Len() != 1 {
		t.Fatalf("expected s1 evicted, got n=%d len=%d", n, s.Len())
	}
}
