package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetdesk/libs/httpx"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/filter"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestStatusMapsToKind(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusBadRequest, ErrValidation},
		{http.StatusUnprocessableEntity, ErrValidation},
		{http.StatusConflict, ErrValidation},
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadGateway, ErrServer},
	}
	for _, tc := range cases {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, tc.status, map[string]string{"error": "nope"})
		}))
		_, err := c.GetAppointment(context.Background(), "a1")
		if !errors.Is(err, tc.kind) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.kind, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != tc.status || apiErr.Message != "nope" {
			t.Fatalf("status %d: unexpected api error %#v", tc.status, err)
		}
		if Retryable(err) != (tc.status >= 500) {
			t.Fatalf("status %d: unexpected retryable=%v", tc.status, Retryable(err))
		}
	}
}

func TestTransportErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.ListStaff(context.Background(), "c1")
	if !errors.Is(err, ErrTransport) || !Retryable(err) {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
}

func TestListAppointmentsSendsView(t *testing.T) {
	var got http.Header
	var query string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		query = r.URL.RawQuery
		httpx.WriteJSON(w, http.StatusOK, model.Page[model.Appointment]{
			Items: []model.Appointment{{ID: "a1"}}, Page: 2, PageSize: 10, Total: 11,
		})
	}))

	comb := filter.NewCombinator(10, "scheduled_start", filter.SortAsc)
	v := comb.SetPage(comb.Apply(comb.Initial(), filter.Patch{Status: filter.Set(model.StatusPending)}), 2)
	ctx := httpx.ContextWithRequestID(context.Background(), "req-1")
	page, err := c.ListAppointments(ctx, "clinic-1", v)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.TotalPages() != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if got.Get("Authorization") != "Bearer secret" || got.Get(httpx.RequestIDHeader) != "req-1" {
		t.Fatalf("unexpected headers %v", got)
	}
	want := "clinic_id=clinic-1&page=2&page_size=10&sort_by=scheduled_start&sort_order=asc&status=pending"
	if query != want {
		t.Fatalf("unexpected query\n got %s\nwant %s", query, want)
	}
}

func TestListAllAppointmentsWalksPages(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		items := []model.Appointment{{ID: fmt.Sprintf("a%d", page)}}
		httpx.WriteJSON(w, http.StatusOK, model.Page[model.Appointment]{Items: items, Page: page, PageSize: 1, Total: 3})
	}))
	comb := filter.NewCombinator(1, "", filter.SortAsc)
	all, err := c.ListAllAppointments(context.Background(), "", comb.Initial())
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if calls != 3 || len(all) != 3 || all[2].ID != "a3" {
		t.Fatalf("unexpected result calls=%d items=%+v", calls, all)
	}
}

func TestCreateSendsIdempotencyKey(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/appointments" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(IdempotencyKeyHeader) != "key-1" {
			t.Errorf("missing idempotency key")
		}
		var in model.AppointmentInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		out := model.AppointmentDetail{Appointment: model.Appointment{ID: "new", ResourceID: in.ResourceID, ScheduledStart: in.ScheduledStart}}
		httpx.WriteJSON(w, http.StatusCreated, out)
	}))
	out, err := c.CreateAppointment(context.Background(), model.AppointmentInput{ResourceID: "vet-1", ScheduledStart: start, DurationMinutes: 30, Type: "checkup"}, "key-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.ID != "new" || !out.ScheduledStart.Equal(start) {
		t.Fatalf("unexpected detail %+v", out)
	}
}

func TestCancelAndReschedulePaths(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		httpx.WriteJSON(w, http.StatusOK, model.AppointmentDetail{Appointment: model.Appointment{ID: "a1"}})
	}))
	ctx := context.Background()
	if _, err := c.CancelAppointment(ctx, "a1", "owner called"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := c.RescheduleAppointment(ctx, "a1", time.Now()); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if _, err := c.UpdateAppointment(ctx, "a1", model.AppointmentPatch{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	want := []string{"POST /api/v1/appointments/a1/cancel", "POST /api/v1/appointments/a1/reschedule", "PATCH /api/v1/appointments/a1"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("call %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "not a url"}); err == nil {
		t.Fatalf("expected error")
	}
}
