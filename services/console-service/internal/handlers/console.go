// Package handlers is the console's HTTP surface over the calendar, list,
// detail, mutation and preset operations.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/vetdesk/libs/httpx"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/clinic"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/detail"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/filter"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/kv"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/mutation"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/query"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/selection"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/timegrid"
)

const (
	SessionHeader = "X-Console-Session"
	UserHeader    = "X-Console-User"

	gridPageSize = 100
)

type Backend interface {
	mutation.Backend
	ListAppointments(ctx context.Context, clinicID string, v filter.View) (model.Page[model.Appointment], error)
	ListAllAppointments(ctx context.Context, clinicID string, v filter.View) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.AppointmentDetail, error)
	ListStaff(ctx context.Context, clinicID string) ([]model.Resource, error)
}

type Deps struct {
	Backend    Backend
	Cache      *query.Client
	Clinic     clinic.Provider
	Combinator filter.Combinator
	Settings   kv.Store
	Sessions   *detail.Sessions
	Logger     *slog.Logger
}

type ConsoleHandler struct {
	backend  Backend
	cache    *query.Client
	clinic   clinic.Provider
	comb     filter.Combinator
	settings kv.Store
	sessions *detail.Sessions
	logger   *slog.Logger
}

func NewConsoleHandler(d Deps) *ConsoleHandler {
	if d.Sessions == nil {
		d.Sessions = detail.NewSessions(0)
	}
	return &ConsoleHandler{
		backend:  d.Backend,
		cache:    d.Cache,
		clinic:   d.Clinic,
		comb:     d.Combinator,
		settings: d.Settings,
		sessions: d.Sessions,
		logger:   d.Logger,
	}
}

func (h *ConsoleHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/console/calendar", h.Calendar)
	mux.HandleFunc("/api/v1/console/resources", h.Resources)
	mux.HandleFunc("/api/v1/console/selection", h.Selection)
	mux.HandleFunc("/api/v1/console/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/console/appointments/detail", h.AppointmentDetail)
	mux.HandleFunc("/api/v1/console/appointments/update", h.Update)
	mux.HandleFunc("/api/v1/console/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/console/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/console/appointments/bulk", h.Bulk)
	mux.HandleFunc("/api/v1/console/detail", h.Detail)
	mux.HandleFunc("/api/v1/console/presets", h.Presets)
	mux.HandleFunc("/api/v1/console/presets/apply", h.ApplyPreset)
	mux.HandleFunc("/api/v1/console/view/clear", h.ClearView)
}

type stateMeta struct {
	Status    query.Status `json:"status"`
	Stale     bool         `json:"stale"`
	Fetching  bool         `json:"fetching"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}

func metaOf(st query.State) stateMeta {
	m := stateMeta{Status: st.Status, Stale: st.Stale, Fetching: st.Fetching}
	if !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		m.UpdatedAt = &t
	}
	return m
}

type calendarResponse struct {
	stateMeta
	Date             string              `json:"date"`
	Slots            []int               `json:"slots"`
	Grid             *timegrid.Grid      `json:"grid,omitempty"`
	DroppedResources []string            `json:"dropped_resources,omitempty"`
	NameMismatches   []model.Appointment `json:"name_mismatches,omitempty"`
}

// Calendar serves the day grid for the selected resources. With no
// resource selected the grid query is not executed and only the empty
// time grid is returned.
func (h *ConsoleHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	cctx, err := h.clinic.ClinicContext(ctx)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	v, err := h.comb.FromQuery(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	day, err := parseDay(r.URL.Query().Get("date"), cctx.Location)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "invalid date")
		return
	}

	roster, _, err := query.Get[[]model.Resource](ctx, h.cache, h.rosterQuery(cctx.ClinicID))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	sel := selection.New(v.Filters.Resources...)
	dropped := sel.Retain(resourceIDs(roster))
	v = h.comb.WithResources(v, sel.IDs())

	gv := h.comb.Apply(v, filter.Patch{DateRange: filter.Set(filter.DateRange{From: day, To: day.AddDate(0, 0, 1)})})
	gv = h.comb.SetPageSize(gv, gridPageSize)
	q := query.Query{
		Key:     query.GridKey(cctx.ScopeID(), day, gv),
		Enabled: !sel.Empty(),
		Fetch: func(ctx context.Context) (any, error) {
			return h.backend.ListAllAppointments(ctx, cctx.ScopeID(), gv)
		},
	}
	appts, st, err := query.Get[[]model.Appointment](ctx, h.cache, q)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	hours := timegrid.WorkingHoursOrDefault(cctx.Hours)
	resp := calendarResponse{
		stateMeta:        metaOf(st),
		Date:             day.Format(time.DateOnly),
		Slots:            timegrid.BuildSlots(hours),
		DroppedResources: dropped,
	}
	if st.Status != query.StatusIdle {
		columns := selectedColumns(roster, sel)
		grid := timegrid.Project(day, hours, columns, appts, cctx.Location)
		resp.Grid = &grid
		resp.NameMismatches = timegrid.LegacyNameMatch(appts, columns)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type resourcesResponse struct {
	stateMeta
	Items []model.Resource `json:"items"`
}

func (h *ConsoleHandler) Resources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cctx, err := h.clinic.ClinicContext(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	roster, st, err := query.Get[[]model.Resource](r.Context(), h.cache, h.rosterQuery(cctx.ClinicID))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resourcesResponse{stateMeta: metaOf(st), Items: roster})
}

type selectionRequest struct {
	Selected  []string `json:"selected"`
	Toggle    string   `json:"toggle,omitempty"`
	ToggleAll bool     `json:"toggle_all,omitempty"`
}

type selectionResponse struct {
	Selected []string `json:"selected"`
	Query    string   `json:"query"`
}

// Selection applies a toggle to the caller's selection against the current
// roster and returns the new selection with the list/grid query string.
func (h *ConsoleHandler) Selection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req selectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	cctx, err := h.clinic.ClinicContext(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	roster, _, err := query.Get[[]model.Resource](r.Context(), h.cache, h.rosterQuery(cctx.ClinicID))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	sel := selection.New(req.Selected...)
	sel.Retain(resourceIDs(roster))
	switch {
	case req.ToggleAll:
		sel.ToggleAll(resourceIDs(roster))
	case req.Toggle != "":
		sel.Toggle(req.Toggle)
	}
	v, err := h.comb.FromQuery(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	v = h.comb.WithResources(v, sel.IDs())
	httpx.WriteJSON(w, http.StatusOK, selectionResponse{Selected: sel.IDs(), Query: v.Query().Encode()})
}

type listResponse struct {
	stateMeta
	Page *model.Page[model.Appointment] `json:"page,omitempty"`
	View filter.View                    `json:"view"`
}

// Appointments is the paginated list (GET) and create (POST).
func (h *ConsoleHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.Create(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ConsoleHandler) list(w http.ResponseWriter, r *http.Request) {
	cctx, err := h.clinic.ClinicContext(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	v, err := h.comb.FromQuery(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	q := query.Query{
		Key:     query.ListKey(cctx.ScopeID(), v),
		Enabled: len(v.Filters.Resources) > 0,
		Fetch: func(ctx context.Context) (any, error) {
			return h.backend.ListAppointments(ctx, cctx.ScopeID(), v)
		},
	}
	page, st, err := query.Get[model.Page[model.Appointment]](r.Context(), h.cache, q)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	resp := listResponse{stateMeta: metaOf(st), View: v}
	if st.Status != query.StatusIdle {
		resp.Page = &page
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type detailResponse struct {
	stateMeta
	Appointment model.AppointmentDetail `json:"appointment"`
}

func (h *ConsoleHandler) AppointmentDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "id is required")
		return
	}
	cctx, err := h.clinic.ClinicContext(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	d, st, err := query.Get[model.AppointmentDetail](r.Context(), h.cache, h.detailQuery(cctx.ScopeID(), id))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, detailResponse{stateMeta: metaOf(st), Appointment: d})
}

// Detail is the per-session detail panel: POST opens a row summary, GET
// reads the panel, DELETE closes it.
func (h *ConsoleHandler) Detail(w http.ResponseWriter, r *http.Request) {
	session := strings.TrimSpace(r.Header.Get(SessionHeader))
	if session == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, SessionHeader+" header is required")
		return
	}
	cctx, err := h.clinic.ClinicContext(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	o := h.sessions.Get(session, func() *detail.Orchestrator {
		return detail.NewOrchestrator(h.cache, cctx.ScopeID(), h.backend.GetAppointment)
	})

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var summary model.Appointment
		if err := httpx.DecodeJSON(r, &summary); err != nil || summary.ID == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "appointment summary with id is required")
			return
		}
		o.Open(r.Context(), summary)
	case http.MethodDelete:
		o.Close()
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o.View())
}

func (h *ConsoleHandler) rosterQuery(clinicID string) query.Query {
	return query.Query{
		Key:     query.RosterKey(clinicID),
		Enabled: true,
		Fetch: func(ctx context.Context) (any, error) {
			return h.backend.ListStaff(ctx, clinicID)
		},
	}
}

func (h *ConsoleHandler) detailQuery(clinicID, id string) query.Query {
	return query.Query{
		Key:     query.DetailKey(clinicID, id),
		Enabled: true,
		Fetch: func(ctx context.Context) (any, error) {
			return h.backend.GetAppointment(ctx, id)
		},
	}
}

func parseDay(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if raw == "" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.ParseInLocation(time.DateOnly, raw, loc)
}

func resourceIDs(roster []model.Resource) []string {
	ids := make([]string, 0, len(roster))
	for _, r := range roster {
		ids = append(ids, r.ID)
	}
	return ids
}

// selectedColumns keeps roster order.
func selectedColumns(roster []model.Resource, sel *selection.State) []model.Resource {
	var out []model.Resource
	for _, r := range roster {
		if sel.Contains(r.ID) {
			out = append(out, r)
		}
	}
	return out
}
