package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/vetdesk/libs/httpx"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/mutation"
)

type updateRequest struct {
	ID    string                 `json:"id"`
	Patch model.AppointmentPatch `json:"patch"`
}

type cancelRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type rescheduleRequest struct {
	ID             string    `json:"id"`
	ScheduledStart time.Time `json:"scheduled_start"`
}

func (h *ConsoleHandler) mutator(r *http.Request) (*mutation.Mutator, error) {
	cctx, err := h.clinic.ClinicContext(r.Context())
	if err != nil {
		return nil, err
	}
	return mutation.New(h.backend, h.cache, mutation.Options{
		ClinicID:   cctx.ScopeID(),
		HomeClinic: cctx.ClinicID,
		Location:   cctx.Location,
		Logger:     h.logger,
	}), nil
}

func (h *ConsoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in model.AppointmentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.mutator(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeOutcome(w, r, http.StatusCreated, m.Create(r.Context(), in))
}

func (h *ConsoleHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "id and patch are required")
		return
	}
	m, err := h.mutator(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeOutcome(w, r, http.StatusOK, m.Update(r.Context(), req.ID, req.Patch))
}

func (h *ConsoleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "id is required")
		return
	}
	m, err := h.mutator(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeOutcome(w, r, http.StatusOK, m.Cancel(r.Context(), req.ID, req.Reason))
}

func (h *ConsoleHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "id and scheduled_start are required")
		return
	}
	m, err := h.mutator(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeOutcome(w, r, http.StatusOK, m.Reschedule(r.Context(), req.ID, req.ScheduledStart))
}

type bulkOutcome struct {
	ID          string                   `json:"id"`
	OK          bool                     `json:"ok"`
	Error       string                   `json:"error,omitempty"`
	Appointment *model.AppointmentDetail `json:"appointment,omitempty"`
}

type bulkResponse struct {
	Op        mutation.Op   `json:"op"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Outcomes  []bulkOutcome `json:"outcomes"`
}

// Bulk always answers 200 once the batch ran; per-item failures are in the
// body.
func (h *ConsoleHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req mutation.BulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || len(req.IDs) == 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "op and ids are required")
		return
	}
	m, err := h.mutator(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := m.Bulk(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	resp := bulkResponse{Op: req.Op, Succeeded: res.Succeeded, Failed: res.Failed, Outcomes: make([]bulkOutcome, 0, len(res.Outcomes))}
	for _, o := range res.Outcomes {
		item := bulkOutcome{ID: o.ID, OK: o.OK(), Appointment: o.Appointment}
		if o.Err != nil {
			item.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, item)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *ConsoleHandler) writeOutcome(w http.ResponseWriter, r *http.Request, status int, o mutation.Outcome) {
	if o.Err != nil {
		h.writeErr(w, r, o.Err)
		return
	}
	httpx.WriteJSON(w, status, o)
}
