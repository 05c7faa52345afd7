package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/vetdesk/libs/httpx"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/filter"
)

type savePresetRequest struct {
	Name string `json:"name"`
}

type viewResponse struct {
	View  filter.View `json:"view"`
	Query string      `json:"query"`
}

func (h *ConsoleHandler) presets(r *http.Request) *filter.Presets {
	return filter.NewPresets(h.settings, r.Header.Get(UserHeader))
}

// Presets lists (GET), saves the view in the query string under a name
// (POST) or deletes by index (DELETE).
func (h *ConsoleHandler) Presets(w http.ResponseWriter, r *http.Request) {
	p := h.presets(r)
	switch r.Method {
	case http.MethodGet:
		list, err := p.List(r.Context())
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": list})
	case http.MethodPost:
		var req savePresetRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid json")
			return
		}
		v, err := h.comb.FromQuery(r.URL.Query())
		if err != nil {
			httpx.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		saved, err := p.Save(r.Context(), req.Name, v)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, saved)
	case http.MethodDelete:
		idx, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("index")))
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "index is required")
			return
		}
		if err := p.Delete(r.Context(), idx); err != nil {
			h.writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ApplyPreset replaces the filters of the view in the query string with
// preset index and returns the resulting view.
func (h *ConsoleHandler) ApplyPreset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	idx, err := strconv.Atoi(strings.TrimSpace(q.Get("index")))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "index is required")
		return
	}
	q.Del("index")
	v, err := h.comb.FromQuery(q)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	list, err := h.presets(r).List(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if idx < 0 || idx >= len(list) {
		h.writeErr(w, r, filter.ErrPresetNotFound)
		return
	}
	v = h.comb.ApplyPreset(v, list[idx])
	httpx.WriteJSON(w, http.StatusOK, viewResponse{View: v, Query: v.Query().Encode()})
}

func (h *ConsoleHandler) ClearView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v, err := h.comb.FromQuery(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	v = h.comb.Clear(v)
	httpx.WriteJSON(w, http.StatusOK, viewResponse{View: v, Query: v.Query().Encode()})
}
