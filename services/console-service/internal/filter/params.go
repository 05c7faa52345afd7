package filter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

// Query-string names shared by the console HTTP surface and the backend client.
const (
	ParamSearch       = "search"
	ParamStatus       = "status"
	ParamPriority     = "priority"
	ParamType         = "type"
	ParamTelemedicine = "is_telemedicine"
	ParamHomeVisit    = "is_home_visit"
	ParamFrom         = "from"
	ParamTo           = "to"
	ParamResource     = "resource_id"
	ParamPage         = "page"
	ParamPageSize     = "page_size"
	ParamSortBy       = "sort_by"
	ParamSortOrder    = "sort_order"
)

// FromQuery reads a View from URL parameters, starting from the combinator's
// defaults. Unknown parameters are ignored; malformed known ones are errors.
func (c Combinator) FromQuery(q url.Values) (View, error) {
	v := c.Initial()
	var patch Patch

	if raw := strings.TrimSpace(q.Get(ParamStatus)); raw != "" {
		s, err := model.ParseStatus(raw)
		if err != nil {
			return View{}, err
		}
		patch.Status = Set(s)
	}
	if raw := strings.TrimSpace(q.Get(ParamPriority)); raw != "" {
		p, err := model.ParsePriority(raw)
		if err != nil {
			return View{}, err
		}
		patch.Priority = Set(p)
	}
	if raw := strings.TrimSpace(q.Get(ParamType)); raw != "" {
		patch.Type = Set(raw)
	}
	for name, field := range map[string]*Field[bool]{ParamTelemedicine: &patch.Telemedicine, ParamHomeVisit: &patch.HomeVisit} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return View{}, fmt.Errorf("invalid %s: %q", name, raw)
		}
		*field = Set(b)
	}
	from, err := parseTime(q.Get(ParamFrom))
	if err != nil {
		return View{}, fmt.Errorf("invalid %s: %w", ParamFrom, err)
	}
	to, err := parseTime(q.Get(ParamTo))
	if err != nil {
		return View{}, fmt.Errorf("invalid %s: %w", ParamTo, err)
	}
	if !from.IsZero() || !to.IsZero() {
		if !from.IsZero() && !to.IsZero() && !to.After(from) {
			return View{}, fmt.Errorf("%s must be after %s", ParamTo, ParamFrom)
		}
		patch.DateRange = Set(DateRange{From: from, To: to})
	}

	v = c.Apply(v, patch)
	v = c.SetSearch(v, q.Get(ParamSearch))
	v = c.WithResources(v, q[ParamResource])
	if by := q.Get(ParamSortBy); by != "" {
		v = c.SetSort(v, by, SortOrder(q.Get(ParamSortOrder)))
	}
	if raw := q.Get(ParamPageSize); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			return View{}, fmt.Errorf("invalid %s: %q", ParamPageSize, raw)
		}
		v = c.SetPageSize(v, n)
	}
	if raw := q.Get(ParamPage); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return View{}, fmt.Errorf("invalid %s: %q", ParamPage, raw)
		}
		v = c.SetPage(v, n)
	}
	return v, nil
}

// Query is the inverse of FromQuery. Parameters come out in a fixed order.
func (v View) Query() url.Values {
	q := url.Values{}
	if v.Search != "" {
		q.Set(ParamSearch, v.Search)
	}
	f := v.Filters
	if f.Status != nil {
		q.Set(ParamStatus, string(*f.Status))
	}
	if f.Priority != nil {
		q.Set(ParamPriority, string(*f.Priority))
	}
	if f.Type != nil {
		q.Set(ParamType, *f.Type)
	}
	if f.Telemedicine != nil {
		q.Set(ParamTelemedicine, strconv.FormatBool(*f.Telemedicine))
	}
	if f.HomeVisit != nil {
		q.Set(ParamHomeVisit, strconv.FormatBool(*f.HomeVisit))
	}
	if f.DateRange != nil {
		if !f.DateRange.From.IsZero() {
			q.Set(ParamFrom, f.DateRange.From.UTC().Format(time.RFC3339))
		}
		if !f.DateRange.To.IsZero() {
			q.Set(ParamTo, f.DateRange.To.UTC().Format(time.RFC3339))
		}
	}
	for _, id := range f.Resources {
		q.Add(ParamResource, id)
	}
	if v.Page > 0 {
		q.Set(ParamPage, strconv.Itoa(v.Page))
	}
	if v.PageSize > 0 {
		q.Set(ParamPageSize, strconv.Itoa(v.PageSize))
	}
	if v.SortBy != "" {
		q.Set(ParamSortBy, v.SortBy)
		q.Set(ParamSortOrder, string(v.SortOrder))
	}
	return q
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}
