// Package query is the read cache in front of the backend. Views are cached
// under canonical keys, served while fresh, refetched in the background once
// stale, and invalidated by prefix after mutations.
package query

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/filter"
)

type Entity string

const (
	EntityAppointment Entity = "appointment"
	EntityResource    Entity = "resource"
)

type ViewKind string

const (
	ViewList   ViewKind = "list"
	ViewGrid   ViewKind = "grid"
	ViewDetail ViewKind = "detail"
	ViewRoster ViewKind = "roster"
)

// Key identifies one cached view. Two keys with the same logical content
// always produce the same String, whatever order resource ids were given in.
type Key struct {
	Entity    Entity
	View      ViewKind
	ClinicID  string
	Date      string
	ID        string
	Search    string
	Filters   filter.Filters
	Resources []string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder filter.SortOrder
}

func ListKey(clinicID string, v filter.View) Key {
	return Key{
		Entity:    EntityAppointment,
		View:      ViewList,
		ClinicID:  clinicID,
		Search:    v.Search,
		Filters:   v.Filters,
		Page:      v.Page,
		PageSize:  v.PageSize,
		SortBy:    v.SortBy,
		SortOrder: v.SortOrder,
	}
}

func GridKey(clinicID string, day time.Time, v filter.View) Key {
	return Key{
		Entity:   EntityAppointment,
		View:     ViewGrid,
		ClinicID: clinicID,
		Date:     day.Format(time.DateOnly),
		Search:   v.Search,
		Filters:  v.Filters,
	}
}

func DetailKey(clinicID, id string) Key {
	return Key{Entity: EntityAppointment, View: ViewDetail, ClinicID: clinicID, ID: id}
}

func RosterKey(clinicID string) Key {
	return Key{Entity: EntityResource, View: ViewRoster, ClinicID: clinicID}
}

// EntityPrefix matches every key of an entity kind.
func EntityPrefix(e Entity) string {
	return string(e) + "/"
}

// GridPrefix matches every grid key of one clinic day, whatever its filters.
func GridPrefix(clinicID string, day time.Time) string {
	return Key{Entity: EntityAppointment, View: ViewGrid, ClinicID: clinicID, Date: day.Format(time.DateOnly)}.String()
}

// String is the canonical encoding: entity and view first, then every field
// in a fixed order. Fields never reorder, so a prefix cut after any field is
// a valid invalidation prefix.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.Entity))
	b.WriteByte('/')
	b.WriteString(string(k.View))
	b.WriteByte('?')

	first := true
	put := func(name, value string) {
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}
	// add skips empty values. Pointer filters use put, so a filter set to ""
	// stays distinct from an unset one.
	add := func(name, value string) {
		if value != "" {
			put(name, value)
		}
	}

	f := k.Filters
	add("clinic", k.ClinicID)
	add("date", k.Date)
	add("id", k.ID)
	add("q", k.Search)
	if f.Status != nil {
		put("status", string(*f.Status))
	}
	if f.Priority != nil {
		put("priority", string(*f.Priority))
	}
	if f.Type != nil {
		put("type", *f.Type)
	}
	if f.Telemedicine != nil {
		add("tele", strconv.FormatBool(*f.Telemedicine))
	}
	if f.HomeVisit != nil {
		add("home", strconv.FormatBool(*f.HomeVisit))
	}
	if f.DateRange != nil {
		add("from", formatTime(f.DateRange.From))
		add("to", formatTime(f.DateRange.To))
	}
	add("res", strings.Join(k.resources(), ","))
	if k.Page > 0 {
		add("page", strconv.Itoa(k.Page))
	}
	if k.PageSize > 0 {
		add("size", strconv.Itoa(k.PageSize))
	}
	add("sort", k.SortBy)
	if k.SortBy != "" {
		add("order", string(k.SortOrder))
	}
	return b.String()
}

func (k Key) resources() []string {
	ids := make([]string, 0, len(k.Resources)+len(k.Filters.Resources))
	ids = append(ids, k.Resources...)
	ids = append(ids, k.Filters.Resources...)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) > 0 && ids[0] == "" {
		ids = ids[1:]
	}
	return ids
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// AppointmentChange lists the prefixes a change to appointment id touches:
// every appointment key, its detail, and the grid of each day in days (taken
// in loc).
func AppointmentChange(clinicID, id string, loc *time.Location, days ...time.Time) []string {
	if loc == nil {
		loc = time.UTC
	}
	prefixes := []string{EntityPrefix(EntityAppointment)}
	if id != "" {
		prefixes = append(prefixes, DetailKey(clinicID, id).String())
	}
	seen := map[string]bool{}
	for _, d := range days {
		if d.IsZero() {
			continue
		}
		p := GridPrefix(clinicID, d.In(loc))
		if !seen[p] {
			seen[p] = true
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}
