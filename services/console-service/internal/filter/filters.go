// Package filter holds the appointment filter state and the combinator that
// every filter-changing operation goes through.
package filter

import (
	"slices"
	"time"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Filters is the closed set of appointment filters. A nil field means "no
// constraint". Resources mirrors the calendar selection and survives Clear.
type Filters struct {
	Status       *model.Status   `json:"status,omitempty"`
	Priority     *model.Priority `json:"priority,omitempty"`
	Type         *string         `json:"type,omitempty"`
	Telemedicine *bool           `json:"telemedicine,omitempty"`
	HomeVisit    *bool           `json:"home_visit,omitempty"`
	DateRange    *DateRange      `json:"date_range,omitempty"`
	Resources    []string        `json:"resources,omitempty"`
}

// Matches reports whether a satisfies every set constraint. The backend applies
// the same filters; this is used to check cached pages and event payloads.
func (f Filters) Matches(a model.Appointment) bool {
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	if f.Priority != nil && a.Priority != *f.Priority {
		return false
	}
	if f.Type != nil && a.Type != *f.Type {
		return false
	}
	if f.Telemedicine != nil && a.IsTelemedicine != *f.Telemedicine {
		return false
	}
	if f.HomeVisit != nil && a.IsHomeVisit != *f.HomeVisit {
		return false
	}
	if f.DateRange != nil {
		if !f.DateRange.From.IsZero() && a.ScheduledStart.Before(f.DateRange.From) {
			return false
		}
		if !f.DateRange.To.IsZero() && !a.ScheduledStart.Before(f.DateRange.To) {
			return false
		}
	}
	if len(f.Resources) > 0 && !slices.Contains(f.Resources, a.ResourceID) {
		return false
	}
	return true
}

func (f Filters) clone() Filters {
	out := Filters{
		Status:       clonePtr(f.Status),
		Priority:     clonePtr(f.Priority),
		Type:         clonePtr(f.Type),
		Telemedicine: clonePtr(f.Telemedicine),
		HomeVisit:    clonePtr(f.HomeVisit),
		DateRange:    clonePtr(f.DateRange),
	}
	if len(f.Resources) > 0 {
		out.Resources = slices.Clone(f.Resources)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Field is one entry of a Patch. The zero Field is absent and leaves the
// filter alone; Unset is present-with-null and removes it.
type Field[T any] struct {
	present bool
	value   *T
}

func Set[T any](v T) Field[T] {
	return Field[T]{present: true, value: &v}
}

func Unset[T any]() Field[T] {
	return Field[T]{present: true}
}

func (f Field[T]) apply(dst **T) {
	if !f.present {
		return
	}
	*dst = clonePtr(f.value)
}

// Patch is a partial update of Filters.
type Patch struct {
	Status       Field[model.Status]
	Priority     Field[model.Priority]
	Type         Field[string]
	Telemedicine Field[bool]
	HomeVisit    Field[bool]
	DateRange    Field[DateRange]
}

func (p Patch) Empty() bool {
	return !p.Status.present && !p.Priority.present && !p.Type.present &&
		!p.Telemedicine.present && !p.HomeVisit.present && !p.DateRange.present
}
