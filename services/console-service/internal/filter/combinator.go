package filter

import (
	"slices"
	"strings"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// View is everything a list or grid query is built from.
type View struct {
	Search    string    `json:"search,omitempty"`
	Filters   Filters   `json:"filters"`
	Page      int       `json:"page"`
	PageSize  int       `json:"page_size"`
	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
}

// Combinator owns the pristine defaults. All of its methods are pure: they
// return a new View and never modify the one passed in. Any operation that
// changes what is being filtered moves back to page 1; that rule lives here
// and nowhere else.
type Combinator struct {
	defaults View
}

func NewCombinator(pageSize int, sortBy string, order SortOrder) Combinator {
	if pageSize <= 0 {
		pageSize = 20
	}
	if order != SortAsc && order != SortDesc {
		order = SortAsc
	}
	return Combinator{defaults: View{Page: 1, PageSize: pageSize, SortBy: sortBy, SortOrder: order}}
}

func (c Combinator) Initial() View {
	return c.defaults
}

// Apply merges patch into v. An empty patch returns v unchanged, page included.
func (c Combinator) Apply(v View, patch Patch) View {
	if patch.Empty() {
		return v
	}
	out := v
	out.Filters = v.Filters.clone()
	patch.Status.apply(&out.Filters.Status)
	patch.Priority.apply(&out.Filters.Priority)
	patch.Type.apply(&out.Filters.Type)
	patch.Telemedicine.apply(&out.Filters.Telemedicine)
	patch.HomeVisit.apply(&out.Filters.HomeVisit)
	patch.DateRange.apply(&out.Filters.DateRange)
	return c.firstPage(out)
}

// Clear returns the defaults plus the current resource selection.
func (c Combinator) Clear(v View) View {
	out := c.defaults
	if len(v.Filters.Resources) > 0 {
		out.Filters.Resources = slices.Clone(v.Filters.Resources)
	}
	return out
}

// SetSearch always resets paging, even when the text is unchanged, because the
// caller fires it per keystroke and the result set is re-evaluated each time.
func (c Combinator) SetSearch(v View, text string) View {
	out := v
	out.Filters = v.Filters.clone()
	out.Search = strings.TrimSpace(text)
	return c.firstPage(out)
}

// WithResources mirrors the calendar selection into the filters.
func (c Combinator) WithResources(v View, ids []string) View {
	out := v
	out.Filters = v.Filters.clone()
	out.Filters.Resources = normalizeIDs(ids)
	return c.firstPage(out)
}

func (c Combinator) SetPage(v View, page int) View {
	if page < 1 {
		page = 1
	}
	v.Filters = v.Filters.clone()
	v.Page = page
	return v
}

func (c Combinator) SetPageSize(v View, size int) View {
	if size <= 0 {
		size = c.defaults.PageSize
	}
	out := v
	out.Filters = v.Filters.clone()
	out.PageSize = size
	return c.firstPage(out)
}

func (c Combinator) SetSort(v View, by string, order SortOrder) View {
	if order != SortAsc && order != SortDesc {
		order = c.defaults.SortOrder
	}
	out := v
	out.Filters = v.Filters.clone()
	out.SortBy = strings.TrimSpace(by)
	out.SortOrder = order
	return c.firstPage(out)
}

// ApplyPreset replaces search and filters with the preset's snapshot. The
// resource selection is kept: it is calendar state, not part of a preset.
func (c Combinator) ApplyPreset(v View, p Preset) View {
	out := v
	out.Search = p.Search
	out.Filters = p.Filters.clone()
	out.Filters.Resources = nil
	if len(v.Filters.Resources) > 0 {
		out.Filters.Resources = slices.Clone(v.Filters.Resources)
	}
	return c.firstPage(out)
}

func (c Combinator) firstPage(v View) View {
	v.Page = 1
	if v.PageSize <= 0 {
		v.PageSize = c.defaults.PageSize
	}
	return v
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
