package timegrid

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

// CellFor returns the appointments of day that start in hour slot and are
// assigned to resourceID, reading dates and hours in loc as Project does. The
// join is on resource id; a resourceID missing from the roster yields nothing.
func CellFor(day time.Time, slot int, resourceID string, appointments []model.Appointment, resources []model.Resource, loc *time.Location) []model.Appointment {
	if !inRoster(resourceID, resources) {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.In(loc).Date()
	var out []model.Appointment
	for _, a := range appointments {
		local := a.ScheduledStart.In(loc)
		ay, am, ad := local.Date()
		if a.ResourceID == resourceID && ay == y && am == m && ad == d && local.Hour() == slot {
			out = append(out, a)
		}
	}
	return out
}

// LegacyNameMatch reports appointments whose stored resource name disagrees
// with the roster name of their resource id. It only surfaces stale labels and
// never places appointments.
func LegacyNameMatch(appointments []model.Appointment, resources []model.Resource) []model.Appointment {
	names := make(map[string]string, len(resources))
	for _, r := range resources {
		names[r.ID] = r.Name
	}
	var mismatched []model.Appointment
	for _, a := range appointments {
		name, ok := names[a.ResourceID]
		if !ok || a.ResourceName == "" {
			continue
		}
		if name != a.ResourceName {
			mismatched = append(mismatched, a)
		}
	}
	return mismatched
}

type Cell struct {
	ResourceID   string              `json:"resource_id"`
	Appointments []model.Appointment `json:"appointments"`
	Overlapping  bool                `json:"overlapping,omitempty"`
}

type Row struct {
	Slot  int    `json:"slot"`
	Cells []Cell `json:"cells"`
}

// Grid is one day of the calendar. Rows follow Slots and each row's cells
// follow Resources.
type Grid struct {
	Date      string             `json:"date"`
	Hours     model.WorkingHours `json:"hours"`
	Slots     []int              `json:"slots"`
	Resources []model.Resource   `json:"resources"`
	Rows      []Row              `json:"rows"`
	// Outside holds appointments of the day whose start hour has no slot. They
	// are not drawn on the grid but still appear in the list view.
	Outside []model.Appointment `json:"outside,omitempty"`
	// Unassigned holds appointments for other days or resources not on the grid.
	Unassigned []model.Appointment `json:"unassigned,omitempty"`
}

// Project lays appointments for day onto the grid built from hours, one column per
// resource, reading start times in loc.
func Project(day time.Time, hours model.WorkingHours, resources []model.Resource, appointments []model.Appointment, loc *time.Location) Grid {
	if loc == nil {
		loc = time.UTC
	}
	hours = WorkingHoursOrDefault(hours)
	y, m, d := day.In(loc).Date()
	grid := Grid{
		Date:      time.Date(y, m, d, 0, 0, 0, 0, loc).Format(time.DateOnly),
		Hours:     hours,
		Slots:     BuildSlots(hours),
		Resources: resources,
	}

	slotIndex := make(map[int]int, len(grid.Slots))
	for i, s := range grid.Slots {
		slotIndex[s] = i
	}
	colIndex := make(map[string]int, len(resources))
	for i, r := range resources {
		colIndex[r.ID] = i
	}

	grid.Rows = make([]Row, len(grid.Slots))
	for i, s := range grid.Slots {
		cells := make([]Cell, len(resources))
		for j, r := range resources {
			cells[j] = Cell{ResourceID: r.ID, Appointments: []model.Appointment{}}
		}
		grid.Rows[i] = Row{Slot: s, Cells: cells}
	}

	sorted := append([]model.Appointment(nil), appointments...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScheduledStart.Before(sorted[j].ScheduledStart)
	})

	perColumn := make(map[string][]model.Appointment, len(resources))
	for _, a := range sorted {
		local := a.ScheduledStart.In(loc)
		ay, am, ad := local.Date()
		col, known := colIndex[a.ResourceID]
		if ay != y || am != m || ad != d || !known {
			grid.Unassigned = append(grid.Unassigned, a)
			continue
		}
		row, ok := slotIndex[local.Hour()]
		if !ok {
			grid.Outside = append(grid.Outside, a)
			continue
		}
		cell := &grid.Rows[row].Cells[col]
		cell.Appointments = append(cell.Appointments, a)
		perColumn[a.ResourceID] = append(perColumn[a.ResourceID], a)
	}

	for i := range grid.Rows {
		for j := range grid.Rows[i].Cells {
			cell := &grid.Rows[i].Cells[j]
			for _, a := range cell.Appointments {
				if overlapsOthers(a, perColumn[cell.ResourceID]) {
					cell.Overlapping = true
					break
				}
			}
		}
	}
	return grid
}

func inRoster(resourceID string, resources []model.Resource) bool {
	for _, r := range resources {
		if r.ID == resourceID {
			return true
		}
	}
	return false
}

// overlapsOthers ignores cancelled appointments: they keep their cell but no
// longer block the resource.
func overlapsOthers(a model.Appointment, column []model.Appointment) bool {
	if a.Status == model.StatusCancelled || a.DurationMinutes <= 0 {
		return false
	}
	for _, b := range column {
		if b.ID == a.ID || b.Status == model.StatusCancelled || b.DurationMinutes <= 0 {
			continue
		}
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if a.ScheduledStart.Before(b.End()) && b.ScheduledStart.Before(a.End()) {
			return true
		}
	}
	return false
}
