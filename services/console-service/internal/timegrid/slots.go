package timegrid

import (
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

// BuildSlots returns the bookable hours [start, end) of the working window.
// Only the hour component of "HH:MM" is used: the grid has hour granularity,
// so 08:30–17:45 yields 8..16. The result is empty if either bound is missing
// or unparsable, or if end <= start.
func BuildSlots(hours model.WorkingHours) []int {
	start, ok := parseHour(hours.Start)
	if !ok {
		return nil
	}
	end, ok := parseHour(hours.End)
	if !ok || end <= start {
		return nil
	}
	slots := make([]int, 0, end-start)
	for h := start; h < end; h++ {
		slots = append(slots, h)
	}
	return slots
}

// WorkingHoursOrDefault substitutes the default clinic window when none is configured.
func WorkingHoursOrDefault(hours model.WorkingHours) model.WorkingHours {
	if hours.IsZero() {
		return model.DefaultWorkingHours
	}
	return hours
}

func parseHour(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	hh, _, _ := strings.Cut(raw, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, false
	}
	return h, true
}
