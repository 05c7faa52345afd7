package timegrid

import (
	"testing"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

func TestBuildSlots_ClinicDay(t *testing.T) {
	slots := BuildSlots(model.WorkingHours{Start: "08:00", End: "18:00"})
	if len(slots) != 10 {
		t.Fatalf("expected 10 slots, got %d", len(slots))
	}
	for i, s := range slots {
		if s != 8+i {
			t.Fatalf("slot %d: expected %d, got %d", i, 8+i, s)
		}
	}
}

func TestBuildSlots_ContiguousForEveryValidWindow(t *testing.T) {
	for start := 0; start <= 24; start++ {
		for end := 0; end <= 24; end++ {
			hours := model.WorkingHours{Start: hhmm(start), End: hhmm(end)}
			slots := BuildSlots(hours)
			if end <= start {
				if len(slots) != 0 {
					t.Fatalf("%v: expected no slots, got %v", hours, slots)
				}
				continue
			}
			if len(slots) != end-start {
				t.Fatalf("%v: expected %d slots, got %d", hours, end-start, len(slots))
			}
			for i, s := range slots {
				if s != start+i {
					t.Fatalf("%v: slots not contiguous: %v", hours, slots)
				}
			}
		}
	}
}

func TestBuildSlots_Degenerate(t *testing.T) {
	cases := []model.WorkingHours{
		{},
		{Start: "08:00"},
		{End: "18:00"},
		{Start: "18:00", End: "08:00"},
		{Start: "09:00", End: "09:45"},
		{Start: "nine", End: "17:00"},
		{Start: "08:00", End: "25:00"},
	}
	for _, hours := range cases {
		if got := BuildSlots(hours); len(got) != 0 {
			t.Fatalf("%+v: expected empty, got %v", hours, got)
		}
	}
}

func TestBuildSlots_IgnoresMinutes(t *testing.T) {
	slots := BuildSlots(model.WorkingHours{Start: "08:30", End: "17:45"})
	if len(slots) != 9 || slots[0] != 8 || slots[len(slots)-1] != 16 {
		t.Fatalf("unexpected slots %v", slots)
	}
}

func TestWorkingHoursOrDefault(t *testing.T) {
	if got := WorkingHoursOrDefault(model.WorkingHours{}); got != model.DefaultWorkingHours {
		t.Fatalf("expected default window, got %+v", got)
	}
	custom := model.WorkingHours{Start: "07:00", End: "12:00"}
	if got := WorkingHoursOrDefault(custom); got != custom {
		t.Fatalf("expected custom window kept, got %+v", got)
	}
}

func hhmm(h int) string {
	return string(rune('0'+h/10)) + string(rune('0'+h%10)) + ":00"
}
