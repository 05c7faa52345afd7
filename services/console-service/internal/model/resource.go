package model

// Resource is a staff member appointments are assigned to; one grid column each.
type Resource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// WorkingHours is a clinic's opening window as "HH:MM" strings.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (h WorkingHours) IsZero() bool {
	return h.Start == "" && h.End == ""
}

var DefaultWorkingHours = WorkingHours{Start: "08:00", End: "18:00"}
