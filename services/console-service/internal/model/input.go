package model

import (
	"errors"
	"strings"
	"time"
)

// AppointmentInput is the body of a create request.
type AppointmentInput struct {
	ClinicID        string    `json:"clinic_id"`
	ResourceID      string    `json:"resource_id"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	Priority        Priority  `json:"priority,omitempty"`
	IsTelemedicine  bool      `json:"is_telemedicine"`
	IsHomeVisit     bool      `json:"is_home_visit"`
	PetName         string    `json:"pet_name,omitempty"`
	OwnerName       string    `json:"owner_name,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

func (in AppointmentInput) Validate() error {
	var errs []error
	if strings.TrimSpace(in.ResourceID) == "" {
		errs = append(errs, errors.New("resource_id is required"))
	}
	if in.ScheduledStart.IsZero() {
		errs = append(errs, errors.New("scheduled_start is required"))
	}
	if in.DurationMinutes <= 0 {
		errs = append(errs, errors.New("duration_minutes must be positive"))
	}
	if strings.TrimSpace(in.Type) == "" {
		errs = append(errs, errors.New("type is required"))
	}
	if in.Priority != "" && !in.Priority.Valid() {
		errs = append(errs, errors.New("priority is invalid"))
	}
	return errors.Join(errs...)
}

// AppointmentPatch is a partial update; nil fields are left alone.
type AppointmentPatch struct {
	ResourceID      *string   `json:"resource_id,omitempty"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	Type            *string   `json:"type,omitempty"`
	Status          *Status   `json:"status,omitempty"`
	Priority        *Priority `json:"priority,omitempty"`
	IsTelemedicine  *bool     `json:"is_telemedicine,omitempty"`
	IsHomeVisit     *bool     `json:"is_home_visit,omitempty"`
	Reason          *string   `json:"reason,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

func (p AppointmentPatch) Validate() error {
	var errs []error
	if p.ResourceID != nil && strings.TrimSpace(*p.ResourceID) == "" {
		errs = append(errs, errors.New("resource_id must not be empty"))
	}
	if p.DurationMinutes != nil && *p.DurationMinutes <= 0 {
		errs = append(errs, errors.New("duration_minutes must be positive"))
	}
	if p.Status != nil && !p.Status.Valid() {
		errs = append(errs, errors.New("status is invalid"))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		errs = append(errs, errors.New("priority is invalid"))
	}
	return errors.Join(errs...)
}
