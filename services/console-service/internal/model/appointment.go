package model

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown appointment status %q", raw)
	}
	return s, nil
}

func ParsePriority(raw string) (Priority, error) {
	p := Priority(raw)
	if !p.Valid() {
		return "", fmt.Errorf("unknown appointment priority %q", raw)
	}
	return p, nil
}

// Appointment is the summary projection held by the grid and list views.
type Appointment struct {
	ID              string    `json:"id"`
	ClinicID        string    `json:"clinic_id,omitempty"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	DurationMinutes int       `json:"duration_minutes"`
	ResourceID      string    `json:"resource_id"`
	ResourceName    string    `json:"resource_name,omitempty"`
	Status          Status    `json:"status"`
	Priority        Priority  `json:"priority"`
	Type            string    `json:"type"`
	IsTelemedicine  bool      `json:"is_telemedicine"`
	IsHomeVisit     bool      `json:"is_home_visit"`
	PetName         string    `json:"pet_name,omitempty"`
	OwnerName       string    `json:"owner_name,omitempty"`
}

func (a Appointment) End() time.Time {
	return a.ScheduledStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// AppointmentDetail is the full record fetched when a single appointment is opened.
type AppointmentDetail struct {
	Appointment
	Reason       string     `json:"reason,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Species      string     `json:"species,omitempty"`
	Breed        string     `json:"breed,omitempty"`
	OwnerPhone   string     `json:"owner_phone,omitempty"`
	OwnerEmail   string     `json:"owner_email,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

// Page is one page of a paginated list response.
type Page[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

func (p Page[T]) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}
