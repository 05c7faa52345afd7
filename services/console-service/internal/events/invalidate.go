package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/vetdesk/libs/kafkax"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/query"
)

// AppointmentEvent is the part of a booking event payload the console reads.
// business_id is the backend's name for the clinic.
type AppointmentEvent struct {
	AppointmentID     string    `json:"appointment_id"`
	ClinicID          string    `json:"business_id"`
	StaffID           string    `json:"staff_id,omitempty"`
	StartTime         time.Time `json:"start_time"`
	PreviousStartTime time.Time `json:"previous_start_time"`
}

type Cache interface {
	InvalidatePrefix(ctx context.Context, prefixes ...string) error
}

type Invalidator struct {
	cache    Cache
	clinicID string
	loc      *time.Location
	logger   *slog.Logger
}

func NewInvalidator(cache Cache, clinicID string, loc *time.Location, logger *slog.Logger) *Invalidator {
	if loc == nil {
		loc = time.UTC
	}
	return &Invalidator{cache: cache, clinicID: clinicID, loc: loc, logger: logger}
}

// Handle invalidates the views touched by one event. Events of other clinics
// are skipped when the console is scoped to a clinic.
func (i *Invalidator) Handle(ctx context.Context, msg kafka.Message) error {
	var evt AppointmentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Topic, err)
	}
	if evt.AppointmentID == "" {
		evt.AppointmentID = kafkax.ExtractEventMeta(msg).AggregateID
	}
	if i.clinicID != "" && evt.ClinicID != "" && evt.ClinicID != i.clinicID {
		return nil
	}
	prefixes := query.AppointmentChange(i.clinicID, evt.AppointmentID, i.loc, evt.StartTime, evt.PreviousStartTime)
	if err := i.cache.InvalidatePrefix(ctx, prefixes...); err != nil {
		return fmt.Errorf("invalidate for %s: %w", evt.AppointmentID, err)
	}
	i.logger.Info("appointment views invalidated by event", "appointment_id", evt.AppointmentID, "topic", msg.Topic)
	return nil
}
