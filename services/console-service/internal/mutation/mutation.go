// Package mutation sends appointment changes to the backend and, on success,
// invalidates every cached view the change can affect. Nothing is written
// to the cache before the backend confirms.
package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/vetdesk/libs/otel"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/backend"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/query"
)

type Op string

const (
	OpCreate     Op = "create"
	OpUpdate     Op = "update"
	OpCancel     Op = "cancel"
	OpReschedule Op = "reschedule"
)

var ErrUnsupportedBulkOp = errors.New("bulk operation not supported")

type Backend interface {
	CreateAppointment(ctx context.Context, in model.AppointmentInput, idempotencyKey string) (model.AppointmentDetail, error)
	UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.AppointmentDetail, error)
	CancelAppointment(ctx context.Context, id, reason string) (model.AppointmentDetail, error)
	RescheduleAppointment(ctx context.Context, id string, start time.Time) (model.AppointmentDetail, error)
}

// Cache is the part of query.Client the mutator needs.
type Cache interface {
	InvalidatePrefix(ctx context.Context, prefixes ...string) error
	Peek(ctx context.Context, k query.Key) (query.State, bool)
}

// Outcome is the result of one mutation, ready to be shown to the user.
type Outcome struct {
	ID          string                   `json:"id"`
	Op          Op                       `json:"op"`
	Appointment *model.AppointmentDetail `json:"appointment,omitempty"`
	Err         error                    `json:"-"`
}

func (o Outcome) OK() bool { return o.Err == nil }

type Options struct {
	// ClinicID scopes cache keys; empty when the console sees every clinic.
	ClinicID string
	// HomeClinic is booked into when a create names no clinic. Defaults to
	// ClinicID.
	HomeClinic string
	Location   *time.Location
	Logger     *slog.Logger
}

type Mutator struct {
	backend    Backend
	cache      Cache
	clinicID   string
	homeClinic string
	loc        *time.Location
	logger     *slog.Logger
	tracer     trace.Tracer
	newKey     func() string
}

func New(b Backend, cache Cache, opts Options) *Mutator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HomeClinic == "" {
		opts.HomeClinic = opts.ClinicID
	}
	return &Mutator{
		backend:    b,
		cache:      cache,
		clinicID:   opts.ClinicID,
		homeClinic: opts.HomeClinic,
		loc:        opts.Location,
		logger:     opts.Logger,
		tracer:     otelx.Tracer("mutation"),
		newKey:     uuid.NewString,
	}
}

// Create books a new appointment. Each call carries a fresh idempotency key
// so the backend can drop a duplicate delivery of the same request.
func (m *Mutator) Create(ctx context.Context, in model.AppointmentInput) Outcome {
	if in.ClinicID == "" {
		in.ClinicID = m.homeClinic
	}
	if err := in.Validate(); err != nil {
		return Outcome{Op: OpCreate, Err: fmt.Errorf("%w: %v", backend.ErrValidation, err)}
	}
	key := m.newKey()
	return m.run(ctx, OpCreate, "", func(ctx context.Context) (model.AppointmentDetail, error) {
		return m.backend.CreateAppointment(ctx, in, key)
	})
}

func (m *Mutator) Update(ctx context.Context, id string, patch model.AppointmentPatch) Outcome {
	if err := patch.Validate(); err != nil {
		return Outcome{ID: id, Op: OpUpdate, Err: fmt.Errorf("%w: %v", backend.ErrValidation, err)}
	}
	return m.run(ctx, OpUpdate, id, func(ctx context.Context) (model.AppointmentDetail, error) {
		return m.backend.UpdateAppointment(ctx, id, patch)
	})
}

func (m *Mutator) Cancel(ctx context.Context, id, reason string) Outcome {
	return m.run(ctx, OpCancel, id, func(ctx context.Context) (model.AppointmentDetail, error) {
		return m.backend.CancelAppointment(ctx, id, reason)
	})
}

// Reschedule moves an appointment. Grids of both the old and the new day
// are invalidated.
func (m *Mutator) Reschedule(ctx context.Context, id string, start time.Time) Outcome {
	if start.IsZero() {
		return Outcome{ID: id, Op: OpReschedule, Err: fmt.Errorf("%w: scheduled_start is required", backend.ErrValidation)}
	}
	return m.run(ctx, OpReschedule, id, func(ctx context.Context) (model.AppointmentDetail, error) {
		return m.backend.RescheduleAppointment(ctx, id, start)
	})
}

type BulkRequest struct {
	Op     Op                     `json:"op"`
	IDs    []string               `json:"ids"`
	Reason string                 `json:"reason,omitempty"`
	Patch  model.AppointmentPatch `json:"patch"`
}

type BulkResult struct {
	Outcomes  []Outcome `json:"outcomes"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// Bulk applies one operation to many appointments. Items are independent:
// a failure does not stop the rest and nothing is rolled back. The cache is
// invalidated once, after the last item, if any item succeeded.
func (m *Mutator) Bulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	var call func(ctx context.Context, id string) (model.AppointmentDetail, error)
	switch req.Op {
	case OpCancel:
		call = func(ctx context.Context, id string) (model.AppointmentDetail, error) {
			return m.backend.CancelAppointment(ctx, id, req.Reason)
		}
	case OpUpdate:
		if err := req.Patch.Validate(); err != nil {
			return BulkResult{}, fmt.Errorf("%w: %v", backend.ErrValidation, err)
		}
		call = func(ctx context.Context, id string) (model.AppointmentDetail, error) {
			return m.backend.UpdateAppointment(ctx, id, req.Patch)
		}
	default:
		return BulkResult{}, fmt.Errorf("%w: %q", ErrUnsupportedBulkOp, req.Op)
	}

	ctx, span := m.tracer.Start(ctx, "mutation.bulk", trace.WithAttributes(
		attribute.String("mutation.op", string(req.Op)),
		attribute.Int("mutation.count", len(req.IDs)),
	))
	defer span.End()

	res := BulkResult{Outcomes: make([]Outcome, 0, len(req.IDs))}
	var ids []string
	var days []time.Time
	for _, id := range req.IDs {
		days = append(days, m.cachedStart(ctx, id)...)
		detail, err := call(ctx, id)
		if err != nil {
			m.logger.Warn("bulk item failed", "op", req.Op, "appointment_id", id, "err", err)
			res.Outcomes = append(res.Outcomes, Outcome{ID: id, Op: req.Op, Err: err})
			res.Failed++
			continue
		}
		res.Outcomes = append(res.Outcomes, Outcome{ID: id, Op: req.Op, Appointment: &detail})
		res.Succeeded++
		ids = append(ids, id)
		days = append(days, detail.ScheduledStart)
	}
	span.SetAttributes(attribute.Int("mutation.failed", res.Failed))
	if res.Succeeded > 0 {
		m.invalidate(ctx, ids, days)
	}
	return res, nil
}

func (m *Mutator) run(ctx context.Context, op Op, id string, call func(context.Context) (model.AppointmentDetail, error)) Outcome {
	ctx, span := m.tracer.Start(ctx, "mutation."+string(op), trace.WithAttributes(
		attribute.String("appointment.id", id),
	))
	defer span.End()

	var days []time.Time
	if id != "" {
		days = m.cachedStart(ctx, id)
	}
	detail, err := call(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("appointment mutation failed", "op", op, "appointment_id", id, "err", err)
		return Outcome{ID: id, Op: op, Err: err}
	}
	if detail.ID != "" {
		id = detail.ID
	}
	m.invalidate(ctx, []string{id}, append(days, detail.ScheduledStart))
	m.logger.Info("appointment mutated", "op", op, "appointment_id", id)
	return Outcome{ID: id, Op: op, Appointment: &detail}
}

func (m *Mutator) invalidate(ctx context.Context, ids []string, days []time.Time) {
	var prefixes []string
	for _, id := range ids {
		prefixes = append(prefixes, query.AppointmentChange(m.clinicID, id, m.loc, days...)...)
	}
	slices.Sort(prefixes)
	prefixes = slices.Compact(prefixes)
	if err := m.cache.InvalidatePrefix(ctx, prefixes...); err != nil {
		m.logger.Error("cache invalidation failed", "err", err)
	}
}

// cachedStart returns the start time of id as currently cached, which is
// the day a reschedule or cancel moves the appointment away from.
func (m *Mutator) cachedStart(ctx context.Context, id string) []time.Time {
	st, ok := m.cache.Peek(ctx, query.DetailKey(m.clinicID, id))
	if !ok {
		return nil
	}
	var d model.AppointmentDetail
	if err := json.Unmarshal(st.Data, &d); err != nil || d.ScheduledStart.IsZero() {
		return nil
	}
	return []time.Time{d.ScheduledStart}
}
