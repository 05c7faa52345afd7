package clinic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/md-rashed-zaman/vetdesk/libs/grpcx"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

// GetClinicContextMethod takes {"clinic_id"} and returns {"clinic_id",
// "scoped", "timezone", "working_hours": {"start", "end"}}, both as
// google.protobuf.Struct.
const GetClinicContextMethod = "/vetdesk.clinic.v1.ClinicService/GetClinicContext"

type grpcProvider struct {
	conn     grpc.ClientConnInterface
	clinicID string
	ttl      time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	last    Context
	fetched time.Time
}

// NewGRPCProvider falls back to the static context when addr is empty or the
// connection cannot be set up.
func NewGRPCProvider(ctx context.Context, logger *slog.Logger, fallback Context, addr string, ttl time.Duration) (Provider, error) {
	if addr == "" {
		return NewStaticProvider(fallback), nil
	}
	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("grpc clinic provider unavailable, using fallback", "err", err)
		return NewStaticProvider(fallback), nil
	}
	logger.Info("grpc clinic provider enabled", "addr", addr)
	return NewProviderFromConn(conn, logger, fallback.ClinicID, ttl), nil
}

func NewProviderFromConn(conn grpc.ClientConnInterface, logger *slog.Logger, clinicID string, ttl time.Duration) Provider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &grpcProvider{conn: conn, clinicID: clinicID, ttl: ttl, logger: logger}
}

// ClinicContext serves the last answer for ttl. When the service fails and an
// earlier answer exists, that answer is returned.
func (p *grpcProvider) ClinicContext(ctx context.Context) (Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fetched.IsZero() && time.Since(p.fetched) < p.ttl {
		return p.last, nil
	}

	c, err := p.call(ctx)
	if err != nil {
		if !p.fetched.IsZero() {
			p.logger.Warn("clinic context refresh failed, serving previous", "err", err)
			return p.last, nil
		}
		return Context{}, err
	}
	p.last, p.fetched = c, time.Now()
	return c, nil
}

func (p *grpcProvider) call(ctx context.Context) (Context, error) {
	req, err := structpb.NewStruct(map[string]any{"clinic_id": p.clinicID})
	if err != nil {
		return Context{}, err
	}
	resp := &structpb.Struct{}
	if err := p.conn.Invoke(ctx, GetClinicContextMethod, req, resp); err != nil {
		return Context{}, fmt.Errorf("get clinic context: %w", err)
	}
	return contextFromStruct(resp)
}

func contextFromStruct(s *structpb.Struct) (Context, error) {
	f := s.GetFields()
	c := Context{
		ClinicID: f["clinic_id"].GetStringValue(),
		Scoped:   f["scoped"].GetBoolValue(),
	}
	if hours := f["working_hours"].GetStructValue().GetFields(); hours != nil {
		c.Hours = model.WorkingHours{
			Start: hours["start"].GetStringValue(),
			End:   hours["end"].GetStringValue(),
		}
	}
	loc, err := LoadLocation(f["timezone"].GetStringValue())
	if err != nil {
		return Context{}, fmt.Errorf("clinic timezone: %w", err)
	}
	c.Location = loc
	return c, nil
}

// ToStruct is the wire form of c, used by servers of GetClinicContextMethod.
func ToStruct(c Context) (*structpb.Struct, error) {
	tz := "UTC"
	if c.Location != nil {
		tz = c.Location.String()
	}
	return structpb.NewStruct(map[string]any{
		"clinic_id": c.ClinicID,
		"scoped":    c.Scoped,
		"timezone":  tz,
		"working_hours": map[string]any{
			"start": c.Hours.Start,
			"end":   c.Hours.End,
		},
	})
}
