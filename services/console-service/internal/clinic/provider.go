// Package clinic supplies the clinic context the console works in: which
// clinic, its working hours and its time zone.
package clinic

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

type Context struct {
	ClinicID string
	// Scoped is false for platform operators who see every clinic.
	Scoped   bool
	Hours    model.WorkingHours
	Location *time.Location
}

// ScopeID is the clinic id to filter appointment reads and cache keys by, or
// "" when the console is not scoped to a clinic.
func (c Context) ScopeID() string {
	if !c.Scoped {
		return ""
	}
	return c.ClinicID
}

type Provider interface {
	ClinicContext(ctx context.Context) (Context, error)
}

type staticProvider struct {
	c Context
}

func NewStaticProvider(c Context) Provider {
	if c.Location == nil {
		c.Location = time.UTC
	}
	return &staticProvider{c: c}
}

func (p *staticProvider) ClinicContext(context.Context) (Context, error) {
	return p.c, nil
}

// LoadLocation resolves an IANA zone name, treating empty as UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
