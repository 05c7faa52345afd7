// Package backend is the typed client for the clinic REST API, which is the
// source of truth for appointments and staff.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/vetdesk/libs/httpx"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/filter"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ClinicIDParam        = "clinic_id"

	maxErrorBody = 4 << 10
	maxListPages = 50
)

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Transport defaults to http.DefaultTransport. It is always wrapped with
	// request id forwarding and tracing.
	Transport http.RoundTripper
}

type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		base:  base,
		token: opts.Token,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(httpx.RequestIDTransport{Base: opts.Transport}),
		},
	}, nil
}

// ListAppointments fetches one page of appointments matching v.
func (c *Client) ListAppointments(ctx context.Context, clinicID string, v filter.View) (model.Page[model.Appointment], error) {
	q := v.Query()
	if clinicID != "" {
		q.Set(ClinicIDParam, clinicID)
	}
	var page model.Page[model.Appointment]
	err := c.do(ctx, http.MethodGet, "/api/v1/appointments", q, nil, nil, &page)
	if page.Items == nil {
		page.Items = []model.Appointment{}
	}
	return page, err
}

// ListAllAppointments walks every page of v. It is used for the day grid,
// which must not silently lose appointments past the first page.
func (c *Client) ListAllAppointments(ctx context.Context, clinicID string, v filter.View) ([]model.Appointment, error) {
	var out []model.Appointment
	v.Page = 1
	for range maxListPages {
		page, err := c.ListAppointments(ctx, clinicID, v)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if len(page.Items) == 0 || len(out) >= page.Total {
			return out, nil
		}
		v.Page++
	}
	return out, fmt.Errorf("%w: appointment listing exceeded %d pages", ErrServer, maxListPages)
}

func (c *Client) GetAppointment(ctx context.Context, id string) (model.AppointmentDetail, error) {
	var out model.AppointmentDetail
	err := c.do(ctx, http.MethodGet, "/api/v1/appointments/"+url.PathEscape(id), nil, nil, nil, &out)
	return out, err
}

func (c *Client) CreateAppointment(ctx context.Context, in model.AppointmentInput, idempotencyKey string) (model.AppointmentDetail, error) {
	var out model.AppointmentDetail
	h := http.Header{}
	if idempotencyKey != "" {
		h.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/appointments", nil, h, in, &out)
	return out, err
}

func (c *Client) UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.AppointmentDetail, error) {
	var out model.AppointmentDetail
	err := c.do(ctx, http.MethodPatch, "/api/v1/appointments/"+url.PathEscape(id), nil, nil, patch, &out)
	return out, err
}

func (c *Client) CancelAppointment(ctx context.Context, id, reason string) (model.AppointmentDetail, error) {
	var out model.AppointmentDetail
	body := struct {
		Reason string `json:"reason,omitempty"`
	}{Reason: reason}
	err := c.do(ctx, http.MethodPost, "/api/v1/appointments/"+url.PathEscape(id)+"/cancel", nil, nil, body, &out)
	return out, err
}

func (c *Client) RescheduleAppointment(ctx context.Context, id string, start time.Time) (model.AppointmentDetail, error) {
	var out model.AppointmentDetail
	body := struct {
		ScheduledStart time.Time `json:"scheduled_start"`
	}{ScheduledStart: start.UTC()}
	err := c.do(ctx, http.MethodPost, "/api/v1/appointments/"+url.PathEscape(id)+"/reschedule", nil, nil, body, &out)
	return out, err
}

func (c *Client) ListStaff(ctx context.Context, clinicID string) ([]model.Resource, error) {
	var out struct {
		Items []model.Resource `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/clinics/"+url.PathEscape(clinicID)+"/staff", nil, nil, nil, &out)
	if out.Items == nil {
		out.Items = []model.Resource{}
	}
	return out.Items, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, h http.Header, in, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode %s %s: %v", ErrServer, method, path, err)
	}
	return nil
}

// errorMessage accepts {"error": "..."}, {"message": "..."} or plain text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
