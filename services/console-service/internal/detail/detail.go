// Package detail drives the single-appointment view: the row summary is shown
// at once and replaced by the full record when it arrives.
package detail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/query"
)

type Cache interface {
	Fetch(ctx context.Context, q query.Query) query.State
	Observe(q query.Query) (release func())
}

type FetchDetail func(ctx context.Context, id string) (model.AppointmentDetail, error)

type View struct {
	Open    bool                     `json:"open"`
	Summary *model.Appointment       `json:"summary,omitempty"`
	Detail  *model.AppointmentDetail `json:"detail,omitempty"`
	Loading bool                     `json:"loading"`
	Error   string                   `json:"error,omitempty"`
	Err     error                    `json:"-"`
}

type Orchestrator struct {
	cache    Cache
	fetch    FetchDetail
	clinicID string

	mu      sync.Mutex
	token   uint64
	summary *model.Appointment
	detail  *model.AppointmentDetail
	err     error
	loading bool
	release func()
	wg      sync.WaitGroup
}

func NewOrchestrator(cache Cache, clinicID string, fetch FetchDetail) *Orchestrator {
	return &Orchestrator{cache: cache, fetch: fetch, clinicID: clinicID}
}

func (o *Orchestrator) query(id string) query.Query {
	return query.Query{
		Key:     query.DetailKey(o.clinicID, id),
		Enabled: id != "",
		Fetch: func(ctx context.Context) (any, error) {
			return o.fetch(ctx, id)
		},
	}
}

// Open shows summary immediately and loads its detail in the background.
// Opening another appointment before the first one resolves makes the
// first resolution a no-op.
func (o *Orchestrator) Open(ctx context.Context, summary model.Appointment) {
	q := o.query(summary.ID)

	o.mu.Lock()
	o.token++
	token := o.token
	if o.release != nil {
		o.release()
	}
	o.release = o.cache.Observe(q)
	s := summary
	o.summary = &s
	o.detail = nil
	o.err = nil
	o.loading = true
	o.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		st := o.cache.Fetch(bg, q)
		o.resolve(token, st)
	}()
}

func (o *Orchestrator) resolve(token uint64, st query.State) {
	var d model.AppointmentDetail
	err := st.Err
	if err == nil && st.Status == query.StatusSuccess {
		err = decode(st, &d)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if token != o.token {
		return
	}
	o.loading = false
	if err != nil {
		o.err = err
		return
	}
	if st.Status == query.StatusSuccess {
		o.detail = &d
	}
}

func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.summary == nil {
		return View{}
	}
	v := View{Open: true, Summary: o.summary, Detail: o.detail, Loading: o.loading, Err: o.err}
	if o.err != nil {
		v.Error = o.err.Error()
	}
	return v
}

// Close forgets the open appointment. Its cache entry stays until GC.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.token++
	if o.release != nil {
		o.release()
		o.release = nil
	}
	o.summary = nil
	o.detail = nil
	o.err = nil
	o.loading = false
}

// Wait blocks until pending loads have resolved.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func decode(st query.State, d any) error {
	if err := json.Unmarshal(st.Data, d); err != nil {
		return fmt.Errorf("decode appointment detail: %w", err)
	}
	return nil
}
