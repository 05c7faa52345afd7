package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/md-rashed-zaman/vetdesk/libs/httpx"
	otelx "github.com/md-rashed-zaman/vetdesk/libs/otel"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/backend"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is what a reader sees for one key. On error, Data still carries the
// last good value when there was one.
type State struct {
	Status    Status          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Err       error           `json:"-"`
	UpdatedAt time.Time       `json:"updated_at"`
	Stale     bool            `json:"stale"`
	Fetching  bool            `json:"fetching"`
}

type FetchFunc func(ctx context.Context) (any, error)

type Query struct {
	Key     Key
	Enabled bool
	Fetch   FetchFunc
	// Zero values take the entity's Policy.
	StaleTime time.Duration
	GCTime    time.Duration
}

type Policy struct {
	StaleTime time.Duration
	GCTime    time.Duration
}

var (
	DefaultPolicy  = Policy{StaleTime: 30 * time.Second, GCTime: 5 * time.Minute}
	ResourcePolicy = Policy{StaleTime: 10 * time.Minute, GCTime: 30 * time.Minute}
)

func PolicyFor(e Entity) Policy {
	if e == EntityResource {
		return ResourcePolicy
	}
	return DefaultPolicy
}

func (q Query) policy() Policy {
	p := PolicyFor(q.Key.Entity)
	if q.StaleTime > 0 {
		p.StaleTime = q.StaleTime
	}
	if q.GCTime > 0 {
		p.GCTime = q.GCTime
	}
	return p
}

type Options struct {
	Store  Store
	Logger *slog.Logger
	// Retryable decides which fetch errors are attempted again. Defaults to
	// backend.Retryable: transport and 5xx only.
	Retryable            func(error) bool
	MaxAttempts          int
	RetryInitialInterval time.Duration
	RefetchConcurrency   int
	Now                  func() time.Time
}

type observer struct {
	q    Query
	refs int
}

// Client is the only writer of its Store. Background work is bound to the
// context given to NewClient.
type Client struct {
	ctx           context.Context
	store         Store
	logger        *slog.Logger
	retryable     func(error) bool
	maxAttempts   int
	retryInterval time.Duration
	refetchLimit  int
	now           func() time.Time
	tracer        trace.Tracer

	group singleflight.Group
	wg    sync.WaitGroup

	mu        sync.Mutex
	lastSeq   uint64
	genSeq    uint64
	gens      map[string]uint64
	inflight  map[string]int
	observers map[string]*observer
}

func NewClient(ctx context.Context, opts Options) *Client {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retryable == nil {
		opts.Retryable = backend.Retryable
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 200 * time.Millisecond
	}
	if opts.RefetchConcurrency <= 0 {
		opts.RefetchConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		ctx:           ctx,
		store:         opts.Store,
		logger:        opts.Logger,
		retryable:     opts.Retryable,
		maxAttempts:   opts.MaxAttempts,
		retryInterval: opts.RetryInitialInterval,
		refetchLimit:  opts.RefetchConcurrency,
		now:           opts.Now,
		tracer:        otelx.Tracer("query"),
		gens:          map[string]uint64{},
		inflight:      map[string]int{},
		observers:     map[string]*observer{},
	}
}

// Fetch returns the cached state for q, fetching when there is nothing
// usable. Fresh data is returned as is. Stale data is returned immediately
// and one background refetch is started. Invalidated or missing data is
// fetched before returning.
func (c *Client) Fetch(ctx context.Context, q Query) State {
	if !q.Enabled || q.Fetch == nil {
		return State{Status: StatusIdle}
	}
	key := q.Key.String()
	p := q.policy()

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("query cache read failed", "key", key, "err", err)
		ok = false
	}
	if ok && !cached.Invalidated {
		if err := c.store.Touch(ctx, key, p.GCTime); err != nil {
			c.logger.Warn("query cache touch failed", "key", key, "err", err)
		}
		st := c.stateOf(cached, p)
		if st.Stale {
			st.Fetching = true
			c.refetchAsync(ctx, q)
		}
		return st
	}

	fresh, err := c.load(ctx, q)
	if err != nil {
		st := State{Status: StatusError, Err: err}
		if ok {
			st.Data = cached.Data
			st.UpdatedAt = cached.UpdatedAt
			st.Stale = true
		}
		return st
	}
	return c.stateOf(fresh, p)
}

// Peek reads the cache without fetching or touching the GC clock.
func (c *Client) Peek(ctx context.Context, k Key) (State, bool) {
	e, ok, err := c.store.Get(ctx, k.String())
	if err != nil || !ok {
		return State{Status: StatusIdle}, false
	}
	return c.stateOf(e, PolicyFor(k.Entity)), true
}

// Observe marks q as active until the returned func is called. Active
// queries are refetched as soon as they are invalidated.
func (c *Client) Observe(q Query) (release func()) {
	key := q.Key.String()
	c.mu.Lock()
	o, ok := c.observers[key]
	if !ok {
		o = &observer{}
		c.observers[key] = o
	}
	o.q = q
	o.refs++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if o.refs--; o.refs <= 0 {
				delete(c.observers, key)
			}
		})
	}
}

// Invalidate marks the given keys stale and refetches the active ones
// before returning.
func (c *Client) Invalidate(ctx context.Context, keys ...Key) error {
	ks := make([]string, 0, len(keys))
	for _, k := range keys {
		ks = append(ks, k.String())
	}
	return c.invalidate(ctx, ks, nil)
}

// InvalidatePrefix does the same for every key starting with one of the
// prefixes.
func (c *Client) InvalidatePrefix(ctx context.Context, prefixes ...string) error {
	var keys []string
	for _, p := range prefixes {
		found, err := c.store.Keys(ctx, p)
		if err != nil {
			return fmt.Errorf("invalidate %s: %w", p, err)
		}
		keys = append(keys, found...)
	}
	return c.invalidate(ctx, keys, prefixes)
}

// Wait blocks until background refetches started so far have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) invalidate(ctx context.Context, keys, prefixes []string) error {
	matches := func(k string) bool {
		if slices.Contains(keys, k) {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				return true
			}
		}
		return false
	}

	c.mu.Lock()
	targets := slices.Clone(keys)
	for k := range c.inflight {
		if matches(k) {
			targets = append(targets, k)
		}
	}
	var active []Query
	for k, o := range c.observers {
		if matches(k) {
			targets = append(targets, k)
			active = append(active, o.q)
		}
	}
	slices.Sort(targets)
	targets = slices.Compact(targets)
	// Only a running fetch can commit under an old generation, so keys with
	// none in flight need no generation.
	for _, k := range targets {
		if c.inflight[k] > 0 {
			c.genSeq++
			c.gens[k] = c.genSeq
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, k := range targets {
		e, ok, err := c.store.Get(ctx, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok || e.Invalidated {
			continue
		}
		e.Invalidated = true
		if err := c.store.Set(ctx, k, e); err != nil {
			errs = append(errs, err)
		}
	}

	c.refetch(ctx, active)
	return errors.Join(errs...)
}

func (c *Client) refetch(ctx context.Context, qs []Query) {
	var g errgroup.Group
	g.SetLimit(c.refetchLimit)
	for _, q := range qs {
		g.Go(func() error {
			if _, err := c.load(ctx, q); err != nil {
				c.logger.Warn("query refetch after invalidation failed", "key", q.Key.String(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Client) refetchAsync(ctx context.Context, q Query) {
	bg := c.detach(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.load(bg, q); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("query background refetch failed", "key", q.Key.String(), "err", err)
		}
	}()
}

// load runs q's fetch, coalesced with any in-flight fetch of the same key
// and invalidation generation. A flight started before an invalidation is
// never joined by a fetch started after it.
func (c *Client) load(ctx context.Context, q Query) (Entry, error) {
	key := q.Key.String()

	c.mu.Lock()
	gen := c.gens[key]
	c.inflight[key]++
	c.mu.Unlock()

	flight := key + "#" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flight, func() (any, error) {
		return c.execute(c.detach(ctx), q, key, gen)
	})
	select {
	case res := <-ch:
		c.landed(key)
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	case <-ctx.Done():
		// The flight keeps running for other callers; it stays counted as in
		// flight until it lands.
		go func() {
			<-ch
			c.landed(key)
		}()
		return Entry{}, ctx.Err()
	}
}

// landed releases one waiter of key. The key's generation is dropped with
// the last one.
func (c *Client) landed(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key]--; c.inflight[key] <= 0 {
		delete(c.inflight, key)
		delete(c.gens, key)
	}
}

func (c *Client) execute(ctx context.Context, q Query, key string, gen uint64) (Entry, error) {
	ctx, span := c.tracer.Start(ctx, "query.fetch", trace.WithAttributes(
		attribute.String("query.key", key),
		attribute.String("query.entity", string(q.Key.Entity)),
	))
	defer span.End()

	seq := c.nextSeq()
	attempts := 0
	val, err := backoff.Retry(ctx, func() (any, error) {
		attempts++
		v, err := q.Fetch(ctx)
		if err != nil && !c.retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(uint(c.maxAttempts)))
	span.SetAttributes(attribute.Int("query.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Entry{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	raw, err := json.Marshal(val)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s: %w", key, err)
	}
	e := Entry{Data: raw, UpdatedAt: c.now(), Seq: seq, GCTime: q.policy().GCTime}
	return c.commit(ctx, key, e, gen), nil
}

// commit stores e unless the key was invalidated after the fetch started or
// a later fetch already stored newer data. The returned entry is what the
// caller should see.
func (c *Client) commit(ctx context.Context, key string, e Entry, gen uint64) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		e.Invalidated = true
		return e
	}
	cur, ok, err := c.store.Get(ctx, key)
	if err == nil && ok && cur.Seq > e.Seq {
		return cur
	}
	if err := c.store.Set(ctx, key, e); err != nil {
		c.logger.Warn("query cache write failed", "key", key, "err", err)
	}
	return e
}

// nextSeq is wall-clock based so replicas sharing a Redis store order their
// writes consistently, and strictly increasing within this process.
func (c *Client) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := uint64(c.now().UnixNano())
	if seq <= c.lastSeq {
		seq = c.lastSeq + 1
	}
	c.lastSeq = seq
	return seq
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = 8 * c.retryInterval
	return b
}

func (c *Client) stateOf(e Entry, p Policy) State {
	return State{
		Status:    StatusSuccess,
		Data:      e.Data,
		UpdatedAt: e.UpdatedAt,
		Stale:     e.Invalidated || c.now().Sub(e.UpdatedAt) >= p.StaleTime,
	}
}

// detach keeps the caller's trace and request id but not its cancellation:
// a coalesced fetch must outlive the first caller that gives up on it.
func (c *Client) detach(ctx context.Context) context.Context {
	out := trace.ContextWithSpanContext(c.ctx, trace.SpanContextFromContext(ctx))
	return httpx.ContextWithRequestID(out, httpx.RequestIDFromContext(ctx))
}

// Get fetches q and decodes its data into T.
func Get[T any](ctx context.Context, c *Client, q Query) (T, State, error) {
	var out T
	st := c.Fetch(ctx, q)
	switch st.Status {
	case StatusIdle:
		return out, st, nil
	case StatusError:
		return out, st, st.Err
	}
	if err := json.Unmarshal(st.Data, &out); err != nil {
		return out, st, fmt.Errorf("decode %s: %w", q.Key.String(), err)
	}
	return out, st, nil
}
