package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"codeoverlay/internal/errors"
)

// Cache stores serialized feature payloads by content key.
type Cache interface {
	Get(ctx context.Context, key, kind string) ([]byte, bool, error)
	Put(ctx context.Context, key, kind string, payload []byte) error
}

// ThrottleOptions configures a Throttled analyzer.
type ThrottleOptions struct {
	RatePerSecond float64 // <= 0 means unlimited
	Burst         int
	Timeout       time.Duration
	Cache         Cache // optional
	Logger        *slog.Logger
	// OnCache, if set, is called once per feature lookup.
	OnCache func(f Feature, hit bool)
}

// Throttled wraps an Analyzer with a cache, rate limiting, a per-call
// timeout and deduplication of identical in-flight requests.
type Throttled struct {
	inner   Analyzer
	limiter *rate.Limiter
	flight  singleflight.Group
	mu      sync.Mutex
	calls   map[string]*flightCall
	timeout time.Duration
	cache   Cache
	logger  *slog.Logger
	onCache func(Feature, bool)
}

// NewThrottled wraps inner.
func NewThrottled(inner Analyzer, opts ThrottleOptions) *Throttled {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		timeout: opts.Timeout,
		cache:   opts.Cache,
		logger:  logger,
		onCache: opts.OnCache,
		calls:   make(map[string]*flightCall),
	}
}

// Analyze implements Analyzer. Cached features are served without calling
// the inner analyzer; the rest are requested in one call.
func (t *Throttled) Analyze(ctx context.Context, s Snippet) (Payload, error) {
	key := s.ContentKey()

	var out Payload
	missing := t.lookup(ctx, key, s.Features, &out)
	if len(missing) == 0 {
		return out, nil
	}

	req := s
	req.Features = missing
	fresh, err := t.shared(ctx, flightKey(key, missing), req)
	if err != nil {
		return Payload{}, err
	}
	t.store(ctx, key, missing, fresh)
	out.Merge(fresh)
	return out, nil
}

// flightCall is the context one in-flight request runs on. It is detached
// from every caller and cancelled once the last waiting caller has left.
type flightCall struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// flightResult is what a shared call hands to every waiter.
type flightResult struct {
	payload   Payload
	abandoned bool // the call's own context was cancelled
}

// shared runs s once per flight key. A caller whose ctx ends stops waiting
// without failing the others; the call itself is cancelled only when nobody
// waits for it anymore.
func (t *Throttled) shared(ctx context.Context, fk string, s Snippet) (Payload, error) {
	for {
		fc := t.join(ctx, fk)
		ch := t.flight.DoChan(fk, func() (any, error) {
			p, err := t.call(fc.ctx, s)
			return flightResult{payload: p, abandoned: fc.ctx.Err() != nil}, err
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			t.leave(fk, fc)
			return Payload{}, ctx.Err()
		case res = <-ch:
		}
		t.leave(fk, fc)

		fr, _ := res.Val.(flightResult)
		if res.Err != nil {
			if fr.abandoned && ctx.Err() == nil {
				// Joined a call that its own callers gave up on.
				continue
			}
			return Payload{}, res.Err
		}
		if res.Shared {
			t.logger.Debug("analysis shared in-flight result", "name", s.Name)
		}
		return fr.payload, nil
	}
}

func (t *Throttled) join(ctx context.Context, fk string) *flightCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	fc := t.calls[fk]
	if fc == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fc = &flightCall{ctx: fctx, cancel: cancel}
		t.calls[fk] = fc
	}
	fc.waiters++
	return fc
}

func (t *Throttled) leave(fk string, fc *flightCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fc.waiters--
	if fc.waiters > 0 {
		return
	}
	fc.cancel()
	if t.calls[fk] == fc {
		delete(t.calls, fk)
	}
}

func (t *Throttled) call(ctx context.Context, s Snippet) (Payload, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Payload{}, err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	p, err := t.inner.Analyze(ctx, s)
	if err != nil && errors.CodeOf(err) == errors.InternalError {
		return Payload{}, errors.Wrap(errors.AnalysisFailed, "analysis failed", err)
	}
	return p, err
}

func (t *Throttled) lookup(ctx context.Context, key string, features []Feature, out *Payload) []Feature {
	if t.cache == nil {
		return features
	}
	var missing []Feature
	for _, f := range features {
		data, ok, err := t.cache.Get(ctx, key, string(f))
		if err != nil {
			t.logger.Warn("analysis cache read failed", "feature", f, "error", err)
		}
		if ok {
			var p Payload
			if err := json.Unmarshal(data, &p); err == nil && p.Get(f) != nil {
				out.Merge(p)
				t.observe(f, true)
				continue
			}
		}
		t.observe(f, false)
		missing = append(missing, f)
	}
	return missing
}

func (t *Throttled) store(ctx context.Context, key string, features []Feature, p Payload) {
	if t.cache == nil {
		return
	}
	for _, f := range features {
		var single Payload
		switch f {
		case FeatureDocumentation:
			single.Documentation = p.Documentation
		case FeatureComplexity:
			single.Complexity = p.Complexity
		}
		if single.Get(f) == nil {
			continue
		}
		data, err := json.Marshal(single)
		if err != nil {
			continue
		}
		if err := t.cache.Put(ctx, key, string(f), data); err != nil {
			t.logger.Warn("analysis cache write failed", "feature", f, "error", err)
		}
	}
}

func (t *Throttled) observe(f Feature, hit bool) {
	if t.onCache != nil {
		t.onCache(f, hit)
	}
}

func flightKey(key string, features []Feature) string {
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = string(f)
	}
	sort.Strings(names)
	return key + "|" + strings.Join(names, ",")
}
