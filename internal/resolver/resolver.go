// Package resolver maps possibly outdated secondary-service title IDs to their canonical form.
//
// A title that was merged on the secondary service keeps answering on its old
// URL with a redirect to the surviving title. The [Resolver] follows that
// redirect once per ID per run and remembers the answer.
package resolver

import (
	"context"
	"io"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/transport"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://www.imdb.com"

// Stats counts resolver activity for the run summary.
type Stats struct {
	CacheHits int `json:"cache_hits"`
	Resolved  int `json:"resolved"`
	Errors    int `json:"errors"`
}

// Resolver is a write-once, run-scoped ID cache backed by HEAD lookups.
type Resolver struct {
	client  *transport.Client
	baseURL string
	logger  *log.Logger
	workers int
	limiter *rate.Limiter

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]string
	stats Stats
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithBaseURL points lookups at another host. Used by tests.
func WithBaseURL(u string) Option { return func(r *Resolver) { r.baseURL = strings.TrimRight(u, "/") } }

func WithLogger(l *log.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithWorkers bounds concurrent lookups in [Resolver.Resolve].
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithRate limits lookups to perSecond requests. Zero or less disables limiting.
func WithRate(perSecond float64) Option {
	return func(r *Resolver) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			r.limiter = nil
		}
	}
}

// New creates a [Resolver] that sends lookups through client.
func New(client *transport.Client, opts ...Option) *Resolver {
	r := &Resolver{
		client:  client,
		baseURL: defaultBaseURL,
		logger:  log.New(io.Discard),
		workers: 4,
		cache:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns a copy of the counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Lookup returns the cached mapping for id without performing a request.
func (r *Resolver) Lookup(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache[id]
	return v, ok
}

// ResolveOne returns the canonical form of id, looking it up at most once.
//
// Lookup failures map id to itself and are counted in [Stats.Errors].
func (r *Resolver) ResolveOne(ctx context.Context, id string) string {
	if id == "" {
		return id
	}

	r.mu.Lock()
	if v, ok := r.cache[id]; ok {
		r.stats.CacheHits++
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	ran := false
	v, _, _ := r.group.Do(id, func() (any, error) {
		r.mu.Lock()
		if cached, ok := r.cache[id]; ok {
			r.mu.Unlock()
			return cached, nil
		}
		r.mu.Unlock()

		ran = true
		resolved, ok := r.lookup(ctx, id)

		r.mu.Lock()
		defer r.mu.Unlock()
		if ok {
			r.stats.Resolved++
		} else {
			r.stats.Errors++
		}
		r.cache[id] = resolved
		return resolved, nil
	})

	if !ran {
		r.mu.Lock()
		r.stats.CacheHits++
		r.mu.Unlock()
	}
	return v.(string)
}

// Resolve looks up every distinct id concurrently and returns the mapping.
// The only error is a cancelled context.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (map[string]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make(map[string]string, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			resolved := r.ResolveOne(gctx, id)
			mu.Lock()
			out[id] = resolved
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}

// Apply resolves the IDs in snap and returns a snapshot with changed IDs rewritten,
// plus how many records changed.
func (r *Resolver) Apply(ctx context.Context, snap models.Snapshot) (models.Snapshot, int, error) {
	mapping, err := r.Resolve(ctx, slices.Collect(maps.Keys(snap.IDs())))
	if err != nil {
		return snap, 0, err
	}

	changed := 0
	out := snap.Map(func(rec models.Record) models.Record {
		if to, ok := mapping[rec.ExternalID]; ok && to != rec.ExternalID {
			r.logger.Debug("rewrote outdated id", "from", rec.ExternalID, "to", to, "category", snap.Category)
			rec.ExternalID = to
			changed++
		}
		return rec
	})
	return out, changed, nil
}

func (r *Resolver) titleURL(id string) string {
	return r.baseURL + "/title/" + url.PathEscape(id) + "/"
}

// lookup tries a HEAD request and then a single page fetch.
func (r *Resolver) lookup(ctx context.Context, id string) (string, bool) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return id, false
		}
	}

	target := r.titleURL(id)
	if res := r.client.Head(ctx, target, nil); res.OK() {
		if canonical, ok := CanonicalID(res.URL); ok {
			return canonical, true
		}
	}
	if ctx.Err() != nil {
		return id, false
	}

	r.logger.Debug("head lookup failed, fetching page", "id", id)
	if res := r.client.Get(ctx, target, nil); res.OK() {
		if canonical, ok := CanonicalID(res.URL); ok {
			return canonical, true
		}
	}

	r.logger.Warn("could not resolve id, keeping original", "id", id)
	return id, false
}

// CanonicalID extracts the ID segment following /title/ in u.
func CanonicalID(u *url.URL) (string, bool) {
	if u == nil {
		return "", false
	}
	_, rest, ok := strings.Cut(u.Path, "/title/")
	if !ok {
		return "", false
	}
	id, _, _ := strings.Cut(rest, "/")
	if id == "" {
		return "", false
	}
	return id, true
}
