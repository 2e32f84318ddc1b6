// Package counters serves the live usage counters shown on the landing
// and guide pages. Reads go through the cache and fall back primary
// backend, then legacy collector, then a local estimate, so the page
// always has a number to show.
package counters

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/waypost/waypost/internal/cache"
	"github.com/waypost/waypost/internal/clock"
)

// Well-known counter names.
const (
	CounterUsers       = "users"
	CounterStarts      = "starts"
	CounterCompletions = "completions"
)

// PrimaryBackend is the managed-database counter surface.
type PrimaryBackend interface {
	Enabled() bool
	CounterValue(ctx context.Context, name string) (int64, error)
	IncrementCounter(ctx context.Context, name string) error
}

// LegacyBackend is the script-collector counter surface.
type LegacyBackend interface {
	Enabled() bool
	ReadCounter(ctx context.Context, name string) (int64, error)
	SendQuery(ctx context.Context, params url.Values) error
	ReadSatisfaction(ctx context.Context) (map[string]int64, error)
}

// Estimate approximates a counter when both backends are unreachable:
// a base value captured at a known date plus steady daily growth.
type Estimate struct {
	Since  time.Time
	Base   map[string]int64
	PerDay map[string]float64
}

// DefaultEstimate returns the shipped baseline figures.
func DefaultEstimate() Estimate {
	return Estimate{
		Since: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		Base: map[string]int64{
			CounterUsers:       62,
			CounterStarts:      38,
			CounterCompletions: 21,
		},
		PerDay: map[string]float64{
			CounterUsers:       3,
			CounterStarts:      2,
			CounterCompletions: 1,
		},
	}
}

// Value returns the estimated counter at the given instant.
func (e Estimate) Value(name string, now time.Time) int64 {
	days := now.Sub(e.Since).Hours() / 24
	if days < 0 {
		days = 0
	}
	return e.Base[name] + int64(days*e.PerDay[name])
}

// Service reads and increments the counters.
type Service struct {
	primary  PrimaryBackend
	legacy   LegacyBackend
	cache    *cache.Manager
	clock    clock.Clock
	estimate Estimate
}

// NewService wires the counter service. Either backend may be nil or
// disabled; the estimate covers the rest.
func NewService(primary PrimaryBackend, legacy LegacyBackend, c *cache.Manager, clk clock.Clock) *Service {
	return &Service{
		primary:  primary,
		legacy:   legacy,
		cache:    c,
		clock:    clk,
		estimate: DefaultEstimate(),
	}
}

// Value returns the current counter, cached with stale-while-revalidate
// semantics. It never fails: when both backends are down the local
// estimate is served (and not cached, so a recovered backend wins on the
// next read).
func (s *Service) Value(ctx context.Context, name string) int64 {
	raw, err := s.cache.Get(ctx, name+"_count", func(ctx context.Context) (string, error) {
		v, err := s.fetch(ctx, name)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	}, cache.TTLCounter)
	if err != nil {
		v := s.estimate.Value(name, s.clock.Now())
		log.Printf("counters: all backends failed for %s, estimating %d: %v", name, v, err)
		return v
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return s.estimate.Value(name, s.clock.Now())
	}
	return v
}

// fetch tries the primary backend, then the legacy collector.
func (s *Service) fetch(ctx context.Context, name string) (int64, error) {
	var firstErr error
	if s.primary != nil && s.primary.Enabled() {
		v, err := s.primary.CounterValue(ctx, name)
		if err == nil {
			return v, nil
		}
		firstErr = err
		log.Printf("counters: primary read failed for %s: %v", name, err)
	}
	if s.legacy != nil && s.legacy.Enabled() {
		v, err := s.legacy.ReadCounter(ctx, name)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		log.Printf("counters: legacy read failed for %s: %v", name, err)
	}
	if firstErr == nil {
		firstErr = errNoBackend
	}
	return 0, firstErr
}

// Increment bumps a counter: primary RPC first, legacy fire-and-forget
// query on failure. The cached value is invalidated so the next read
// picks up the new figure.
func (s *Service) Increment(ctx context.Context, name string) error {
	var err error
	if s.primary != nil && s.primary.Enabled() {
		err = s.primary.IncrementCounter(ctx, name)
		if err == nil {
			s.cache.Invalidate(name + "_count")
			return nil
		}
		log.Printf("counters: primary increment failed for %s: %v", name, err)
	}

	if s.legacy != nil && s.legacy.Enabled() {
		q := url.Values{}
		q.Set("action", "incrementCounter")
		q.Set("metric", name)
		if qerr := s.legacy.SendQuery(ctx, q); qerr == nil {
			s.cache.Invalidate(name + "_count")
			return nil
		} else if err == nil {
			err = qerr
		}
	}

	if err == nil {
		err = errNoBackend
	}
	return err
}

// IncrementUsers bumps the unique-user counter. Failures are logged,
// never propagated; counters must not interrupt guide progression.
func (s *Service) IncrementUsers(ctx context.Context) { s.incrementLogged(ctx, CounterUsers) }

// IncrementStarts bumps the guide-start counter.
func (s *Service) IncrementStarts(ctx context.Context) { s.incrementLogged(ctx, CounterStarts) }

// IncrementCompletions bumps the guide-completion counter.
func (s *Service) IncrementCompletions(ctx context.Context) { s.incrementLogged(ctx, CounterCompletions) }

func (s *Service) incrementLogged(ctx context.Context, name string) {
	if err := s.Increment(ctx, name); err != nil {
		log.Printf("counters: failed to increment %s: %v", name, err)
	}
}
