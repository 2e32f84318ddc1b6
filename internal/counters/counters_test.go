package counters

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost/waypost/internal/cache"
	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/storage"
)

type fakePrimary struct {
	enabled    bool
	values     map[string]int64
	readErr    error
	incErr     error
	reads      int
	increments []string
}

func (p *fakePrimary) Enabled() bool { return p.enabled }

func (p *fakePrimary) CounterValue(ctx context.Context, name string) (int64, error) {
	p.reads++
	if p.readErr != nil {
		return 0, p.readErr
	}
	return p.values[name], nil
}

func (p *fakePrimary) IncrementCounter(ctx context.Context, name string) error {
	if p.incErr != nil {
		return p.incErr
	}
	p.increments = append(p.increments, name)
	return nil
}

type fakeLegacy struct {
	enabled      bool
	values       map[string]int64
	readErr      error
	queryErr     error
	satisfaction map[string]int64
	reads        int
	queries      []url.Values
}

func (l *fakeLegacy) Enabled() bool { return l.enabled }

func (l *fakeLegacy) ReadCounter(ctx context.Context, name string) (int64, error) {
	l.reads++
	if l.readErr != nil {
		return 0, l.readErr
	}
	return l.values[name], nil
}

func (l *fakeLegacy) SendQuery(ctx context.Context, params url.Values) error {
	if l.queryErr != nil {
		return l.queryErr
	}
	l.queries = append(l.queries, params)
	return nil
}

func (l *fakeLegacy) ReadSatisfaction(ctx context.Context) (map[string]int64, error) {
	if l.readErr != nil {
		return nil, l.readErr
	}
	return l.satisfaction, nil
}

func newService(primary PrimaryBackend, legacy LegacyBackend) (*Service, *clock.Fake) {
	fake := clock.NewFake(time.Date(2025, time.July, 11, 0, 0, 0, 0, time.UTC))
	c := cache.NewManager(storage.NewMemoryStore(), fake)
	return NewService(primary, legacy, c, fake), fake
}

func TestValue_PrefersPrimary(t *testing.T) {
	primary := &fakePrimary{enabled: true, values: map[string]int64{CounterUsers: 120}}
	legacy := &fakeLegacy{enabled: true, values: map[string]int64{CounterUsers: 90}}
	s, _ := newService(primary, legacy)

	assert.Equal(t, int64(120), s.Value(context.Background(), CounterUsers))
	assert.Zero(t, legacy.reads)
}

func TestValue_FallsBackToLegacy(t *testing.T) {
	primary := &fakePrimary{enabled: true, readErr: errors.New("db down")}
	legacy := &fakeLegacy{enabled: true, values: map[string]int64{CounterUsers: 90}}
	s, _ := newService(primary, legacy)

	assert.Equal(t, int64(90), s.Value(context.Background(), CounterUsers))
}

func TestValue_EstimatesWhenAllBackendsFail(t *testing.T) {
	primary := &fakePrimary{enabled: true, readErr: errors.New("db down")}
	legacy := &fakeLegacy{enabled: true, readErr: errors.New("collector down")}
	s, _ := newService(primary, legacy)

	// Ten days past the baseline at 3 users/day over a base of 62.
	assert.Equal(t, int64(92), s.Value(context.Background(), CounterUsers))
}

func TestValue_SecondReadServedFromCache(t *testing.T) {
	primary := &fakePrimary{enabled: true, values: map[string]int64{CounterUsers: 120}}
	s, _ := newService(primary, nil)

	s.Value(context.Background(), CounterUsers)
	s.Value(context.Background(), CounterUsers)
	assert.Equal(t, 1, primary.reads)
}

func TestValue_EstimateIsNeverCached(t *testing.T) {
	primary := &fakePrimary{enabled: true, readErr: errors.New("db down")}
	s, _ := newService(primary, nil)

	require.Equal(t, int64(92), s.Value(context.Background(), CounterUsers))

	// A recovered backend wins on the very next read.
	primary.readErr = nil
	primary.values = map[string]int64{CounterUsers: 140}
	assert.Equal(t, int64(140), s.Value(context.Background(), CounterUsers))
}

func TestEstimate_ClampsBeforeBaseline(t *testing.T) {
	e := DefaultEstimate()
	assert.Equal(t, int64(62), e.Value(CounterUsers, e.Since.Add(-48*time.Hour)))
	assert.Equal(t, int64(68), e.Value(CounterUsers, e.Since.Add(48*time.Hour)))
}

func TestIncrement_PrimaryAndInvalidation(t *testing.T) {
	primary := &fakePrimary{enabled: true, values: map[string]int64{CounterStarts: 10}}
	s, _ := newService(primary, nil)

	require.Equal(t, int64(10), s.Value(context.Background(), CounterStarts))
	require.NoError(t, s.Increment(context.Background(), CounterStarts))
	assert.Equal(t, []string{CounterStarts}, primary.increments)

	// The cached value was invalidated, so this read hits the backend.
	primary.values[CounterStarts] = 11
	assert.Equal(t, int64(11), s.Value(context.Background(), CounterStarts))
}

func TestIncrement_FallsBackToLegacyQuery(t *testing.T) {
	primary := &fakePrimary{enabled: true, incErr: errors.New("rpc down")}
	legacy := &fakeLegacy{enabled: true}
	s, _ := newService(primary, legacy)

	require.NoError(t, s.Increment(context.Background(), CounterUsers))
	require.Len(t, legacy.queries, 1)
	assert.Equal(t, "incrementCounter", legacy.queries[0].Get("action"))
	assert.Equal(t, "users", legacy.queries[0].Get("metric"))
}

func TestIncrement_AllBackendsFail(t *testing.T) {
	primary := &fakePrimary{enabled: true, incErr: errors.New("rpc down")}
	legacy := &fakeLegacy{enabled: true, queryErr: errors.New("collector down")}
	s, _ := newService(primary, legacy)

	assert.Error(t, s.Increment(context.Background(), CounterUsers))

	// The logged variants swallow the failure.
	s.IncrementUsers(context.Background())
	s.IncrementStarts(context.Background())
	s.IncrementCompletions(context.Background())
}

func TestSatisfaction_ReadsDistribution(t *testing.T) {
	legacy := &fakeLegacy{enabled: true, satisfaction: map[string]int64{
		"love": 40, "good": 40, "neutral": 15, "sad": 5,
	}}
	s, _ := newService(nil, legacy)

	dist := s.Satisfaction(context.Background())
	assert.Equal(t, int64(100), dist.Total())
	assert.Equal(t, 80, dist.Rate())
}

func TestSatisfaction_CollectorDownYieldsZero(t *testing.T) {
	s, _ := newService(nil, &fakeLegacy{enabled: true, readErr: errors.New("down")})
	assert.Zero(t, s.Satisfaction(context.Background()).Total())
}

func TestStageFor(t *testing.T) {
	some := Satisfaction{Love: 3, Good: 2}
	tests := []struct {
		name  string
		users int64
		dist  Satisfaction
		want  Stage
	}{
		{"too few users", 5, some, StageNew},
		{"no ratings", 50, Satisfaction{}, StageNew},
		{"all negative ratings", 50, Satisfaction{Sad: 4}, StageNew},
		{"growing", 50, some, StageGrowing},
		{"mature", 150, some, StageMature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StageFor(tt.users, tt.dist))
		})
	}
}

func TestSummary_Mature(t *testing.T) {
	primary := &fakePrimary{enabled: true, values: map[string]int64{CounterUsers: 150}}
	legacy := &fakeLegacy{enabled: true, satisfaction: map[string]int64{
		"love": 40, "good": 40, "neutral": 15, "sad": 5,
	}}
	s, _ := newService(primary, legacy)

	sum := s.Summary(context.Background())
	assert.Equal(t, StageMature, sum.Stage)
	assert.Equal(t, int64(150), sum.TotalUsers)
	assert.Equal(t, 80, sum.Rate)
	assert.Equal(t, int64(120), sum.Satisfied)
}
