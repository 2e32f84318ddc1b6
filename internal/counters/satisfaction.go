package counters

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"

	"github.com/waypost/waypost/internal/cache"
)

var errNoBackend = errors.New("no counter backend available")

// Satisfaction is the feedback rating distribution.
type Satisfaction struct {
	Love    int64 `json:"love"`
	Good    int64 `json:"good"`
	Neutral int64 `json:"neutral"`
	Sad     int64 `json:"sad"`
}

// Total returns the number of ratings.
func (s Satisfaction) Total() int64 {
	return s.Love + s.Good + s.Neutral + s.Sad
}

// Rate returns the share of positive ratings (love + good) as a rounded
// percentage, 0 when there are no ratings.
func (s Satisfaction) Rate() int {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(s.Love+s.Good) / float64(total) * 100))
}

// Stage classifies how much social proof the satisfaction display can
// carry.
type Stage string

const (
	// StageNew has too little data; the page shows a neutral message.
	StageNew Stage = "new"
	// StageGrowing shows the satisfaction rate without user totals.
	StageGrowing Stage = "growing"
	// StageMature shows totals alongside the rate.
	StageMature Stage = "mature"
)

// StageFor picks the display stage from the user total and the rating
// distribution.
func StageFor(totalUsers int64, dist Satisfaction) Stage {
	if totalUsers < 10 || dist.Total() == 0 {
		return StageNew
	}
	if totalUsers < 100 {
		if dist.Rate() > 0 {
			return StageGrowing
		}
		return StageNew
	}
	return StageMature
}

// Summary is the satisfaction block the guide page renders.
type Summary struct {
	Stage      Stage        `json:"stage"`
	TotalUsers int64        `json:"total_users"`
	Rate       int          `json:"rate"`
	Satisfied  int64        `json:"satisfied"`
	Dist       Satisfaction `json:"distribution"`
}

// Satisfaction returns the cached rating distribution. A missing or
// failing collector yields the zero distribution.
func (s *Service) Satisfaction(ctx context.Context) Satisfaction {
	raw, err := s.cache.Get(ctx, "satisfaction_stats", func(ctx context.Context) (string, error) {
		if s.legacy == nil || !s.legacy.Enabled() {
			return "", errNoBackend
		}
		dist, err := s.legacy.ReadSatisfaction(ctx)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(Satisfaction{
			Love:    dist["love"],
			Good:    dist["good"],
			Neutral: dist["neutral"],
			Sad:     dist["sad"],
		})
		return string(out), err
	}, cache.TTLStats)
	if err != nil {
		log.Printf("counters: satisfaction read failed: %v", err)
		return Satisfaction{}
	}

	var dist Satisfaction
	if err := json.Unmarshal([]byte(raw), &dist); err != nil {
		return Satisfaction{}
	}
	return dist
}

// Summary combines the user counter and the rating distribution into
// the staged display model.
func (s *Service) Summary(ctx context.Context) Summary {
	totalUsers := s.Value(ctx, CounterUsers)
	dist := s.Satisfaction(ctx)
	rate := dist.Rate()
	return Summary{
		Stage:      StageFor(totalUsers, dist),
		TotalUsers: totalUsers,
		Rate:       rate,
		Satisfied:  int64(math.Round(float64(totalUsers) * float64(rate) / 100)),
		Dist:       dist,
	}
}
