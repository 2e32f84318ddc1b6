package guide

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/waypost/waypost/pkg/types"
)

// URL parameter names. current/done are the format new writes produce;
// step/completed are the older format kept decodable for links already
// in the wild.
const (
	paramCurrent   = "current"
	paramDone      = "done"
	paramLegacyCur = "step"
	paramLegacyCmp = "completed"
)

// EncodeQuery renders progress as shareable URL parameters: a 1-based
// current step and the completed set as a minimal range ("2-4") or a
// single number. Empty progress encodes to nothing.
func EncodeQuery(p types.GuideProgress) url.Values {
	q := url.Values{}
	if p.CurrentStepIndex <= 0 && len(p.CompletedSteps) == 0 {
		return q
	}

	q.Set(paramCurrent, strconv.Itoa(p.CurrentStepIndex+1))

	if len(p.CompletedSteps) > 0 {
		min, max := -1, -1
		for _, step := range p.CompletedSteps {
			idx := types.StepIndex(p.OS, step)
			if idx < 0 {
				continue
			}
			if min == -1 || idx < min {
				min = idx
			}
			if idx > max {
				max = idx
			}
		}
		if min >= 0 {
			if min == max {
				q.Set(paramDone, strconv.Itoa(min+1))
			} else {
				q.Set(paramDone, strconv.Itoa(min+1)+"-"+strconv.Itoa(max+1))
			}
		}
	}
	return q
}

// QueryHasProgress reports whether q carries any progress parameter,
// in either the current or the legacy format.
func QueryHasProgress(q url.Values) bool {
	return q.Get(paramCurrent) != "" || q.Get(paramDone) != "" ||
		q.Get(paramLegacyCur) != "" || q.Get(paramLegacyCmp) != ""
}

// DecodeQuery restores progress from URL parameters. The bool reports
// whether any recognized parameter was present. Out-of-range values are
// clamped to the step sequence.
func DecodeQuery(q url.Values, os types.OS) (current int, completed []types.StepID, ok bool) {
	steps := types.StepsFor(os)

	if v := q.Get(paramCurrent); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			current = clampIndex(n-1, len(steps))
			ok = true
		}
	} else if v := q.Get(paramLegacyCur); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			current = clampIndex(n, len(steps))
			ok = true
		}
	}

	if v := q.Get(paramDone); v != "" {
		completed = decodeDoneRange(v, steps)
		if completed != nil {
			ok = true
		}
	} else if v := q.Get(paramLegacyCmp); v != "" {
		for _, raw := range strings.Split(v, ",") {
			id := types.StepID(strings.TrimSpace(raw))
			if id != "" && types.StepIndex(os, id) >= 0 {
				completed = append(completed, id)
			}
		}
		if completed != nil {
			ok = true
		}
	}

	return current, completed, ok
}

// decodeDoneRange parses "a-b" or "a" into the completed step set.
func decodeDoneRange(v string, steps []types.StepID) []types.StepID {
	parts := strings.SplitN(v, "-", 2)

	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil
	}
	end := start
	if len(parts) == 2 {
		end, err = strconv.Atoi(parts[1])
		if err != nil {
			return nil
		}
	}

	start-- // 1-based on the wire
	end--
	if start < 0 {
		start = 0
	}
	if end >= len(steps) {
		end = len(steps) - 1
	}
	if start > end {
		return nil
	}

	completed := make([]types.StepID, 0, end-start+1)
	for i := start; i <= end; i++ {
		completed = append(completed, steps[i])
	}
	return completed
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
