package types

import "time"

// IntervalUsage is the counter of the current window only. A counter whose
// StartedAt is not the current window start reads as zero.
type IntervalUsage struct {
	StartedAt time.Time `json:"started_at"`
	Count     float64   `json:"count"`
}

type ModelUsage struct {
	Intervals map[Interval]IntervalUsage `json:"intervals,omitempty"`
	Count     float64                    `json:"count"`
}

func (u ModelUsage) Clone() ModelUsage {
	out := ModelUsage{Count: u.Count}
	if u.Intervals != nil {
		out.Intervals = make(map[Interval]IntervalUsage, len(u.Intervals))
		for k, v := range u.Intervals {
			out.Intervals[k] = v
		}
	}
	return out
}

type UserModelUsage struct {
	ModelUsage
	LastUsedAt time.Time `json:"last_used_at"`
}

type ProductModelUsage struct {
	ModelUsage
}

type UsageStats map[ModelCode]UserModelUsage

type ProductUsage map[ModelCode]ProductModelUsage

func (s UsageStats) Model(code ModelCode) ModelUsage {
	return s[code].ModelUsage
}

func (u ProductUsage) Model(code ModelCode) ModelUsage {
	return u[code].ModelUsage
}
