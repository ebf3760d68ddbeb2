// Package usage is the usage ledger. It stores only the current window of
// every interval; a counter from an earlier window reads as zero and is
// replaced on the next write. Nothing sweeps stale counters.
//
// All functions are pure: they return new values and never mutate inputs.
package usage

import (
	"time"

	"github.com/BatmanBruc/gpt-bot/internal/timeutil"
	"github.com/BatmanBruc/gpt-bot/types"
)

// Record adds points to every interval counter and to the lifetime count.
func Record(u types.ModelUsage, points float64, at time.Time) types.ModelUsage {
	if points < 0 {
		points = 0
	}
	out := u.Clone()
	if out.Intervals == nil {
		out.Intervals = make(map[types.Interval]types.IntervalUsage, len(types.Intervals))
	}
	for _, interval := range types.Intervals {
		start := timeutil.WindowStart(interval, at)
		cur, ok := out.Intervals[interval]
		if ok && cur.StartedAt.Equal(start) {
			cur.Count += points
		} else {
			cur = types.IntervalUsage{StartedAt: start, Count: points}
		}
		out.Intervals[interval] = cur
	}
	out.Count += points
	return out
}

// Count returns the usage of the interval window containing at.
func Count(u types.ModelUsage, interval types.Interval, at time.Time) float64 {
	cur, ok := u.Intervals[interval]
	if !ok {
		return 0
	}
	if !cur.StartedAt.Equal(timeutil.WindowStart(interval, at)) {
		return 0
	}
	return cur.Count
}

func Lifetime(u types.ModelUsage) float64 {
	return u.Count
}

func RecordUser(stats types.UsageStats, model types.ModelCode, points float64, at time.Time) types.UsageStats {
	out := make(types.UsageStats, len(stats)+1)
	for k, v := range stats {
		out[k] = v
	}
	cur := out[model]
	out[model] = types.UserModelUsage{
		ModelUsage: Record(cur.ModelUsage, points, at),
		LastUsedAt: at,
	}
	return out
}

func RecordProduct(pu types.ProductUsage, model types.ModelCode, points float64, at time.Time) types.ProductUsage {
	out := make(types.ProductUsage, len(pu)+1)
	for k, v := range pu {
		out[k] = v
	}
	out[model] = types.ProductModelUsage{ModelUsage: Record(out[model].ModelUsage, points, at)}
	return out
}

func UserCount(stats types.UsageStats, model types.ModelCode, interval types.Interval, at time.Time) float64 {
	return Count(stats.Model(model), interval, at)
}

func ProductCount(pu types.ProductUsage, model types.ModelCode, interval types.Interval, at time.Time) float64 {
	return Count(pu.Model(model), interval, at)
}

func UserLifetime(stats types.UsageStats, model types.ModelCode) float64 {
	return Lifetime(stats.Model(model))
}

func ProductLifetime(pu types.ProductUsage, model types.ModelCode) float64 {
	return Lifetime(pu.Model(model))
}
