package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/gpt-bot/internal/timeutil"
	"github.com/BatmanBruc/gpt-bot/types"
)

var base = time.Date(2024, 3, 14, 12, 0, 0, 0, timeutil.Location) // Thursday

func TestRecord_AccumulatesWithinWindow(t *testing.T) {
	var u types.ModelUsage
	u = Record(u, 1, base)
	u = Record(u, 2.5, base.Add(time.Hour))

	for _, i := range types.Intervals {
		assert.InDelta(t, 3.5, Count(u, i, base.Add(2*time.Hour)), 1e-9, i)
	}
	assert.InDelta(t, 3.5, Lifetime(u), 1e-9)
}

func TestRecord_WindowRollover(t *testing.T) {
	tests := []struct {
		name     string
		interval types.Interval
		later    time.Time
	}{
		{"day", types.Day, base.Add(13 * time.Hour)},
		{"week", types.Week, base.AddDate(0, 0, 4)},
		{"month", types.Month, base.AddDate(0, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, timeutil.SameWindow(tt.interval, base, tt.later))

			u := Record(types.ModelUsage{}, 4, base)
			assert.Equal(t, 0.0, Count(u, tt.interval, tt.later), "stale window must read as zero")

			u = Record(u, 3, tt.later)
			assert.Equal(t, 3.0, Count(u, tt.interval, tt.later), "fresh window must not carry old count")
			assert.True(t, timeutil.WindowStart(tt.interval, tt.later).Equal(u.Intervals[tt.interval].StartedAt))
		})
	}
}

func TestCount_DoesNotMutateStaleCounter(t *testing.T) {
	u := Record(types.ModelUsage{}, 4, base)
	_ = Count(u, types.Day, base.AddDate(0, 0, 2))
	assert.Equal(t, 4.0, u.Intervals[types.Day].Count)
}

func TestLifetime_Monotonic(t *testing.T) {
	var u types.ModelUsage
	points := []float64{1, 0.1, 2, 0, 6, 0.5}
	at := base
	sum := 0.0
	prev := 0.0
	for _, p := range points {
		u = Record(u, p, at)
		sum += p
		require.GreaterOrEqual(t, Lifetime(u), prev)
		prev = Lifetime(u)
		at = at.AddDate(0, 0, 9) // cross day, week and sometimes month windows
	}
	assert.InDelta(t, sum, Lifetime(u), 1e-9)
}

func TestRecord_NegativePointsIgnored(t *testing.T) {
	u := Record(types.ModelUsage{}, -5, base)
	assert.Equal(t, 0.0, Lifetime(u))
	assert.Equal(t, 0.0, Count(u, types.Day, base))
}

func TestRecord_DoesNotMutateInput(t *testing.T) {
	orig := Record(types.ModelUsage{}, 1, base)
	_ = Record(orig, 1, base)
	assert.Equal(t, 1.0, orig.Count)
	assert.Equal(t, 1.0, orig.Intervals[types.Day].Count)
}

func TestRecordUser(t *testing.T) {
	stats := RecordUser(nil, types.ModelGPT3, 1, base)
	stats = RecordUser(stats, types.ModelGPT3, 1, base.Add(time.Minute))
	next := RecordUser(stats, types.ModelDalle3, 1, base.Add(2*time.Minute))

	assert.Equal(t, 2.0, UserCount(next, types.ModelGPT3, types.Day, base))
	assert.Equal(t, 1.0, UserCount(next, types.ModelDalle3, types.Month, base))
	assert.Equal(t, 2.0, UserLifetime(next, types.ModelGPT3))
	assert.True(t, base.Add(time.Minute).Equal(next[types.ModelGPT3].LastUsedAt))
	_, ok := stats[types.ModelDalle3]
	assert.False(t, ok, "input stats must not change")
}

func TestRecordProduct(t *testing.T) {
	pu := RecordProduct(nil, types.ModelGptokens, 19, base)
	pu = RecordProduct(pu, types.ModelGptokens, 0.5, base.AddDate(0, 2, 0))

	assert.Equal(t, 19.5, ProductLifetime(pu, types.ModelGptokens))
	assert.Equal(t, 0.5, ProductCount(pu, types.ModelGptokens, types.Month, base.AddDate(0, 2, 0)))
	assert.Equal(t, 0.0, ProductCount(pu, types.ModelGPT4, types.Day, base))
}
