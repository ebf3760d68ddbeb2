package consumption

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/timeutil"
	"github.com/BatmanBruc/gpt-bot/internal/usage"
	"github.com/BatmanBruc/gpt-bot/types"
)

var now = time.Date(2024, 3, 14, 12, 0, 0, 0, timeutil.Location)

func recordN(u types.ModelUsage, n int, points float64, at time.Time) types.ModelUsage {
	for i := 0; i < n; i++ {
		u = usage.Record(u, points, at)
	}
	return u
}

func TestBuild_LimitShapeExclusive(t *testing.T) {
	u := recordN(types.ModelUsage{}, 3, 1, now)

	flat := Build(types.FlatLimit(10), u, now)
	require.NotNil(t, flat)
	require.NotNil(t, flat.Flat)
	assert.Nil(t, flat.Intervals)
	assert.Equal(t, Limit{Cap: 10, Consumed: 3, Remaining: 7}, *flat.Flat)

	per := Build(types.IntervalLimit(map[types.Interval]float64{types.Month: 100, types.Day: 5}), u, now)
	require.NotNil(t, per)
	assert.Nil(t, per.Flat)
	require.Len(t, per.Intervals, 2)
	assert.Equal(t, types.Day, per.Intervals[0].Interval)
	assert.Equal(t, 5.0, per.Intervals[0].Cap)
	assert.Equal(t, 2.0, per.Intervals[0].Remaining)
	assert.Equal(t, types.Month, per.Intervals[1].Interval)
	assert.Equal(t, 100.0, per.Intervals[1].Cap)
	assert.Equal(t, 97.0, per.Intervals[1].Remaining)

	assert.Nil(t, Build(types.NoLimit(), u, now))
}

func TestBuild_EmptyIntervalLimitPanics(t *testing.T) {
	assert.Panics(t, func() { Build(types.IntervalLimit(nil), types.ModelUsage{}, now) })
}

func TestExceeded(t *testing.T) {
	tests := []struct {
		name   string
		report *Report
		want   bool
	}{
		{"nil report", nil, false},
		{"flat with headroom", &Report{Flat: &Limit{Cap: 2, Consumed: 1, Remaining: 1}}, false},
		{"flat exhausted", &Report{Flat: &Limit{Cap: 2, Consumed: 2, Remaining: 0}}, true},
		{"flat overdrawn", &Report{Flat: &Limit{Cap: 2, Consumed: 3, Remaining: -1}}, true},
		{
			"day exhausted, month free",
			&Report{Intervals: []IntervalLimit{
				{Limit: Limit{Cap: 5, Consumed: 5, Remaining: 0}, Interval: types.Day},
				{Limit: Limit{Cap: 100, Consumed: 5, Remaining: 95}, Interval: types.Week},
				{Limit: Limit{Cap: 100, Consumed: 5, Remaining: 95}, Interval: types.Month},
			}},
			true,
		},
		{
			"all intervals free",
			&Report{Intervals: []IntervalLimit{
				{Limit: Limit{Cap: 5, Consumed: 4, Remaining: 1}, Interval: types.Day},
			}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Exceeded(tt.report))
		})
	}
}

func TestInfiniteLimitIsAlwaysAvailable(t *testing.T) {
	u := recordN(types.ModelUsage{}, 1000, 1, now)
	r := Build(types.IntervalLimit(map[types.Interval]float64{types.Day: types.Unlimited}), u, now)
	require.Len(t, r.Intervals, 1)
	assert.True(t, math.IsInf(r.Intervals[0].Remaining, 1))
	assert.False(t, Exceeded(r))
}

func TestForPlan_AbsentVersusNoLimit(t *testing.T) {
	free := catalog.FreePlan()
	r := ForPlan(free, types.ModelGPT4, types.ModelUsage{}, now)
	require.NotNil(t, r, "absent model must not read as unrestricted")
	assert.True(t, Exceeded(r))

	unlimited := catalog.MustPlan(types.PlanUnlimited)
	assert.Nil(t, ForPlan(unlimited, types.ModelGPT4, types.ModelUsage{}, now))
}

func TestFreePlanDailyCap(t *testing.T) {
	user := &types.User{ID: 1}
	for i := 0; i < 5; i++ {
		require.True(t, Allowed(user, nil, types.ModelGPT3, now), "use %d", i+1)
		user.UsageStats = usage.RecordUser(user.UsageStats, types.ModelGPT3, 1, now.Add(time.Duration(i)*time.Minute))
	}

	r := UserReport(user, nil, types.ModelGPT3, now.Add(time.Hour))
	require.Len(t, r.Intervals, 2)
	assert.Equal(t, types.Day, r.Intervals[0].Interval)
	assert.Equal(t, 0.0, r.Intervals[0].Remaining)
	assert.Equal(t, 95.0, r.Intervals[1].Remaining)
	assert.True(t, Exceeded(r))
	assert.False(t, Allowed(user, nil, types.ModelGPT3, now.Add(time.Hour)))

	tomorrow := now.Add(24 * time.Hour)
	assert.True(t, Allowed(user, nil, types.ModelGPT3, tomorrow))
}

func TestResolve(t *testing.T) {
	gptokens := &types.PurchasedProduct{ID: "p1", Product: types.Product{Plan: types.PlanGptokens20}}
	legacy := &types.PurchasedProduct{ID: "p2", Product: types.Product{Plan: types.PlanLegacy}}

	s := Resolve(gptokens, types.ModelGPT4)
	assert.True(t, s.IsProduct())
	assert.Equal(t, types.ModelGptokens, s.UsageCode)

	s = Resolve(legacy, types.ModelDalle3)
	assert.False(t, s.IsProduct(), "legacy plan does not cover images")
	assert.Equal(t, types.PlanFree, s.Plan.Code)
	assert.Equal(t, types.ModelDalle3, s.UsageCode)

	s = Resolve(nil, types.ModelGPT4)
	assert.False(t, s.IsProduct())
	assert.Equal(t, types.ModelGPT4, s.UsageCode)
}

func TestUserReport_ProductLedgerIsUsed(t *testing.T) {
	p := &types.PurchasedProduct{ID: "p1", Product: types.Product{Plan: types.PlanGptokens20}}
	p.Usage = usage.RecordProduct(p.Usage, types.ModelGptokens, 19, now)

	user := &types.User{ID: 1}
	user.UsageStats = usage.RecordUser(nil, types.ModelGptokens, 100, now)

	r := UserReport(user, p, types.ModelGPT4, now)
	require.NotNil(t, r.Flat)
	assert.Equal(t, 20.0, r.Flat.Cap)
	assert.Equal(t, 1.0, r.Flat.Remaining)
}
