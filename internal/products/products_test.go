package products

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/timeutil"
	"github.com/BatmanBruc/gpt-bot/internal/usage"
	"github.com/BatmanBruc/gpt-bot/types"
)

var purchased = time.Date(2024, 3, 14, 12, 0, 0, 0, timeutil.Location)

func mustProduct(t *testing.T, code types.ProductCode, at time.Time) types.PurchasedProduct {
	t.Helper()
	p, err := Materialize(code, 42, "", at)
	require.NoError(t, err)
	return p
}

func TestIsExpired_GraceDay(t *testing.T) {
	p := mustProduct(t, "premium_30d", purchased)

	assert.False(t, IsExpired(p, purchased))
	assert.False(t, IsExpired(p, purchased.Add(30*24*time.Hour+23*time.Hour)))
	assert.True(t, IsExpired(p, purchased.Add(32*24*time.Hour)))
	assert.True(t, IsExpired(p, purchased.Add(-time.Minute)), "before purchase is outside the term")

	assert.True(t, IsActive(p, purchased.Add(30*24*time.Hour+23*time.Hour)))
	assert.False(t, IsActive(p, purchased.Add(32*24*time.Hour)))
}

func TestIsExpired_NoTerm(t *testing.T) {
	p := mustProduct(t, "gptokens_20", purchased)
	assert.False(t, IsExpired(p, purchased.AddDate(5, 0, 0)))
	_, ok := ExpiresAt(p)
	assert.False(t, ok)
}

func TestGptokensExhaustion(t *testing.T) {
	p := mustProduct(t, "gptokens_20", purchased)
	at := purchased.Add(time.Hour)

	p.Usage = usage.RecordProduct(p.Usage, types.ModelGptokens, 19, at)
	plan := catalog.MustPlan(p.Product.Plan)
	limit, _ := plan.Limits[types.ModelGptokens].Flat()
	assert.Equal(t, 1.0, limit-usage.ProductLifetime(p.Usage, types.ModelGptokens))
	assert.True(t, IsActive(p, at))

	p.Usage = usage.RecordProduct(p.Usage, types.ModelGptokens, 2, at)
	assert.False(t, IsExpired(p, at))
	assert.True(t, IsExhausted(p, at))
	assert.False(t, IsActive(p, at))
}

func TestIsExhausted_NeedsEveryModel(t *testing.T) {
	p := mustProduct(t, "legacy_trial", purchased)
	p.Usage = usage.RecordProduct(p.Usage, types.ModelGPT3, 50, purchased)
	assert.False(t, IsExhausted(p, purchased), "gpt4 still has headroom")

	p.Usage = usage.RecordProduct(p.Usage, types.ModelGPT4, 5, purchased)
	assert.True(t, IsExhausted(p, purchased))
}

func TestIsExhausted_NoLimitNeverExhausts(t *testing.T) {
	p := mustProduct(t, "unlimited_30d", purchased)
	for i := 0; i < 60; i++ {
		p.Usage = usage.RecordProduct(p.Usage, types.ModelDalle3, 1, purchased)
	}
	assert.False(t, IsExhausted(p, purchased))
}

func TestUserActive_PrefersMostRecentActive(t *testing.T) {
	older := mustProduct(t, "gptokens_100", purchased.AddDate(0, 0, -40))
	expired := mustProduct(t, "premium_30d", purchased.AddDate(0, 0, -35))
	exhausted := mustProduct(t, "gptokens_20", purchased.AddDate(0, 0, -1))
	exhausted.Usage = usage.RecordProduct(nil, types.ModelGptokens, 20, purchased)

	list := []types.PurchasedProduct{exhausted, older, expired}

	active := Active(list, purchased)
	require.Len(t, active, 1)
	assert.Equal(t, older.ID, active[0].ID)

	got := UserActive(list, purchased)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)
}

func TestForModel_OlderBundleCoversUncoveredModel(t *testing.T) {
	bundle := mustProduct(t, "gptokens_100", purchased.AddDate(0, 0, -3))
	trial := mustProduct(t, "legacy_trial", purchased.AddDate(0, 0, -1))
	list := []types.PurchasedProduct{bundle, trial}

	got := ForModel(list, types.ModelGPT4, purchased)
	require.NotNil(t, got)
	assert.Equal(t, trial.ID, got.ID, "the newest product covering the model wins")

	got = ForModel(list, types.ModelDalle3, purchased)
	require.NotNil(t, got)
	assert.Equal(t, bundle.ID, got.ID)

	assert.Nil(t, ForModel([]types.PurchasedProduct{trial}, types.ModelDalle3, purchased))
	assert.Nil(t, ForModel(nil, types.ModelGPT3, purchased))
}

func TestActive_OrderedByPurchaseDescending(t *testing.T) {
	a := mustProduct(t, "gptokens_20", purchased.Add(-2*time.Hour))
	b := mustProduct(t, "gptokens_100", purchased.Add(-time.Hour))
	c := mustProduct(t, "premium_30d", purchased.Add(-3*time.Hour))

	active := Active([]types.PurchasedProduct{a, b, c}, purchased)
	require.Len(t, active, 3)
	assert.Equal(t, []string{b.ID, a.ID, c.ID}, []string{active[0].ID, active[1].ID, active[2].ID})
}

func TestUserActive_NoneFallsBackToFree(t *testing.T) {
	assert.Nil(t, UserActive(nil, purchased))
}

func TestMaterialize(t *testing.T) {
	p, err := Materialize("gptokens_100", 7, "pay-1", purchased)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, int64(7), p.UserID)
	assert.Equal(t, "pay-1", p.PaymentID)
	assert.Equal(t, types.PlanGptokens100, p.Product.Plan)
	assert.Empty(t, p.Usage)

	_, err = Materialize("nope", 7, "", purchased)
	assert.True(t, errors.Is(err, ErrUnknownProduct))
}
