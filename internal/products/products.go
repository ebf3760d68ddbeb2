// Package products decides which purchased product backs a request.
package products

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/consumption"
	"github.com/BatmanBruc/gpt-bot/types"
)

var ErrUnknownProduct = errors.New("unknown product")

// Grace extends a termed product so its last calendar day counts fully.
const Grace = 24 * time.Hour

func IsExpired(p types.PurchasedProduct, at time.Time) bool {
	if !p.Product.HasTerm() {
		return false
	}
	end := p.PurchasedAt.Add(p.Product.Term + Grace)
	return at.Before(p.PurchasedAt) || at.After(end)
}

// IsExhausted is true when every model the plan limits is exceeded. Models
// with an explicit NoLimit entry never are.
func IsExhausted(p types.PurchasedProduct, at time.Time) bool {
	plan := catalog.MustPlan(p.Product.Plan)
	codes := catalog.LimitedModels(plan)
	if len(codes) == 0 {
		return false
	}
	for _, code := range codes {
		r := consumption.ForPlan(plan, code, p.Usage.Model(code), at)
		if !consumption.Exceeded(r) {
			return false
		}
	}
	return true
}

func IsActive(p types.PurchasedProduct, at time.Time) bool {
	return !IsExpired(p, at) && !IsExhausted(p, at)
}

// Active returns the active products, most recently purchased first.
func Active(list []types.PurchasedProduct, at time.Time) []types.PurchasedProduct {
	out := make([]types.PurchasedProduct, 0, len(list))
	for _, p := range list {
		if IsActive(p, at) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PurchasedAt.After(out[j].PurchasedAt)
	})
	return out
}

// UserActive returns the most recently purchased active product, or nil when
// the user is on the free plan.
func UserActive(list []types.PurchasedProduct, at time.Time) *types.PurchasedProduct {
	active := Active(list, at)
	if len(active) == 0 {
		return nil
	}
	p := active[0]
	return &p
}

// ForModel returns the most recently purchased active product whose plan
// meters model, or nil when model falls to the free plan. An older gptokens
// bundle thus backs models a newer subscription does not cover.
func ForModel(list []types.PurchasedProduct, model types.ModelCode, at time.Time) *types.PurchasedProduct {
	for _, p := range Active(list, at) {
		plan := catalog.MustPlan(p.Product.Plan)
		if _, ok := catalog.UsageCode(plan, model); ok {
			return &p
		}
	}
	return nil
}

// Materialize creates a purchase of code with an empty ledger.
func Materialize(code types.ProductCode, userID int64, paymentID string, purchasedAt time.Time) (types.PurchasedProduct, error) {
	def, ok := catalog.Product(code)
	if !ok {
		return types.PurchasedProduct{}, ErrUnknownProduct
	}
	return types.PurchasedProduct{
		ID:          uuid.New().String(),
		UserID:      userID,
		Product:     def,
		PaymentID:   paymentID,
		PurchasedAt: purchasedAt,
		Usage:       types.ProductUsage{},
	}, nil
}

// ExpiresAt returns when a termed product stops being active by time.
func ExpiresAt(p types.PurchasedProduct) (time.Time, bool) {
	if !p.Product.HasTerm() {
		return time.Time{}, false
	}
	return p.PurchasedAt.Add(p.Product.Term + Grace), true
}
