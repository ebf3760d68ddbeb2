// Package consumption turns plan limits and ledger state into reports and
// the allow/deny decision.
package consumption

import (
	"fmt"
	"time"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/usage"
	"github.com/BatmanBruc/gpt-bot/types"
)

// Limit is one cap against what was consumed. Remaining may be negative;
// anything at or below zero is exhausted.
type Limit struct {
	Cap       float64
	Consumed  float64
	Remaining float64
}

type IntervalLimit struct {
	Limit
	Interval types.Interval
}

// Report holds exactly one of Flat or Intervals.
type Report struct {
	Flat      *Limit
	Intervals []IntervalLimit
}

func newLimit(limit, consumed float64) Limit {
	return Limit{Cap: limit, Consumed: consumed, Remaining: limit - consumed}
}

func (l Limit) Exhausted() bool {
	return l.Remaining <= 0
}

// Build returns nil for a limit that does not track the model.
func Build(limit types.Limit, u types.ModelUsage, at time.Time) *Report {
	switch limit.Kind() {
	case types.LimitFlat:
		n, _ := limit.Flat()
		l := newLimit(n, usage.Lifetime(u))
		return &Report{Flat: &l}
	case types.LimitInterval:
		caps := limit.Caps()
		if len(caps) == 0 {
			panic("consumption: interval limit without intervals")
		}
		out := make([]IntervalLimit, 0, len(caps))
		for _, c := range caps {
			out = append(out, IntervalLimit{
				Limit:    newLimit(c.Cap, usage.Count(u, c.Interval, at)),
				Interval: c.Interval,
			})
		}
		return &Report{Intervals: out}
	default:
		return nil
	}
}

// ForPlan reports usage of code under plan. A code the plan does not list
// gets a zero flat cap, which is always exceeded; an explicit NoLimit entry
// gets no report at all.
func ForPlan(plan types.PlanSettings, code types.ModelCode, u types.ModelUsage, at time.Time) *Report {
	limit, ok := plan.Limits[code]
	if !ok {
		l := newLimit(0, usage.Lifetime(u))
		return &Report{Flat: &l}
	}
	return Build(limit, u, at)
}

// Exceeded is true when the flat cap or any interval cap is exhausted.
func Exceeded(r *Report) bool {
	if r == nil {
		return false
	}
	if r.Flat != nil {
		return r.Flat.Exhausted()
	}
	for _, l := range r.Intervals {
		if l.Exhausted() {
			return true
		}
	}
	return false
}

// Scope says which ledger meters a request and under which code.
type Scope struct {
	Product   *types.PurchasedProduct
	Plan      types.PlanSettings
	UsageCode types.ModelCode
}

func (s Scope) IsProduct() bool {
	return s.Product != nil
}

func (s Scope) String() string {
	if s.Product != nil {
		return fmt.Sprintf("product %s (%s) as %s", s.Product.ID, s.Plan.Code, s.UsageCode)
	}
	return fmt.Sprintf("plan %s as %s", s.Plan.Code, s.UsageCode)
}

// Resolve picks the product ledger when the active product's plan covers
// model, and the user's free tier stats otherwise.
func Resolve(product *types.PurchasedProduct, model types.ModelCode) Scope {
	if product != nil {
		plan := catalog.MustPlan(product.Product.Plan)
		if code, ok := catalog.UsageCode(plan, model); ok {
			return Scope{Product: product, Plan: plan, UsageCode: code}
		}
	}
	free := catalog.FreePlan()
	code, ok := catalog.UsageCode(free, model)
	if !ok {
		code = model
	}
	return Scope{Plan: free, UsageCode: code}
}

func (s Scope) Usage(user *types.User) types.ModelUsage {
	if s.Product != nil {
		return s.Product.Usage.Model(s.UsageCode)
	}
	if user == nil {
		return types.ModelUsage{}
	}
	return user.UsageStats.Model(s.UsageCode)
}

func (s Scope) Report(user *types.User, at time.Time) *Report {
	return ForPlan(s.Plan, s.UsageCode, s.Usage(user), at)
}

// UserReport is the consumption report for the next use of model.
func UserReport(user *types.User, product *types.PurchasedProduct, model types.ModelCode, at time.Time) *Report {
	return Resolve(product, model).Report(user, at)
}

func Allowed(user *types.User, product *types.PurchasedProduct, model types.ModelCode, at time.Time) bool {
	return !Exceeded(UserReport(user, product, model, at))
}
