// Package catalog holds the plan and product tables. They are built once at
// package init and never mutated; price or plan changes ship as deploys.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/types"
)

const day = 24 * time.Hour

var plans = map[types.PlanCode]types.PlanSettings{
	types.PlanFree: {
		Code: types.PlanFree,
		Limits: map[types.ModelCode]types.Limit{
			types.ModelGPT3:   types.IntervalLimit(map[types.Interval]float64{types.Day: 5, types.Month: 100}),
			types.ModelDalle3: types.IntervalLimit(map[types.Interval]float64{types.Month: 3}),
		},
	},
	types.PlanPremium: {
		Code: types.PlanPremium,
		Limits: map[types.ModelCode]types.Limit{
			types.ModelGPT3:   types.IntervalLimit(map[types.Interval]float64{types.Day: types.Unlimited}),
			types.ModelGPT4:   types.IntervalLimit(map[types.Interval]float64{types.Day: 20}),
			types.ModelGPT4o:  types.IntervalLimit(map[types.Interval]float64{types.Day: 50, types.Month: 1000}),
			types.ModelDalle3: types.IntervalLimit(map[types.Interval]float64{types.Day: 10, types.Week: 40}),
		},
	},
	types.PlanUnlimited: {
		Code: types.PlanUnlimited,
		Limits: map[types.ModelCode]types.Limit{
			types.ModelGPT3:   types.NoLimit(),
			types.ModelGPT4:   types.NoLimit(),
			types.ModelGPT4o:  types.NoLimit(),
			types.ModelDalle3: types.IntervalLimit(map[types.Interval]float64{types.Day: 50}),
		},
	},
	types.PlanGptokens20: {
		Code:   types.PlanGptokens20,
		Limits: map[types.ModelCode]types.Limit{types.ModelGptokens: types.FlatLimit(20)},
	},
	types.PlanGptokens100: {
		Code:   types.PlanGptokens100,
		Limits: map[types.ModelCode]types.Limit{types.ModelGptokens: types.FlatLimit(100)},
	},
	types.PlanGptokens500: {
		Code:   types.PlanGptokens500,
		Limits: map[types.ModelCode]types.Limit{types.ModelGptokens: types.FlatLimit(500)},
	},
	types.PlanLegacy: {
		Code: types.PlanLegacy,
		Limits: map[types.ModelCode]types.Limit{
			types.ModelGPT3: types.FlatLimit(50),
			types.ModelGPT4: types.FlatLimit(5),
		},
		Disabled: true,
	},
}

var products = []types.Product{
	{Code: "premium_30d", Name: "Premium, 30 days", Price: 29900, Currency: "RUB", Plan: types.PlanPremium, Term: 30 * day},
	{Code: "unlimited_30d", Name: "Unlimited, 30 days", Price: 59900, Currency: "RUB", Plan: types.PlanUnlimited, Term: 30 * day},
	{Code: "gptokens_20", Name: "20 gptokens", Price: 9900, Currency: "RUB", Plan: types.PlanGptokens20},
	{Code: "gptokens_100", Name: "100 gptokens", Price: 39900, Currency: "RUB", Plan: types.PlanGptokens100},
	{Code: "gptokens_500_30d", Name: "500 gptokens, 30 days", Price: 149900, Currency: "RUB", Plan: types.PlanGptokens500, Term: 30 * day},
	{Code: "legacy_trial", Name: "Trial", Price: 0, Currency: "RUB", Plan: types.PlanLegacy, Term: 7 * day},
}

func Plan(code types.PlanCode) (types.PlanSettings, bool) {
	p, ok := plans[code]
	return p, ok
}

// MustPlan panics for plan codes the catalog does not define.
func MustPlan(code types.PlanCode) types.PlanSettings {
	p, ok := plans[code]
	if !ok {
		panic(fmt.Sprintf("catalog: unknown plan %q", code))
	}
	return p
}

// Plans returns every plan sorted by code.
func Plans() []types.PlanSettings {
	out := make([]types.PlanSettings, 0, len(plans))
	for _, p := range plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func FreePlan() types.PlanSettings {
	return MustPlan(types.PlanFree)
}

func Product(code types.ProductCode) (types.Product, bool) {
	for _, p := range products {
		if p.Code == code {
			return p, true
		}
	}
	return types.Product{}, false
}

func Products() []types.Product {
	out := make([]types.Product, len(products))
	copy(out, products)
	return out
}

// PurchasableProducts omits products whose plan is disabled. Holders of such
// products keep them.
func PurchasableProducts() []types.Product {
	out := make([]types.Product, 0, len(products))
	for _, p := range products {
		if plan, ok := plans[p.Plan]; ok && !plan.Disabled {
			out = append(out, p)
		}
	}
	return out
}

// Purchasable reports whether code is on sale. Every sales channel checks it
// before a product is materialized.
func Purchasable(code types.ProductCode) (types.Product, bool) {
	p, ok := Product(code)
	if !ok {
		return types.Product{}, false
	}
	plan, ok := plans[p.Plan]
	if !ok || plan.Disabled {
		return types.Product{}, false
	}
	return p, true
}

// UsageCode resolves the ledger key a plan meters model under: the model
// itself when the plan limits it directly, otherwise the gptokens currency
// when the plan sells gptokens and the model is priced in them.
func UsageCode(plan types.PlanSettings, model types.ModelCode) (types.ModelCode, bool) {
	if _, ok := plan.Limits[model]; ok {
		return model, true
	}
	if _, ok := plan.Limits[types.ModelGptokens]; ok && pricing.Payable(model) {
		return types.ModelGptokens, true
	}
	return "", false
}

// LimitedModels returns the model codes a plan defines a limit for, sorted.
func LimitedModels(plan types.PlanSettings) []types.ModelCode {
	out := make([]types.ModelCode, 0, len(plan.Limits))
	for code := range plan.Limits {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the tables for combinations that would otherwise surface
// as a missing price or limit at request time.
func Validate() error {
	return validate(plans, products)
}

func validate(plans map[types.PlanCode]types.PlanSettings, products []types.Product) error {
	var errs []error

	if _, ok := plans[types.PlanFree]; !ok {
		errs = append(errs, errors.New("free plan is not defined"))
	}

	codes := make([]types.PlanCode, 0, len(plans))
	for code := range plans {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	for _, code := range codes {
		plan := plans[code]
		if plan.Code != code {
			errs = append(errs, fmt.Errorf("plan %q: registered under %q", plan.Code, code))
		}
		for _, model := range LimitedModels(plan) {
			errs = append(errs, validateLimit(code, model, plan.Limits[model])...)
			if model == types.ModelGptokens {
				errs = append(errs, validateGptokensPrices(code)...)
				continue
			}
			if _, ok := pricing.Lookup(model); !ok {
				errs = append(errs, fmt.Errorf("plan %q: unknown model %q", code, model))
			}
		}
	}

	seen := make(map[types.ProductCode]bool, len(products))
	for _, p := range products {
		if seen[p.Code] {
			errs = append(errs, fmt.Errorf("product %q: duplicate code", p.Code))
		}
		seen[p.Code] = true
		if _, ok := plans[p.Plan]; !ok {
			errs = append(errs, fmt.Errorf("product %q: unknown plan %q", p.Code, p.Plan))
		}
		if p.Price < 0 || p.Term < 0 {
			errs = append(errs, fmt.Errorf("product %q: negative price or term", p.Code))
		}
	}

	return errors.Join(errs...)
}

func validateLimit(plan types.PlanCode, model types.ModelCode, l types.Limit) []error {
	var errs []error
	check := func(what string, v float64) {
		if v < 0 || math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("plan %q model %q: %s cap %v is invalid", plan, model, what, v))
		}
	}
	switch l.Kind() {
	case types.LimitFlat:
		v, _ := l.Flat()
		check("flat", v)
	case types.LimitInterval:
		for _, i := range l.UnknownIntervals() {
			errs = append(errs, fmt.Errorf("plan %q model %q: unknown interval %q", plan, model, i))
		}
		caps := l.Caps()
		if len(caps) == 0 {
			errs = append(errs, fmt.Errorf("plan %q model %q: empty interval limit", plan, model))
		}
		for _, c := range caps {
			check(string(c.Interval), c.Cap)
		}
	}
	return errs
}

func validateGptokensPrices(plan types.PlanCode) []error {
	var errs []error
	for _, m := range pricing.Models() {
		op := pricing.Operation{Model: m.Code}
		if m.Kind == types.KindImage {
			for _, s := range pricing.ImageVariants() {
				op.Image = s
				if _, err := pricing.Points(types.ModelGptokens, op); err != nil {
					errs = append(errs, fmt.Errorf("plan %q: %w", plan, err))
				}
			}
			continue
		}
		if _, err := pricing.Points(types.ModelGptokens, op); err != nil {
			errs = append(errs, fmt.Errorf("plan %q: %w", plan, err))
		}
	}
	return errs
}
