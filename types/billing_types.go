package types

import (
	"math"
	"sort"
	"time"
)

type LimitKind int

const (
	// LimitNone means the model is not tracked under the plan.
	LimitNone LimitKind = iota
	LimitFlat
	LimitInterval
)

// Limit is either a flat lifetime cap, a set of per-interval caps, or no cap
// at all. The shape is fixed at construction.
type Limit struct {
	kind      LimitKind
	flat      float64
	intervals map[Interval]float64
}

type IntervalCap struct {
	Interval Interval
	Cap      float64
}

func FlatLimit(n float64) Limit {
	return Limit{kind: LimitFlat, flat: n}
}

func IntervalLimit(caps map[Interval]float64) Limit {
	cp := make(map[Interval]float64, len(caps))
	for k, v := range caps {
		cp[k] = v
	}
	return Limit{kind: LimitInterval, intervals: cp}
}

func NoLimit() Limit {
	return Limit{kind: LimitNone}
}

// Unlimited is a cap that can never be reached.
var Unlimited = math.Inf(1)

func (l Limit) Kind() LimitKind { return l.kind }

func (l Limit) Flat() (float64, bool) {
	return l.flat, l.kind == LimitFlat
}

// Caps returns the per-interval caps ordered as Intervals.
func (l Limit) Caps() []IntervalCap {
	if l.kind != LimitInterval {
		return nil
	}
	out := make([]IntervalCap, 0, len(l.intervals))
	for _, i := range Intervals {
		if c, ok := l.intervals[i]; ok {
			out = append(out, IntervalCap{Interval: i, Cap: c})
		}
	}
	return out
}

// UnknownIntervals lists interval keys Caps ignores because they are not
// one of Intervals, sorted.
func (l Limit) UnknownIntervals() []Interval {
	var out []Interval
	for i := range l.intervals {
		if !i.Valid() {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

type PlanSettings struct {
	Code     PlanCode
	Limits   map[ModelCode]Limit
	Disabled bool
}

// Product is an immutable purchasable bundle definition.
type Product struct {
	Code     ProductCode   `json:"code"`
	Name     string        `json:"name"`
	Price    int64         `json:"price"`
	Currency string        `json:"currency"`
	Plan     PlanCode      `json:"plan"`
	Term     time.Duration `json:"term,omitempty"`
}

func (p Product) HasTerm() bool {
	return p.Term > 0
}

type PurchasedProduct struct {
	ID          string       `json:"id"`
	UserID      int64        `json:"user_id"`
	Product     Product      `json:"product"`
	PaymentID   string       `json:"payment_id,omitempty"`
	PurchasedAt time.Time    `json:"purchased_at"`
	Usage       ProductUsage `json:"usage"`
	Version     int64        `json:"version"`
}

type Payment struct {
	UserID      int64
	Provider    string
	Currency    string
	TotalAmount int64
	ProductCode ProductCode
	ExternalID  string
	CreatedAt   time.Time
}
