// Package quota runs the request control flow: pick the backing product,
// check the consumption report, and record usage once the operation
// succeeded.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BatmanBruc/gpt-bot/internal/consumption"
	"github.com/BatmanBruc/gpt-bot/internal/metrics"
	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/internal/products"
	"github.com/BatmanBruc/gpt-bot/internal/timeutil"
	"github.com/BatmanBruc/gpt-bot/internal/usage"
	"github.com/BatmanBruc/gpt-bot/types"
)

type Config struct {
	// CAS makes usage writes conditional on the version that was read.
	// Without it concurrent writes for one user may lose an increment.
	CAS     bool
	Retries int
}

type Service struct {
	users    types.UserStore
	products types.ProductStore
	payments types.PaymentStore
	clock    timeutil.Clock
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	cfg      Config
}

func NewService(users types.UserStore, productStore types.ProductStore, payments types.PaymentStore,
	clock timeutil.Clock, logger zerolog.Logger, m *metrics.Metrics, cfg Config) *Service {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Service{
		users:    users,
		products: productStore,
		payments: payments,
		clock:    clock,
		logger:   logger,
		metrics:  m,
		cfg:      cfg,
	}
}

// Decision is the outcome of Check. It carries what Record needs.
type Decision struct {
	Allowed   bool
	Operation pricing.Operation
	Scope     consumption.Scope
	Report    *consumption.Report
	Points    float64
	User      *types.User
}

func scopeLabel(s consumption.Scope) string {
	if s.IsProduct() {
		return string(s.Plan.Code)
	}
	return "free"
}

func (s *Service) load(ctx context.Context, userID int64) (*types.User, []types.PurchasedProduct, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	list, err := s.products.ListUserProducts(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("list products of user %d: %w", userID, err)
	}
	return user, list, nil
}

// Check decides whether the user may run op now.
func (s *Service) Check(ctx context.Context, userID int64, op pricing.Operation) (*Decision, error) {
	user, list, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	at := s.clock.Now()
	scope := consumption.Resolve(products.ForModel(list, op.Model, at), op.Model)
	report := scope.Report(user, at)

	d := &Decision{
		Allowed:   !consumption.Exceeded(report),
		Operation: op,
		Scope:     scope,
		Report:    report,
		Points:    pricing.MustPoints(scope.UsageCode, op),
		User:      user,
	}
	if !d.Allowed {
		if s.metrics != nil {
			s.metrics.Denials.WithLabelValues(string(op.Model), scopeLabel(scope)).Inc()
		}
		s.logger.Info().Int64("user_id", userID).Str("model", string(op.Model)).Stringer("scope", scope).Msg("usage limit reached")
	}
	return d, nil
}

// Record books the points of a completed operation against the ledger the
// decision selected.
func (s *Service) Record(ctx context.Context, d *Decision) error {
	if d == nil || d.User == nil {
		return errors.New("quota: record without decision")
	}
	at := s.clock.Now()

	var err error
	if d.Scope.IsProduct() {
		err = s.recordProduct(ctx, d.Scope.Product, d.Scope.UsageCode, d.Points, at)
	} else {
		err = s.recordUser(ctx, d.User, d.Scope.UsageCode, d.Points, at)
	}
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Operations.WithLabelValues(string(d.Operation.Model), scopeLabel(d.Scope)).Inc()
		s.metrics.Points.WithLabelValues(string(d.Scope.UsageCode)).Add(d.Points)
	}
	s.logger.Debug().
		Int64("user_id", d.User.ID).
		Str("model", string(d.Operation.Model)).
		Stringer("scope", d.Scope).
		Float64("points", d.Points).
		Msg("usage recorded")
	return nil
}

func (s *Service) version(v int64) int64 {
	if s.cfg.CAS {
		return v
	}
	return types.AnyVersion
}

func (s *Service) recordUser(ctx context.Context, user *types.User, code types.ModelCode, points float64, at time.Time) error {
	for attempt := 0; ; attempt++ {
		stats := usage.RecordUser(user.UsageStats, code, points, at)
		_, err := s.users.UpdateUsageStats(ctx, user.ID, stats, s.version(user.Version))
		if !errors.Is(err, types.ErrConflict) || attempt >= s.cfg.Retries {
			if err != nil {
				return fmt.Errorf("update usage of user %d: %w", user.ID, err)
			}
			return nil
		}
		s.conflict()
		if user, err = s.users.GetUser(ctx, user.ID); err != nil {
			return fmt.Errorf("reload user: %w", err)
		}
	}
}

func (s *Service) recordProduct(ctx context.Context, p *types.PurchasedProduct, code types.ModelCode, points float64, at time.Time) error {
	for attempt := 0; ; attempt++ {
		next := usage.RecordProduct(p.Usage, code, points, at)
		_, err := s.products.UpdateProductUsage(ctx, p.ID, next, s.version(p.Version))
		if !errors.Is(err, types.ErrConflict) || attempt >= s.cfg.Retries {
			if err != nil {
				return fmt.Errorf("update usage of product %s: %w", p.ID, err)
			}
			return nil
		}
		s.conflict()
		if p, err = s.products.GetProduct(ctx, p.ID); err != nil {
			return fmt.Errorf("reload product: %w", err)
		}
	}
}

func (s *Service) conflict() {
	if s.metrics != nil {
		s.metrics.Conflicts.Inc()
	}
}

type PurchaseRequest struct {
	UserID      int64
	ProductCode types.ProductCode
	PurchasedAt time.Time
	PaymentID   string
	Provider    string
	Currency    string
	Amount      int64
}

// Purchase materializes a bought product. Replayed payment ids are ignored
// and reported with inserted == false.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*types.PurchasedProduct, bool, error) {
	if req.PurchasedAt.IsZero() {
		req.PurchasedAt = s.clock.Now()
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		req.PaymentID = uuid.New().String()
	}
	p, err := products.Materialize(req.ProductCode, req.UserID, req.PaymentID, req.PurchasedAt)
	if err != nil {
		return nil, false, fmt.Errorf("product %q: %w", req.ProductCode, err)
	}
	if req.Currency == "" {
		req.Currency = p.Product.Currency
	}
	if req.Amount == 0 {
		req.Amount = p.Product.Price
	}

	inserted, err := s.payments.RecordPurchase(ctx, types.Payment{
		UserID:      req.UserID,
		Provider:    req.Provider,
		Currency:    req.Currency,
		TotalAmount: req.Amount,
		ProductCode: req.ProductCode,
		ExternalID:  req.PaymentID,
		CreatedAt:   s.clock.Now(),
	}, &p)
	if err != nil {
		return nil, false, fmt.Errorf("record purchase: %w", err)
	}
	if !inserted {
		s.logger.Info().Str("payment_id", req.PaymentID).Msg("payment already processed")
		return nil, false, nil
	}

	if s.metrics != nil {
		s.metrics.Purchases.WithLabelValues(string(req.ProductCode), req.Provider).Inc()
	}
	s.logger.Info().
		Int64("user_id", req.UserID).
		Str("product", string(req.ProductCode)).
		Str("product_id", p.ID).
		Str("purchased_at", timeutil.ToISO(p.PurchasedAt)).
		Msg("product purchased")
	return &p, true, nil
}

type ModelStatus struct {
	Model   pricing.Model
	Scope   consumption.Scope
	Report  *consumption.Report
	Allowed bool
}

type Status struct {
	User    *types.User
	Product *types.PurchasedProduct
	Active  []types.PurchasedProduct
	Models  []ModelStatus
	At      time.Time
}

// Status reports every model for display.
func (s *Service) Status(ctx context.Context, userID int64) (*Status, error) {
	user, list, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	at := s.clock.Now()
	active := products.Active(list, at)
	st := &Status{User: user, Product: products.UserActive(list, at), Active: active, At: at}
	for _, m := range pricing.Models() {
		scope := consumption.Resolve(products.ForModel(active, m.Code, at), m.Code)
		report := scope.Report(user, at)
		st.Models = append(st.Models, ModelStatus{
			Model:   m,
			Scope:   scope,
			Report:  report,
			Allowed: !consumption.Exceeded(report),
		})
	}
	return st, nil
}
