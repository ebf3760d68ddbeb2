// Package webhook serves the payment callback of external payment providers
// together with the health and metrics endpoints.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/products"
	"github.com/BatmanBruc/gpt-bot/internal/quota"
	"github.com/BatmanBruc/gpt-bot/internal/timeutil"
	"github.com/BatmanBruc/gpt-bot/types"
)

const SecretHeader = "X-Webhook-Secret"

type Purchaser interface {
	Purchase(ctx context.Context, req quota.PurchaseRequest) (*types.PurchasedProduct, bool, error)
}

// Notifier tells the buyer about a product bought outside of Telegram.
type Notifier interface {
	NotifyPurchase(ctx context.Context, p *types.PurchasedProduct)
}

type Config struct {
	Secret  string
	Metrics http.Handler
	// Ping reports backend health for /healthz. Nil means always healthy.
	Ping func(ctx context.Context) error
}

type PaymentRequest struct {
	PaymentID   string            `json:"payment_id"`
	UserID      int64             `json:"user_id"`
	ProductCode types.ProductCode `json:"product_code"`
	PurchasedAt *time.Time        `json:"purchased_at,omitempty"`
	Provider    string            `json:"provider,omitempty"`
}

type PaymentResponse struct {
	Status      string `json:"status"`
	ProductID   string `json:"product_id,omitempty"`
	PurchasedAt string `json:"purchased_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

type server struct {
	cfg       Config
	purchaser Purchaser
	notifier  Notifier
	logger    zerolog.Logger
}

func NewRouter(cfg Config, purchaser Purchaser, notifier Notifier, logger zerolog.Logger) chi.Router {
	s := &server{cfg: cfg, purchaser: purchaser, notifier: notifier, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logging)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Group(func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Post("/webhook/payment", s.payment)
	})
	return r
}

func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(SecretHeader)
		if s.cfg.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, PaymentResponse{Status: "error", Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.cfg.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("health check")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) payment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, PaymentResponse{Status: "error", Error: "invalid json"})
		return
	}
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.UserID == 0 || req.ProductCode == "" || req.PaymentID == "" {
		writeJSON(w, http.StatusBadRequest, PaymentResponse{Status: "error", Error: "payment_id, user_id and product_code are required"})
		return
	}
	if _, ok := catalog.Purchasable(req.ProductCode); !ok {
		if _, known := catalog.Product(req.ProductCode); known {
			writeJSON(w, http.StatusUnprocessableEntity, PaymentResponse{Status: "error", Error: "product is not for sale"})
			return
		}
		writeJSON(w, http.StatusNotFound, PaymentResponse{Status: "error", Error: "unknown product"})
		return
	}
	provider := req.Provider
	if provider == "" {
		provider = "webhook"
	}
	pr := quota.PurchaseRequest{
		UserID:      req.UserID,
		ProductCode: req.ProductCode,
		PaymentID:   req.PaymentID,
		Provider:    provider,
	}
	if req.PurchasedAt != nil {
		pr.PurchasedAt = *req.PurchasedAt
	}

	p, inserted, err := s.purchaser.Purchase(r.Context(), pr)
	switch {
	case errors.Is(err, products.ErrUnknownProduct):
		writeJSON(w, http.StatusNotFound, PaymentResponse{Status: "error", Error: "unknown product"})
		return
	case err != nil:
		s.logger.Error().Err(err).Str("payment_id", req.PaymentID).Msg("webhook purchase")
		writeJSON(w, http.StatusInternalServerError, PaymentResponse{Status: "error", Error: "internal error"})
		return
	case !inserted:
		writeJSON(w, http.StatusOK, PaymentResponse{Status: "duplicate"})
		return
	}

	if s.notifier != nil {
		s.notifier.NotifyPurchase(r.Context(), p)
	}
	writeJSON(w, http.StatusCreated, PaymentResponse{
		Status:      "created",
		ProductID:   p.ID,
		PurchasedAt: timeutil.ToISO(p.PurchasedAt),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
