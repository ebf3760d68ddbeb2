package types

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("version conflict")
)

// AnyVersion disables the compare-and-set check on usage writes.
const AnyVersion int64 = -1

type User struct {
	ID           int64
	ChatID       int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	Model        ModelCode
	UsageStats   UsageStats
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStore interface {
	// UpsertUser writes profile fields only and returns the stored user.
	UpsertUser(ctx context.Context, user User) (*User, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
	SetUserModel(ctx context.Context, userID int64, model ModelCode) error
	UpdateUsageStats(ctx context.Context, userID int64, stats UsageStats, version int64) (int64, error)
}

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*PurchasedProduct, error)
	ListUserProducts(ctx context.Context, userID int64) ([]PurchasedProduct, error)
	UpdateProductUsage(ctx context.Context, id string, usage ProductUsage, version int64) (int64, error)
}

type PaymentStore interface {
	// RecordPurchase stores the payment and the product it bought together.
	// A payment seen before is not inserted again and inserted is false.
	RecordPurchase(ctx context.Context, p Payment, product *PurchasedProduct) (inserted bool, err error)
}
