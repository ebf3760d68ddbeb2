package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BatmanBruc/gpt-bot/types"
)

// MemoryStore keeps every entity in process memory. It is used for local
// runs without Postgres/Redis and in tests. Documents are copied on the way
// in and out so callers never share maps with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]types.User
	products map[string]types.PurchasedProduct
	payments map[string]types.Payment
	contexts map[int64][]types.ChatMessage
	waiting  map[int64]time.Time

	contextSize int
	now         func() time.Time
}

func NewMemoryStore(contextSize int) *MemoryStore {
	if contextSize <= 0 {
		contextSize = 10
	}
	return &MemoryStore{
		users:       make(map[int64]types.User),
		products:    make(map[string]types.PurchasedProduct),
		payments:    make(map[string]types.Payment),
		contexts:    make(map[int64][]types.ChatMessage),
		waiting:     make(map[int64]time.Time),
		contextSize: contextSize,
		now:         time.Now,
	}
}

func cloneStats(in types.UsageStats) types.UsageStats {
	out := make(types.UsageStats, len(in))
	for k, v := range in {
		out[k] = types.UserModelUsage{ModelUsage: v.ModelUsage.Clone(), LastUsedAt: v.LastUsedAt}
	}
	return out
}

func cloneProductUsage(in types.ProductUsage) types.ProductUsage {
	out := make(types.ProductUsage, len(in))
	for k, v := range in {
		out[k] = types.ProductModelUsage{ModelUsage: v.ModelUsage.Clone()}
	}
	return out
}

func (s *MemoryStore) UpsertUser(_ context.Context, user types.User) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cur, ok := s.users[user.ID]
	if !ok {
		cur = types.User{ID: user.ID, Model: types.ModelGPT3, UsageStats: types.UsageStats{}, CreatedAt: now}
		if user.Model != "" {
			cur.Model = user.Model
		}
	}
	cur.ChatID = user.ChatID
	cur.Username = user.Username
	cur.FirstName = user.FirstName
	cur.LastName = user.LastName
	cur.LanguageCode = user.LanguageCode
	cur.UpdatedAt = now
	s.users[user.ID] = cur

	out := cur
	out.UsageStats = cloneStats(cur.UsageStats)
	return &out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID int64) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, types.ErrNotFound
	}
	u.UsageStats = cloneStats(u.UsageStats)
	return &u, nil
}

func (s *MemoryStore) SetUserModel(_ context.Context, userID int64, model types.ModelCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return types.ErrNotFound
	}
	u.Model = model
	u.UpdatedAt = s.now()
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) UpdateUsageStats(_ context.Context, userID int64, stats types.UsageStats, version int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, types.ErrNotFound
	}
	if version >= 0 && u.Version != version {
		return 0, types.ErrConflict
	}
	u.UsageStats = cloneStats(stats)
	u.Version++
	u.UpdatedAt = s.now()
	s.users[userID] = u
	return u.Version, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*types.PurchasedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	p.Usage = cloneProductUsage(p.Usage)
	return &p, nil
}

func (s *MemoryStore) ListUserProducts(_ context.Context, userID int64) ([]types.PurchasedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.PurchasedProduct
	for _, p := range s.products {
		if p.UserID != userID {
			continue
		}
		p.Usage = cloneProductUsage(p.Usage)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.After(out[j].PurchasedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateProductUsage(_ context.Context, id string, usage types.ProductUsage, version int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return 0, types.ErrNotFound
	}
	if version >= 0 && p.Version != version {
		return 0, types.ErrConflict
	}
	p.Usage = cloneProductUsage(usage)
	p.Version++
	s.products[id] = p
	return p.Version, nil
}

func (s *MemoryStore) RecordPurchase(_ context.Context, pay types.Payment, product *types.PurchasedProduct) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.payments[pay.ExternalID]; seen {
		return false, nil
	}
	s.payments[pay.ExternalID] = pay

	if _, ok := s.users[product.UserID]; !ok {
		now := s.now()
		s.users[product.UserID] = types.User{
			ID:         product.UserID,
			ChatID:     product.UserID,
			Model:      types.ModelGPT3,
			UsageStats: types.UsageStats{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	p := *product
	p.Usage = cloneProductUsage(product.Usage)
	s.products[p.ID] = p
	return true, nil
}

func (s *MemoryStore) GetContext(_ context.Context, userID int64) ([]types.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ChatMessage, len(s.contexts[userID]))
	copy(out, s.contexts[userID])
	return out, nil
}

func (s *MemoryStore) AppendContext(_ context.Context, userID int64, msgs ...types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := append(s.contexts[userID], msgs...)
	if len(cur) > s.contextSize {
		cur = append([]types.ChatMessage(nil), cur[len(cur)-s.contextSize:]...)
	}
	s.contexts[userID] = cur
	return nil
}

func (s *MemoryStore) ResetContext(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.contexts, userID)
	return nil
}

func (s *MemoryStore) SetWaiting(_ context.Context, userID int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.waiting[userID]; ok && now.Before(until) {
		return false, nil
	}
	s.waiting[userID] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) ClearWaiting(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.waiting, userID)
	return nil
}
