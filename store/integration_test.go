package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/gpt-bot/types"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	userID := time.Now().UnixNano() % 1_000_000_000
	u, err := s.UpsertUser(ctx, types.User{ID: userID, ChatID: userID, LanguageCode: "en"})
	require.NoError(t, err)
	assert.Equal(t, types.ModelGPT3, u.Model)

	stats := types.UsageStats{types.ModelGPT3: {ModelUsage: types.ModelUsage{Count: 2}}}
	v, err := s.UpdateUsageStats(ctx, userID, stats, u.Version)
	require.NoError(t, err)
	_, err = s.UpdateUsageStats(ctx, userID, stats, u.Version)
	assert.ErrorIs(t, err, types.ErrConflict)

	got, err := s.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, v, got.Version)
	assert.Equal(t, 2.0, got.UsageStats.Model(types.ModelGPT3).Count)

	paymentID := fmt.Sprintf("test-%d", userID)
	p := &types.PurchasedProduct{
		ID:          uuid.NewString(),
		UserID:      userID,
		Product:     types.Product{Code: "gptokens_20", Plan: types.PlanGptokens20},
		PaymentID:   paymentID,
		PurchasedAt: time.Now().UTC().Truncate(time.Millisecond),
		Usage:       types.ProductUsage{},
	}
	ok, err := s.RecordPurchase(ctx, types.Payment{UserID: userID, ExternalID: paymentID, ProductCode: "gptokens_20"}, p)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RecordPurchase(ctx, types.Payment{UserID: userID, ExternalID: paymentID, ProductCode: "gptokens_20"}, p)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListUserProducts(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestRedisUserStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "", 0, "gpt_bot_test_"+uuid.NewString())
	require.NoError(t, err)
	defer client.Close()

	s := NewRedisUserStore(client, 1, 2)
	require.NoError(t, s.AppendContext(ctx, 1,
		types.ChatMessage{Role: "user", Content: "a"},
		types.ChatMessage{Role: "assistant", Content: "b"},
		types.ChatMessage{Role: "user", Content: "c"},
	))
	msgs, err := s.GetContext(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content)

	ok, err := s.SetWaiting(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SetWaiting(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.ClearWaiting(ctx, 1))
	require.NoError(t, s.ResetContext(ctx, 1))
}
