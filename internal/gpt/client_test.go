package gpt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/types"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/"}, zerolog.Nop())
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-3.5-turbo", req.Model)
		assert.Len(t, req.Messages, 2)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"total_tokens":12}}`))
	})

	model, _ := pricing.Lookup(types.ModelGPT3)
	out, err := c.Complete(context.Background(), []types.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, model)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Content)
}

func TestGenerateImage_DefaultSettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dall-e-3", req.Model)
		assert.Equal(t, pricing.SizeSquare, req.Size)
		assert.Equal(t, pricing.QualityStandard, req.Quality)
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img/1.png","revised_prompt":"a cat"}]}`))
	})

	model, _ := pricing.Lookup(types.ModelDalle3)
	img, err := c.GenerateImage(context.Background(), "cat", model, pricing.ImageSettings{})
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.png", img.URL)
	assert.Equal(t, "a cat", img.RevisedPrompt)
}

func TestProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	})

	model, _ := pricing.Lookup(types.ModelGPT4)
	_, err := c.Complete(context.Background(), nil, model)
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusTooManyRequests, gerr.Status)
	assert.Equal(t, "Rate limit reached", gerr.Message)
}

func TestEmptyCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	model, _ := pricing.Lookup(types.ModelGPT3)
	_, err := c.Complete(context.Background(), nil, model)
	var gerr *Error
	assert.True(t, errors.As(err, &gerr))
}
