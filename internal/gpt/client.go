// Package gpt talks to an OpenAI compatible API. Usage reported by the
// provider is ignored; the bot meters in its own usage points.
package gpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/types"
)

// Error is a failed provider call. Message is the provider's own text.
type Error struct {
	Status  int
	Type    string
	Message string
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("gpt: %d %s: %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("gpt: %d: %s", e.Status, e.Message)
}

// IsTimeout reports whether err came from the request deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

type Completion struct {
	Content string
}

type Image struct {
	URL           string
	RevisedPrompt string
}

type Client interface {
	Complete(ctx context.Context, messages []types.ChatMessage, model pricing.Model) (*Completion, error)
	GenerateImage(ctx context.Context, prompt string, model pricing.Model, settings pricing.ImageSettings) (*Image, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type HTTPClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewHTTPClient(cfg Config, logger zerolog.Logger) *HTTPClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPClient{
		apiKey:  cfg.APIKey,
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []types.ChatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message types.ChatMessage `json:"message"`
	} `json:"choices"`
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *HTTPClient) Complete(ctx context.Context, messages []types.ChatMessage, model pricing.Model) (*Completion, error) {
	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", chatRequest{Model: model.ID, Messages: messages}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Status: http.StatusOK, Message: "empty completion"}
	}
	return &Completion{Content: resp.Choices[0].Message.Content}, nil
}

func (c *HTTPClient) GenerateImage(ctx context.Context, prompt string, model pricing.Model, settings pricing.ImageSettings) (*Image, error) {
	if settings.Size == "" || settings.Quality == "" {
		def := pricing.DefaultImageSettings()
		if settings.Size == "" {
			settings.Size = def.Size
		}
		if settings.Quality == "" {
			settings.Quality = def.Quality
		}
	}
	req := imageRequest{Model: model.ID, Prompt: prompt, N: 1, Size: settings.Size, Quality: settings.Quality}
	var resp imageResponse
	if err := c.post(ctx, "/images/generations", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Status: http.StatusOK, Message: "empty image response"}
	}
	return &Image{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gpt request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("gpt read %s: %w", path, err)
	}
	c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("took", time.Since(started)).Msg("gpt call")

	if resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error.Message != "" {
			return &Error{Status: resp.StatusCode, Type: e.Error.Type, Message: e.Error.Message}
		}
		return &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gpt decode %s: %w", path, err)
	}
	return nil
}
