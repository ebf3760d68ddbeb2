package types

import (
	"context"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Job struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	Kind      ModelKind `json:"kind"`
	Model     ModelCode `json:"model"`
	Prompt    string    `json:"prompt"`
	Size      string    `json:"size,omitempty"`
	Quality   string    `json:"quality,omitempty"`
	Lang      string    `json:"lang,omitempty"`
	State     JobState  `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextStore keeps the recent dialog of a user for chat completions.
type ContextStore interface {
	GetContext(ctx context.Context, userID int64) ([]ChatMessage, error)
	AppendContext(ctx context.Context, userID int64, msgs ...ChatMessage) error
	ResetContext(ctx context.Context, userID int64) error
}

// WaitingStore marks a user as having a request in flight. The mark expires
// on its own so a crashed request does not block the user forever.
type WaitingStore interface {
	SetWaiting(ctx context.Context, userID int64, ttl time.Duration) (bool, error)
	ClearWaiting(ctx context.Context, userID int64) error
}
