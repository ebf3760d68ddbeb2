package handlers

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BatmanBruc/gpt-bot/internal/contextkeys"
	"github.com/BatmanBruc/gpt-bot/internal/messages"
	"github.com/BatmanBruc/gpt-bot/internal/middleware"
	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/internal/quota"
	"github.com/BatmanBruc/gpt-bot/types"
)

type JobEnqueuer interface {
	Enqueue(job *types.Job, messageID int) int
}

type Options struct {
	// WaitingTTL bounds how long a user stays blocked by a request that
	// never finished.
	WaitingTTL    time.Duration
	ProviderToken string
}

type Handlers struct {
	users     types.UserStore
	contexts  types.ContextStore
	waiting   types.WaitingStore
	quota     *quota.Service
	scheduler JobEnqueuer
	logger    zerolog.Logger
	opts      Options
}

func NewHandlers(users types.UserStore, contexts types.ContextStore, waiting types.WaitingStore,
	q *quota.Service, scheduler JobEnqueuer, logger zerolog.Logger, opts Options) *Handlers {
	if opts.WaitingTTL <= 0 {
		opts.WaitingTTL = 5 * time.Minute
	}
	return &Handlers{
		users:     users,
		contexts:  contexts,
		waiting:   waiting,
		quota:     q,
		scheduler: scheduler,
		logger:    logger,
		opts:      opts,
	}
}

func (bh *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	_, chatID := middleware.From(update)
	lang := contextkeys.GetLang(ctx)

	user, ok := contextkeys.GetUser(ctx)
	if !ok {
		bh.logger.Error().Msg("user not found in context")
		bh.reply(ctx, b, chatID, messages.ErrorDefault(lang))
		return
	}

	messageType, _ := contextkeys.GetMessageType(ctx)
	switch messageType {
	case contextkeys.MessageTypeCommand:
		bh.HandleCommand(ctx, b, update, user)
	case contextkeys.MessageTypeText:
		bh.HandleText(ctx, b, update, user)
	case contextkeys.MessageTypeClickButton:
		bh.HandleClickButton(ctx, b, update, user)
	case contextkeys.MessageTypePreCheckout:
		bh.HandlePreCheckout(ctx, b, update, user)
	case contextkeys.MessageTypePayment:
		bh.HandleSuccessfulPayment(ctx, b, update, user)
	default:
		bh.reply(ctx, b, chatID, messages.ErrorUnsupportedMessageType(lang))
	}
}

func (bh *Handlers) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) *models.Message {
	if chatID == 0 {
		return nil
	}
	msg, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		bh.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send message")
		return nil
	}
	return msg
}

func (bh *Handlers) HandleText(ctx context.Context, b *bot.Bot, update *models.Update, user *types.User) {
	model := user.Model
	if m, ok := pricing.Lookup(model); !ok || m.Kind != types.KindText {
		model = types.ModelGPT3
	}
	bh.submit(ctx, b, user, &types.Job{
		Kind:   types.KindText,
		Model:  model,
		Prompt: update.Message.Text,
	})
}

// submit marks the user as waiting and queues the job. A request that the
// quota already refuses never enters the queue.
func (bh *Handlers) submit(ctx context.Context, b *bot.Bot, user *types.User, job *types.Job) {
	lang := contextkeys.GetLang(ctx)

	ok, err := bh.waiting.SetWaiting(ctx, user.ID, bh.opts.WaitingTTL)
	if err != nil {
		bh.logger.Error().Err(err).Int64("user_id", user.ID).Msg("set waiting")
		bh.reply(ctx, b, user.ChatID, messages.ErrorDefault(lang))
		return
	}
	if !ok {
		bh.reply(ctx, b, user.ChatID, messages.Waiting(lang))
		return
	}

	op := pricing.Operation{Model: job.Model, Image: pricing.ImageSettings{Size: job.Size, Quality: job.Quality}}
	decision, err := bh.quota.Check(ctx, user.ID, op)
	if err != nil || !decision.Allowed {
		if clearErr := bh.waiting.ClearWaiting(ctx, user.ID); clearErr != nil {
			bh.logger.Warn().Err(clearErr).Int64("user_id", user.ID).Msg("clear waiting")
		}
		if err != nil {
			bh.logger.Error().Err(err).Int64("user_id", user.ID).Msg("quota check")
			bh.reply(ctx, b, user.ChatID, messages.ErrorDefault(lang))
			return
		}
		bh.reply(ctx, b, user.ChatID, messages.LimitReached(lang, job.Model, decision.Report))
		return
	}

	job.ID = uuid.NewString()
	job.UserID = user.ID
	job.ChatID = user.ChatID
	job.Lang = string(lang)
	job.CreatedAt = time.Now().UTC()

	messageID := 0
	if status := bh.reply(ctx, b, user.ChatID, messages.QueueStarted(lang)); status != nil {
		messageID = status.ID
	}
	position := bh.scheduler.Enqueue(job, messageID)
	if position > 0 && messageID != 0 {
		_, _ = b.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    user.ChatID,
			MessageID: messageID,
			Text:      messages.QueueQueued(lang, position),
			ParseMode: messages.ParseModeHTML,
		})
	}
	bh.logger.Debug().Str("job_id", job.ID).Int64("user_id", user.ID).Str("model", string(job.Model)).Int("position", position).Msg("job queued")
}
