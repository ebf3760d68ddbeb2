package middleware

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/BatmanBruc/gpt-bot/internal/contextkeys"
	"github.com/BatmanBruc/gpt-bot/internal/i18n"
	"github.com/BatmanBruc/gpt-bot/internal/messages"
	"github.com/BatmanBruc/gpt-bot/types"
)

type Middlewares struct {
	store  types.UserStore
	logger zerolog.Logger
}

func NewMessageAnalyzer(store types.UserStore, logger zerolog.Logger) *Middlewares {
	return &Middlewares{
		store:  store,
		logger: logger,
	}
}

// From returns the sender and chat of an update. chatID falls back to the
// user for updates that carry no chat, such as pre-checkout queries.
func From(update *models.Update) (user *models.User, chatID int64) {
	switch {
	case update == nil:
		return nil, 0
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From, update.Message.Chat.ID
	case update.CallbackQuery != nil:
		return &update.CallbackQuery.From, getChatIDFromMaybeInaccessibleMessage(update.CallbackQuery.Message)
	case update.PreCheckoutQuery != nil && update.PreCheckoutQuery.From != nil:
		return update.PreCheckoutQuery.From, update.PreCheckoutQuery.From.ID
	default:
		return nil, 0
	}
}

// EnsureUserMiddleware upserts the sender and puts the stored user and its
// language into the context.
func (m *Middlewares) EnsureUserMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		from, chatID := From(update)
		if from == nil || from.ID == 0 || chatID == 0 {
			return
		}
		lang := i18n.FromLanguageCode(from.LanguageCode)

		user, err := m.store.UpsertUser(ctx, types.User{
			ID:           from.ID,
			ChatID:       chatID,
			Username:     from.Username,
			FirstName:    from.FirstName,
			LastName:     from.LastName,
			LanguageCode: from.LanguageCode,
		})
		if err != nil {
			m.logger.Error().Err(err).Int64("user_id", from.ID).Msg("upsert user")
			_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    chatID,
				Text:      messages.ErrorDefault(lang),
				ParseMode: messages.ParseModeHTML,
			})
			return
		}

		ctx = contextkeys.WithUser(ctx, user)
		ctx = contextkeys.WithLang(ctx, lang)
		next(ctx, b, update)
	}
}

func getChatIDFromMaybeInaccessibleMessage(m models.MaybeInaccessibleMessage) int64 {
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}

func (ma *Middlewares) AnalyzeMessageMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.CallbackQuery != nil && update.CallbackQuery.Data != "" {
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
			ctx = contextkeys.WithCallbackData(ctx, update.CallbackQuery.Data)
			next(ctx, b, update)
			return
		}
		next(contextkeys.WithMessageType(ctx, Classify(update)), b, update)
	}
}

// Classify maps an update to the message type handlers dispatch on.
func Classify(update *models.Update) contextkeys.MessageType {
	switch {
	case update == nil:
		return contextkeys.MessageTypeUnknown
	case update.PreCheckoutQuery != nil:
		return contextkeys.MessageTypePreCheckout
	case update.CallbackQuery != nil && update.CallbackQuery.Data != "":
		return contextkeys.MessageTypeClickButton
	case update.Message == nil:
		return contextkeys.MessageTypeUnknown
	}

	msg := update.Message
	if msg.SuccessfulPayment != nil {
		return contextkeys.MessageTypePayment
	}
	if strings.HasPrefix(msg.Text, "/") {
		return contextkeys.MessageTypeCommand
	}
	if len(msg.Photo) > 0 || msg.Video != nil || msg.Document != nil || msg.Audio != nil ||
		msg.Voice != nil || msg.Sticker != nil || msg.VideoNote != nil {
		return contextkeys.MessageTypeMedia
	}
	if strings.TrimSpace(msg.Text) != "" {
		return contextkeys.MessageTypeText
	}
	return contextkeys.MessageTypeUnknown
}
