package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/rs/zerolog"

	"github.com/BatmanBruc/gpt-bot/internal/i18n"
	"github.com/BatmanBruc/gpt-bot/internal/messages"
	"github.com/BatmanBruc/gpt-bot/types"
)

// PurchaseNotifier announces products bought through the payment webhook.
type PurchaseNotifier struct {
	bot    *bot.Bot
	users  types.UserStore
	logger zerolog.Logger
}

func NewPurchaseNotifier(b *bot.Bot, users types.UserStore, logger zerolog.Logger) *PurchaseNotifier {
	return &PurchaseNotifier{bot: b, users: users, logger: logger}
}

func (n *PurchaseNotifier) NotifyPurchase(ctx context.Context, p *types.PurchasedProduct) {
	user, err := n.users.GetUser(ctx, p.UserID)
	if err != nil {
		n.logger.Warn().Err(err).Int64("user_id", p.UserID).Msg("notify purchase: get user")
		return
	}
	lang := i18n.ForUser(user)
	_, err = n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    user.ChatID,
		Text:      messages.ProductBought(lang, p),
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		n.logger.Warn().Err(err).Int64("user_id", p.UserID).Msg("notify purchase")
	}
}
