package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/gpt-bot/internal/contextkeys"
	"github.com/BatmanBruc/gpt-bot/types"
)

func (bh *Handlers) HandleClickButton(ctx context.Context, b *bot.Bot, update *models.Update, user *types.User) {
	if update.CallbackQuery == nil {
		return
	}
	data, _ := contextkeys.GetCallbackData(ctx)
	if data == "" {
		data = update.CallbackQuery.Data
	}
	data = strings.TrimSpace(data)

	switch {
	case strings.HasPrefix(data, callbackBuy):
		bh.answerCallback(ctx, b, update.CallbackQuery.ID)
		bh.sendInvoice(ctx, b, user, types.ProductCode(strings.TrimPrefix(data, callbackBuy)))
	case strings.HasPrefix(data, callbackModel):
		bh.answerCallback(ctx, b, update.CallbackQuery.ID)
		bh.setModel(ctx, b, user, types.ModelCode(strings.TrimPrefix(data, callbackModel)))
	default:
		bh.answerCallback(ctx, b, update.CallbackQuery.ID)
	}
}

func (bh *Handlers) answerCallback(ctx context.Context, b *bot.Bot, id string) {
	_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: id,
	})
	if err != nil {
		bh.logger.Debug().Err(err).Msg("answer callback")
	}
}
