package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/contextkeys"
	"github.com/BatmanBruc/gpt-bot/internal/messages"
	"github.com/BatmanBruc/gpt-bot/internal/quota"
	"github.com/BatmanBruc/gpt-bot/types"
)

const currencyStars = "XTR"

var errNotPurchasable = errors.New("product is not for sale")

// purchasable returns the catalog product an invoice payload names. Disabled
// plans are not sold.
func purchasable(payload string) (types.Product, error) {
	code := types.ProductCode(strings.TrimSpace(payload))
	p, ok := catalog.Purchasable(code)
	if !ok {
		return types.Product{}, fmt.Errorf("%q: %w", code, errNotPurchasable)
	}
	return p, nil
}

// validatePayment checks a pre-checkout or a completed payment against the
// catalog price.
func validatePayment(payload, currency string, amount int) (types.Product, error) {
	p, err := purchasable(payload)
	if err != nil {
		return p, err
	}
	if !strings.EqualFold(strings.TrimSpace(currency), p.Currency) {
		return p, fmt.Errorf("currency %q, want %q", currency, p.Currency)
	}
	if int64(amount) != p.Price {
		return p, fmt.Errorf("amount %d, want %d", amount, p.Price)
	}
	return p, nil
}

func provider(currency string) string {
	if strings.EqualFold(strings.TrimSpace(currency), currencyStars) {
		return "stars"
	}
	return "yookassa"
}

func (bh *Handlers) sendInvoice(ctx context.Context, b *bot.Bot, user *types.User, code types.ProductCode) {
	lang := contextkeys.GetLang(ctx)
	p, err := purchasable(string(code))
	if err != nil || p.Price <= 0 {
		bh.reply(ctx, b, user.ChatID, messages.UnknownProduct(lang))
		return
	}

	token := ""
	if !strings.EqualFold(p.Currency, currencyStars) {
		token = strings.TrimSpace(bh.opts.ProviderToken)
		if token == "" {
			bh.reply(ctx, b, user.ChatID, messages.PaymentUnavailable(lang))
			return
		}
	}

	_, err = b.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:         user.ChatID,
		Title:          p.Name,
		Description:    p.Name,
		Payload:        string(p.Code),
		ProviderToken:  token,
		Currency:       p.Currency,
		Prices:         []models.LabeledPrice{{Label: p.Name, Amount: int(p.Price)}},
		StartParameter: string(p.Code),
	})
	if err != nil {
		bh.logger.Error().Err(err).Str("product", string(p.Code)).Msg("send invoice")
		bh.reply(ctx, b, user.ChatID, messages.PaymentUnavailable(lang))
	}
}

func (bh *Handlers) HandlePreCheckout(ctx context.Context, b *bot.Bot, update *models.Update, user *types.User) {
	if update == nil || update.PreCheckoutQuery == nil {
		return
	}
	lang := contextkeys.GetLang(ctx)
	q := update.PreCheckoutQuery
	_, err := validatePayment(q.InvoicePayload, q.Currency, q.TotalAmount)
	if err != nil {
		bh.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("pre-checkout rejected")
	}

	errMsg := ""
	if err != nil {
		errMsg = messages.InvalidPayment(lang)
	}
	_, _ = b.AnswerPreCheckoutQuery(ctx, &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: q.ID,
		OK:                 err == nil,
		ErrorMessage:       errMsg,
	})
}

func (bh *Handlers) HandleSuccessfulPayment(ctx context.Context, b *bot.Bot, update *models.Update, user *types.User) {
	if update == nil || update.Message == nil || update.Message.SuccessfulPayment == nil {
		return
	}
	lang := contextkeys.GetLang(ctx)
	p := update.Message.SuccessfulPayment

	product, err := validatePayment(p.InvoicePayload, p.Currency, p.TotalAmount)
	if err != nil {
		// Telegram already charged the user; keep a trace for manual handling.
		bh.logger.Error().Err(err).Int64("user_id", user.ID).Str("charge_id", p.TelegramPaymentChargeID).Msg("payment does not match catalog")
		bh.reply(ctx, b, user.ChatID, messages.ErrorDefault(lang))
		return
	}

	bought, inserted, err := bh.quota.Purchase(ctx, quota.PurchaseRequest{
		UserID:      user.ID,
		ProductCode: product.Code,
		PaymentID:   strings.TrimSpace(p.TelegramPaymentChargeID),
		Provider:    provider(p.Currency),
		Currency:    strings.TrimSpace(p.Currency),
		Amount:      int64(p.TotalAmount),
	})
	if err != nil {
		bh.logger.Error().Err(err).Int64("user_id", user.ID).Msg("purchase")
		bh.reply(ctx, b, user.ChatID, messages.ErrorDefault(lang))
		return
	}
	if !inserted {
		bh.reply(ctx, b, user.ChatID, messages.PaymentAlreadyProcessed(lang))
		return
	}
	bh.reply(ctx, b, user.ChatID, messages.ProductBought(lang, bought))
}
