package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/contextkeys"
	"github.com/BatmanBruc/gpt-bot/internal/messages"
	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/internal/products"
	"github.com/BatmanBruc/gpt-bot/internal/utils"
	"github.com/BatmanBruc/gpt-bot/types"
)

const (
	callbackBuy   = "buy:"
	callbackModel = "model:"
)

// parseCommand splits "/cmd@bot args" into "cmd" and "args".
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, args, _ := strings.Cut(text[1:], " ")
	if i := strings.Index(head, "@"); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), strings.TrimSpace(args)
}

// parseImageArgs reads optional "hd" and "wide"/"tall" flags in front of
// the prompt.
func parseImageArgs(args string) (pricing.ImageSettings, string) {
	settings := pricing.DefaultImageSettings()
	fields := strings.Fields(args)
	i := 0
	for ; i < len(fields); i++ {
		switch strings.ToLower(fields[i]) {
		case "hd":
			settings.Quality = pricing.QualityHD
		case "wide", "landscape":
			settings.Size = pricing.SizeLandscape
		case "tall", "portrait":
			settings.Size = pricing.SizePortrait
		default:
			return settings, strings.Join(fields[i:], " ")
		}
	}
	return settings, ""
}

func (bh *Handlers) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update, user *types.User) {
	lang := contextkeys.GetLang(ctx)
	cmd, args := parseCommand(update.Message.Text)

	switch cmd {
	case "start":
		bh.reply(ctx, b, user.ChatID, messages.StartWelcome(lang))
	case "help":
		bh.reply(ctx, b, user.ChatID, messages.Help(lang))
	case "status":
		bh.sendStatus(ctx, b, user)
	case "products":
		bh.sendProducts(ctx, b, user)
	case "buy":
		bh.sendInvoice(ctx, b, user, types.ProductCode(args))
	case "image":
		settings, prompt := parseImageArgs(args)
		if prompt == "" {
			bh.reply(ctx, b, user.ChatID, messages.ImagePromptMissing(lang))
			return
		}
		bh.submit(ctx, b, user, &types.Job{
			Kind:    types.KindImage,
			Model:   types.ModelDalle3,
			Prompt:  prompt,
			Size:    settings.Size,
			Quality: settings.Quality,
		})
	case "reset":
		if err := bh.contexts.ResetContext(ctx, user.ID); err != nil {
			bh.logger.Error().Err(err).Int64("user_id", user.ID).Msg("reset context")
			bh.reply(ctx, b, user.ChatID, messages.ErrorDefault(lang))
			return
		}
		bh.reply(ctx, b, user.ChatID, messages.ContextReset(lang))
	case "model":
		if args == "" {
			bh.sendModels(ctx, b, user)
			return
		}
		bh.setModel(ctx, b, user, types.ModelCode(strings.ToLower(args)))
	default:
		bh.reply(ctx, b, user.ChatID, messages.ErrorUnknownCommand(lang))
	}
}

func (bh *Handlers) sendStatus(ctx context.Context, b *bot.Bot, user *types.User) {
	lang := contextkeys.GetLang(ctx)
	st, err := bh.quota.Status(ctx, user.ID)
	if err != nil {
		bh.logger.Error().Err(err).Int64("user_id", user.ID).Msg("quota status")
		bh.reply(ctx, b, user.ChatID, messages.ErrorDefault(lang))
		return
	}

	lines := make([]messages.StatusLine, 0, len(st.Models))
	for _, m := range st.Models {
		lines = append(lines, messages.StatusLine{
			Model:   m.Model.Code,
			Code:    m.Scope.UsageCode,
			Report:  m.Report,
			Allowed: m.Allowed,
		})
	}
	var expires *time.Time
	if st.Product != nil {
		if at, ok := products.ExpiresAt(*st.Product); ok {
			expires = &at
		}
	}
	bh.reply(ctx, b, user.ChatID, messages.Status(lang, st.Product, expires, lines))
}

func (bh *Handlers) sendProducts(ctx context.Context, b *bot.Bot, user *types.User) {
	lang := contextkeys.GetLang(ctx)
	list := catalog.PurchasableProducts()
	buttons := make([]utils.Button, 0, len(list))
	for _, p := range list {
		buttons = append(buttons, utils.Button{Text: messages.ProductButton(p), CallbackData: callbackBuy + string(p.Code)})
	}
	kb := utils.BuildInlineKeyboard(buttons, 1)
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      user.ChatID,
		Text:        messages.ProductsHeader(lang),
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: &kb,
	})
	if err != nil {
		bh.logger.Warn().Err(err).Int64("chat_id", user.ChatID).Msg("send products")
	}
}

func (bh *Handlers) sendModels(ctx context.Context, b *bot.Bot, user *types.User) {
	lang := contextkeys.GetLang(ctx)
	buttons := make([]utils.Button, 0, 3)
	for _, m := range pricing.Models() {
		if m.Kind != types.KindText {
			continue
		}
		buttons = append(buttons, utils.Button{Text: messages.ModelName(m.Code), CallbackData: callbackModel + string(m.Code)})
	}
	current := user.Model
	if current == "" {
		current = types.ModelGPT3
	}
	kb := utils.BuildInlineKeyboard(buttons, 3)
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      user.ChatID,
		Text:        messages.ModelChoose(lang, current),
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: &kb,
	})
	if err != nil {
		bh.logger.Warn().Err(err).Int64("chat_id", user.ChatID).Msg("send models")
	}
}

func (bh *Handlers) setModel(ctx context.Context, b *bot.Bot, user *types.User, code types.ModelCode) {
	lang := contextkeys.GetLang(ctx)
	m, ok := pricing.Lookup(code)
	if !ok || m.Kind != types.KindText {
		bh.reply(ctx, b, user.ChatID, messages.ModelUnknown(lang))
		return
	}
	if err := bh.users.SetUserModel(ctx, user.ID, code); err != nil {
		bh.logger.Error().Err(err).Int64("user_id", user.ID).Msg("set model")
		bh.reply(ctx, b, user.ChatID, messages.ErrorDefault(lang))
		return
	}
	bh.reply(ctx, b, user.ChatID, messages.ModelChanged(lang, code))
}
