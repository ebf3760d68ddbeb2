package messages

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BatmanBruc/gpt-bot/internal/consumption"
	"github.com/BatmanBruc/gpt-bot/internal/i18n"
	"github.com/BatmanBruc/gpt-bot/types"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

// Points renders a usage amount without trailing zeros.
func Points(v float64) string {
	if math.IsInf(v, 1) {
		return "∞"
	}
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func intervalName(lang i18n.Lang, i types.Interval) string {
	switch i {
	case types.Day:
		return i18n.Pick(lang, "в день", "per day")
	case types.Week:
		return i18n.Pick(lang, "в неделю", "per week")
	case types.Month:
		return i18n.Pick(lang, "в месяц", "per month")
	default:
		return string(i)
	}
}

func ModelName(code types.ModelCode) string {
	switch code {
	case types.ModelGPT3:
		return "GPT-3.5"
	case types.ModelGPT4:
		return "GPT-4"
	case types.ModelGPT4o:
		return "GPT-4o"
	case types.ModelDalle3:
		return "DALL·E 3"
	case types.ModelGptokens:
		return "gptokens"
	default:
		return string(code)
	}
}

// Report renders a consumption report, one line per cap.
func Report(lang i18n.Lang, r *consumption.Report) string {
	if r == nil {
		return i18n.Pick(lang, "без ограничений", "unlimited")
	}
	if r.Flat != nil {
		return fmt.Sprintf("%s / %s (%s %s)", Points(r.Flat.Consumed), Points(r.Flat.Cap),
			i18n.Pick(lang, "осталось", "left"), Points(math.Max(r.Flat.Remaining, 0)))
	}
	lines := make([]string, 0, len(r.Intervals))
	for _, l := range r.Intervals {
		lines = append(lines, fmt.Sprintf("%s / %s %s", Points(l.Consumed), Points(l.Cap), intervalName(lang, l.Interval)))
	}
	return strings.Join(lines, ", ")
}

func ErrorDefault(lang i18n.Lang) string {
	return i18n.Pick(lang, "🚫 <b>Ошибка</b>\nПопробуйте ещё раз.", "🚫 <b>Error</b>\nPlease try again.")
}

func ErrorUnsupportedMessageType(lang i18n.Lang) string {
	return i18n.Pick(lang, "🤖 <b>Я так не умею</b>\nОтправьте текст.", "🤖 <b>I can't do that</b>\nSend me text.")
}

func ErrorUnknownCommand(lang i18n.Lang) string {
	return i18n.Pick(lang, "❓ <b>Команда не найдена</b>", "❓ <b>Unknown command</b>")
}

func StartWelcome(lang i18n.Lang) string {
	return i18n.Pick(lang,
		"👋 <b>Привет!</b>\nЯ отвечаю на вопросы и рисую картинки.\n\n"+
			"✍️ Просто напишите сообщение.\n🎨 /image <i>описание</i> — нарисовать картинку.\n📊 /status — лимиты.\n🛒 /products — пакеты.",
		"👋 <b>Hi!</b>\nI answer questions and draw pictures.\n\n"+
			"✍️ Just send a message.\n🎨 /image <i>prompt</i> draws a picture.\n📊 /status shows your limits.\n🛒 /products lists bundles.")
}

func Help(lang i18n.Lang) string {
	return i18n.Pick(lang,
		"ℹ️ <b>Команды</b>\n/status — лимиты\n/products — пакеты\n/model — выбрать модель\n/image — картинка\n/reset — забыть контекст",
		"ℹ️ <b>Commands</b>\n/status limits\n/products bundles\n/model choose model\n/image picture\n/reset forget context")
}

func LimitReached(lang i18n.Lang, model types.ModelCode, r *consumption.Report) string {
	return fmt.Sprintf("⛔️ <b>%s</b>\n%s: %s\n\n%s",
		i18n.Pick(lang, "Лимит исчерпан", "Limit reached"),
		Escape(ModelName(model)), Report(lang, r),
		i18n.Pick(lang, "Купите пакет: /products", "Buy a bundle: /products"))
}

type StatusLine struct {
	Model   types.ModelCode
	Code    types.ModelCode
	Report  *consumption.Report
	Allowed bool
}

func Status(lang i18n.Lang, product *types.PurchasedProduct, expiresAt *time.Time, lines []StatusLine) string {
	var b strings.Builder
	b.WriteString("📊 <b>")
	b.WriteString(i18n.Pick(lang, "Ваш тариф", "Your plan"))
	b.WriteString(":</b> ")
	if product == nil {
		b.WriteString(i18n.Pick(lang, "бесплатный", "free"))
	} else {
		b.WriteString(Escape(product.Product.Name))
		if expiresAt != nil {
			b.WriteString(fmt.Sprintf(" (%s %s)", i18n.Pick(lang, "до", "until"), expiresAt.Format("02.01.2006")))
		}
	}
	b.WriteString("\n")
	for _, l := range lines {
		mark := "✅"
		if !l.Allowed {
			mark = "⛔️"
		}
		name := ModelName(l.Model)
		if l.Code != l.Model {
			name += " → " + ModelName(l.Code)
		}
		b.WriteString(fmt.Sprintf("\n%s %s: %s", mark, Escape(name), Report(lang, l.Report)))
	}
	return b.String()
}

func Price(amount int64, currency string) string {
	if strings.EqualFold(currency, "XTR") {
		return fmt.Sprintf("%d ⭐️", amount)
	}
	return fmt.Sprintf("%s %s", strconv.FormatFloat(float64(amount)/100, 'f', -1, 64), currency)
}

func ProductsHeader(lang i18n.Lang) string {
	return i18n.Pick(lang, "🛒 <b>Пакеты</b>\nВыберите пакет:", "🛒 <b>Bundles</b>\nChoose a bundle:")
}

func ProductButton(p types.Product) string {
	return fmt.Sprintf("%s · %s", p.Name, Price(p.Price, p.Currency))
}

func ProductBought(lang i18n.Lang, p *types.PurchasedProduct) string {
	return fmt.Sprintf("🎉 <b>%s</b>\n%s", i18n.Pick(lang, "Оплата прошла", "Payment received"), Escape(p.Product.Name))
}

func PaymentAlreadyProcessed(lang i18n.Lang) string {
	return i18n.Pick(lang, "ℹ️ Этот платёж уже учтён.", "ℹ️ This payment was already processed.")
}

func PaymentUnavailable(lang i18n.Lang) string {
	return i18n.Pick(lang, "🚫 Оплата сейчас недоступна.", "🚫 Payments are unavailable right now.")
}

func InvalidPayment(lang i18n.Lang) string {
	return i18n.Pick(lang, "Некорректный платеж", "Invalid payment")
}

func UnknownProduct(lang i18n.Lang) string {
	return i18n.Pick(lang, "❓ Такого пакета нет. /products", "❓ No such bundle. /products")
}

func Waiting(lang i18n.Lang) string {
	return i18n.Pick(lang, "⏳ Дождитесь ответа на предыдущий запрос.", "⏳ Please wait for the previous answer.")
}

func QueueQueued(lang i18n.Lang, position int) string {
	return fmt.Sprintf("⏳ <b>%s:</b> %d", i18n.Pick(lang, "В очереди", "Queued"), position)
}

func QueueStarted(lang i18n.Lang) string {
	return i18n.Pick(lang, "⚙️ <b>Думаю...</b>", "⚙️ <b>Thinking...</b>")
}

func LLMError(lang i18n.Lang, err error) string {
	msg := i18n.Pick(lang, "🚫 <b>Модель не ответила</b>", "🚫 <b>The model did not answer</b>")
	if err != nil {
		msg += "\n\n" + fmt.Sprintf("<code>%s</code>", Escape(err.Error()))
	}
	return msg
}

func ModelChoose(lang i18n.Lang, current types.ModelCode) string {
	return fmt.Sprintf("🧠 %s: <b>%s</b>", i18n.Pick(lang, "Текущая модель", "Current model"), Escape(ModelName(current)))
}

func ModelChanged(lang i18n.Lang, model types.ModelCode) string {
	return fmt.Sprintf("✅ %s: <b>%s</b>", i18n.Pick(lang, "Модель", "Model"), Escape(ModelName(model)))
}

func ModelUnknown(lang i18n.Lang) string {
	return i18n.Pick(lang, "❓ Такой модели нет.", "❓ No such model.")
}

func ContextReset(lang i18n.Lang) string {
	return i18n.Pick(lang, "🧹 Контекст очищен.", "🧹 Context cleared.")
}

func ImagePromptMissing(lang i18n.Lang) string {
	return i18n.Pick(lang, "🎨 Напишите описание после /image.", "🎨 Add a prompt after /image.")
}
