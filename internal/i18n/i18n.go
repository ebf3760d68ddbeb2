package i18n

import (
	"strings"

	"github.com/BatmanBruc/gpt-bot/types"
)

type Lang string

const (
	RU Lang = "ru"
	EN Lang = "en"
)

func FromLanguageCode(code string) Lang {
	code = strings.ToLower(strings.TrimSpace(code))
	if strings.HasPrefix(code, "ru") || strings.HasPrefix(code, "uk") || strings.HasPrefix(code, "be") {
		return RU
	}
	return EN
}

func Parse(s string) Lang {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ru":
		return RU
	default:
		return EN
	}
}

func ForUser(u *types.User) Lang {
	if u == nil {
		return EN
	}
	return FromLanguageCode(u.LanguageCode)
}

// Pick returns ru for RU and en otherwise.
func Pick(lang Lang, ru, en string) string {
	if lang == RU {
		return ru
	}
	return en
}
