package handlers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/gpt-bot/internal/pricing"
	"github.com/BatmanBruc/gpt-bot/types"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		cmd  string
		args string
	}{
		{"/start", "start", ""},
		{"/Status", "status", ""},
		{"/buy premium_30d", "buy", "premium_30d"},
		{"/image@gpt_bot  a red fox ", "image", "a red fox"},
		{"hello", "", "hello"},
	}
	for _, tt := range tests {
		cmd, args := parseCommand(tt.in)
		assert.Equal(t, tt.cmd, cmd, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
}

func TestParseImageArgs(t *testing.T) {
	s, prompt := parseImageArgs("a cat")
	assert.Equal(t, pricing.DefaultImageSettings(), s)
	assert.Equal(t, "a cat", prompt)

	s, prompt = parseImageArgs("hd wide a cat on the moon")
	assert.Equal(t, pricing.ImageSettings{Size: pricing.SizeLandscape, Quality: pricing.QualityHD}, s)
	assert.Equal(t, "a cat on the moon", prompt)

	s, prompt = parseImageArgs("tall")
	assert.Equal(t, pricing.SizePortrait, s.Size)
	assert.Empty(t, prompt)
}

func TestValidatePayment(t *testing.T) {
	p, err := validatePayment("premium_30d", "RUB", 29900)
	require.NoError(t, err)
	assert.Equal(t, types.PlanPremium, p.Plan)

	_, err = validatePayment("premium_30d", "rub", 100)
	assert.Error(t, err)

	_, err = validatePayment("premium_30d", "XTR", 29900)
	assert.Error(t, err)

	_, err = validatePayment("legacy_trial", "RUB", 0)
	assert.True(t, errors.Is(err, errNotPurchasable))

	_, err = validatePayment("nope", "RUB", 1)
	assert.True(t, errors.Is(err, errNotPurchasable))
}

func TestProvider(t *testing.T) {
	assert.Equal(t, "stars", provider("XTR"))
	assert.Equal(t, "yookassa", provider("RUB"))
}
