package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInlineKeyboard(t *testing.T) {
	buttons := []Button{
		{Text: "a", CallbackData: "x:a"},
		{Text: "b", CallbackData: "x:b"},
		{Text: "c", CallbackData: "x:c"},
	}

	kb := BuildInlineKeyboard(buttons, 2)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Len(t, kb.InlineKeyboard[0], 2)
	assert.Len(t, kb.InlineKeyboard[1], 1)
	assert.Equal(t, " c ", kb.InlineKeyboard[1][0].Text)
	assert.Equal(t, "x:c", kb.InlineKeyboard[1][0].CallbackData)

	kb = BuildInlineKeyboard(buttons, 0)
	assert.Len(t, kb.InlineKeyboard, 3)

	assert.Empty(t, BuildInlineKeyboard(nil, 3).InlineKeyboard)
}
