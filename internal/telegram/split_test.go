package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwizi/fixfox-bot/internal/inbound"
)

func TestSplitTextShortIsSinglePart(t *testing.T) {
	parts := SplitText("hello", 10, nil)
	require.Len(t, parts, 1)
	assert.Equal(t, "hello", parts[0].Text)
}

func TestSplitTextHardSplitsLongParagraph(t *testing.T) {
	parts := SplitText(strings.Repeat("a", 9000), MessageLimit, nil)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0].Text, 4096)
	assert.Len(t, parts[1].Text, 4096)
	assert.Len(t, parts[2].Text, 808)
}

func TestSplitTextPrefersParagraphs(t *testing.T) {
	text := strings.Repeat("a", 6) + "\n\n" + strings.Repeat("b", 6) + "\n\n" + strings.Repeat("c", 6)
	parts := SplitText(text, 15, nil)
	require.Len(t, parts, 2)
	assert.Equal(t, "aaaaaa\n\nbbbbbb", parts[0].Text)
	assert.Equal(t, "cccccc", parts[1].Text)
}

func TestSplitTextCountsUTF16Units(t *testing.T) {
	text := strings.Repeat("😀", 3)
	assert.Equal(t, 6, TextLength(text))

	parts := SplitText(text, 3, nil)
	require.Len(t, parts, 3)
	for _, part := range parts {
		assert.Equal(t, "😀", part.Text)
	}
}

func TestSplitTextClipsEntities(t *testing.T) {
	text := "aaaa\n\nbbbb"
	entities := []inbound.Entity{
		{Type: "bold", Offset: 2, Length: 6},
		{Type: "italic", Offset: 7, Length: 2},
	}
	parts := SplitText(text, 5, entities)
	require.Len(t, parts, 2)

	require.Len(t, parts[0].Entities, 1)
	assert.Equal(t, inbound.Entity{Type: "bold", Offset: 2, Length: 2}, parts[0].Entities[0])

	require.Len(t, parts[1].Entities, 2)
	assert.Equal(t, inbound.Entity{Type: "bold", Offset: 0, Length: 2}, parts[1].Entities[0])
	assert.Equal(t, inbound.Entity{Type: "italic", Offset: 1, Length: 2}, parts[1].Entities[1])
}

func TestFilterEntities(t *testing.T) {
	filtered := FilterEntities([]inbound.Entity{
		{Type: "bold"},
		{Type: "spoiler"},
		{Type: "TEXT_LINK", URL: "https://example.com"},
		{Type: "custom_emoji"},
	})
	require.Len(t, filtered, 2)
	assert.Equal(t, "bold", filtered[0].Type)
	assert.Equal(t, "text_link", filtered[1].Type)
	assert.Nil(t, FilterEntities(nil))
}
