package telegram

import (
	"strings"
	"unicode/utf16"

	"github.com/dwizi/fixfox-bot/internal/inbound"
)

const (
	MessageLimit = 4096
	CaptionLimit = 1024
)

type Part struct {
	Text     string
	Entities []inbound.Entity
}

type span struct {
	start int
	end   int
}

// TextLength counts UTF-16 code units, the unit the Bot API limits are expressed in.
func TextLength(text string) int {
	length := 0
	for _, r := range text {
		length += utf16.RuneLen(r)
	}
	return length
}

// SplitText cuts text into parts of at most limit UTF-16 units. Paragraph
// boundaries are preferred; a paragraph longer than limit is hard split.
// Entities are clipped and rebased into each part.
func SplitText(text string, limit int, entities []inbound.Entity) []Part {
	if limit <= 0 {
		limit = MessageLimit
	}
	units := utf16.Encode([]rune(text))
	if len(units) <= limit {
		return []Part{{Text: text, Entities: clipEntities(entities, span{0, len(units)})}}
	}

	spans := []span{}
	current := span{start: -1}
	for _, paragraph := range paragraphSpans(units) {
		if current.start >= 0 && paragraph.end-current.start <= limit {
			current.end = paragraph.end
			continue
		}
		if current.start >= 0 {
			spans = append(spans, current)
		}
		start := paragraph.start
		for paragraph.end-start > limit {
			cut := start + limit
			if utf16.IsSurrogate(rune(units[cut-1])) && units[cut-1] < 0xDC00 {
				cut--
			}
			spans = append(spans, span{start, cut})
			start = cut
		}
		current = span{start, paragraph.end}
	}
	if current.start >= 0 {
		spans = append(spans, current)
	}

	parts := make([]Part, 0, len(spans))
	for _, item := range spans {
		partText := string(utf16.Decode(units[item.start:item.end]))
		if strings.TrimSpace(partText) == "" {
			continue
		}
		parts = append(parts, Part{Text: partText, Entities: clipEntities(entities, item)})
	}
	return parts
}

func paragraphSpans(units []uint16) []span {
	spans := []span{}
	start := 0
	for index := 0; index+1 < len(units); index++ {
		if units[index] == '\n' && units[index+1] == '\n' {
			spans = append(spans, span{start, index})
			start = index + 2
			index++
		}
	}
	spans = append(spans, span{start, len(units)})
	return spans
}

func clipEntities(entities []inbound.Entity, window span) []inbound.Entity {
	if len(entities) == 0 {
		return nil
	}
	clipped := []inbound.Entity{}
	for _, entity := range entities {
		start := max(entity.Offset, window.start)
		end := min(entity.Offset+entity.Length, window.end)
		if end <= start {
			continue
		}
		entity.Offset = start - window.start
		entity.Length = end - start
		clipped = append(clipped, entity)
	}
	if len(clipped) == 0 {
		return nil
	}
	return clipped
}
