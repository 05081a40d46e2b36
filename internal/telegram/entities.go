package telegram

import (
	"strings"

	"github.com/dwizi/fixfox-bot/internal/inbound"
)

var supportedEntityTypes = map[string]struct{}{
	"mention":      {},
	"hashtag":      {},
	"cashtag":      {},
	"bot_command":  {},
	"url":          {},
	"email":        {},
	"phone_number": {},
	"bold":         {},
	"italic":       {},
	"code":         {},
	"pre":          {},
	"text_link":    {},
	"text_mention": {},
}

// FilterEntities drops entity types the Bot API does not accept on send.
func FilterEntities(entities []inbound.Entity) []inbound.Entity {
	if len(entities) == 0 {
		return nil
	}
	filtered := make([]inbound.Entity, 0, len(entities))
	for _, entity := range entities {
		entity.Type = strings.ToLower(strings.TrimSpace(entity.Type))
		if _, ok := supportedEntityTypes[entity.Type]; !ok {
			continue
		}
		filtered = append(filtered, entity)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}
