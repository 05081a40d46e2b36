package inbound

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

var privateChatFields = []string{"message", "edited_message", "channel_post", "edited_channel_post"}

var ignoredUpdateKinds = []string{
	"inline_query",
	"chosen_inline_result",
	"shipping_query",
	"pre_checkout_query",
	"poll",
	"poll_answer",
	"my_chat_member",
	"chat_member",
	"chat_join_request",
}

// Classify turns a raw webhook envelope into exactly one Event. It never fails:
// anything missing or mistyped reads as absent.
func Classify(raw []byte) Event {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var envelope map[string]any
	if err := decoder.Decode(&envelope); err != nil || envelope == nil {
		return ignored(0, "malformed update")
	}
	return classifyEnvelope(envelope)
}

func classifyEnvelope(envelope map[string]any) Event {
	updateID := int64At(envelope, "update_id")

	for _, field := range privateChatFields {
		if chatType, ok := stringPath(envelope, field, "chat", "type"); ok && chatType != "private" {
			return ignored(updateID, "not private chat")
		}
	}
	if chatType, ok := stringPath(envelope, "callback_query", "message", "chat", "type"); ok && chatType != "private" {
		return ignored(updateID, "not private chat")
	}
	for _, kind := range ignoredUpdateKinds {
		if _, ok := envelope[kind]; ok {
			return ignored(updateID, kind)
		}
	}

	if callback := mapAt(envelope, "callback_query"); callback != nil {
		if token, ok := callback["data"].(string); ok {
			return classifyCallback(updateID, callback, token)
		}
	}

	message := mapAt(envelope, "message")
	if message == nil {
		message = mapAt(envelope, "edited_message")
	}
	if message == nil {
		return ignored(updateID, "unsupported update")
	}
	return classifyMessage(updateID, message)
}

func classifyCallback(updateID int64, callback map[string]any, token string) Event {
	event := Event{
		Kind:          KindCallback,
		UpdateID:      updateID,
		Sender:        senderFrom(mapAt(callback, "from")),
		CallbackToken: token,
		CallbackID:    stringAt(callback, "id"),
	}
	if message := mapAt(callback, "message"); message != nil {
		event.MessageID = int64At(message, "message_id")
		event.ChatID = int64At(mapAt(message, "chat"), "id")
	}
	if event.ChatID == 0 && event.Sender != nil {
		event.ChatID = event.Sender.ID
	}
	return event
}

func classifyMessage(updateID int64, message map[string]any) Event {
	event := Event{
		UpdateID:    updateID,
		MessageID:   int64At(message, "message_id"),
		ChatID:      int64At(mapAt(message, "chat"), "id"),
		Sender:      senderFrom(mapAt(message, "from")),
		Attachments: attachmentsFrom(message),
	}
	if event.ChatID == 0 && event.Sender != nil {
		event.ChatID = event.Sender.ID
	}

	if text, ok := message["text"].(string); ok {
		event.Kind = KindTextMessage
		event.Text = text
		event.Entities = entitiesFrom(message["entities"])
		return event
	}
	if caption, ok := message["caption"].(string); ok {
		event.Kind = KindTextMessage
		event.Text = caption
		event.Entities = entitiesFrom(message["caption_entities"])
		return event
	}
	if len(event.Attachments) > 0 {
		event.Kind = KindMediaMessage
		return event
	}
	event.Kind = KindIgnored
	event.Reason = "unsupported message"
	return event
}

func attachmentsFrom(message map[string]any) []Attachment {
	attachments := []Attachment{}
	if photo, ok := largestPhoto(message["photo"]); ok {
		attachments = append(attachments, photo)
	}
	for _, kind := range []AttachmentKind{AttachmentVideo, AttachmentDocument, AttachmentAudio} {
		item := mapAt(message, string(kind))
		if item == nil {
			continue
		}
		attachment := attachmentFrom(kind, item)
		if attachment.FileID == "" {
			continue
		}
		attachments = append(attachments, attachment)
	}
	return attachments
}

// largestPhoto keeps only the highest-resolution size of a photo, file size breaking ties.
func largestPhoto(value any) (Attachment, bool) {
	sizes, ok := value.([]any)
	if !ok {
		return Attachment{}, false
	}
	var (
		best     Attachment
		bestArea int64 = -1
		found    bool
	)
	for _, entry := range sizes {
		size, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		candidate := attachmentFrom(AttachmentPhoto, size)
		if candidate.FileID == "" {
			continue
		}
		area := int64At(size, "width") * int64At(size, "height")
		if area > bestArea || (area == bestArea && candidate.FileSize > best.FileSize) {
			best = candidate
			bestArea = area
			found = true
		}
	}
	if found && best.MimeType == "" {
		best.MimeType = "image/jpeg"
	}
	return best, found
}

func attachmentFrom(kind AttachmentKind, item map[string]any) Attachment {
	return Attachment{
		Kind:         kind,
		FileID:       strings.TrimSpace(stringAt(item, "file_id")),
		FileUniqueID: strings.TrimSpace(stringAt(item, "file_unique_id")),
		FileName:     strings.TrimSpace(stringAt(item, "file_name")),
		MimeType:     strings.TrimSpace(stringAt(item, "mime_type")),
		FileSize:     int64At(item, "file_size"),
	}
}

func senderFrom(from map[string]any) *Sender {
	if from == nil {
		return nil
	}
	id := int64At(from, "id")
	if id == 0 {
		return nil
	}
	return &Sender{
		ID:           id,
		FirstName:    stringAt(from, "first_name"),
		LastName:     stringAt(from, "last_name"),
		Username:     stringAt(from, "username"),
		LanguageCode: stringAt(from, "language_code"),
	}
}

func entitiesFrom(value any) []Entity {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	entities := make([]Entity, 0, len(items))
	for _, entry := range items {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		entity := Entity{
			Type:     stringAt(item, "type"),
			Offset:   int(int64At(item, "offset")),
			Length:   int(int64At(item, "length")),
			URL:      stringAt(item, "url"),
			Language: stringAt(item, "language"),
		}
		if entity.Type == "" || entity.Length <= 0 {
			continue
		}
		entities = append(entities, entity)
	}
	return entities
}

func ignored(updateID int64, reason string) Event {
	return Event{Kind: KindIgnored, UpdateID: updateID, Reason: reason}
}

func mapAt(source map[string]any, key string) map[string]any {
	if source == nil {
		return nil
	}
	value, _ := source[key].(map[string]any)
	return value
}

func stringAt(source map[string]any, key string) string {
	if source == nil {
		return ""
	}
	value, _ := source[key].(string)
	return value
}

func stringPath(source map[string]any, path ...string) (string, bool) {
	current := source
	for index, key := range path {
		if current == nil {
			return "", false
		}
		if index == len(path)-1 {
			value, ok := current[key].(string)
			return value, ok
		}
		current = mapAt(current, key)
	}
	return "", false
}

func int64At(source map[string]any, key string) int64 {
	if source == nil {
		return 0
	}
	switch value := source[key].(type) {
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return parsed
	case float64:
		return int64(value)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
