package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/dwizi/fixfox-bot/internal/inbound"
	"github.com/dwizi/fixfox-bot/internal/metrics"
	"github.com/dwizi/fixfox-bot/internal/store"
)

var tracer = otel.Tracer("fixfox-bot/telegram")

type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type Keyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

// SingleRow builds a one-row inline keyboard.
func SingleRow(buttons ...InlineButton) *Keyboard {
	return &Keyboard{InlineKeyboard: [][]InlineButton{buttons}}
}

type Media struct {
	Kind   inbound.AttachmentKind
	FileID string
}

type Message struct {
	ChatID   int64
	Text     string
	Keyboard *Keyboard
	Media    []Media
	Entities []inbound.Entity
	Tag      string
}

type SendResult struct {
	MessageIDs []int64
}

// AuditStore records every outbound attempt and tracks chat reachability.
type AuditStore interface {
	CreateTelegramLog(ctx context.Context, input store.CreateTelegramLogInput) (store.TelegramLog, error)
	SetConversationLiveness(ctx context.Context, chatID int64, liveness store.Liveness) error
}

// AdminDirectory lists the chats that receive administrative notifications.
type AdminDirectory interface {
	IDs() []int64
}

type DeliveryConfig struct {
	RatePerSecond    float64
	Burst            int
	RetryBackoff     time.Duration
	DownloadMaxBytes int64
	Logger           *slog.Logger
}

type Delivery struct {
	client           *Client
	audit            AuditStore
	admins           AdminDirectory
	limiter          *rate.Limiter
	retryBackoff     time.Duration
	downloadMaxBytes int64
	logger           *slog.Logger
}

func NewDelivery(client *Client, audit AuditStore, admins AdminDirectory, cfg DeliveryConfig) *Delivery {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Delivery{
		client:           client,
		audit:            audit,
		admins:           admins,
		limiter:          rate.NewLimiter(limit, burst),
		retryBackoff:     backoff,
		downloadMaxBytes: cfg.DownloadMaxBytes,
		logger:           logger.With("component", "telegram-delivery"),
	}
}

// Send delivers one logical message. Long text is split; media may carry the
// text as a caption or be followed by it.
func (d *Delivery) Send(ctx context.Context, message Message) (SendResult, error) {
	entities := FilterEntities(message.Entities)
	if len(message.Media) == 0 {
		return d.sendText(ctx, message.ChatID, message.Text, entities, message.Keyboard, message.Tag)
	}

	text := strings.TrimSpace(message.Text)
	caption := text
	overflow := TextLength(text) > CaptionLimit
	if overflow {
		caption = ""
	}

	result := SendResult{}
	if len(message.Media) == 1 {
		item := message.Media[0]
		method, field := mediaMethod(item.Kind)
		payload := map[string]any{
			"chat_id": message.ChatID,
			field:     item.FileID,
		}
		if caption != "" {
			payload["caption"] = caption
			applyFormatting(payload, "caption_entities", entities)
		}
		if !overflow && message.Keyboard != nil {
			payload["reply_markup"] = message.Keyboard
		}
		ids, err := d.call(ctx, message.ChatID, method, message.Tag, payload)
		if err != nil {
			return result, err
		}
		result.MessageIDs = append(result.MessageIDs, ids...)
	} else {
		group := make([]map[string]any, 0, len(message.Media))
		for index, item := range message.Media {
			entry := map[string]any{
				"type":  mediaGroupType(item.Kind),
				"media": item.FileID,
			}
			if index == 0 && caption != "" {
				entry["caption"] = caption
				applyFormatting(entry, "caption_entities", entities)
			}
			group = append(group, entry)
		}
		if !overflow && message.Keyboard != nil {
			d.logger.Debug("media group cannot carry a keyboard", "chat_id", message.ChatID, "tag", message.Tag)
		}
		ids, err := d.call(ctx, message.ChatID, "sendMediaGroup", message.Tag, map[string]any{
			"chat_id": message.ChatID,
			"media":   group,
		})
		if err != nil {
			return result, err
		}
		result.MessageIDs = append(result.MessageIDs, ids...)
	}

	if overflow {
		textResult, err := d.sendText(ctx, message.ChatID, text, entities, message.Keyboard, message.Tag)
		result.MessageIDs = append(result.MessageIDs, textResult.MessageIDs...)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (d *Delivery) sendText(ctx context.Context, chatID int64, text string, entities []inbound.Entity, keyboard *Keyboard, tag string) (SendResult, error) {
	result := SendResult{}
	if strings.TrimSpace(text) == "" {
		return result, nil
	}
	parts := SplitText(text, MessageLimit, entities)
	for index, part := range parts {
		payload := map[string]any{
			"chat_id": chatID,
			"text":    part.Text,
		}
		applyFormatting(payload, "entities", part.Entities)
		if index == len(parts)-1 && keyboard != nil {
			payload["reply_markup"] = keyboard
		}
		ids, err := d.call(ctx, chatID, "sendMessage", tag, payload)
		if err != nil {
			return result, err
		}
		result.MessageIDs = append(result.MessageIDs, ids...)
	}
	return result, nil
}

// SendDocument uploads a local file as a document.
func (d *Delivery) SendDocument(ctx context.Context, chatID int64, path, caption, tag string) (SendResult, error) {
	fields := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if strings.TrimSpace(caption) != "" && TextLength(caption) <= CaptionLimit {
		fields["caption"] = caption
	}
	auditPayload := map[string]any{"chat_id": chatID, "document": filepath.Base(path)}
	if caption, ok := fields["caption"]; ok {
		auditPayload["caption"] = caption
	}
	ids, err := d.attempt(ctx, chatID, "sendDocument", tag, auditPayload, func(ctx context.Context) (Response, error) {
		return d.client.Upload(ctx, "sendDocument", fields, "document", path)
	})
	return SendResult{MessageIDs: ids}, err
}

func (d *Delivery) SendTyping(ctx context.Context, chatID int64) error {
	_, err := d.call(ctx, chatID, "sendChatAction", "", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

// DeleteMessages removes each message, continuing past individual failures.
func (d *Delivery) DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) error {
	var errs []error
	for _, messageID := range messageIDs {
		_, err := d.call(ctx, chatID, "deleteMessage", "", map[string]any{
			"chat_id":    chatID,
			"message_id": messageID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete message %d: %w", messageID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Delivery) ClearInlineKeyboard(ctx context.Context, chatID, messageID int64) error {
	_, err := d.call(ctx, chatID, "editMessageReplyMarkup", "", map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": Keyboard{InlineKeyboard: [][]InlineButton{}},
	})
	return err
}

func (d *Delivery) AnswerCallback(ctx context.Context, chatID int64, callbackID string) error {
	if strings.TrimSpace(callbackID) == "" {
		return nil
	}
	_, err := d.call(ctx, chatID, "answerCallbackQuery", "", map[string]any{
		"callback_query_id": callbackID,
	})
	return err
}

// SendToAdmins fans the message out to every admin chat.
func (d *Delivery) SendToAdmins(ctx context.Context, message Message) error {
	if d.admins == nil {
		return nil
	}
	ids := d.admins.IDs()
	if len(ids) == 0 {
		d.logger.Warn("no admin chats configured", "tag", message.Tag)
		return nil
	}
	var errs []error
	for _, chatID := range ids {
		message.ChatID = chatID
		if _, err := d.Send(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// Download fetches a platform file into dstPath.
func (d *Delivery) Download(ctx context.Context, fileID, dstPath string) (int64, error) {
	filePath, err := d.client.GetFilePath(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}
	file, err := os.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("create download file: %w", err)
	}
	written, copyErr := d.client.DownloadFile(ctx, filePath, d.downloadMaxBytes, file)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(dstPath)
		return written, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return written, fmt.Errorf("close download file: %w", closeErr)
	}
	return written, nil
}

// FileExtension derives the extension of the remote file path, used to name
// local downloads.
func FileExtension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func (d *Delivery) call(ctx context.Context, chatID int64, method, tag string, payload map[string]any) ([]int64, error) {
	return d.attempt(ctx, chatID, method, tag, payload, func(ctx context.Context) (Response, error) {
		return d.client.Call(ctx, method, payload)
	})
}

func (d *Delivery) attempt(ctx context.Context, chatID int64, method, tag string, auditPayload any, invoke func(context.Context) (Response, error)) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "telegram."+method)
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", chatID),
		attribute.String("tag", tag),
	)

	payloadJSON, _ := json.Marshal(auditPayload)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(d.retryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		response, err := invoke(ctx)
		ids := MessageIDs(response.Result)
		d.record(ctx, chatID, method, tag, string(payloadJSON), response, ids, err)
		if err == nil {
			metrics.RecordTelegramSend(method, "success")
			d.setLiveness(ctx, chatID, store.LivenessActive)
			return ids, nil
		}

		lastErr = err
		if apiErr, ok := asAPIError(err); ok {
			metrics.RecordTelegramSend(method, "api_error")
			if apiErr.Unreachable() {
				d.setLiveness(ctx, chatID, store.LivenessBlocked)
			}
			break
		}
		metrics.RecordTelegramSend(method, "connection_error")
		if !isConnectionError(err) {
			break
		}
		d.logger.Warn("telegram connection failed", "method", method, "chat_id", chatID, "attempt", attempt+1, "error", err)
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (d *Delivery) record(ctx context.Context, chatID int64, method, tag, payload string, response Response, ids []int64, callErr error) {
	if d.audit == nil {
		return
	}
	input := store.CreateTelegramLogInput{
		ChatID:     chatID,
		Direction:  store.DirectionSent,
		Method:     method,
		Tag:        tag,
		Payload:    payload,
		Response:   string(response.Body),
		MessageIDs: ids,
	}
	if callErr != nil {
		input.Error = callErr.Error()
	}
	if _, err := d.audit.CreateTelegramLog(context.WithoutCancel(ctx), input); err != nil {
		d.logger.Error("telegram audit write failed", "method", method, "chat_id", chatID, "error", err)
	}
}

func (d *Delivery) setLiveness(ctx context.Context, chatID int64, liveness store.Liveness) {
	if d.audit == nil || chatID == 0 {
		return
	}
	err := d.audit.SetConversationLiveness(context.WithoutCancel(ctx), chatID, liveness)
	if err != nil && !errors.Is(err, store.ErrConversationNotFound) {
		d.logger.Error("liveness update failed", "chat_id", chatID, "liveness", liveness, "error", err)
	}
}

func applyFormatting(payload map[string]any, entitiesField string, entities []inbound.Entity) {
	if len(entities) > 0 {
		payload[entitiesField] = entities
		return
	}
	payload["parse_mode"] = "HTML"
}

func mediaMethod(kind inbound.AttachmentKind) (method, field string) {
	switch kind {
	case inbound.AttachmentPhoto:
		return "sendPhoto", "photo"
	case inbound.AttachmentVideo:
		return "sendVideo", "video"
	case inbound.AttachmentAudio:
		return "sendAudio", "audio"
	default:
		return "sendDocument", "document"
	}
}

func mediaGroupType(kind inbound.AttachmentKind) string {
	switch kind {
	case inbound.AttachmentPhoto, inbound.AttachmentVideo, inbound.AttachmentAudio:
		return string(kind)
	default:
		return "document"
	}
}
