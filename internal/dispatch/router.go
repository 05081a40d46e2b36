// Package dispatch routes a classified, identity-resolved update to its handler.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/fixfox-bot/internal/agent"
	"github.com/dwizi/fixfox-bot/internal/inbound"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/telegram"
)

type Store interface {
	SetConversationState(ctx context.Context, chatID int64, state store.ConversationStateValue, payload json.RawMessage) error
	GetMasterOrder(ctx context.Context, id int64) (store.MasterOrder, error)
	SetMasterOrderComment(ctx context.Context, id int64, comment string) error
	GetOrder(ctx context.Context, id int64) (store.Order, error)
	ExtendOrder(ctx context.Context, id int64, until time.Time) error
	SetOrderAdminCheck(ctx context.Context, id int64, status string) error
	SetMasterAdminCheck(ctx context.Context, id int64, status string) error
	SetExportPostStatus(ctx context.Context, id int64, status string) error
	ListSentMessagesByTag(ctx context.Context, tag string) ([]store.SentMessageRef, error)
}

type Messenger interface {
	Send(ctx context.Context, message telegram.Message) (telegram.SendResult, error)
	ClearInlineKeyboard(ctx context.Context, chatID, messageID int64) error
	AnswerCallback(ctx context.Context, chatID int64, callbackID string) error
	DeleteMessages(ctx context.Context, chatID int64, messageIDs []int64) error
	Download(ctx context.Context, fileID, dstPath string) (int64, error)
}

type Executor interface {
	Execute(ctx context.Context, turn agent.Turn) (agent.Result, error)
}

type Localizer interface {
	Localize(ctx context.Context, text, locale string) string
}

type AdminDirectory interface {
	IDs() []int64
}

// Request is everything a handler needs about one update. It is passed by value.
type Request struct {
	Event          inbound.Event
	Conversation   store.Conversation
	Account        store.Account
	ProfileChanged bool
}

type Config struct {
	DownloadDir    string
	OrderExtension time.Duration
	Logger         *slog.Logger
}

type Router struct {
	store       Store
	messenger   Messenger
	executor    Executor
	localizer   Localizer
	admins      AdminDirectory
	downloadDir string
	extension   time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func New(sqlStore Store, messenger Messenger, executor Executor, localizer Localizer, admins AdminDirectory, cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extension := cfg.OrderExtension
	if extension <= 0 {
		extension = 7 * 24 * time.Hour
	}
	return &Router{
		store:       sqlStore,
		messenger:   messenger,
		executor:    executor,
		localizer:   localizer,
		admins:      admins,
		downloadDir: strings.TrimSpace(cfg.DownloadDir),
		extension:   extension,
		now:         time.Now,
		logger:      logger.With("component", "dispatch"),
	}
}

// Dispatch runs the handler for the update. Handler failures are reported to the
// user as an apology where one makes sense and returned for logging.
func (r *Router) Dispatch(ctx context.Context, req Request) error {
	if req.ProfileChanged && req.Account.Locale != "" {
		r.reply(ctx, req, req.Account.Locale)
	}

	switch req.Event.Kind {
	case inbound.KindTextMessage:
		return r.handleText(ctx, req)
	case inbound.KindMediaMessage:
		return r.handleAttachments(ctx, req, "")
	case inbound.KindCallback:
		return r.handleCallback(ctx, req)
	default:
		return nil
	}
}

func (r *Router) handleText(ctx context.Context, req Request) error {
	text := strings.TrimSpace(req.Event.Text)
	command := botCommand(text)
	switch {
	case command == "start":
		return r.sendWelcome(ctx, req)
	case command == "help":
		r.replyLocalized(ctx, req, helpText)
		return nil
	case req.Conversation.State == store.StateAwaitingMasterOrderComment:
		return r.handleMasterComment(ctx, req, text)
	}

	if text != "" {
		if err := r.runTurn(ctx, req, agent.Turn{Text: text, ShowPresence: true}, apologyText); err != nil {
			return err
		}
	}
	if len(req.Event.Attachments) > 0 {
		return r.handleAttachments(ctx, req, text)
	}
	return nil
}

func (r *Router) sendWelcome(ctx context.Context, req Request) error {
	if err := r.store.SetConversationState(ctx, req.Conversation.ChatID, store.StateNone, nil); err != nil {
		return fmt.Errorf("reset conversation state: %w", err)
	}
	r.replyLocalized(ctx, req, welcomeText)
	return nil
}

type masterOrderPayload struct {
	MasterOrderID int64 `json:"master_order_id"`
}

func (r *Router) handleMasterComment(ctx context.Context, req Request, text string) error {
	chatID := req.Conversation.ChatID
	var payload masterOrderPayload
	if err := json.Unmarshal(req.Conversation.Payload, &payload); err != nil || payload.MasterOrderID == 0 {
		r.logger.Error("awaiting master comment without a master order", "chat_id", chatID, "payload", string(req.Conversation.Payload))
		return r.store.SetConversationState(ctx, chatID, store.StateNone, nil)
	}

	err := r.store.SetMasterOrderComment(ctx, payload.MasterOrderID, text)
	if errors.Is(err, store.ErrMasterOrderNotFound) {
		r.logger.Error("master order for comment not found", "chat_id", chatID, "master_order_id", payload.MasterOrderID)
		return r.store.SetConversationState(ctx, chatID, store.StateNone, nil)
	}
	if err != nil {
		return fmt.Errorf("save master order comment: %w", err)
	}
	if err := r.store.SetConversationState(ctx, chatID, store.StateNone, nil); err != nil {
		return fmt.Errorf("reset conversation state: %w", err)
	}
	r.replyLocalized(ctx, req, commentReceivedText)
	return nil
}

// runTurn executes one AI turn and delivers its reply, or the apology on failure.
func (r *Router) runTurn(ctx context.Context, req Request, turn agent.Turn, apology string) error {
	turn.ChatID = req.Conversation.ChatID
	turn.AccountID = req.Account.ID
	result, err := r.executor.Execute(ctx, turn)
	if err != nil {
		r.logger.Warn("ai turn failed", "chat_id", turn.ChatID, "rounds", result.Rounds, "error", err)
		r.replyLocalized(ctx, req, apology)
		return err
	}
	if strings.TrimSpace(result.Reply) == "" {
		r.logger.Debug("ai turn returned empty reply", "chat_id", turn.ChatID)
		return nil
	}
	r.reply(ctx, req, result.Reply)
	return nil
}

func (r *Router) replyLocalized(ctx context.Context, req Request, text string) {
	r.reply(ctx, req, r.localize(ctx, req, text))
}

func (r *Router) localize(ctx context.Context, req Request, text string) string {
	if r.localizer == nil {
		return text
	}
	return r.localizer.Localize(ctx, text, req.Account.Locale)
}

func (r *Router) reply(ctx context.Context, req Request, text string) {
	if _, err := r.messenger.Send(ctx, telegram.Message{ChatID: req.Conversation.ChatID, Text: text}); err != nil {
		r.logger.Warn("reply delivery failed", "chat_id", req.Conversation.ChatID, "error", err)
	}
}

// botCommand returns the command name when text is exactly "/name" or
// "/name@botname". Anything else, arguments included, is not a command.
func botCommand(text string) string {
	if !strings.HasPrefix(text, "/") || strings.ContainsAny(text, " \t\n") {
		return ""
	}
	command := strings.TrimPrefix(text, "/")
	if at := strings.Index(command, "@"); at >= 0 {
		if at == len(command)-1 {
			return ""
		}
		command = command[:at]
	}
	return command
}
