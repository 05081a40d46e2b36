package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dwizi/fixfox-bot/internal/agenterr"
	"github.com/dwizi/fixfox-bot/internal/store"
)

var (
	extendOrderPattern   = regexp.MustCompile(`^extend_order_(\d+)$`)
	fulfillMasterPattern = regexp.MustCompile(`^fulfill_masterOrder_(\d+)$`)
	adminPattern         = regexp.MustCompile(`^admin_([a-zA-Z]+)_(\d+)$`)
)

func (r *Router) handleCallback(ctx context.Context, req Request) error {
	chatID := req.Conversation.ChatID
	if err := r.messenger.AnswerCallback(ctx, chatID, req.Event.CallbackID); err != nil {
		r.logger.Debug("answer callback failed", "chat_id", chatID, "error", err)
	}

	token := strings.TrimSpace(req.Event.CallbackToken)
	switch {
	case token == "start":
		return r.sendWelcome(ctx, req)
	case extendOrderPattern.MatchString(token):
		return r.extendOrder(ctx, req, parseID(extendOrderPattern, token))
	case fulfillMasterPattern.MatchString(token):
		return r.beginMasterComment(ctx, req, parseID(fulfillMasterPattern, token))
	case strings.Contains(token, "admin_"):
		return r.handleAdmin(ctx, req, token)
	default:
		r.logger.Info("unknown callback token", "chat_id", chatID, "token", token)
		return nil
	}
}

func (r *Router) extendOrder(ctx context.Context, req Request, orderID int64) error {
	chatID := req.Conversation.ChatID
	r.clearKeyboard(ctx, req)

	order, err := r.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrOrderNotFound) || (err == nil && order.AccountID != req.Account.ID) {
		r.replyLocalized(ctx, req, orderUnavailableText)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if order.Closed() {
		r.replyLocalized(ctx, req, orderClosedText)
		return nil
	}

	from := r.now().UTC()
	if order.ExpiresAt.After(from) {
		from = order.ExpiresAt
	}
	until := from.Add(r.extension)
	if err := r.store.ExtendOrder(ctx, order.ID, until); err != nil {
		return fmt.Errorf("extend order: %w", err)
	}
	r.logger.Info("order extended", "chat_id", chatID, "order_id", order.ID, "until", until)
	r.reply(ctx, req, fmt.Sprintf("<b>#%d</b> %s %s", order.ID, html.EscapeString(r.localize(ctx, req, orderExtendedText)), until.Format("2006-01-02")))
	return nil
}

func (r *Router) beginMasterComment(ctx context.Context, req Request, masterOrderID int64) error {
	r.clearKeyboard(ctx, req)

	masterOrder, err := r.store.GetMasterOrder(ctx, masterOrderID)
	if errors.Is(err, store.ErrMasterOrderNotFound) {
		r.replyLocalized(ctx, req, orderUnavailableText)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load master order: %w", err)
	}
	order, err := r.store.GetOrder(ctx, masterOrder.OrderID)
	if errors.Is(err, store.ErrOrderNotFound) {
		r.replyLocalized(ctx, req, orderUnavailableText)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if order.Closed() {
		r.replyLocalized(ctx, req, orderClosedText)
		return nil
	}

	payload, err := json.Marshal(masterOrderPayload{MasterOrderID: masterOrder.ID})
	if err != nil {
		return err
	}
	if err := r.store.SetConversationState(ctx, req.Conversation.ChatID, store.StateAwaitingMasterOrderComment, payload); err != nil {
		return fmt.Errorf("set awaiting comment state: %w", err)
	}
	r.reply(ctx, req, fmt.Sprintf("%s <b>#%d</b> %s",
		html.EscapeString(r.localize(ctx, req, commentPromptLead)), order.ID, html.EscapeString(r.localize(ctx, req, commentPromptTail))))
	return nil
}

type adminTarget struct {
	tagPrefix string
	status    string
	update    func(ctx context.Context, id int64, status string) error
}

func (r *Router) handleAdmin(ctx context.Context, req Request, token string) error {
	chatID := req.Conversation.ChatID
	match := adminPattern.FindStringSubmatch(token)
	if match == nil {
		r.logger.Info("malformed admin callback", "chat_id", chatID, "token", token)
		return nil
	}
	command := match[1]
	id, _ := strconv.ParseInt(match[2], 10, 64)

	if command != "acceptExport" && command != "rejectExport" && !r.isAdmin(chatID) {
		r.logger.Warn("admin callback from non-admin chat", "chat_id", chatID, "command", command)
		r.reply(ctx, req, adminDeniedText)
		return fmt.Errorf("%w: chat %d", agenterr.ErrNotAdmin, chatID)
	}

	target, ok := r.adminTargets()[command]
	if !ok {
		r.logger.Info("unknown admin command", "chat_id", chatID, "command", command)
		return nil
	}
	err := target.update(ctx, id, target.status)
	if errors.Is(err, store.ErrOrderNotFound) || errors.Is(err, store.ErrMasterNotFound) || errors.Is(err, store.ErrExportPostNotFound) {
		r.logger.Info("admin callback target not found", "chat_id", chatID, "command", command, "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("admin %s: %w", command, err)
	}
	r.logger.Info("admin moderation applied", "chat_id", chatID, "command", command, "id", id, "status", target.status)
	return r.deleteTagged(ctx, fmt.Sprintf("%s_%d", target.tagPrefix, id))
}

func (r *Router) adminTargets() map[string]adminTarget {
	return map[string]adminTarget{
		"acceptOrder":  {tagPrefix: "admin_order", status: store.AdminCheckInWork, update: r.store.SetOrderAdminCheck},
		"rejectOrder":  {tagPrefix: "admin_order", status: store.AdminCheckBlocked, update: r.store.SetOrderAdminCheck},
		"acceptMaster": {tagPrefix: "admin_master", status: store.AdminCheckInWork, update: r.store.SetMasterAdminCheck},
		"rejectMaster": {tagPrefix: "admin_master", status: store.AdminCheckBlocked, update: r.store.SetMasterAdminCheck},
		"acceptExport": {tagPrefix: "admin_export", status: store.AdminCheckInWork, update: r.store.SetExportPostStatus},
		"rejectExport": {tagPrefix: "admin_export", status: store.AdminCheckBlocked, update: r.store.SetExportPostStatus},
	}
}

// deleteTagged removes every message previously sent under tag, in every chat.
func (r *Router) deleteTagged(ctx context.Context, tag string) error {
	refs, err := r.store.ListSentMessagesByTag(ctx, tag)
	if err != nil {
		return fmt.Errorf("list tagged messages: %w", err)
	}
	for _, ref := range refs {
		if err := r.messenger.DeleteMessages(ctx, ref.ChatID, ref.MessageIDs); err != nil {
			r.logger.Warn("delete tagged messages failed", "tag", tag, "chat_id", ref.ChatID, "error", err)
		}
	}
	return nil
}

func (r *Router) isAdmin(chatID int64) bool {
	if r.admins == nil {
		return false
	}
	return slices.Contains(r.admins.IDs(), chatID)
}

func (r *Router) clearKeyboard(ctx context.Context, req Request) {
	if req.Event.MessageID == 0 {
		return
	}
	if err := r.messenger.ClearInlineKeyboard(ctx, req.Conversation.ChatID, req.Event.MessageID); err != nil {
		r.logger.Debug("clear inline keyboard failed", "chat_id", req.Conversation.ChatID, "error", err)
	}
}

func parseID(pattern *regexp.Regexp, token string) int64 {
	match := pattern.FindStringSubmatch(token)
	if len(match) < 2 {
		return 0
	}
	id, _ := strconv.ParseInt(match[1], 10, 64)
	return id
}
