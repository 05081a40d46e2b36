package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dwizi/fixfox-bot/internal/inbound"
	"github.com/dwizi/fixfox-bot/internal/lang"
	"github.com/dwizi/fixfox-bot/internal/store"
)

// ErrNoIdentity means the update carried neither a message sender nor a callback sender.
var ErrNoIdentity = errors.New("update has no sender identity")

// inboundPriority is the locale priority of a language declared by the user's own client.
const inboundPriority = 1

type Store interface {
	GetConversation(ctx context.Context, chatID int64) (store.Conversation, error)
	CreateConversation(ctx context.Context, input store.CreateConversationInput) (store.Conversation, error)
	LinkConversationAccount(ctx context.Context, chatID int64, expectedAccountID, accountID string) (bool, error)
	UpdateConversationProfile(ctx context.Context, chatID int64, displayName, username, locale string) error
	SetConversationLiveness(ctx context.Context, chatID int64, liveness store.Liveness) error
	CreateAccount(ctx context.Context, input store.CreateAccountInput) (store.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	GetAccount(ctx context.Context, id string) (store.Account, error)
	SetAccountLocale(ctx context.Context, accountID, locale string, priority int) error
	SetAccountDisplayName(ctx context.Context, accountID, displayName string) error
	AppendLocaleChange(ctx context.Context, change store.LocaleChange) error
}

type Resolution struct {
	Conversation   store.Conversation
	Account        store.Account
	ProfileChanged bool
}

type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(sqlStore Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: sqlStore, logger: logger}
}

// Resolve maps the sender of event to its conversation row and account, creating
// both on first contact and reconciling profile drift.
func (r *Resolver) Resolve(ctx context.Context, event inbound.Event) (Resolution, error) {
	sender := event.Sender
	if sender == nil || sender.ID == 0 {
		return Resolution{}, ErrNoIdentity
	}
	chatID := event.ChatID
	if chatID == 0 {
		chatID = sender.ID
	}
	displayName := sender.DisplayName()
	username := strings.TrimSpace(sender.Username)
	locale := lang.NormalizeLocale(sender.LanguageCode)

	conversation, err := r.store.GetConversation(ctx, chatID)
	if errors.Is(err, store.ErrConversationNotFound) {
		conversation, err = r.store.CreateConversation(ctx, store.CreateConversationInput{
			ChatID:      chatID,
			DisplayName: displayName,
			Username:    username,
			Locale:      locale,
		})
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("load conversation: %w", err)
	}

	account, err := r.ensureAccount(ctx, &conversation, displayName, locale)
	if err != nil {
		return Resolution{}, err
	}

	profileChanged := false
	if locale != "" && locale != account.Locale && account.LocalePriority <= inboundPriority {
		if err := r.store.SetAccountLocale(ctx, account.ID, locale, inboundPriority); err != nil {
			return Resolution{}, fmt.Errorf("update account locale: %w", err)
		}
		if err := r.store.AppendLocaleChange(ctx, store.LocaleChange{
			AccountID:      account.ID,
			PreviousLocale: account.Locale,
			Locale:         locale,
			Priority:       inboundPriority,
		}); err != nil {
			r.logger.Warn("locale change audit failed", "account_id", account.ID, "error", err)
		}
		r.logger.Info("account locale changed", "account_id", account.ID, "from", account.Locale, "to", locale)
		account.Locale = locale
		account.LocalePriority = inboundPriority
		profileChanged = true
	}

	storedLocale := conversation.Locale
	if locale != "" {
		storedLocale = locale
	}
	if conversation.DisplayName != displayName || conversation.Username != username || conversation.Locale != storedLocale {
		if err := r.store.UpdateConversationProfile(ctx, chatID, displayName, username, storedLocale); err != nil {
			return Resolution{}, fmt.Errorf("update conversation profile: %w", err)
		}
		if account.DisplayName != displayName {
			if err := r.store.SetAccountDisplayName(ctx, account.ID, displayName); err != nil {
				r.logger.Warn("account display name update failed", "account_id", account.ID, "error", err)
			} else {
				account.DisplayName = displayName
			}
		}
		conversation.DisplayName = displayName
		conversation.Username = username
		conversation.Locale = storedLocale
	}

	if conversation.Liveness != store.LivenessActive {
		if err := r.store.SetConversationLiveness(ctx, chatID, store.LivenessActive); err != nil {
			return Resolution{}, fmt.Errorf("mark conversation active: %w", err)
		}
		conversation.Liveness = store.LivenessActive
	}

	return Resolution{
		Conversation:   conversation,
		Account:        account,
		ProfileChanged: profileChanged,
	}, nil
}

// ensureAccount returns the account linked to conversation, creating and
// linking one when the link is empty or dangling. Concurrent first contacts
// race on the link; the loser drops its account and adopts the winner's.
func (r *Resolver) ensureAccount(ctx context.Context, conversation *store.Conversation, displayName, locale string) (store.Account, error) {
	if conversation.AccountID != "" {
		account, err := r.store.GetAccount(ctx, conversation.AccountID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, store.ErrAccountNotFound) {
			return store.Account{}, fmt.Errorf("load account: %w", err)
		}
		r.logger.Warn("conversation points at a missing account, creating a new one", "chat_id", conversation.ChatID, "account_id", conversation.AccountID)
	}

	account, err := r.store.CreateAccount(ctx, store.CreateAccountInput{
		DisplayName:    displayName,
		Locale:         locale,
		LocalePriority: inboundPriority,
	})
	if err != nil {
		return store.Account{}, fmt.Errorf("create account: %w", err)
	}
	linked, err := r.store.LinkConversationAccount(ctx, conversation.ChatID, conversation.AccountID, account.ID)
	if err != nil {
		return store.Account{}, fmt.Errorf("link account: %w", err)
	}
	if !linked {
		return r.adoptLinkedAccount(ctx, conversation, account.ID)
	}
	conversation.AccountID = account.ID
	r.logger.Info("account created", "chat_id", conversation.ChatID, "account_id", account.ID)
	return account, nil
}

func (r *Resolver) adoptLinkedAccount(ctx context.Context, conversation *store.Conversation, discardedID string) (store.Account, error) {
	if err := r.store.DeleteAccount(ctx, discardedID); err != nil {
		r.logger.Warn("unlinked account cleanup failed", "account_id", discardedID, "error", err)
	}
	current, err := r.store.GetConversation(ctx, conversation.ChatID)
	if err != nil {
		return store.Account{}, fmt.Errorf("reload conversation: %w", err)
	}
	if current.AccountID == "" {
		return store.Account{}, fmt.Errorf("link account for chat %d: link lost", conversation.ChatID)
	}
	account, err := r.store.GetAccount(ctx, current.AccountID)
	if err != nil {
		return store.Account{}, fmt.Errorf("load linked account: %w", err)
	}
	conversation.AccountID = account.ID
	r.logger.Info("account already linked by a concurrent update", "chat_id", conversation.ChatID, "account_id", account.ID)
	return account, nil
}
