package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dwizi/fixfox-bot/internal/agent/tools"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/telegram"
)

type addMaster struct {
	store     OrderStore
	messenger Messenger
	logger    *slog.Logger
}

func (f *addMaster) Name() string { return "add_master" }

func (f *addMaster) Description() string {
	return "Registers the user as a master (service provider) or reactivates an existing registration."
}

func (f *addMaster) Schema() *jsonschema.Schema {
	return objectSchema([]string{"description", "country"}, map[string]*jsonschema.Schema{
		"description": stringProp("Services the master offers, experience and area"),
		"country":     stringProp("Country where the master works"),
	})
}

func (f *addMaster) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	var args struct {
		Description string `json:"description"`
		Country     string `json:"country"`
	}
	if err := json.Unmarshal(invocation.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode add_master arguments: %w", err)
	}
	if strings.TrimSpace(args.Description) == "" || strings.TrimSpace(args.Country) == "" {
		return nil, fmt.Errorf("description and country are required")
	}
	master, _, err := f.store.UpsertMaster(ctx, invocation.AccountID, args.Description, args.Country)
	if err != nil {
		return nil, err
	}

	if f.messenger != nil {
		err := f.messenger.SendToAdmins(ctx, telegram.Message{
			Text: fmt.Sprintf("New master <b>#%d</b> (%s)\n\n%s", master.ID, html.EscapeString(master.Country), html.EscapeString(master.Text)),
			Keyboard: telegram.SingleRow(
				telegram.InlineButton{Text: "Accept", CallbackData: fmt.Sprintf("admin_acceptMaster_%d", master.ID)},
				telegram.InlineButton{Text: "Reject", CallbackData: fmt.Sprintf("admin_rejectMaster_%d", master.ID)},
			),
			Tag: fmt.Sprintf("admin_master_%d", master.ID),
		})
		if err != nil {
			f.logger.Warn("admin master notification failed", "master_id", master.ID, "error", err)
		}
	}
	return map[string]any{
		"status":    "master added or reactivated",
		"master_id": master.ID,
	}, nil
}

type closeMaster struct {
	store OrderStore
}

func (f *closeMaster) Name() string { return "close_master" }

func (f *closeMaster) Description() string {
	return "Deactivates the user's master registration."
}

func (f *closeMaster) Schema() *jsonschema.Schema {
	return objectSchema(nil, map[string]*jsonschema.Schema{})
}

func (f *closeMaster) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	if err := f.store.CloseMaster(ctx, invocation.AccountID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "master closed"}, nil
}

type getMaster struct {
	store OrderStore
}

func (f *getMaster) Name() string { return "get_master" }

func (f *getMaster) Description() string {
	return "Returns the user's active master registration, if any."
}

func (f *getMaster) Schema() *jsonschema.Schema {
	return objectSchema(nil, map[string]*jsonschema.Schema{})
}

func (f *getMaster) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	master, err := f.store.GetActiveMaster(ctx, invocation.AccountID)
	if errors.Is(err, store.ErrMasterNotFound) {
		return map[string]string{"status": "You are not registered as a master"}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": "success", "text": master.Text}, nil
}
