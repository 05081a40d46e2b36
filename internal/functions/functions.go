// Package functions holds the static set of functions the model may call.
package functions

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dwizi/fixfox-bot/internal/agent/tools"
	"github.com/dwizi/fixfox-bot/internal/resume"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/telegram"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, input store.CreateOrderInput) (store.Order, error)
	ListActiveOrders(ctx context.Context, accountID string, limit int) ([]store.Order, error)
	CloseOrder(ctx context.Context, accountID string, id int64) error
	CloseAllOrders(ctx context.Context, accountID string) (int64, error)
	UpsertMaster(ctx context.Context, accountID, text, country string) (store.Master, bool, error)
	CloseMaster(ctx context.Context, accountID string) error
	GetActiveMaster(ctx context.Context, accountID string) (store.Master, error)
}

// Messenger is the slice of outbound delivery the functions use.
type Messenger interface {
	SendToAdmins(ctx context.Context, message telegram.Message) error
	SendDocument(ctx context.Context, chatID int64, path, caption, tag string) (telegram.SendResult, error)
}

type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

type Renderer interface {
	Render(doc resume.Resume) (string, error)
}

type Dependencies struct {
	Store         OrderStore
	Messenger     Messenger
	Translator    Translator
	Renderer      Renderer
	OrderLifetime time.Duration
	Logger        *slog.Logger
}

// Register installs every function into the registry.
func Register(registry *tools.Registry, deps Dependencies) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.OrderLifetime <= 0 {
		deps.OrderLifetime = 7 * 24 * time.Hour
	}
	logger := deps.Logger.With("component", "functions")
	all := []tools.Tool{
		&generateResumePDF{renderer: deps.Renderer, messenger: deps.Messenger, logger: logger},
		&addOrder{store: deps.Store, messenger: deps.Messenger, lifetime: deps.OrderLifetime, logger: logger},
		&closeOrder{store: deps.Store},
		&getActiveOrders{store: deps.Store},
		&closeAllOrders{store: deps.Store},
		&addMaster{store: deps.Store, messenger: deps.Messenger, logger: logger},
		&closeMaster{store: deps.Store},
		&getMaster{store: deps.Store},
		&translateText{translator: deps.Translator},
	}
	for _, tool := range all {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func objectSchema(required []string, properties map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func stringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func arrayOf(description string, items *jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Description: description, Items: items}
}
