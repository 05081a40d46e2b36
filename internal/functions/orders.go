package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dwizi/fixfox-bot/internal/agent/tools"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/telegram"
)

const activeOrdersLimit = 20

type addOrder struct {
	store     OrderStore
	messenger Messenger
	lifetime  time.Duration
	logger    *slog.Logger
}

func (f *addOrder) Name() string { return "add_order" }

func (f *addOrder) Description() string {
	return "Creates a new service order for the user from the task description and the locations where the work is needed."
}

func (f *addOrder) Schema() *jsonschema.Schema {
	location := objectSchema([]string{"address", "city", "country"}, map[string]*jsonschema.Schema{
		"address": stringProp("Street address"),
		"city":    stringProp("City"),
		"country": stringProp("Country"),
	})
	return objectSchema([]string{"description", "locations"}, map[string]*jsonschema.Schema{
		"description": stringProp("What needs to be done"),
		"locations":   arrayOf("Where the work is needed", location),
	})
}

func (f *addOrder) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	var args struct {
		Description string `json:"description"`
		Locations   []struct {
			Address string `json:"address"`
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"locations"`
	}
	if err := json.Unmarshal(invocation.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode add_order arguments: %w", err)
	}
	if strings.TrimSpace(args.Description) == "" || len(args.Locations) == 0 {
		return nil, fmt.Errorf("description and at least one location are required")
	}

	textParts := []string{strings.TrimSpace(args.Description)}
	locations := make([]store.OrderLocation, 0, len(args.Locations))
	for _, location := range args.Locations {
		if strings.TrimSpace(location.Address) == "" || strings.TrimSpace(location.City) == "" || strings.TrimSpace(location.Country) == "" {
			return nil, fmt.Errorf("every location needs address, city and country")
		}
		textParts = append(textParts, strings.TrimSpace(location.Address))
		locations = append(locations, store.OrderLocation{
			Address: location.Address,
			City:    location.City,
			Country: location.Country,
		})
	}

	order, err := f.store.CreateOrder(ctx, store.CreateOrderInput{
		AccountID: invocation.AccountID,
		Text:      strings.Join(textParts, "\n"),
		Locations: locations,
		ExpiresAt: time.Now().UTC().Add(f.lifetime),
	})
	if err != nil {
		return nil, err
	}

	if f.messenger != nil {
		err := f.messenger.SendToAdmins(ctx, telegram.Message{
			Text: fmt.Sprintf("New order <b>#%d</b>\n\n%s", order.ID, html.EscapeString(order.Text)),
			Keyboard: telegram.SingleRow(
				telegram.InlineButton{Text: "Accept", CallbackData: fmt.Sprintf("admin_acceptOrder_%d", order.ID)},
				telegram.InlineButton{Text: "Reject", CallbackData: fmt.Sprintf("admin_rejectOrder_%d", order.ID)},
			),
			Tag: fmt.Sprintf("admin_order_%d", order.ID),
		})
		if err != nil {
			f.logger.Warn("admin order notification failed", "order_id", order.ID, "error", err)
		}
	}
	return map[string]any{"order_id": order.ID}, nil
}

type closeOrder struct {
	store OrderStore
}

func (f *closeOrder) Name() string { return "close_order" }

func (f *closeOrder) Description() string {
	return "Closes one of the user's orders by its id."
}

func (f *closeOrder) Schema() *jsonschema.Schema {
	return objectSchema([]string{"order_id"}, map[string]*jsonschema.Schema{
		"order_id": {Type: "integer", Description: "Order id"},
	})
}

func (f *closeOrder) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	var args struct {
		OrderID int64 `json:"order_id"`
	}
	if err := json.Unmarshal(invocation.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode close_order arguments: %w", err)
	}
	if err := f.store.CloseOrder(ctx, invocation.AccountID, args.OrderID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "order closed"}, nil
}

type getActiveOrders struct {
	store OrderStore
}

func (f *getActiveOrders) Name() string { return "get_active_orders" }

func (f *getActiveOrders) Description() string {
	return "Lists the user's open orders, newest first."
}

func (f *getActiveOrders) Schema() *jsonschema.Schema {
	return objectSchema(nil, map[string]*jsonschema.Schema{})
}

type orderSummary struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

func (f *getActiveOrders) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	orders, err := f.store.ListActiveOrders(ctx, invocation.AccountID, activeOrdersLimit)
	if err != nil {
		return nil, err
	}
	summaries := make([]orderSummary, 0, len(orders))
	for _, order := range orders {
		summaries = append(summaries, orderSummary{ID: order.ID, Text: order.Text})
	}
	return map[string]any{"active_orders": summaries}, nil
}

type closeAllOrders struct {
	store OrderStore
}

func (f *closeAllOrders) Name() string { return "close_all_orders" }

func (f *closeAllOrders) Description() string {
	return "Closes every open order of the user."
}

func (f *closeAllOrders) Schema() *jsonschema.Schema {
	return objectSchema(nil, map[string]*jsonschema.Schema{})
}

func (f *closeAllOrders) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	if _, err := f.store.CloseAllOrders(ctx, invocation.AccountID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "all orders closed"}, nil
}
