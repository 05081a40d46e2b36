package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Invocation is one function call requested by the model, bound to the
// account and chat that started the turn.
type Invocation struct {
	Name      string
	Arguments json.RawMessage
	AccountID string
	ChatID    int64
}

// Tool represents a function the model may call.
type Tool interface {
	// Name returns the unique identifier the model uses (e.g., "add_order").
	Name() string

	// Description returns a model-readable explanation of what the function does.
	Description() string

	// Schema describes the expected arguments object.
	Schema() *jsonschema.Schema

	// Execute runs the function and returns a JSON-encodable result.
	Execute(ctx context.Context, invocation Invocation) (any, error)
}
