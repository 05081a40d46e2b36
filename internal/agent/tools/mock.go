package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// MockTool is a helper for testing that implements the Tool interface.
// It is exported so other packages (like agent tests) can use it.
type MockTool struct {
	NameVal   string
	DescVal   string
	SchemaVal *jsonschema.Schema
	ExecFunc  func(ctx context.Context, invocation Invocation) (any, error)
}

func (m *MockTool) Name() string {
	if m.NameVal == "" {
		return "mock_tool"
	}
	return m.NameVal
}

func (m *MockTool) Description() string {
	return m.DescVal
}

func (m *MockTool) Schema() *jsonschema.Schema {
	if m.SchemaVal == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return m.SchemaVal
}

func (m *MockTool) Execute(ctx context.Context, invocation Invocation) (any, error) {
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, invocation)
	}
	return map[string]string{"status": "success"}, nil
}
