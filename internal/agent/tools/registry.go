package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dwizi/fixfox-bot/internal/agenterr"
)

type entry struct {
	tool     Tool
	resolved *jsonschema.Resolved
}

// Registry is the static set of functions exposed to the model.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool, resolving its schema once. It overwrites any existing
// tool with the same name.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	var resolved *jsonschema.Resolved
	if schema := t.Schema(); schema != nil {
		var err error
		resolved, err = schema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("resolve schema for %s: %w", name, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = entry{tool: t, resolved: resolved}
	return nil
}

// MustRegister registers every tool and panics on an invalid schema.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.tools[name]
	return item.tool, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tools, sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Tool, 0, len(r.tools))
	for _, item := range r.tools {
		list = append(list, item.tool)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

// Execute validates the invocation arguments against the tool schema and runs it.
func (r *Registry) Execute(ctx context.Context, invocation Invocation) (json.RawMessage, error) {
	r.mu.RLock()
	item, exists := r.tools[invocation.Name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", agenterr.ErrUnknownFunction, invocation.Name)
	}

	arguments := invocation.Arguments
	if len(strings.TrimSpace(string(arguments))) == 0 {
		arguments = json.RawMessage(`{}`)
		invocation.Arguments = arguments
	}
	if item.resolved != nil {
		var instance any
		if err := json.Unmarshal(arguments, &instance); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", agenterr.ErrInvalidArguments, invocation.Name, err)
		}
		if err := item.resolved.Validate(instance); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", agenterr.ErrInvalidArguments, invocation.Name, err)
		}
	}

	result, err := item.tool.Execute(ctx, invocation)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", invocation.Name, err)
	}
	return encoded, nil
}

// FailurePayload is the result returned to the model when a call fails.
func FailurePayload(err error) json.RawMessage {
	encoded, _ := json.Marshal(map[string]string{
		"status": "failed",
		"error":  err.Error(),
	})
	return encoded
}
