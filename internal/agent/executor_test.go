package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwizi/fixfox-bot/internal/agent/tools"
	"github.com/dwizi/fixfox-bot/internal/agenterr"
	"github.com/dwizi/fixfox-bot/internal/llm"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []llm.Response
	errs      []error
	requests  []llm.Request
	results   [][]llm.FunctionResult
	delay     time.Duration
}

func (p *scriptedProvider) next(ctx context.Context) (llm.Response, error) {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := len(p.requests) + len(p.results) - 1
	var err error
	if calls < len(p.errs) {
		err = p.errs[calls]
	}
	if err != nil {
		return llm.Response{}, err
	}
	if calls >= len(p.responses) {
		return p.responses[len(p.responses)-1], nil
	}
	return p.responses[calls], nil
}

func (p *scriptedProvider) Submit(ctx context.Context, request llm.Request) (llm.Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, request)
	p.mu.Unlock()
	return p.next(ctx)
}

func (p *scriptedProvider) SubmitResults(ctx context.Context, _ string, results []llm.FunctionResult, _ []llm.FunctionSpec) (llm.Response, error) {
	p.mu.Lock()
	p.results = append(p.results, results)
	p.mu.Unlock()
	return p.next(ctx)
}

type recordingPresence struct {
	mu     sync.Mutex
	begins int
	ends   int
}

func (p *recordingPresence) Begin(context.Context, int64) func() {
	p.mu.Lock()
	p.begins++
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.ends++
		p.mu.Unlock()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteReturnsTextWithPresence(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{{Text: " Hello! "}}}
	presence := &recordingPresence{}
	executor := New(provider, tools.NewRegistry(), presence, Policy{}, testLogger())

	result, err := executor.Execute(context.Background(), Turn{ChatID: 7, Text: "hi", ShowPresence: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", result.Reply)
	assert.Equal(t, 1, presence.begins)
	assert.Equal(t, 1, presence.ends)
	require.Len(t, provider.requests, 1)
	assert.Equal(t, "telegram:7", provider.requests[0].ConversationKey)
	assert.NotEmpty(t, result.Trace)
}

func TestExecuteFileTurnSkipsPresence(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{{Text: "a receipt"}}}
	presence := &recordingPresence{}
	executor := New(provider, nil, presence, Policy{}, testLogger())

	_, err := executor.Execute(context.Background(), Turn{ChatID: 7, File: &llm.File{Name: "r.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, 0, presence.begins)
}

func TestExecuteRunsFunctionsAndSubmitsResults(t *testing.T) {
	registry := tools.NewRegistry()
	var seen tools.Invocation
	registry.MustRegister(&tools.MockTool{
		NameVal: "get_master",
		ExecFunc: func(_ context.Context, invocation tools.Invocation) (any, error) {
			seen = invocation
			return map[string]string{"status": "success", "text": "Plumber"}, nil
		},
	})
	provider := &scriptedProvider{responses: []llm.Response{
		{FunctionCalls: []llm.FunctionCall{
			{ID: "c1", Name: "get_master", Arguments: json.RawMessage(`{}`)},
			{ID: "c2", Name: "launch_rockets", Arguments: json.RawMessage(`{}`)},
		}},
		{Text: "You are a plumber"},
	}}
	executor := New(provider, registry, nil, Policy{}, testLogger())

	result, err := executor.Execute(context.Background(), Turn{ChatID: 9, AccountID: "acc-9", Text: "who am I"})
	require.NoError(t, err)
	assert.Equal(t, "You are a plumber", result.Reply)
	assert.Equal(t, 1, result.Rounds)
	assert.Equal(t, "acc-9", seen.AccountID)
	assert.EqualValues(t, 9, seen.ChatID)

	require.Len(t, provider.results, 1)
	submitted := provider.results[0]
	require.Len(t, submitted, 2)
	assert.Equal(t, "c1", submitted[0].CallID)
	assert.JSONEq(t, `{"status":"success","text":"Plumber"}`, string(submitted[0].Output))
	assert.Equal(t, "c2", submitted[1].CallID)
	assert.JSONEq(t, `{"status":"failed","error":"unknown function: launch_rockets"}`, string(submitted[1].Output))

	require.Len(t, result.FunctionCalls, 2)
	assert.Equal(t, "success", result.FunctionCalls[0].Status)
	assert.Equal(t, "unknown", result.FunctionCalls[1].Status)
}

func TestExecuteFunctionErrorBecomesFailurePayload(t *testing.T) {
	registry := tools.NewRegistry()
	registry.MustRegister(&tools.MockTool{
		NameVal: "close_order",
		ExecFunc: func(context.Context, tools.Invocation) (any, error) {
			return nil, errors.New("order not found")
		},
	})
	provider := &scriptedProvider{responses: []llm.Response{
		{FunctionCalls: []llm.FunctionCall{{ID: "c1", Name: "close_order", Arguments: json.RawMessage(`{}`)}}},
		{Text: "Could not close it"},
	}}
	executor := New(provider, registry, nil, Policy{}, testLogger())

	result, err := executor.Execute(context.Background(), Turn{ChatID: 1, Text: "close"})
	require.NoError(t, err)
	assert.Equal(t, "Could not close it", result.Reply)
	assert.JSONEq(t, `{"status":"failed","error":"order not found"}`, string(provider.results[0][0].Output))
}

func TestExecuteStopsAtIterationLimit(t *testing.T) {
	registry := tools.NewRegistry()
	registry.MustRegister(&tools.MockTool{NameVal: "loop"})
	provider := &scriptedProvider{responses: []llm.Response{
		{FunctionCalls: []llm.FunctionCall{{ID: "c", Name: "loop", Arguments: json.RawMessage(`{}`)}}},
	}}
	executor := New(provider, registry, nil, Policy{MaxFunctionRounds: 2}, testLogger())

	result, err := executor.Execute(context.Background(), Turn{ChatID: 1, Text: "go"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrIterationLimit))
	assert.Equal(t, 2, result.Rounds)
	assert.Len(t, provider.results, 2)
}

func TestExecuteMapsProviderErrors(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("503")}, responses: []llm.Response{{}}}
	executor := New(provider, nil, nil, Policy{}, testLogger())

	_, err := executor.Execute(context.Background(), Turn{ChatID: 1, Text: "hi"})
	assert.True(t, errors.Is(err, agenterr.ErrProvider))
}

func TestExecuteMapsProviderTimeout(t *testing.T) {
	provider := &scriptedProvider{responses: []llm.Response{{Text: "late"}}, delay: 200 * time.Millisecond}
	presence := &recordingPresence{}
	executor := New(provider, nil, presence, Policy{CallTimeout: 20 * time.Millisecond}, testLogger())

	_, err := executor.Execute(context.Background(), Turn{ChatID: 1, Text: "hi", ShowPresence: true})
	assert.True(t, errors.Is(err, agenterr.ErrProviderTimeout))
	assert.Equal(t, 1, presence.ends)
}
