package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwizi/fixfox-bot/internal/llm"
	"github.com/dwizi/fixfox-bot/internal/store"
)

type fakeCompletions struct {
	mu        sync.Mutex
	requests  []map[string]any
	responses []string
}

func (f *fakeCompletions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.requests = append(f.requests, body)
	index := len(f.requests) - 1
	response := f.responses[min(index, len(f.responses)-1)]
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, response)
}

func (f *fakeCompletions) Requests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...)
}

func completion(message string) string {
	return `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":` + message + `,"finish_reason":"stop"}]}`
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "llm_test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })
	require.NoError(t, sqlStore.AutoMigrate(context.Background()))
	return sqlStore
}

func newTestClient(t *testing.T, fake *fakeCompletions, history HistoryStore) *Client {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return New(Config{
		BaseURL:      server.URL + "/v1",
		Model:        "test-model",
		Instructions: "You are FixFox.",
	}, history, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubmitPersistsHistory(t *testing.T) {
	ctx := context.Background()
	sqlStore := newTestStore(t)
	fake := &fakeCompletions{responses: []string{
		completion(`{"role":"assistant","content":"Hello there"}`),
		completion(`{"role":"assistant","content":"<think>hmm</think>Second"}`),
	}}
	client := newTestClient(t, fake, sqlStore)

	response, err := client.Submit(ctx, llm.Request{ConversationKey: "telegram:1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", response.Text)

	response, err = client.Submit(ctx, llm.Request{ConversationKey: "telegram:1", Text: "again"})
	require.NoError(t, err)
	assert.Equal(t, "Second", response.Text)

	requests := fake.Requests()
	require.Len(t, requests, 2)
	messages := requests[1]["messages"].([]any)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "hi", messages[1].(map[string]any)["content"])
	assert.Equal(t, "Hello there", messages[2].(map[string]any)["content"])
	assert.Equal(t, "again", messages[3].(map[string]any)["content"])

	stored, err := sqlStore.ListConversationMessages(ctx, "telegram:1", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestSubmitResultsAnswersToolCalls(t *testing.T) {
	ctx := context.Background()
	sqlStore := newTestStore(t)
	fake := &fakeCompletions{responses: []string{
		completion(`{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_master","arguments":"{}"}}]}`),
		completion(`{"role":"assistant","content":"You are not registered"}`),
	}}
	client := newTestClient(t, fake, sqlStore)
	functions := []llm.FunctionSpec{{Name: "get_master", Description: "Get master", Parameters: map[string]any{"type": "object"}}}

	response, err := client.Submit(ctx, llm.Request{ConversationKey: "telegram:2", Text: "am I a master?", Functions: functions})
	require.NoError(t, err)
	require.Len(t, response.FunctionCalls, 1)
	assert.Equal(t, "call_1", response.FunctionCalls[0].ID)
	assert.Equal(t, "get_master", response.FunctionCalls[0].Name)
	assert.JSONEq(t, `{}`, string(response.FunctionCalls[0].Arguments))

	response, err = client.SubmitResults(ctx, "telegram:2", []llm.FunctionResult{{
		CallID: "call_1",
		Name:   "get_master",
		Output: json.RawMessage(`{"status":"You are not registered as a master"}`),
	}}, functions)
	require.NoError(t, err)
	assert.Equal(t, "You are not registered", response.Text)

	requests := fake.Requests()
	require.Len(t, requests, 2)
	tools := requests[0]["tools"].([]any)
	require.Len(t, tools, 1)
	messages := requests[1]["messages"].([]any)
	last := messages[len(messages)-1].(map[string]any)
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
}

func TestSubmitSendsImagesAsDataURL(t *testing.T) {
	fake := &fakeCompletions{responses: []string{completion(`{"role":"assistant","content":"A cat"}`)}}
	client := newTestClient(t, fake, nil)

	path := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	response, err := client.Submit(context.Background(), llm.Request{
		ConversationKey: "telegram:3",
		File:            &llm.File{Path: path, Name: "cat.jpg", MimeType: "image/jpeg", Size: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, "A cat", response.Text)

	messages := fake.Requests()[0]["messages"].([]any)
	user := messages[len(messages)-1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
}

func TestSubmitInlinesTextFiles(t *testing.T) {
	fake := &fakeCompletions{responses: []string{completion(`{"role":"assistant","content":"ok"}`)}}
	client := newTestClient(t, fake, nil)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("fix the sink"), 0o644))

	_, err := client.Submit(context.Background(), llm.Request{
		ConversationKey: "telegram:4",
		Text:            "what is this?",
		File:            &llm.File{Path: path, Name: "notes.txt", MimeType: "text/plain", Size: 12},
	})
	require.NoError(t, err)

	messages := fake.Requests()[0]["messages"].([]any)
	content := messages[len(messages)-1].(map[string]any)["content"].(string)
	assert.Contains(t, content, "fix the sink")
	assert.Contains(t, content, "what is this?")
}

func TestSubmitRequiresAPIKeyForRemoteProviders(t *testing.T) {
	client := New(Config{BaseURL: "https://api.openai.com/v1"}, nil, nil)
	_, err := client.Submit(context.Background(), llm.Request{ConversationKey: "telegram:5", Text: "hi"})
	assert.True(t, errors.Is(err, llm.ErrUnavailable))
}

func TestTranslate(t *testing.T) {
	fake := &fakeCompletions{responses: []string{completion(`{"role":"assistant","content":"Hola"}`)}}
	client := newTestClient(t, fake, nil)

	translated, err := client.Translate(context.Background(), "Hello", "es")
	require.NoError(t, err)
	assert.Equal(t, "Hola", translated)
	messages := fake.Requests()[0]["messages"].([]any)
	require.Len(t, messages, 2)
}

func TestTrimHistory(t *testing.T) {
	call := goopenai.ToolCall{ID: "a", Type: goopenai.ToolTypeFunction, Function: goopenai.FunctionCall{Name: "x"}}
	messages := []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleTool, ToolCallID: "orphan"},
		{Role: goopenai.ChatMessageRoleAssistant, Content: "leftover"},
		{Role: goopenai.ChatMessageRoleUser, Content: "one"},
		{Role: goopenai.ChatMessageRoleAssistant, ToolCalls: []goopenai.ToolCall{call, {ID: "b"}}},
		{Role: goopenai.ChatMessageRoleTool, ToolCallID: "a"},
		{Role: goopenai.ChatMessageRoleUser, Content: "two"},
		{Role: goopenai.ChatMessageRoleAssistant, ToolCalls: []goopenai.ToolCall{call}},
	}

	trimmed := trimHistory(messages, true)
	require.Len(t, trimmed, 3)
	assert.Equal(t, "one", trimmed[0].Content)
	assert.Equal(t, "two", trimmed[1].Content)
	assert.Len(t, trimmed[2].ToolCalls, 1)

	trimmed = trimHistory(messages, false)
	require.Len(t, trimmed, 2)
	assert.Equal(t, "two", trimmed[1].Content)
}
