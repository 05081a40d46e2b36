package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/dwizi/fixfox-bot/internal/llm"
	"github.com/dwizi/fixfox-bot/internal/store"
)

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	TranslateModel  string
	Temperature     float64
	Instructions    string
	Timeout         time.Duration
	HistoryMessages int
	InlineFileBytes int
}

// HistoryStore persists the multi-turn memory of each conversation.
type HistoryStore interface {
	AppendConversationMessages(ctx context.Context, key string, messages []store.ConversationMessage) error
	ListConversationMessages(ctx context.Context, key string, limit int) ([]store.ConversationMessage, error)
}

type Client struct {
	cfg     Config
	api     *goopenai.Client
	history HistoryStore
	logger  *slog.Logger
}

func New(cfg Config, history HistoryStore, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-5-mini"
	}
	if strings.TrimSpace(cfg.TranslateModel) == "" {
		cfg.TranslateModel = cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.HistoryMessages < 1 {
		cfg.HistoryMessages = 40
	}
	if cfg.InlineFileBytes < 1 {
		cfg.InlineFileBytes = 64 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		cfg:     cfg,
		api:     goopenai.NewClientWithConfig(clientConfig),
		history: history,
		logger:  logger.With("component", "llm-openai"),
	}
}

// Submit appends the user input (text and optional file) to the conversation
// and returns the model's reply or its function calls.
func (c *Client) Submit(ctx context.Context, request llm.Request) (llm.Response, error) {
	if err := c.ensureAvailable(); err != nil {
		return llm.Response{}, err
	}
	key := strings.TrimSpace(request.ConversationKey)
	if key == "" {
		return llm.Response{}, fmt.Errorf("conversation key is required")
	}

	history, err := c.loadHistory(ctx, key, false)
	if err != nil {
		return llm.Response{}, err
	}
	live, persisted, err := c.userMessage(request)
	if err != nil {
		return llm.Response{}, err
	}

	messages := append(c.systemMessages(), history...)
	messages = append(messages, live)
	reply, err := c.complete(ctx, c.cfg.Model, messages, request.Functions)
	if err != nil {
		return llm.Response{}, err
	}
	if err := c.persist(ctx, key, persisted, reply); err != nil {
		return llm.Response{}, err
	}
	return toResponse(reply), nil
}

// SubmitResults answers the pending function calls of the conversation.
func (c *Client) SubmitResults(ctx context.Context, conversationKey string, results []llm.FunctionResult, functions []llm.FunctionSpec) (llm.Response, error) {
	if err := c.ensureAvailable(); err != nil {
		return llm.Response{}, err
	}
	key := strings.TrimSpace(conversationKey)
	history, err := c.loadHistory(ctx, key, true)
	if err != nil {
		return llm.Response{}, err
	}

	toolMessages := make([]goopenai.ChatCompletionMessage, 0, len(results))
	for _, result := range results {
		toolMessages = append(toolMessages, goopenai.ChatCompletionMessage{
			Role:       goopenai.ChatMessageRoleTool,
			Content:    string(result.Output),
			ToolCallID: result.CallID,
		})
	}

	messages := append(c.systemMessages(), history...)
	messages = append(messages, toolMessages...)
	reply, err := c.complete(ctx, c.cfg.Model, messages, functions)
	if err != nil {
		return llm.Response{}, err
	}
	if err := c.persist(ctx, key, toolMessages, reply); err != nil {
		return llm.Response{}, err
	}
	return toResponse(reply), nil
}

// Translate is a one-shot completion outside any conversation memory.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if err := c.ensureAvailable(); err != nil {
		return "", err
	}
	messages := []goopenai.ChatCompletionMessage{
		{
			Role: goopenai.ChatMessageRoleSystem,
			Content: fmt.Sprintf(
				"Translate the user's message into the language with code %q. Keep HTML tags, emoji, commands and line breaks unchanged. Reply with the translation only.",
				targetLanguage,
			),
		},
		{Role: goopenai.ChatMessageRoleUser, Content: text},
	}
	reply, err := c.complete(ctx, c.cfg.TranslateModel, messages, nil)
	if err != nil {
		return "", err
	}
	return sanitizeModelReply(reply.Content), nil
}

func (c *Client) complete(ctx context.Context, model string, messages []goopenai.ChatCompletionMessage, functions []llm.FunctionSpec) (goopenai.ChatCompletionMessage, error) {
	req := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(c.cfg.Temperature),
		Tools:       toTools(functions),
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("openai chat completion failed", "model", model, "error", err)
		return goopenai.ChatCompletionMessage{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return goopenai.ChatCompletionMessage{}, fmt.Errorf("openai response returned no choices")
	}
	return resp.Choices[0].Message, nil
}

func (c *Client) ensureAvailable() error {
	if requiresAPIKey(c.cfg.BaseURL) && strings.TrimSpace(c.cfg.APIKey) == "" {
		return fmt.Errorf("%w: missing API key for %s", llm.ErrUnavailable, c.cfg.BaseURL)
	}
	return nil
}

func (c *Client) systemMessages() []goopenai.ChatCompletionMessage {
	instructions := strings.TrimSpace(c.cfg.Instructions)
	if instructions == "" {
		return nil
	}
	return []goopenai.ChatCompletionMessage{{Role: goopenai.ChatMessageRoleSystem, Content: instructions}}
}

// userMessage returns the message sent now and the lighter form kept in memory.
func (c *Client) userMessage(request llm.Request) (goopenai.ChatCompletionMessage, []goopenai.ChatCompletionMessage, error) {
	text := strings.TrimSpace(request.Text)
	if request.File == nil {
		message := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: text}
		return message, []goopenai.ChatCompletionMessage{message}, nil
	}

	file := request.File
	summary := describeFile(*file)
	if text != "" {
		summary += "\n\n" + text
	}
	persisted := []goopenai.ChatCompletionMessage{{Role: goopenai.ChatMessageRoleUser, Content: summary}}
	prompt := text
	if prompt == "" {
		prompt = "Please analyze this file."
	}

	mimeType := strings.ToLower(file.MimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		data, err := os.ReadFile(file.Path)
		if err != nil {
			return goopenai.ChatCompletionMessage{}, nil, fmt.Errorf("read image: %w", err)
		}
		dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
		live := goopenai.ChatCompletionMessage{
			Role: goopenai.ChatMessageRoleUser,
			MultiContent: []goopenai.ChatMessagePart{
				{Type: goopenai.ChatMessagePartTypeText, Text: prompt},
				{Type: goopenai.ChatMessagePartTypeImageURL, ImageURL: &goopenai.ChatMessageImageURL{URL: dataURL}},
			},
		}
		return live, persisted, nil
	case isTextLike(file.Name, mimeType) && file.Size <= int64(c.cfg.InlineFileBytes):
		data, err := os.ReadFile(file.Path)
		if err != nil {
			return goopenai.ChatCompletionMessage{}, nil, fmt.Errorf("read text file: %w", err)
		}
		content := fmt.Sprintf("%s\n\nContents of %s:\n```\n%s\n```", prompt, file.Name, string(data))
		return goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: content}, persisted, nil
	default:
		content := prompt + "\n\n" + summary + "\nThe contents of this file cannot be read directly; answer from its name and type."
		return goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: content}, persisted, nil
	}
}

func (c *Client) loadHistory(ctx context.Context, key string, keepOpenExchange bool) ([]goopenai.ChatCompletionMessage, error) {
	if c.history == nil {
		return nil, nil
	}
	stored, err := c.history.ListConversationMessages(ctx, key, c.cfg.HistoryMessages)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}
	messages := make([]goopenai.ChatCompletionMessage, 0, len(stored))
	for _, item := range stored {
		message := goopenai.ChatCompletionMessage{
			Role:       item.Role,
			Content:    item.Content,
			ToolCallID: item.ToolCallID,
			Name:       item.Name,
		}
		if strings.TrimSpace(item.ToolCallsJSON) != "" {
			if err := json.Unmarshal([]byte(item.ToolCallsJSON), &message.ToolCalls); err != nil {
				c.logger.Warn("dropping undecodable tool calls from history", "conversation_key", key, "error", err)
				continue
			}
		}
		messages = append(messages, message)
	}
	return trimHistory(messages, keepOpenExchange), nil
}

func (c *Client) persist(ctx context.Context, key string, inputs []goopenai.ChatCompletionMessage, reply goopenai.ChatCompletionMessage) error {
	if c.history == nil {
		return nil
	}
	records := make([]store.ConversationMessage, 0, len(inputs)+1)
	for _, input := range append(inputs, reply) {
		record := store.ConversationMessage{
			Role:       input.Role,
			Content:    input.Content,
			ToolCallID: input.ToolCallID,
			Name:       input.Name,
		}
		if record.Role == "" {
			record.Role = goopenai.ChatMessageRoleAssistant
		}
		if len(input.ToolCalls) > 0 {
			encoded, err := json.Marshal(input.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			record.ToolCallsJSON = string(encoded)
		}
		records = append(records, record)
	}
	if err := c.history.AppendConversationMessages(ctx, key, records); err != nil {
		return fmt.Errorf("persist conversation history: %w", err)
	}
	return nil
}

// trimHistory starts the window at a user message and drops tool-call
// exchanges that were never fully answered. A trailing open exchange is kept
// only when its results are about to be submitted.
func trimHistory(messages []goopenai.ChatCompletionMessage, keepOpenExchange bool) []goopenai.ChatCompletionMessage {
	start := 0
	for start < len(messages) && messages[start].Role != goopenai.ChatMessageRoleUser {
		start++
	}
	messages = messages[start:]

	trimmed := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for index := 0; index < len(messages); index++ {
		message := messages[index]
		if message.Role == goopenai.ChatMessageRoleTool {
			continue
		}
		if message.Role != goopenai.ChatMessageRoleAssistant || len(message.ToolCalls) == 0 {
			trimmed = append(trimmed, message)
			continue
		}
		pending := map[string]struct{}{}
		for _, call := range message.ToolCalls {
			pending[call.ID] = struct{}{}
		}
		answers := []goopenai.ChatCompletionMessage{}
		next := index + 1
		for next < len(messages) && messages[next].Role == goopenai.ChatMessageRoleTool {
			if _, ok := pending[messages[next].ToolCallID]; ok {
				delete(pending, messages[next].ToolCallID)
				answers = append(answers, messages[next])
			}
			next++
		}
		if len(pending) == 0 {
			trimmed = append(trimmed, message)
			trimmed = append(trimmed, answers...)
		} else if keepOpenExchange && next == len(messages) {
			trimmed = append(trimmed, message)
			trimmed = append(trimmed, answers...)
		}
		index = next - 1
	}
	return trimmed
}

func toTools(functions []llm.FunctionSpec) []goopenai.Tool {
	if len(functions) == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, len(functions))
	for _, function := range functions {
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        function.Name,
				Description: function.Description,
				Parameters:  function.Parameters,
			},
		})
	}
	return tools
}

func toResponse(message goopenai.ChatCompletionMessage) llm.Response {
	response := llm.Response{Text: sanitizeModelReply(message.Content)}
	for _, call := range message.ToolCalls {
		arguments := json.RawMessage(call.Function.Arguments)
		if len(strings.TrimSpace(call.Function.Arguments)) == 0 {
			arguments = json.RawMessage(`{}`)
		}
		response.FunctionCalls = append(response.FunctionCalls, llm.FunctionCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: arguments,
		})
	}
	return response
}

var (
	thinkBlockPattern = regexp.MustCompile(`(?is)<think\b[^>]*>.*?</think>`)
	thinkFencePattern = regexp.MustCompile("(?is)```think\\s*.*?```")
)

func sanitizeModelReply(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	trimmed = thinkBlockPattern.ReplaceAllString(trimmed, "")
	trimmed = thinkFencePattern.ReplaceAllString(trimmed, "")
	trimmed = strings.ReplaceAll(trimmed, "<think>", "")
	trimmed = strings.ReplaceAll(trimmed, "</think>", "")
	return strings.TrimSpace(trimmed)
}

func describeFile(file llm.File) string {
	name := strings.TrimSpace(file.Name)
	if name == "" {
		name = filepath.Base(file.Path)
	}
	mimeType := strings.TrimSpace(file.MimeType)
	if mimeType == "" {
		mimeType = "unknown type"
	}
	return fmt.Sprintf("[file: %s, %s, %d bytes]", name, mimeType, file.Size)
}

var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".csv": {}, ".json": {}, ".xml": {}, ".yaml": {}, ".yml": {},
	".log": {}, ".html": {}, ".htm": {}, ".ini": {}, ".tsv": {},
}

func isTextLike(name, mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/xml", "application/x-yaml", "application/csv":
		return true
	}
	_, ok := textExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func requiresAPIKey(baseURL string) bool {
	// Heuristic: localhost/ollama usually don't need keys
	lower := strings.ToLower(baseURL)
	if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") || strings.Contains(lower, "ollama") {
		return false
	}
	return true
}
