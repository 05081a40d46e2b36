package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwizi/fixfox-bot/internal/agent/tools"
	"github.com/dwizi/fixfox-bot/internal/agenterr"
	"github.com/dwizi/fixfox-bot/internal/llm"
	"github.com/dwizi/fixfox-bot/internal/metrics"
)

var tracer = otel.Tracer("fixfox-bot/agent")

// Presence shows the typing indicator while a turn runs.
type Presence interface {
	Begin(ctx context.Context, chatID int64) func()
}

// Turn is one unit of AI work for a chat.
type Turn struct {
	ChatID          int64
	AccountID       string
	ConversationKey string
	Text            string
	File            *llm.File
	ShowPresence    bool
}

// Result represents the outcome of a turn.
type Result struct {
	Reply         string
	FunctionCalls []FunctionCall
	Rounds        int
	Trace         []TraceEvent
}

// TraceEvent captures a notable step for diagnostics and audit.
type TraceEvent struct {
	Time    time.Time
	Stage   string
	Message string
}

// FunctionCall captures a function invocation made during the turn.
type FunctionCall struct {
	Name      string
	Arguments string
	Status    string
	Output    string
}

// ConversationKey names the AI memory of a chat.
func ConversationKey(chatID int64) string {
	return fmt.Sprintf("telegram:%d", chatID)
}

// Executor runs the submit, function-call, submit-results loop.
type Executor struct {
	provider llm.Provider
	registry *tools.Registry
	presence Presence
	policy   Policy
	logger   *slog.Logger
}

func New(provider llm.Provider, registry *tools.Registry, presence Presence, policy Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Executor{
		provider: provider,
		registry: registry,
		presence: presence,
		policy:   mergePolicy(defaultPolicy(), policy),
		logger:   logger.With("component", "agent"),
	}
}

// Execute runs a bounded turn. The returned error wraps one of the agenterr
// sentinels; the result keeps its trace even on failure.
func (e *Executor) Execute(ctx context.Context, turn Turn) (Result, error) {
	result := Result{}
	appendTrace := func(stage, message string) {
		result.Trace = append(result.Trace, TraceEvent{
			Time:    time.Now().UTC(),
			Stage:   strings.TrimSpace(stage),
			Message: strings.TrimSpace(message),
		})
		e.logger.Debug("agent_trace", "chat_id", turn.ChatID, "stage", stage, "message", message)
	}

	turnType := "text"
	if turn.File != nil {
		turnType = "file"
	}
	started := time.Now()
	ctx, span := tracer.Start(ctx, "agent.turn")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", turn.ChatID),
		attribute.String("turn_type", turnType),
	)

	if strings.TrimSpace(turn.ConversationKey) == "" {
		turn.ConversationKey = ConversationKey(turn.ChatID)
	}
	policy := e.policy
	if policy.MaxTurnDuration > 0 {
		timeoutCtx, cancel := context.WithTimeout(ctx, policy.MaxTurnDuration)
		defer cancel()
		ctx = timeoutCtx
	}
	appendTrace("start", fmt.Sprintf("%s turn started", turnType))

	if turn.ShowPresence && e.presence != nil {
		end := e.presence.Begin(ctx, turn.ChatID)
		defer end()
		appendTrace("presence", "typing indicator started")
	}

	fail := func(err error) (Result, error) {
		appendTrace("error", err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordAITurn(turnType, "error", time.Since(started))
		return result, err
	}

	functions := e.functionSpecs()
	response, err := e.call(ctx, policy, func(callCtx context.Context) (llm.Response, error) {
		return e.provider.Submit(callCtx, llm.Request{
			ConversationKey: turn.ConversationKey,
			Text:            turn.Text,
			File:            turn.File,
			Functions:       functions,
		})
	})
	if err != nil {
		return fail(err)
	}
	appendTrace("provider.submit", fmt.Sprintf("received %d function calls", len(response.FunctionCalls)))

	for len(response.FunctionCalls) > 0 {
		if result.Rounds >= policy.MaxFunctionRounds {
			return fail(fmt.Errorf("%w: %d rounds", agenterr.ErrIterationLimit, policy.MaxFunctionRounds))
		}
		result.Rounds++

		results := make([]llm.FunctionResult, 0, len(response.FunctionCalls))
		for _, call := range response.FunctionCalls {
			output := e.invoke(ctx, turn, call, &result)
			results = append(results, llm.FunctionResult{CallID: call.ID, Name: call.Name, Output: output})
		}
		appendTrace("functions", fmt.Sprintf("round %d executed %d calls", result.Rounds, len(results)))

		response, err = e.call(ctx, policy, func(callCtx context.Context) (llm.Response, error) {
			return e.provider.SubmitResults(callCtx, turn.ConversationKey, results, functions)
		})
		if err != nil {
			return fail(err)
		}
		appendTrace("provider.results", fmt.Sprintf("received %d function calls", len(response.FunctionCalls)))
	}

	result.Reply = strings.TrimSpace(response.Text)
	appendTrace("reply", "final text received")
	metrics.RecordAITurn(turnType, "success", time.Since(started))
	return result, nil
}

func (e *Executor) call(ctx context.Context, policy Policy, invoke func(context.Context) (llm.Response, error)) (llm.Response, error) {
	callCtx := ctx
	if policy.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
		defer cancel()
	}
	response, err := invoke(callCtx)
	if err == nil {
		return response, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return llm.Response{}, fmt.Errorf("%w: %v", agenterr.ErrProviderTimeout, err)
	}
	return llm.Response{}, fmt.Errorf("%w: %v", agenterr.ErrProvider, err)
}

func (e *Executor) invoke(ctx context.Context, turn Turn, call llm.FunctionCall, result *Result) json.RawMessage {
	record := FunctionCall{
		Name:      call.Name,
		Arguments: compactText(string(call.Arguments), 800),
	}
	defer func() {
		result.FunctionCalls = append(result.FunctionCalls, record)
	}()

	if !e.registry.Has(call.Name) {
		record.Status = "unknown"
		metrics.RecordFunctionCall("unknown", "failed")
		e.logger.Warn("model requested unknown function", "chat_id", turn.ChatID, "function", call.Name)
		output := tools.FailurePayload(fmt.Errorf("unknown function: %s", call.Name))
		record.Output = string(output)
		return output
	}

	output, err := e.registry.Execute(ctx, tools.Invocation{
		Name:      call.Name,
		Arguments: call.Arguments,
		AccountID: turn.AccountID,
		ChatID:    turn.ChatID,
	})
	if err != nil {
		record.Status = "failed"
		metrics.RecordFunctionCall(call.Name, "failed")
		e.logger.Warn("function call failed", "chat_id", turn.ChatID, "function", call.Name, "error", err)
		output = tools.FailurePayload(err)
		record.Output = compactText(string(output), 800)
		return output
	}
	record.Status = "success"
	record.Output = compactText(string(output), 800)
	metrics.RecordFunctionCall(call.Name, "success")
	return output
}

func (e *Executor) functionSpecs() []llm.FunctionSpec {
	registered := e.registry.List()
	specs := make([]llm.FunctionSpec, 0, len(registered))
	for _, tool := range registered {
		spec := llm.FunctionSpec{Name: tool.Name(), Description: tool.Description()}
		if schema := tool.Schema(); schema != nil {
			spec.Parameters = schema
		}
		specs = append(specs, spec)
	}
	return specs
}

func compactText(input string, maxLen int) string {
	clean := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	if maxLen < 1 || len(clean) <= maxLen {
		return clean
	}
	return strings.TrimSpace(clean[:maxLen]) + "..."
}
