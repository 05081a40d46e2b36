package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrUnavailable = errors.New("llm unavailable")

// FunctionCall is a function invocation requested by the model.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// FunctionResult answers one FunctionCall.
type FunctionResult struct {
	CallID string
	Name   string
	Output json.RawMessage
}

// FunctionSpec advertises a callable function to the model.
type FunctionSpec struct {
	Name        string
	Description string
	Parameters  any
}

// File is a downloaded attachment handed to the model for analysis.
type File struct {
	Path     string
	Name     string
	MimeType string
	Size     int64
}

type Request struct {
	ConversationKey string
	Text            string
	File            *File
	Functions       []FunctionSpec
}

type Response struct {
	Text          string
	FunctionCalls []FunctionCall
}

// Provider runs multi-turn completions whose memory is keyed by conversation.
type Provider interface {
	Submit(ctx context.Context, request Request) (Response, error)
	SubmitResults(ctx context.Context, conversationKey string, results []FunctionResult, functions []FunctionSpec) (Response, error)
}

// Translator produces a one-shot translation.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}
