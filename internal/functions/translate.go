package functions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dwizi/fixfox-bot/internal/agent/tools"
)

type translateText struct {
	translator Translator
}

func (f *translateText) Name() string { return "translate_text" }

func (f *translateText) Description() string {
	return "Translates text into the target language (ISO 639-1 code)."
}

func (f *translateText) Schema() *jsonschema.Schema {
	return objectSchema([]string{"text", "target_language"}, map[string]*jsonschema.Schema{
		"text":            stringProp("Text to translate"),
		"target_language": stringProp("Target language code, e.g. en, es, de"),
	})
}

func (f *translateText) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	var args struct {
		Text           string `json:"text"`
		TargetLanguage string `json:"target_language"`
	}
	if err := json.Unmarshal(invocation.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode translate_text arguments: %w", err)
	}
	if f.translator == nil {
		return nil, fmt.Errorf("translation is not configured")
	}
	translated, err := f.translator.Translate(ctx, args.Text, args.TargetLanguage)
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": "success", "text": translated}, nil
}
