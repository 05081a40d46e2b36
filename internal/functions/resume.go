package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dwizi/fixfox-bot/internal/agent/tools"
	"github.com/dwizi/fixfox-bot/internal/resume"
)

const summaryMaxLength = 380

type generateResumePDF struct {
	renderer  Renderer
	messenger Messenger
	logger    *slog.Logger
}

func (f *generateResumePDF) Name() string { return "generate_resume_pdf" }

func (f *generateResumePDF) Description() string {
	return "Generates a PDF resume from structured data and sends it to the user. After this function runs the PDF has already been delivered; tell the user it was generated and sent."
}

func (f *generateResumePDF) Schema() *jsonschema.Schema {
	summaryLimit := summaryMaxLength
	experience := objectSchema([]string{"period", "company", "position"}, map[string]*jsonschema.Schema{
		"period":          stringProp("MONTH/YEAR - MONTH/YEAR or PRESENT"),
		"company":         stringProp("Company name"),
		"position":        stringProp("Position name"),
		"job_description": stringProp("Job description"),
		"achievements":    stringProp("Achievements"),
		"metrics":         stringProp("Numeric proof of success"),
	})
	education := objectSchema([]string{"period", "institution", "degree"}, map[string]*jsonschema.Schema{
		"period":      stringProp("YEAR - YEAR"),
		"institution": stringProp("Name of the institution"),
		"degree":      stringProp("BA / MA, major (specialization)"),
	})
	language := objectSchema([]string{"language"}, map[string]*jsonschema.Schema{
		"language": stringProp("Language"),
		"level":    stringProp("Native / Professional / Elementary"),
	})
	return objectSchema(
		[]string{"name", "email", "phone", "summary", "experience", "education", "skills"},
		map[string]*jsonschema.Schema{
			"name":  stringProp("Full name (NAME SURNAME)"),
			"email": stringProp("Email address"),
			"phone": stringProp("Phone number"),
			"summary": {
				Type:        "string",
				Description: "Profile: main strengths",
				MaxLength:   &summaryLimit,
			},
			"experience": arrayOf("Work experience items", experience),
			"education":  arrayOf("Education items", education),
			"skills": objectSchema(nil, map[string]*jsonschema.Schema{
				"technical": stringProp("Tools and technical skills"),
				"languages": arrayOf("Languages with levels", language),
			}),
			"projects": arrayOf("Projects, if applicable", &jsonschema.Schema{Type: "string"}),
		},
	)
}

func (f *generateResumePDF) Execute(ctx context.Context, invocation tools.Invocation) (any, error) {
	var doc resume.Resume
	if err := json.Unmarshal(invocation.Arguments, &doc); err != nil {
		return nil, fmt.Errorf("decode resume arguments: %w", err)
	}
	if f.renderer == nil || f.messenger == nil {
		return nil, fmt.Errorf("resume generation is not configured")
	}

	path, err := f.renderer.Render(doc)
	if err != nil {
		return nil, err
	}
	if _, err := f.messenger.SendDocument(ctx, invocation.ChatID, path, "", "resume"); err != nil {
		f.logger.Error("resume delivery failed; keeping artifact", "chat_id", invocation.ChatID, "path", path, "error", err)
		return map[string]string{
			"status": "failed",
			"error":  "the PDF was generated but could not be delivered",
		}, nil
	}
	if err := os.Remove(path); err != nil {
		f.logger.Warn("resume artifact cleanup failed", "path", path, "error", err)
	}
	return map[string]string{
		"status":  "success",
		"message": "PDF resume generated and sent to the user",
	}, nil
}
