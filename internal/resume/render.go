// Package resume renders structured resume data to PDF.
package resume

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/lithammer/shortuuid/v4"
)

type Resume struct {
	Name       string       `json:"name"`
	Email      string       `json:"email"`
	Phone      string       `json:"phone"`
	Summary    string       `json:"summary"`
	Experience []Experience `json:"experience"`
	Education  []Education  `json:"education"`
	Skills     Skills       `json:"skills"`
	Projects   []string     `json:"projects,omitempty"`
}

type Experience struct {
	Period         string `json:"period"`
	Company        string `json:"company"`
	Position       string `json:"position"`
	JobDescription string `json:"job_description,omitempty"`
	Achievements   string `json:"achievements,omitempty"`
	Metrics        string `json:"metrics,omitempty"`
}

type Education struct {
	Period      string `json:"period"`
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
}

type Skills struct {
	Technical string     `json:"technical,omitempty"`
	Languages []Language `json:"languages,omitempty"`
}

type Language struct {
	Language string `json:"language"`
	Level    string `json:"level,omitempty"`
}

var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	fontRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	fontBold []byte
	//go:embed fonts/DejaVuSansCondensed-Oblique.ttf
	fontOblique []byte
)

// fontFamily covers Latin, Cyrillic, Greek and Hebrew text.
const fontFamily = "DejaVu"

const (
	pageMargin  = 18.0
	lineHeight  = 5.5
	accentRed   = 44
	accentGreen = 62
	accentBlue  = 80
)

// Renderer writes resume PDFs into an artifact directory.
type Renderer struct {
	dir string
}

func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: strings.TrimSpace(dir)}
}

// Render lays out the resume and returns the path of the written file.
func (r *Renderer) Render(doc Resume) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(r.dir, "resume-"+shortuuid.New()+".pdf")

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle(doc.Name, true)
	pdf.AddUTF8FontFromBytes(fontFamily, "", fontRegular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", fontBold)
	pdf.AddUTF8FontFromBytes(fontFamily, "I", fontOblique)
	pdf.AddPage()
	width, _ := pdf.GetPageSize()
	contentWidth := width - 2*pageMargin

	pdf.SetFont(fontFamily, "B", 20)
	pdf.SetTextColor(accentRed, accentGreen, accentBlue)
	pdf.CellFormat(contentWidth, 10, strings.ToUpper(doc.Name), "", 1, "L", false, 0, "")
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(80, 80, 80)
	contacts := joinNonEmpty(" | ", doc.Email, doc.Phone)
	pdf.CellFormat(contentWidth, 6, contacts, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	section := func(title string) {
		pdf.Ln(3)
		pdf.SetFont(fontFamily, "B", 12)
		pdf.SetTextColor(accentRed, accentGreen, accentBlue)
		pdf.CellFormat(contentWidth, 7, strings.ToUpper(title), "", 1, "L", false, 0, "")
		y := pdf.GetY()
		pdf.SetDrawColor(accentRed, accentGreen, accentBlue)
		pdf.Line(pageMargin, y, pageMargin+contentWidth, y)
		pdf.Ln(2)
		pdf.SetTextColor(30, 30, 30)
	}
	body := func(style, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		pdf.SetFont(fontFamily, style, 10)
		pdf.MultiCell(contentWidth, lineHeight, strings.TrimSpace(text), "", "L", false)
	}
	labeled := func(label, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		body("", label+": "+text)
	}

	if strings.TrimSpace(doc.Summary) != "" {
		section("Profile")
		body("", doc.Summary)
	}

	if len(doc.Experience) > 0 {
		section("Experience")
		for _, item := range doc.Experience {
			body("B", joinNonEmpty(" - ", item.Position, item.Company))
			body("I", item.Period)
			body("", item.JobDescription)
			labeled("Achievements", item.Achievements)
			labeled("Metrics", item.Metrics)
			pdf.Ln(2)
		}
	}

	if len(doc.Education) > 0 {
		section("Education")
		for _, item := range doc.Education {
			body("B", item.Institution)
			body("", joinNonEmpty(", ", item.Degree, item.Period))
			pdf.Ln(1)
		}
	}

	languages := make([]string, 0, len(doc.Skills.Languages))
	for _, language := range doc.Skills.Languages {
		languages = append(languages, joinNonEmpty(" - ", language.Language, language.Level))
	}
	if strings.TrimSpace(doc.Skills.Technical) != "" || len(languages) > 0 {
		section("Skills")
		labeled("Tools & technical", doc.Skills.Technical)
		labeled("Languages", strings.Join(languages, ", "))
	}

	if len(doc.Projects) > 0 {
		section("Projects")
		for _, project := range doc.Projects {
			body("", "- "+project)
		}
	}

	if err := pdf.Error(); err != nil {
		return "", fmt.Errorf("lay out resume pdf: %w", err)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write resume pdf: %w", err)
	}
	return path, nil
}

func joinNonEmpty(separator string, values ...string) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, separator)
}
