package lang

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultLocale is the language built-in texts are written in.
const DefaultLocale = "en"

var legacyCodes = map[string]string{
	"iw": "he",
	"in": "id",
	"ji": "yi",
}

// NormalizeLocale lowercases a platform language code, keeps the primary
// subtag and maps deprecated ISO 639 codes to their current form.
func NormalizeLocale(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if index := strings.IndexAny(code, "-_"); index > 0 {
		code = code[:index]
	}
	if mapped, ok := legacyCodes[code]; ok {
		return mapped
	}
	return code
}

type Cache interface {
	LookupTranslation(ctx context.Context, sourceText, targetLanguage string) (string, bool, error)
	SaveTranslation(ctx context.Context, sourceText, translatedText, targetLanguage string) error
}

type Engine interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

type Service struct {
	cache  Cache
	engine Engine
	logger *slog.Logger
}

func NewService(cache Cache, engine Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, engine: engine, logger: logger}
}

// Translate serves from the cache first, then asks the engine with a single
// retry on an empty answer. Successful engine answers are cached.
func (s *Service) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	targetLanguage = NormalizeLocale(targetLanguage)
	if strings.TrimSpace(text) == "" || targetLanguage == "" {
		return text, nil
	}
	if s.cache != nil {
		cached, found, err := s.cache.LookupTranslation(ctx, text, targetLanguage)
		if err != nil {
			s.logger.Warn("translation cache lookup failed", "target_language", targetLanguage, "error", err)
		} else if found {
			return cached, nil
		}
	}
	if s.engine == nil {
		return "", fmt.Errorf("translation engine is not configured")
	}

	var (
		translated string
		err        error
	)
	for attempt := 0; attempt < 2; attempt++ {
		translated, err = s.engine.Translate(ctx, text, targetLanguage)
		if err == nil && strings.TrimSpace(translated) != "" {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("translate text: %w", err)
	}
	translated = strings.TrimSpace(translated)
	if translated == "" {
		return "", fmt.Errorf("translate text: empty translation")
	}
	if s.cache != nil {
		if err := s.cache.SaveTranslation(ctx, text, translated, targetLanguage); err != nil {
			s.logger.Warn("translation cache save failed", "target_language", targetLanguage, "error", err)
		}
	}
	return translated, nil
}

// Localize renders a built-in text for locale, falling back to the original on any failure.
func (s *Service) Localize(ctx context.Context, text, locale string) string {
	locale = NormalizeLocale(locale)
	if s == nil || locale == "" || locale == DefaultLocale {
		return text
	}
	translated, err := s.Translate(ctx, text, locale)
	if err != nil {
		s.logger.Warn("localize failed, using source text", "locale", locale, "error", err)
		return text
	}
	return translated
}
