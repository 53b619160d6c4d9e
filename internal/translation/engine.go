package translation

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/recognition"
)

// Request describes one translation pass over buffered audio.
type Request struct {
	SessionID       string
	PCM             []byte
	SampleRate      int
	Channels        int
	SourceLanguage  string
	TargetLanguages []string
	Final           bool
}

// Engine abstracts translation backends. The returned handle is owned by
// the caller, which must release it.
type Engine interface {
	Translate(ctx context.Context, req Request) (recognition.NativeResult, error)
}

// NewEngine picks a backend from config.
func NewEngine(cfg config.TranslationConfig) (Engine, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockEngine(), nil
	case "exec":
		return NewExecEngine(cfg)
	default:
		return nil, fmt.Errorf("unsupported translation mode %q", cfg.Mode)
	}
}

// StatusTable builds the adapter table, applying config overrides.
func StatusTable(cfg config.TranslationConfig) (recognition.StatusTable, error) {
	table := recognition.DefaultStatusTable()
	if len(cfg.StatusCodes) == 0 {
		return table, nil
	}
	overrides := make(map[int]recognition.Status, len(cfg.StatusCodes))
	for code, name := range cfg.StatusCodes {
		status, err := recognition.ParseStatus(name)
		if err != nil {
			return table, fmt.Errorf("status code %d: %w", code, err)
		}
		overrides[code] = status
	}
	return table.With(overrides)
}
