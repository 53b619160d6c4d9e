package translation

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/loqalabs/loqa-translate/internal/recognition"
)

type mockEngine struct{}

func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Translate(ctx context.Context, req Request) (recognition.NativeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := "partial"
	if req.Final {
		mode = "final"
	}
	text := fmt.Sprintf("[%s transcript length=%d]", mode, len(req.PCM))
	msg := &protocol.NativeTranslation{
		SessionID:      req.SessionID,
		SourceLanguage: req.SourceLanguage,
		Text:           text,
		NBest:          []protocol.NBestEntry{{Confidence: 1, Display: text, Lexical: text, ITN: text}},
		Partial:        !req.Final,
	}
	for _, lang := range req.TargetLanguages {
		msg.Translations = append(msg.Translations, protocol.LanguageText{
			Language: lang,
			Text:     fmt.Sprintf("[%s %s transcript length=%d]", lang, mode, len(req.PCM)),
		})
	}
	return NewPayloadHandle(msg), nil
}
