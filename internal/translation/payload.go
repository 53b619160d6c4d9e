package translation

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/loqalabs/loqa-translate/internal/recognition"
)

// payloadHandle exposes a decoded NativeTranslation as a native result.
// After Release every accessor returns zero values and Valid reports false.
type payloadHandle struct {
	mu       sync.Mutex
	payload  *protocol.NativeTranslation
	released bool
}

// NewPayloadHandle wraps msg. A nil msg yields an invalid handle.
func NewPayloadHandle(msg *protocol.NativeTranslation) recognition.NativeResult {
	return &payloadHandle{payload: msg}
}

// DecodePayloadHandle parses engine output in NativeTranslation form.
func DecodePayloadHandle(data []byte) (recognition.NativeResult, error) {
	var msg protocol.NativeTranslation
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode native translation: %w", err)
	}
	return NewPayloadHandle(&msg), nil
}

func (h *payloadHandle) get() *protocol.NativeTranslation {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	return h.payload
}

func (h *payloadHandle) Valid() bool {
	return h.get() != nil
}

func (h *payloadHandle) ResultID() string {
	if p := h.get(); p != nil {
		return p.ResultID
	}
	return ""
}

func (h *payloadHandle) Text() string {
	if p := h.get(); p != nil {
		return p.Text
	}
	return ""
}

func (h *payloadHandle) StatusCode() int {
	if p := h.get(); p != nil {
		return p.StatusCode
	}
	return -1
}

func (h *payloadHandle) TranslationStatusCode() int {
	if p := h.get(); p != nil {
		return p.TranslationStatusCode
	}
	return -1
}

func (h *payloadHandle) Offset() time.Duration {
	if p := h.get(); p != nil {
		return time.Duration(p.OffsetMS) * time.Millisecond
	}
	return 0
}

func (h *payloadHandle) Duration() time.Duration {
	if p := h.get(); p != nil {
		return time.Duration(p.DurationMS) * time.Millisecond
	}
	return 0
}

func (h *payloadHandle) EachTranslation(fn func(language, text string) error) error {
	p := h.get()
	if p == nil {
		return fmt.Errorf("%w: handle released", recognition.ErrInvalidArgument)
	}
	for _, entry := range p.Translations {
		if err := fn(entry.Language, entry.Text); err != nil {
			return err
		}
	}
	return nil
}

func (h *payloadHandle) EachAlternative(fn func(recognition.Alternative) error) error {
	p := h.get()
	if p == nil {
		return fmt.Errorf("%w: handle released", recognition.ErrInvalidArgument)
	}
	for _, entry := range p.NBest {
		alt := recognition.Alternative{
			Confidence:       entry.Confidence,
			Display:          entry.Display,
			Lexical:          entry.Lexical,
			Normalized:       entry.ITN,
			MaskedNormalized: entry.MaskedITN,
		}
		if err := fn(alt); err != nil {
			return err
		}
	}
	return nil
}

func (h *payloadHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	h.payload = nil
}
