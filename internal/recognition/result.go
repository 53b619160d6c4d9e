package recognition

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Alternative is one entry of the engine's n-best list. Display is the text
// shown to users, Lexical the raw token sequence, Normalized the inverse
// text normalized form ("twenty" -> "20") and MaskedNormalized the same with
// profanity masked.
type Alternative struct {
	Confidence       float64
	Display          string
	Lexical          string
	Normalized       string
	MaskedNormalized string
}

// RecognitionResult carries the fields every recognition outcome shares.
type RecognitionResult struct {
	resultID     string
	text         string
	status       Status
	offset       time.Duration
	duration     time.Duration
	alternatives []Alternative
}

func NewRecognitionResult(resultID, text string, status Status, offset, duration time.Duration) RecognitionResult {
	return RecognitionResult{
		resultID: resultID,
		text:     text,
		status:   status,
		offset:   offset,
		duration: duration,
	}
}

func (r RecognitionResult) ResultID() string        { return r.resultID }
func (r RecognitionResult) Text() string            { return r.text }
func (r RecognitionResult) Status() Status          { return r.status }
func (r RecognitionResult) Offset() time.Duration   { return r.offset }
func (r RecognitionResult) Duration() time.Duration { return r.duration }

// WithAlternatives returns a copy of r carrying alts, best first.
func (r RecognitionResult) WithAlternatives(alts ...Alternative) RecognitionResult {
	r.alternatives = slices.Clone(alts)
	return r
}

// Alternatives returns a copy of the n-best list, best first.
func (r RecognitionResult) Alternatives() []Alternative {
	return slices.Clone(r.alternatives)
}

// Best reports the highest ranked alternative, if any.
func (r RecognitionResult) Best() (Alternative, bool) {
	if len(r.alternatives) == 0 {
		return Alternative{}, false
	}
	return r.alternatives[0], true
}

// TranslationResult is a recognition outcome plus the text produced for
// each target language. Keys are BCP-47 tags. The value is immutable:
// accessors hand out copies.
type TranslationResult struct {
	RecognitionResult
	translationStatus Status
	translations      map[string]string
}

// NewTranslationResult copies translations so later changes to the
// caller's map are not observed.
func NewTranslationResult(base RecognitionResult, status Status, translations map[string]string) TranslationResult {
	copied := make(map[string]string, len(translations))
	maps.Copy(copied, translations)
	return TranslationResult{
		RecognitionResult: base,
		translationStatus: status,
		translations:      copied,
	}
}

func (r TranslationResult) TranslationStatus() Status {
	return r.translationStatus
}

// Translations returns a copy of the language -> text mapping. It is never nil.
func (r TranslationResult) Translations() map[string]string {
	out := make(map[string]string, len(r.translations))
	maps.Copy(out, r.translations)
	return out
}

func (r TranslationResult) Translation(language string) (string, bool) {
	text, ok := r.translations[language]
	return text, ok
}

// Languages lists the target languages in sorted order.
func (r TranslationResult) Languages() []string {
	return slices.Sorted(maps.Keys(r.translations))
}

func (r TranslationResult) Len() int {
	return len(r.translations)
}

func (r TranslationResult) String() string {
	return fmt.Sprintf("TranslationResult(status=%s, languages=[%s])",
		r.translationStatus, strings.Join(r.Languages(), " "))
}
