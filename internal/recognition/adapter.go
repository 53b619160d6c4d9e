package recognition

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"time"

	"golang.org/x/text/language"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnmappedStatusCode = errors.New("unmapped status code")
)

// NativeResult is an opaque handle to a result owned by a recognition
// engine. Implementations must tolerate Release being called once the
// fields have been read.
type NativeResult interface {
	Valid() bool
	ResultID() string
	Text() string
	StatusCode() int
	TranslationStatusCode() int
	Offset() time.Duration
	Duration() time.Duration
	EachTranslation(fn func(language, text string) error) error
	// EachAlternative visits the n-best list in rank order.
	EachAlternative(fn func(Alternative) error) error
	Release()
}

// StatusTable maps native status codes onto Status values.
type StatusTable struct {
	codes map[int]Status
}

// DefaultStatusTable returns the vocabulary used by the bundled engines.
func DefaultStatusTable() StatusTable {
	return StatusTable{codes: map[int]Status{
		0: StatusSuccess,
		1: StatusNoMatch,
		2: StatusInitialSilenceTimeout,
		3: StatusInitialBabbleTimeout,
		4: StatusError,
		5: StatusCanceled,
	}}
}

// With returns a new table with the given codes added or replaced.
func (t StatusTable) With(overrides map[int]Status) (StatusTable, error) {
	codes := make(map[int]Status, len(t.codes)+len(overrides))
	maps.Copy(codes, t.codes)
	for code, status := range overrides {
		if status == StatusUnknown {
			return t, fmt.Errorf("%w: status code %d maps to %s", ErrInvalidArgument, code, status)
		}
		codes[code] = status
	}
	return StatusTable{codes: codes}, nil
}

func (t StatusTable) Lookup(code int) (Status, error) {
	status, ok := t.codes[code]
	if !ok {
		return StatusUnknown, fmt.Errorf("%w: %d", ErrUnmappedStatusCode, code)
	}
	return status, nil
}

func (t StatusTable) Codes() map[int]Status {
	return maps.Clone(t.codes)
}

// Adapter converts native handles into TranslationResult values.
type Adapter struct {
	Table StatusTable
}

func NewAdapter(table StatusTable) Adapter {
	return Adapter{Table: table}
}

var defaultAdapter = NewAdapter(DefaultStatusTable())

// FromNative adapts h with the default status table.
func FromNative(h NativeResult) (TranslationResult, error) {
	return defaultAdapter.Adapt(h)
}

// Adapt reads every field it needs from h and releases it before
// returning. On error no result is produced.
func (a Adapter) Adapt(h NativeResult) (TranslationResult, error) {
	if isNil(h) {
		return TranslationResult{}, fmt.Errorf("%w: native result is nil", ErrInvalidArgument)
	}
	defer h.Release()

	if !h.Valid() {
		return TranslationResult{}, fmt.Errorf("%w: native result is not valid", ErrInvalidArgument)
	}
	if a.Table.codes == nil {
		a.Table = DefaultStatusTable()
	}

	status, err := a.Table.Lookup(h.StatusCode())
	if err != nil {
		return TranslationResult{}, fmt.Errorf("recognition status: %w", err)
	}
	translationStatus, err := a.Table.Lookup(h.TranslationStatusCode())
	if err != nil {
		return TranslationResult{}, fmt.Errorf("translation status: %w", err)
	}

	translations := make(map[string]string)
	seen := make(map[string]string)
	err = h.EachTranslation(func(lang, text string) error {
		tag, err := parseLanguageTag(lang)
		if err != nil {
			return err
		}
		key := tag.String()
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate language %q (already have %q)", ErrInvalidArgument, lang, prev)
		}
		seen[key] = lang
		translations[lang] = text
		return nil
	})
	if err != nil {
		return TranslationResult{}, fmt.Errorf("read translations: %w", err)
	}

	var alternatives []Alternative
	err = h.EachAlternative(func(alt Alternative) error {
		if math.IsNaN(alt.Confidence) || alt.Confidence < 0 || alt.Confidence > 1 {
			return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidArgument, alt.Confidence)
		}
		if alt.MaskedNormalized == "" {
			alt.MaskedNormalized = alt.Normalized
		}
		alternatives = append(alternatives, alt)
		return nil
	})
	if err != nil {
		return TranslationResult{}, fmt.Errorf("read alternatives: %w", err)
	}

	base := NewRecognitionResult(h.ResultID(), h.Text(), status, h.Offset(), h.Duration()).
		WithAlternatives(alternatives...)
	return TranslationResult{
		RecognitionResult: base,
		translationStatus: translationStatus,
		translations:      translations,
	}, nil
}

// ValidateLanguageTag reports ErrInvalidArgument for tags that are not
// well-formed BCP-47.
func ValidateLanguageTag(tag string) error {
	_, err := parseLanguageTag(tag)
	return err
}

// SameLanguage reports whether a and b are the same BCP-47 tag once case
// and canonical form are ignored. Malformed tags never match.
func SameLanguage(a, b string) bool {
	ta, errA := parseLanguageTag(a)
	tb, errB := parseLanguageTag(b)
	return errA == nil && errB == nil && ta.String() == tb.String()
}

func parseLanguageTag(tag string) (language.Tag, error) {
	if tag == "" {
		return language.Und, fmt.Errorf("%w: empty language tag", ErrInvalidArgument)
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return language.Und, fmt.Errorf("%w: language tag %q: %v", ErrInvalidArgument, tag, err)
	}
	return parsed, nil
}

func isNil(h NativeResult) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}
