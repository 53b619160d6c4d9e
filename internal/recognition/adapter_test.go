package recognition

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	lang string
	text string
}

type fakeHandle struct {
	invalid         bool
	id              string
	text            string
	code            int
	translationCode int
	pairs           []pair
	alternatives    []Alternative
	iterErr         error
	released        int
	offset          time.Duration
	duration        time.Duration
}

func (f *fakeHandle) Valid() bool                { return !f.invalid }
func (f *fakeHandle) ResultID() string           { return f.id }
func (f *fakeHandle) Text() string               { return f.text }
func (f *fakeHandle) StatusCode() int            { return f.code }
func (f *fakeHandle) TranslationStatusCode() int { return f.translationCode }
func (f *fakeHandle) Offset() time.Duration      { return f.offset }
func (f *fakeHandle) Duration() time.Duration    { return f.duration }
func (f *fakeHandle) Release()                   { f.released++ }

func (f *fakeHandle) EachTranslation(fn func(string, string) error) error {
	if f.iterErr != nil {
		return f.iterErr
	}
	for _, p := range f.pairs {
		if err := fn(p.lang, p.text); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeHandle) EachAlternative(fn func(Alternative) error) error {
	for _, alt := range f.alternatives {
		if err := fn(alt); err != nil {
			return err
		}
	}
	return nil
}

func TestFromNativeSuccessScenario(t *testing.T) {
	h := &fakeHandle{
		id:    "r-1",
		text:  "hello",
		pairs: []pair{{"es", "Hola"}, {"fr", "Bonjour"}},
	}

	res, err := FromNative(h)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.TranslationStatus())
	assert.Equal(t, StatusSuccess, res.Status())
	assert.Equal(t, map[string]string{"es": "Hola", "fr": "Bonjour"}, res.Translations())
	assert.Equal(t, "r-1", res.ResultID())
	assert.Equal(t, "hello", res.Text())
	assert.Equal(t, 1, h.released)
}

func TestFromNativeCanceledScenario(t *testing.T) {
	h := &fakeHandle{code: 5, translationCode: 5}

	res, err := FromNative(h)
	require.NoError(t, err)

	assert.Equal(t, StatusCanceled, res.TranslationStatus())
	assert.Empty(t, res.Translations())
	assert.NotNil(t, res.Translations())
	assert.Equal(t, 1, h.released)
}

func TestFromNativeKeepsEveryPair(t *testing.T) {
	langs := []string{"de", "en-US", "es", "fr", "it", "ja", "pt-BR", "zh-Hans"}
	for n := 0; n <= len(langs); n++ {
		h := &fakeHandle{}
		want := make(map[string]string, n)
		for i := 0; i < n; i++ {
			text := fmt.Sprintf("text-%d", i)
			h.pairs = append(h.pairs, pair{langs[i], text})
			want[langs[i]] = text
		}

		res, err := FromNative(h)
		require.NoError(t, err)
		assert.Len(t, res.Translations(), n)
		assert.Equal(t, want, res.Translations())
		assert.Equal(t, n, res.Len())
	}
}

func TestFromNativeMapsEveryCode(t *testing.T) {
	table := DefaultStatusTable()
	for code, want := range table.Codes() {
		h := &fakeHandle{code: code, translationCode: code}
		res, err := FromNative(h)
		require.NoError(t, err, "code %d", code)
		assert.Equal(t, want, res.Status(), "code %d", code)
		assert.Equal(t, want, res.TranslationStatus(), "code %d", code)
	}
}

func TestFromNativeRejectsNil(t *testing.T) {
	_, err := FromNative(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	var typedNil *fakeHandle
	_, err = FromNative(typedNil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFromNativeRejectsInvalidHandle(t *testing.T) {
	h := &fakeHandle{invalid: true, pairs: []pair{{"es", "Hola"}}}

	res, err := FromNative(h)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, StatusUnknown, res.TranslationStatus())
	assert.Equal(t, 1, h.released)
}

func TestFromNativeUnmappedStatus(t *testing.T) {
	h := &fakeHandle{code: 42}
	_, err := FromNative(h)
	require.ErrorIs(t, err, ErrUnmappedStatusCode)
	assert.Equal(t, 1, h.released)

	h = &fakeHandle{translationCode: -1}
	_, err = FromNative(h)
	require.ErrorIs(t, err, ErrUnmappedStatusCode)
}

func TestFromNativeRejectsBadTranslations(t *testing.T) {
	cases := map[string][]pair{
		"empty tag":     {{"", "x"}},
		"malformed tag": {{"not a tag", "x"}},
		"duplicate":     {{"es", "Hola"}, {"es", "Buenas"}},
		"case variant":  {{"es", "Hola"}, {"ES", "Hola otra vez"}},
		"script case":   {{"zh-Hans", "a"}, {"zh-hans", "b"}},
	}
	for name, pairs := range cases {
		t.Run(name, func(t *testing.T) {
			h := &fakeHandle{pairs: pairs}
			_, err := FromNative(h)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.Equal(t, 1, h.released)
		})
	}
}

func TestFromNativePropagatesIterationError(t *testing.T) {
	boom := errors.New("engine gone")
	h := &fakeHandle{iterErr: boom}
	_, err := FromNative(h)
	require.ErrorIs(t, err, boom)
}

func TestAdapterWithOverrides(t *testing.T) {
	table, err := DefaultStatusTable().With(map[int]Status{100: StatusNoMatch})
	require.NoError(t, err)

	res, err := NewAdapter(table).Adapt(&fakeHandle{code: 100, translationCode: 0})
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatch, res.Status())
	assert.Equal(t, StatusSuccess, res.TranslationStatus())

	_, err = DefaultStatusTable().Lookup(100)
	require.ErrorIs(t, err, ErrUnmappedStatusCode)

	_, err = DefaultStatusTable().With(map[int]Status{7: StatusUnknown})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFromNativeKeepsDistinctRegions(t *testing.T) {
	h := &fakeHandle{pairs: []pair{{"pt-BR", "Olá"}, {"pt-PT", "Olá!"}, {"zh-Hans", "你好"}, {"zh-Hant", "你好!"}}}
	res, err := FromNative(h)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Len())
	text, ok := res.Translation("pt-BR")
	assert.True(t, ok)
	assert.Equal(t, "Olá", text)
}

func TestFromNativeCarriesAlternatives(t *testing.T) {
	h := &fakeHandle{
		text: "meet at 20 past",
		alternatives: []Alternative{
			{Confidence: 0.92, Display: "Meet at 20 past.", Lexical: "meet at twenty past", Normalized: "meet at 20 past"},
			{Confidence: 0.41, Display: "Meat at 20 past.", Lexical: "meat at twenty past", Normalized: "meat at 20 past", MaskedNormalized: "m*** at 20 past"},
		},
	}
	res, err := FromNative(h)
	require.NoError(t, err)

	alts := res.Alternatives()
	require.Len(t, alts, 2)
	assert.Equal(t, "meet at 20 past", alts[0].MaskedNormalized, "masked form defaults to the normalized form")
	assert.Equal(t, "m*** at 20 past", alts[1].MaskedNormalized)

	best, ok := res.Best()
	require.True(t, ok)
	assert.InDelta(t, 0.92, best.Confidence, 1e-9)

	alts[0].Display = "changed"
	again, _ := res.Best()
	assert.Equal(t, "Meet at 20 past.", again.Display, "alternatives must be copied out")

	_, ok = NewRecognitionResult("", "", StatusSuccess, 0, 0).Best()
	assert.False(t, ok)
}

func TestFromNativeRejectsBadConfidence(t *testing.T) {
	for _, confidence := range []float64{-0.1, 1.5, math.NaN()} {
		h := &fakeHandle{alternatives: []Alternative{{Confidence: confidence, Display: "x"}}}
		_, err := FromNative(h)
		require.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, 1, h.released)
	}
}

func TestSameLanguage(t *testing.T) {
	assert.True(t, SameLanguage("es", "ES"))
	assert.True(t, SameLanguage("zh-hans", "zh-Hans"))
	assert.False(t, SameLanguage("pt-BR", "pt-PT"))
	assert.False(t, SameLanguage("not a tag", "not a tag"))
}
