package protocol

import "time"

// AudioFrame represents PCM audio data streamed from edge devices.
type AudioFrame struct {
	SessionID       string   `json:"session_id"`
	Sequence        int      `json:"sequence"`
	SampleRate      int      `json:"sample_rate"`
	Channels        int      `json:"channels"`
	PCM             []byte   `json:"pcm"`
	Final           bool     `json:"final"`
	SourceLanguage  string   `json:"source_language,omitempty"`
	TargetLanguages []string `json:"target_languages,omitempty"`
}

// NativeTranslation is the wire form of an engine-owned translation result.
// Status codes use the engine's numeric vocabulary.
type NativeTranslation struct {
	SessionID             string         `json:"session_id,omitempty"`
	SourceLanguage        string         `json:"source_language,omitempty"`
	ResultID              string         `json:"result_id"`
	Text                  string         `json:"text"`
	StatusCode            int            `json:"status_code"`
	TranslationStatusCode int            `json:"translation_status_code"`
	OffsetMS              int64          `json:"offset_ms,omitempty"`
	DurationMS            int64          `json:"duration_ms,omitempty"`
	NBest                 []NBestEntry   `json:"nbest,omitempty"`
	Translations          []LanguageText `json:"translations"`
	Partial               bool           `json:"partial,omitempty"`
}

type LanguageText struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// NBestEntry is one ranked recognition hypothesis. An empty MaskedITN
// means the engine applied no masking.
type NBestEntry struct {
	Confidence float64 `json:"confidence"`
	Display    string  `json:"display"`
	Lexical    string  `json:"lexical,omitempty"`
	ITN        string  `json:"itn,omitempty"`
	MaskedITN  string  `json:"masked_itn,omitempty"`
}

// TranslationResult is broadcast once a native result has been adapted.
type TranslationResult struct {
	SessionID         string            `json:"session_id"`
	TraceID           string            `json:"trace_id"`
	ResultID          string            `json:"result_id"`
	Text              string            `json:"text"`
	Status            string            `json:"status"`
	TranslationStatus string            `json:"translation_status"`
	Translations      map[string]string `json:"translations"`
	NBest             []NBestEntry      `json:"nbest,omitempty"`
	OffsetMS          int64             `json:"offset_ms,omitempty"`
	DurationMS        int64             `json:"duration_ms,omitempty"`
	Partial           bool              `json:"partial"`
	Timestamp         time.Time         `json:"timestamp"`
}

// TranslationError reports a result that could not be produced.
type TranslationError struct {
	SessionID string    `json:"session_id"`
	TraceID   string    `json:"trace_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Partial   bool      `json:"partial"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent marks the start and end of a translation session. On stop,
// Status is the final translation status, or "Error" with ErrorKind set
// when the final pass failed.
type SessionEvent struct {
	SessionID      string    `json:"session_id"`
	SourceLanguage string    `json:"source_language,omitempty"`
	Status         string    `json:"status,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix         = "audio.frame"
	SubjectNativeTranslation        = "translation.native.result"
	SubjectTranslationResultPartial = "translation.result.partial"
	SubjectTranslationResultFinal   = "translation.result.final"
	SubjectTranslationError         = "translation.error"
	SubjectSessionStarted           = "translation.session.started"
	SubjectSessionStopped           = "translation.session.stopped"
)
