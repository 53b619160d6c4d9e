package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-translate/internal/bus"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/protocol"
	"github.com/loqalabs/loqa-translate/internal/recognition"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-translate/translation"

// Error kinds published on the error subject.
const (
	KindInvalidArgument = "invalid_argument"
	KindUnmappedStatus  = "unmapped_status"
	KindEngine          = "engine"
	KindDecode          = "decode"
)

// Recorder persists sessions and their final results.
type Recorder interface {
	AppendSession(ctx context.Context, sessionID, sourceLanguage string) error
	AppendResult(ctx context.Context, rec eventstore.Record) error
}

// statusError is reported on the session stop event when the final pass failed.
const statusError = "Error"

type Service struct {
	cfg      config.TranslationConfig
	bus      *bus.Client
	engine   Engine
	adapter  recognition.Adapter
	recorder Recorder
	logger   *slog.Logger
	sessions map[string]*sessionState
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	subs     []*nats.Subscription
	wg       sync.WaitGroup
	ready    atomic.Bool
	tracer   trace.Tracer
	metrics  serviceMetrics
}

type sessionState struct {
	Buffer          []byte
	SampleRate      int
	Channels        int
	SourceLanguage  string
	TargetLanguages []string
	LastPartial     time.Time
	Inflight        bool
	PendingFinal    bool
}

type jobOutcome struct {
	status string
	kind   string
}

type serviceMetrics struct {
	results metric.Int64Counter
	errors  metric.Int64Counter
	latency metric.Float64Histogram
}

func NewService(parent context.Context, cfg config.TranslationConfig, busClient *bus.Client, engine Engine, recorder Recorder, logger *slog.Logger) (*Service, error) {
	table, err := StatusTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("build status table: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		engine:   engine,
		adapter:  recognition.NewAdapter(table),
		recorder: recorder,
		logger:   logger.With(slog.String("component", "translation-service")),
		sessions: make(map[string]*sessionState),
		ctx:      ctx,
		cancel:   cancel,
		tracer:   otel.Tracer(instrumentationName),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s, nil
}

func (s *Service) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	results, err := meter.Int64Counter("loqa.translation.results", metric.WithDescription("Adapted translation results by status"))
	if err != nil {
		return err
	}
	errCounter, err := meter.Int64Counter("loqa.translation.errors", metric.WithDescription("Translation failures by kind"))
	if err != nil {
		return err
	}
	latency, err := meter.Float64Histogram("loqa.translation.latency_ms", metric.WithDescription("Engine plus adapter latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	s.metrics = serviceMetrics{results: results, errors: errCounter, latency: latency}
	return nil
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()
	sub, err := conn.Subscribe(protocol.SubjectAudioFramePrefix+".>", s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.subs = append(s.subs, sub)

	if s.cfg.Bridge {
		bridgeSub, err := conn.Subscribe(protocol.SubjectNativeTranslation, s.handleNative)
		if err != nil {
			_ = sub.Drain()
			return fmt.Errorf("subscribe native translations: %w", err)
		}
		s.subs = append(s.subs, bridgeSub)
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	s.ready.Store(true)
	return nil
}

// Close stops accepting frames and waits for in-flight jobs. No job is
// scheduled once the service context is cancelled.
func (s *Service) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		s.logger.Warn("audio frame without session id", slog.String("subject", msg.Subject))
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	state := s.sessions[frame.SessionID]
	started := state == nil
	if started {
		state = s.newSessionState(frame)
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	sourceLanguage := state.SourceLanguage
	s.mu.Unlock()

	if started {
		s.publishSessionEvent(protocol.SubjectSessionStarted, protocol.SessionEvent{
			SessionID:      frame.SessionID,
			SourceLanguage: sourceLanguage,
		})
	}

	if s.cfg.PublishInterim && !frame.Final {
		if s.shouldSchedulePartial(frame.SessionID) {
			s.scheduleTranslation(frame.SessionID, false)
		}
	}
	if frame.Final {
		s.scheduleTranslation(frame.SessionID, true)
	}
}

func (s *Service) newSessionState(frame protocol.AudioFrame) *sessionState {
	state := &sessionState{
		SampleRate:      frame.SampleRate,
		Channels:        frame.Channels,
		SourceLanguage:  frame.SourceLanguage,
		TargetLanguages: frame.TargetLanguages,
	}
	if state.SampleRate <= 0 {
		state.SampleRate = s.cfg.SampleRate
	}
	if state.Channels <= 0 {
		state.Channels = s.cfg.Channels
	}
	if state.SourceLanguage == "" {
		state.SourceLanguage = s.cfg.SourceLanguage
	}
	if len(state.TargetLanguages) == 0 {
		state.TargetLanguages = append([]string(nil), s.cfg.TargetLanguages...)
	}
	return state
}

func (s *Service) shouldSchedulePartial(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sessions[sessionID]
	if state == nil || state.Inflight {
		return false
	}
	if state.LastPartial.IsZero() {
		state.LastPartial = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if time.Since(state.LastPartial) >= interval {
		state.LastPartial = time.Now()
		return true
	}
	return false
}

func (s *Service) scheduleTranslation(sessionID string, final bool) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		if final {
			state.PendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	req := Request{
		SessionID:       sessionID,
		PCM:             append([]byte(nil), state.Buffer...),
		SampleRate:      state.SampleRate,
		Channels:        state.Channels,
		SourceLanguage:  state.SourceLanguage,
		TargetLanguages: append([]string(nil), state.TargetLanguages...),
		Final:           final,
	}
	state.Inflight = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		outcome := s.runJob(req)

		s.mu.Lock()
		state := s.sessions[sessionID]
		var pendingFinal bool
		if state != nil {
			state.Inflight = false
			pendingFinal = state.PendingFinal
			if !final {
				state.LastPartial = time.Now()
			}
			if final {
				delete(s.sessions, sessionID)
			}
		}
		s.mu.Unlock()

		if final {
			s.publishSessionEvent(protocol.SubjectSessionStopped, protocol.SessionEvent{
				SessionID:      sessionID,
				SourceLanguage: req.SourceLanguage,
				Status:         outcome.status,
				ErrorKind:      outcome.kind,
			})
		}
		if pendingFinal && !final {
			s.scheduleTranslation(sessionID, true)
		}
	}()
}

func (s *Service) runJob(req Request) jobOutcome {
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	traceID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "translation.translate", trace.WithAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.Bool("final", req.Final),
		attribute.Int("pcm_bytes", len(req.PCM)),
	))
	defer span.End()

	start := time.Now()
	handle, err := s.engine.Translate(ctx, req)
	if err != nil {
		if handle != nil {
			handle.Release()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine failed")
		s.publishError(ctx, req.SessionID, traceID, KindEngine, err, !req.Final)
		return jobOutcome{status: statusError, kind: KindEngine}
	}

	result, err := s.adapter.Adapt(handle)
	s.recordLatency(ctx, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adapt failed")
		kind := errorKind(err)
		s.publishError(ctx, req.SessionID, traceID, kind, err, !req.Final)
		return jobOutcome{status: statusError, kind: kind}
	}
	span.SetAttributes(attribute.String("translation_status", result.TranslationStatus().String()))
	s.publishResult(ctx, req.SessionID, req.SourceLanguage, traceID, result, !req.Final)
	return jobOutcome{status: result.TranslationStatus().String()}
}

func (s *Service) handleNative(msg *nats.Msg) {
	traceID := uuid.NewString()
	var payload protocol.NativeTranslation
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.logger.Warn("failed to decode native translation", slogError(err))
		s.publishError(s.ctx, "", traceID, KindDecode, err, false)
		return
	}

	_, span := s.tracer.Start(s.ctx, "translation.bridge", trace.WithAttributes(
		attribute.String("session_id", payload.SessionID),
	))
	defer span.End()

	result, err := s.adapter.Adapt(NewPayloadHandle(&payload))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adapt failed")
		s.publishError(s.ctx, payload.SessionID, traceID, errorKind(err), err, payload.Partial)
		return
	}
	s.publishResult(s.ctx, payload.SessionID, payload.SourceLanguage, traceID, result, payload.Partial)
}

func (s *Service) publishResult(ctx context.Context, sessionID, sourceLanguage, traceID string, res recognition.TranslationResult, partial bool) {
	subject := protocol.SubjectTranslationResultFinal
	if partial {
		subject = protocol.SubjectTranslationResultPartial
	}
	msg := protocol.TranslationResult{
		SessionID:         sessionID,
		TraceID:           traceID,
		ResultID:          res.ResultID(),
		Text:              res.Text(),
		Status:            res.Status().String(),
		TranslationStatus: res.TranslationStatus().String(),
		Translations:      res.Translations(),
		NBest:             nbest(res.Alternatives()),
		OffsetMS:          res.Offset().Milliseconds(),
		DurationMS:        res.Duration().Milliseconds(),
		Partial:           partial,
		Timestamp:         time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(subject, msg); err != nil {
		s.logger.Warn("failed to publish translation result", slogError(err))
	}
	if s.metrics.results != nil {
		s.metrics.results.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", res.TranslationStatus().String()),
			attribute.Bool("partial", partial),
		))
	}

	if partial || s.recorder == nil || sessionID == "" {
		return
	}
	if sourceLanguage != "" {
		if err := s.recorder.AppendSession(ctx, sessionID, sourceLanguage); err != nil {
			s.logger.Warn("failed to record session", slogError(err), slog.String("session_id", sessionID))
		}
	}
	rec := eventstore.RecordFromResult(sessionID, traceID, res, partial)
	if err := s.recorder.AppendResult(ctx, rec); err != nil {
		s.logger.Warn("failed to record translation result", slogError(err), slog.String("session_id", sessionID))
	}
}

func (s *Service) publishError(ctx context.Context, sessionID, traceID, kind string, err error, partial bool) {
	s.logger.Warn("translation failed",
		slog.String("session_id", sessionID),
		slog.String("kind", kind),
		slogError(err))
	if s.metrics.errors != nil {
		s.metrics.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	msg := protocol.TranslationError{
		SessionID: sessionID,
		TraceID:   traceID,
		Kind:      kind,
		Message:   err.Error(),
		Partial:   partial,
		Timestamp: time.Now().UTC(),
	}
	if pubErr := s.bus.PublishJSON(protocol.SubjectTranslationError, msg); pubErr != nil {
		s.logger.Warn("failed to publish translation error", slogError(pubErr))
	}
}

func (s *Service) publishSessionEvent(subject string, event protocol.SessionEvent) {
	event.Timestamp = time.Now().UTC()
	if err := s.bus.PublishJSON(subject, event); err != nil {
		s.logger.Warn("failed to publish session event", slogError(err), slog.String("subject", subject))
	}
}

func nbest(alts []recognition.Alternative) []protocol.NBestEntry {
	if len(alts) == 0 {
		return nil
	}
	out := make([]protocol.NBestEntry, 0, len(alts))
	for _, alt := range alts {
		out = append(out, protocol.NBestEntry{
			Confidence: alt.Confidence,
			Display:    alt.Display,
			Lexical:    alt.Lexical,
			ITN:        alt.Normalized,
			MaskedITN:  alt.MaskedNormalized,
		})
	}
	return out
}

func (s *Service) recordLatency(ctx context.Context, d time.Duration) {
	if s.metrics.latency == nil {
		return
	}
	s.metrics.latency.Record(ctx, float64(d.Microseconds())/1000)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, recognition.ErrUnmappedStatusCode):
		return KindUnmappedStatus
	case errors.Is(err, recognition.ErrInvalidArgument):
		return KindInvalidArgument
	default:
		return KindEngine
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
