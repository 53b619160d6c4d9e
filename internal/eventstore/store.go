package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/recognition"
	_ "modernc.org/sqlite"
)

// Record is a stored translation outcome.
type Record struct {
	ID                int64             `json:"id"`
	SessionID         string            `json:"session_id"`
	TraceID           string            `json:"trace_id,omitempty"`
	ResultID          string            `json:"result_id"`
	Text              string            `json:"text"`
	Status            string            `json:"status"`
	TranslationStatus string            `json:"translation_status"`
	Translations      map[string]string `json:"translations"`
	OffsetMS          int64             `json:"offset_ms"`
	DurationMS        int64             `json:"duration_ms"`
	Partial           bool              `json:"partial"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Session is the stored header of a translation session.
type Session struct {
	SessionID      string    `json:"session_id"`
	SourceLanguage string    `json:"source_language,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrSessionNotFound is returned by GetSession for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// RecordFromResult flattens a translation result for storage.
func RecordFromResult(sessionID, traceID string, res recognition.TranslationResult, partial bool) Record {
	return Record{
		SessionID:         sessionID,
		TraceID:           traceID,
		ResultID:          res.ResultID(),
		Text:              res.Text(),
		Status:            res.Status().String(),
		TranslationStatus: res.TranslationStatus().String(),
		Translations:      res.Translations(),
		OffsetMS:          res.Offset().Milliseconds(),
		DurationMS:        res.Duration().Milliseconds(),
		Partial:           partial,
	}
}

// Store wraps a SQLite-backed translation timeline.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    source_language TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS translation_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    trace_id TEXT,
    result_id TEXT,
    text TEXT,
    status TEXT NOT NULL,
    translation_status TEXT NOT NULL,
    translations TEXT NOT NULL,
    offset_ms INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    partial INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_results_session_created ON translation_results(session_id, created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	// Databases created before timing was stored lack these columns.
	for _, column := range []string{"offset_ms", "duration_ms"} {
		if err := s.ensureColumn(ctx, "translation_results", column, "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, decl string) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// AppendSession ensures a session row exists and records its source language.
func (s *Store) AppendSession(ctx context.Context, sessionID, sourceLanguage string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, source_language, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET source_language=excluded.source_language`,
		sessionID, sourceLanguage, s.clock().UTC())
	return err
}

// AppendResult writes a translation outcome, creating the session row if needed.
func (s *Store) AppendResult(ctx context.Context, rec Record) error {
	if s.disabled() {
		return nil
	}
	if rec.SessionID == "" {
		return errors.New("record session id must not be empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	translations := rec.Translations
	if translations == nil {
		translations = map[string]string{}
	}
	payload, err := json.Marshal(translations)
	if err != nil {
		return fmt.Errorf("encode translations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at) VALUES(?, ?) ON CONFLICT(session_id) DO NOTHING`,
		rec.SessionID, rec.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO translation_results(session_id, trace_id, result_id, text, status, translation_status, translations, offset_ms, duration_ms, partial, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.TraceID, rec.ResultID, rec.Text, rec.Status, rec.TranslationStatus, string(payload),
		rec.OffsetMS, rec.DurationMS, rec.Partial, rec.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// ListSessionResults retrieves up to limit records for a session ordered ascending by time.
func (s *Store) ListSessionResults(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, trace_id, result_id, text, status, translation_status, translations, offset_ms, duration_ms, partial, created_at
		 FROM translation_results WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			payload string
			created time.Time
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TraceID, &r.ResultID, &r.Text, &r.Status, &r.TranslationStatus, &payload,
			&r.OffsetMS, &r.DurationMS, &r.Partial, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &r.Translations); err != nil {
			return nil, fmt.Errorf("decode translations for record %d: %w", r.ID, err)
		}
		r.CreatedAt = created
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetSession loads the session header written by AppendSession or AppendResult.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if s.disabled() {
		return Session{}, ErrSessionNotFound
	}
	var (
		sess   Session
		source sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, source_language, created_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.SessionID, &source, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return Session{}, err
	}
	sess.SourceLanguage = source.String
	return sess, nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM translation_results WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure checks the store is usable for its retention mode: ephemeral
// stores hold no connection, persistent ones must answer a ping.
func (s *Store) Ensure(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" {
		if s.db != nil {
			return errors.New("ephemeral store should not have database connection")
		}
		return nil
	}
	if s.db == nil {
		return errors.New("event store has no database connection")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}
