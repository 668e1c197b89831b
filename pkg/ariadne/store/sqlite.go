package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists workflow records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (and creates if needed) a SQLite workflow store.
// The path should be a file path (e.g. "./ariadne.db") or ":memory:" for
// testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL improves concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			request TEXT NOT NULL,
			fingerprint TEXT,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			final_output TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
		`CREATE TABLE IF NOT EXISTS question_analytics (
			question TEXT PRIMARY KEY,
			category TEXT,
			times_asked INTEGER NOT NULL DEFAULT 0,
			times_helpful INTEGER NOT NULL DEFAULT 0,
			last_asked TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	normalize(r, now)

	fingerprint, state, finalOutput, err := encodeRecord(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, request, fingerprint, status, state, final_output, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Request, fingerprint, string(r.Status), state, finalOutput,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), formatTimePtr(r.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, request, fingerprint, status, state, final_output, created_at, updated_at, completed_at
		FROM workflows WHERE id = ?
	`, id)
	return scanRecord(row)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request, fingerprint, status, state, final_output, created_at, updated_at, completed_at
		FROM workflows ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return records, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	normalize(r, time.Now().UTC())

	fingerprint, state, finalOutput, err := encodeRecord(r)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET fingerprint = ?, status = ?, state = ?, final_output = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`, fingerprint, string(r.Status), state, finalOutput,
		formatTime(r.UpdatedAt), formatTimePtr(r.CompletedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fingerprints implements Store.
func (s *SQLiteStore) Fingerprints(ctx context.Context, status workflow.Status) ([]Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint FROM workflows
		WHERE status = ? AND fingerprint IS NOT NULL
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []Fingerprint
	for rows.Next() {
		var fp Fingerprint
		var raw sql.NullString
		if err := rows.Scan(&fp.ID, &raw); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		if !raw.Valid || raw.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw.String), &fp.Vector); err != nil {
			return nil, fmt.Errorf("decode fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return fps, nil
}

// RecordQuestion implements Store.
func (s *SQLiteStore) RecordQuestion(ctx context.Context, question, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO question_analytics (question, category, times_asked, last_asked)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(question) DO UPDATE SET
			times_asked = times_asked + 1,
			last_asked = excluded.last_asked
	`, question, category, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("record question: %w", err)
	}
	return nil
}

// Questions implements Store.
func (s *SQLiteStore) Questions(ctx context.Context) ([]QuestionStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question, COALESCE(category, ''), times_asked, times_helpful, COALESCE(last_asked, '')
		FROM question_analytics ORDER BY times_asked DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var stats []QuestionStat
	for rows.Next() {
		var st QuestionStat
		var lastAsked string
		if err := rows.Scan(&st.Question, &st.Category, &st.TimesAsked, &st.TimesHelpful, &lastAsked); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		st.LastAsked, _ = time.Parse(time.RFC3339Nano, lastAsked)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return stats, nil
}

// Preferences implements Store.
func (s *SQLiteStore) Preferences(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return prefs, nil
}

// SetPreference implements Store.
func (s *SQLiteStore) SetPreference(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r           Record
		fingerprint sql.NullString
		status      string
		state       string
		finalOutput sql.NullString
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&r.ID, &r.Request, &fingerprint, &status, &state, &finalOutput, &createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	r.Status = workflow.Status(status)
	if fingerprint.Valid && fingerprint.String != "" {
		if err := json.Unmarshal([]byte(fingerprint.String), &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("decode fingerprint: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(state), &r.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if finalOutput.Valid && finalOutput.String != "" {
		if err := json.Unmarshal([]byte(finalOutput.String), &r.FinalOutput); err != nil {
			return nil, fmt.Errorf("decode final output: %w", err)
		}
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}

func encodeRecord(r *Record) (fingerprint, state any, finalOutput any, err error) {
	stateJSON, err := json.Marshal(r.State)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode state: %w", err)
	}
	state = string(stateJSON)

	if len(r.Fingerprint) > 0 {
		fpJSON, err := json.Marshal(r.Fingerprint)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode fingerprint: %w", err)
		}
		fingerprint = string(fpJSON)
	}

	if r.FinalOutput != nil {
		foJSON, err := json.Marshal(r.FinalOutput)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode final output: %w", err)
		}
		finalOutput = string(foJSON)
	}
	return fingerprint, state, finalOutput, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
