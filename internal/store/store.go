// Package store persists turns, sessions, traces, and long-term memories
// in a single SQLite database. It is safe for concurrent use.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB

	// Embedding dimension is fixed per store instance: the first persisted
	// vector sets it, later mismatches are rejected.
	dimMu sync.Mutex
	dim   int
}

// Open opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between concurrent sessions and background extraction.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.dim = s.loadDimension()
	return s, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// ---- turns ----

// AddTurn persists a turn. Missing ID/CreatedAt are filled in.
func (s *Store) AddTurn(ctx context.Context, t *Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, role, content, tool_calls, tool_results,
		                    model, tokens_in, tokens_out, duration_ms, tool_call_count, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.Role, t.Content,
		nullStr(t.ToolCallsJSON), nullStr(t.ToolResultsJSON),
		nullStr(t.Model), t.TokensIn, t.TokensOut, t.DurationMs, t.ToolCallCount,
		nullStr(t.TraceID), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add turn: %w", err)
	}
	return nil
}

// GetHistory returns the last limit turns of a conversation ordered by
// creation time ascending. limit <= 0 returns everything.
func (s *Store) GetHistory(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	q := `SELECT id, conversation_id, role, content, tool_calls, tool_results,
	             model, tokens_in, tokens_out, duration_ms, tool_call_count, trace_id, created_at
	      FROM turns WHERE conversation_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var toolCalls, toolResults, model, traceID sql.NullString
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content,
			&toolCalls, &toolResults, &model, &t.TokensIn, &t.TokensOut,
			&t.DurationMs, &t.ToolCallCount, &traceID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.ToolCallsJSON = toolCalls.String
		t.ToolResultsJSON = toolResults.String
		t.Model = model.String
		t.TraceID = traceID.String
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query returned newest-first; reverse into ascending order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// CountTurns returns the number of turns in a conversation.
func (s *Store) CountTurns(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// ---- sessions ----

// SaveSession upserts a session.
func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = sess.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, conversation_id, title, created_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   conversation_id = excluded.conversation_id,
		   title = excluded.title,
		   last_active_at = excluded.last_active_at`,
		sess.ID, sess.ConversationID, nullStr(sess.Title), sess.CreatedAt, sess.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSessionByID returns a session or ErrNotFound.
func (s *Store) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, title, created_at, last_active_at
		 FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.ConversationID, &title, &sess.CreatedAt, &sess.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Title = title.String
	return &sess, nil
}

// ListSessions returns all sessions ordered by last activity descending.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, title, created_at, last_active_at
		 FROM sessions ORDER BY last_active_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var title sql.NullString
		if err := rows.Scan(&sess.ID, &sess.ConversationID, &title, &sess.CreatedAt, &sess.LastActiveAt); err != nil {
			return nil, err
		}
		sess.Title = title.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// ---- traces ----

// AddTrace persists a finished trace. Each trace is written exactly once
// at end-of-turn.
func (s *Store) AddTrace(ctx context.Context, tr *Trace) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	steps, err := json.Marshal(tr.Steps)
	if err != nil {
		return fmt.Errorf("marshal trace steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces (id, conversation_id, user_input, system_prompt, skill_match,
		                     steps, response, model, tokens_in, tokens_out, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.ConversationID, tr.UserInput, nullStr(tr.SystemPrompt), nullStr(tr.SkillMatch),
		string(steps), nullStr(tr.Response), nullStr(tr.Model),
		tr.TokensIn, tr.TokensOut, tr.DurationMs, nullStr(tr.Error), tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add trace: %w", err)
	}
	return nil
}

// GetTrace returns a trace by id or ErrNotFound.
func (s *Store) GetTrace(ctx context.Context, id string) (*Trace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, user_input, system_prompt, skill_match,
		        steps, response, model, tokens_in, tokens_out, duration_ms, error, created_at
		 FROM traces WHERE id = ?`, id)
	tr, err := scanTrace(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return tr, err
}

// GetTraces returns traces newest-first with pagination.
func (s *Store) GetTraces(ctx context.Context, limit, offset int) ([]Trace, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_input, system_prompt, skill_match,
		        steps, response, model, tokens_in, tokens_out, duration_ms, error, created_at
		 FROM traces ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get traces: %w", err)
	}
	defer rows.Close()

	var out []Trace
	for rows.Next() {
		tr, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (*Trace, error) {
	var tr Trace
	var systemPrompt, skillMatch, response, model, errStr sql.NullString
	var steps string
	if err := row.Scan(&tr.ID, &tr.ConversationID, &tr.UserInput, &systemPrompt, &skillMatch,
		&steps, &response, &model, &tr.TokensIn, &tr.TokensOut, &tr.DurationMs, &errStr, &tr.CreatedAt); err != nil {
		return nil, err
	}
	tr.SystemPrompt = systemPrompt.String
	tr.SkillMatch = skillMatch.String
	tr.Response = response.String
	tr.Model = model.String
	tr.Error = errStr.String
	if err := json.Unmarshal([]byte(steps), &tr.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal trace steps: %w", err)
	}
	return &tr, nil
}

// ---- memories ----

// AddMemory persists a memory entry. Importance is clamped; the embedding
// (if any) must match the store's established dimension.
func (s *Store) AddMemory(ctx context.Context, m *MemoryEntry) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.AccessedAt.Before(m.CreatedAt) {
		m.AccessedAt = m.CreatedAt
	}
	m.Importance = ClampImportance(m.Importance)

	if err := s.checkDimension(m.Embedding); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, type, content, importance, embedding,
		                       created_at, accessed_at, access_count, source_turn_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Type, m.Content, m.Importance, encodeEmbedding(m.Embedding),
		m.CreatedAt, m.AccessedAt, m.AccessCount, nullStr(m.SourceTurnID),
	)
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory entry by id or ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, id string) (*MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, content, importance, embedding,
		        created_at, accessed_at, access_count, source_turn_id
		 FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

// UpdateMemory rewrites a memory entry's mutable fields.
func (s *Store) UpdateMemory(ctx context.Context, m *MemoryEntry) error {
	m.Importance = ClampImportance(m.Importance)
	if err := s.checkDimension(m.Embedding); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET type = ?, content = ?, importance = ?, embedding = ?,
		        accessed_at = ?, access_count = ? WHERE id = ?`,
		m.Type, m.Content, m.Importance, encodeEmbedding(m.Embedding),
		m.AccessedAt, m.AccessCount, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMemory removes a memory entry.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// ListMemories returns entries filtered by type (empty = all) and minimum
// importance, ordered by creation time descending.
func (s *Store) ListMemories(ctx context.Context, memType string, minImportance float64) ([]MemoryEntry, error) {
	q := `SELECT id, type, content, importance, embedding,
	             created_at, accessed_at, access_count, source_turn_id
	      FROM memories WHERE importance >= ?`
	args := []any{minImportance}
	if memType != "" {
		q += " AND type = ?"
		args = append(args, memType)
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []MemoryEntry
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// TouchMemoryAccess bumps accessed_at and access_count for the given ids.
func (s *Store) TouchMemoryAccess(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE memories SET accessed_at = ?, access_count = access_count + 1 WHERE id = ?`,
			now, id); err != nil {
			return err
		}
	}
	return nil
}

func scanMemory(row rowScanner) (*MemoryEntry, error) {
	var m MemoryEntry
	var embedding []byte
	var sourceTurn sql.NullString
	if err := row.Scan(&m.ID, &m.Type, &m.Content, &m.Importance, &embedding,
		&m.CreatedAt, &m.AccessedAt, &m.AccessCount, &sourceTurn); err != nil {
		return nil, err
	}
	m.Embedding = decodeEmbedding(embedding)
	m.SourceTurnID = sourceTurn.String
	return &m, nil
}

func (s *Store) loadDimension() int {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT embedding FROM memories WHERE embedding IS NOT NULL LIMIT 1`).Scan(&blob)
	if err != nil {
		return 0
	}
	return len(blob) / 4
}

func (s *Store) checkDimension(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	if s.dim == 0 {
		s.dim = len(vec)
		return nil
	}
	if len(vec) != s.dim {
		return fmt.Errorf("%w: got %d, store has %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	return nil
}

// ---- helpers ----

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeEmbedding(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
