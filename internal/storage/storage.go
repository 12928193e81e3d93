package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/transcript"
)

const (
	defaultDirName  = ".local/share/angel"
	defaultFileName = "angel.db"
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

	maxSessionNameLength = 200
	maxTurnLength        = 100000
	defaultPageSize      = 50
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists conversations as sessions of transcript turns.
type Store struct {
	db            *sql.DB
	preparedStmts map[string]*sql.Stmt
	preparedMutex sync.RWMutex
	now           func() time.Time
}

// SessionSummary describes a saved conversation.
type SessionSummary struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	TurnCount int
}

// Session bundles a summary with its turns in chronological order.
type Session struct {
	Summary SessionSummary
	Turns   []transcript.Turn
}

// PaginationOptions selects a page of turns. Page is 1-based; zero loads the
// most recent page.
type PaginationOptions struct {
	Page     int
	PageSize int
}

// Open initialises the storage layer, creating the database if necessary.
// An empty path uses ~/.local/share/angel/angel.db.
func Open(path string) (*Store, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, angelerrors.NewStorageError("open", "resolve database path", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", resolved)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, angelerrors.NewStorageError("open", "failed to open sqlite database", err)
	}

	// sqlite serialises writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, angelerrors.NewStorageError("setup", "failed to enable foreign keys", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.initializePreparedStatements(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS turns (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            session_id INTEGER NOT NULL,
            role TEXT NOT NULL,
            content TEXT NOT NULL,
            attachments TEXT NOT NULL DEFAULT '[]',
            created_at TEXT NOT NULL,
            FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session_id ON turns(session_id);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return angelerrors.NewStorageError("migrate", "apply migration", err)
		}
	}
	return nil
}

const summaryColumns = `s.id, s.name, s.created_at, s.updated_at, COUNT(t.seq)`

func (s *Store) initializePreparedStatements() error {
	s.preparedStmts = make(map[string]*sql.Stmt)

	stmts := map[string]string{
		"createSession":     `INSERT INTO sessions(name, created_at, updated_at) VALUES (?, ?, ?)`,
		"renameSession":     `UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`,
		"deleteSession":     `DELETE FROM sessions WHERE id = ?`,
		"listSessions":      `SELECT ` + summaryColumns + ` FROM sessions s LEFT JOIN turns t ON t.session_id = s.id GROUP BY s.id ORDER BY s.updated_at DESC, s.id DESC LIMIT ?`,
		"getSession":        `SELECT ` + summaryColumns + ` FROM sessions s LEFT JOIN turns t ON t.session_id = s.id WHERE s.id = ? GROUP BY s.id`,
		"getTurns":          `SELECT id, role, content, attachments, created_at FROM turns WHERE session_id = ? ORDER BY seq ASC`,
		"getTurnsPaginated": `SELECT id, role, content, attachments, created_at FROM turns WHERE session_id = ? ORDER BY seq ASC LIMIT ? OFFSET ?`,
	}

	for name, query := range stmts {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return angelerrors.NewStorageError("prepare", "prepare statement "+name, err)
		}
		s.preparedStmts[name] = stmt
	}
	return nil
}

func (s *Store) getPreparedStmt(name string) (*sql.Stmt, error) {
	s.preparedMutex.RLock()
	stmt := s.preparedStmts[name]
	s.preparedMutex.RUnlock()

	if stmt == nil {
		return nil, angelerrors.NewStorageError("prepare", "prepared statement "+name+" not found", nil)
	}
	return stmt, nil
}

// Close releases the database and its prepared statements.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	var firstError error

	s.preparedMutex.Lock()
	for _, stmt := range s.preparedStmts {
		if err := stmt.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	s.preparedStmts = nil
	s.preparedMutex.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return angelerrors.NewStorageError("state", "storage not initialised", nil)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

// CreateSession inserts a new conversation and returns its identifier. An
// empty name gets a dated default.
func (s *Store) CreateSession(ctx context.Context, name string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	title := strings.TrimSpace(name)
	if title == "" {
		title = fmt.Sprintf("Session %s", s.now().Format("2006-01-02 15:04"))
	} else if err := validateSessionName(title); err != nil {
		return 0, err
	}

	stmt, err := s.getPreparedStmt("createSession")
	if err != nil {
		return 0, err
	}
	ts := s.timestamp()
	res, err := stmt.ExecContext(ctx, title, ts, ts)
	if err != nil {
		return 0, angelerrors.NewStorageError("create", "insert session", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, angelerrors.NewStorageError("create", "resolve session id", err)
	}
	return id, nil
}

// RenameSession updates the stored name for a session.
func (s *Store) RenameSession(ctx context.Context, id int64, name string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if id <= 0 {
		return angelerrors.NewValidationError("id", "must be greater than 0", id, nil)
	}
	name = strings.TrimSpace(name)
	if err := validateSessionName(name); err != nil {
		return err
	}

	stmt, err := s.getPreparedStmt("renameSession")
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, name, s.timestamp(), id)
	if err != nil {
		return angelerrors.NewStorageError("rename", "update session name", err)
	}
	return expectRow(res, id)
}

// DeleteSession removes a session and its turns.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	stmt, err := s.getPreparedStmt("deleteSession")
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return angelerrors.NewStorageError("delete", "delete session", err)
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return angelerrors.NewStorageError("update", "rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return nil
}

// AppendTurns stores turns in a single transaction. Turns without an ID get
// one; a turn whose ID is already stored is updated in place, so an
// assistant turn saved while streaming can be saved again once complete.
func (s *Store) AppendTurns(ctx context.Context, sessionID int64, turns []transcript.Turn) error {
	if err := s.ready(); err != nil {
		return err
	}
	if sessionID <= 0 {
		return angelerrors.NewValidationError("sessionID", "must be greater than 0", sessionID, nil)
	}
	if len(turns) == 0 {
		return nil
	}
	for i := range turns {
		if err := validateTurn(turns[i]); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return angelerrors.NewStorageError("batch", "begin transaction", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, `INSERT INTO turns(id, session_id, role, content, attachments, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET content = excluded.content, attachments = excluded.attachments`)
	if err != nil {
		return angelerrors.NewStorageError("batch", "prepare append statement", err)
	}
	defer upsert.Close()

	for _, turn := range turns {
		id := turn.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := turn.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		attachments, err := json.Marshal(nonNil(turn.Attachments))
		if err != nil {
			return angelerrors.NewStorageError("batch", "encode attachments", err)
		}
		if _, err := upsert.ExecContext(ctx, id, sessionID, string(turn.Role), turn.Content,
			string(attachments), created.UTC().Format(timestampLayout)); err != nil {
			return angelerrors.NewStorageError("batch", "insert turn", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, s.timestamp(), sessionID)
	if err != nil {
		return angelerrors.NewStorageError("batch", "touch session", err)
	}
	if err := expectRow(res, sessionID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return angelerrors.NewStorageError("batch", "commit transaction", err)
	}
	return nil
}

// SaveTurnsWithRetry calls AppendTurns, retrying storage failures with
// exponential backoff. Validation failures are returned immediately.
func (s *Store) SaveTurnsWithRetry(ctx context.Context, sessionID int64, turns []transcript.Turn, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.AppendTurns(ctx, sessionID, turns)
		if err == nil {
			return nil
		}
		lastErr = err

		if angelerrors.KindOf(err) == angelerrors.KindValidation || errors.Is(err, ErrNotFound) {
			return err
		}

		if attempt < maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}
	}
	return angelerrors.NewStorageError("batch", fmt.Sprintf("failed after %d attempts", maxRetries), lastErr)
}

// ListSessions returns stored conversations ordered by most recent activity.
// A limit of zero or less returns all sessions.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	stmt, err := s.getPreparedStmt("listSessions")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, angelerrors.NewStorageError("list", "list sessions", err)
	}
	defer rows.Close()

	summaries := make([]SessionSummary, 0, 8)
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, angelerrors.NewStorageError("list", "iterate sessions", err)
	}
	return summaries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (SessionSummary, error) {
	var summary SessionSummary
	var created, updated string
	if err := row.Scan(&summary.ID, &summary.Name, &created, &updated, &summary.TurnCount); err != nil {
		return SessionSummary{}, err
	}

	var err error
	if summary.CreatedAt, err = parseTimestamp(created); err != nil {
		return SessionSummary{}, err
	}
	if summary.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return SessionSummary{}, err
	}
	return summary, nil
}

// LoadSession fetches a session and all of its turns.
func (s *Store) LoadSession(ctx context.Context, id int64) (*Session, error) {
	return s.LoadSessionWithPagination(ctx, id, nil)
}

// LoadSessionWithPagination fetches a session and one page of its turns.
// A nil pagination loads every turn.
func (s *Store) LoadSessionWithPagination(ctx context.Context, id int64, pagination *PaginationOptions) (*Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, angelerrors.NewValidationError("id", "must be greater than 0", id, nil)
	}

	stmt, err := s.getPreparedStmt("getSession")
	if err != nil {
		return nil, err
	}
	summary, err := scanSummary(stmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
		}
		return nil, angelerrors.NewStorageError("load", "select session", err)
	}

	var rows *sql.Rows
	if pagination == nil {
		turnStmt, err := s.getPreparedStmt("getTurns")
		if err != nil {
			return nil, err
		}
		rows, err = turnStmt.QueryContext(ctx, id)
		if err != nil {
			return nil, angelerrors.NewStorageError("load", "load turns", err)
		}
	} else {
		pageSize := pagination.PageSize
		if pageSize <= 0 {
			pageSize = defaultPageSize
		}
		offset := 0
		if pagination.Page > 0 {
			offset = (pagination.Page - 1) * pageSize
		} else if summary.TurnCount > pageSize {
			offset = summary.TurnCount - pageSize
		}
		pageStmt, err := s.getPreparedStmt("getTurnsPaginated")
		if err != nil {
			return nil, err
		}
		rows, err = pageStmt.QueryContext(ctx, id, pageSize, offset)
		if err != nil {
			return nil, angelerrors.NewStorageError("load", "load turns paginated", err)
		}
	}
	defer rows.Close()

	turns := make([]transcript.Turn, 0, summary.TurnCount)
	for rows.Next() {
		var (
			turn                 transcript.Turn
			role, attachments, c string
		)
		if err := rows.Scan(&turn.ID, &role, &turn.Content, &attachments, &c); err != nil {
			return nil, angelerrors.NewStorageError("load", "scan turn", err)
		}
		turn.Role = transcript.Role(role)
		if err := json.Unmarshal([]byte(attachments), &turn.Attachments); err != nil {
			return nil, angelerrors.NewStorageError("load", "decode attachments", err)
		}
		if len(turn.Attachments) == 0 {
			turn.Attachments = nil
		}
		if turn.CreatedAt, err = parseTimestamp(c); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, angelerrors.NewStorageError("load", "iterate turns", err)
	}

	return &Session{Summary: summary, Turns: turns}, nil
}

func resolvePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, defaultDirName, defaultFileName)
	}

	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return "", fmt.Errorf("create storage directory: %w", err)
	}
	return absPath, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, angelerrors.NewStorageError("load", fmt.Sprintf("parse timestamp %q", value), err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func validateSessionName(name string) error {
	if name == "" {
		return angelerrors.NewValidationError("name", "session name cannot be empty", name, nil)
	}
	if len(name) > maxSessionNameLength {
		return angelerrors.NewValidationError("name",
			fmt.Sprintf("session name too long (max %d characters)", maxSessionNameLength), len(name), nil)
	}
	if strings.ContainsRune(name, 0) {
		return angelerrors.NewValidationError("name", "session name contains invalid characters", name, nil)
	}
	return nil
}

func validateTurn(t transcript.Turn) error {
	if !t.Role.Valid() {
		return angelerrors.NewValidationError("role",
			fmt.Sprintf("invalid turn role %q (must be one of: user, assistant, system)", t.Role), t.Role, nil)
	}
	if len(t.Content) > maxTurnLength {
		return angelerrors.NewValidationError("content",
			fmt.Sprintf("turn content too long (max %d bytes)", maxTurnLength), len(t.Content), nil)
	}
	return nil
}
