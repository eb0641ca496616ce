package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/rallycoach/internal/domain"
	"github.com/ashureev/rallycoach/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY under WAL
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS players (
		email TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT '',
		session_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		player_email TEXT NOT NULL,
		number INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		PRIMARY KEY (player_email, number)
	);

	CREATE TABLE IF NOT EXISTS messages (
		player_email TEXT NOT NULL,
		session_number INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		resources TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (player_email, session_number, ordinal)
	);

	CREATE TABLE IF NOT EXISTS summaries (
		id TEXT PRIMARY KEY,
		player_email TEXT NOT NULL,
		session_number INTEGER NOT NULL,
		technical_focus TEXT NOT NULL DEFAULT '',
		mental_game TEXT NOT NULL DEFAULT '',
		homework TEXT NOT NULL DEFAULT '',
		next_focus TEXT NOT NULL DEFAULT '',
		breakthroughs TEXT NOT NULL DEFAULT '',
		narrative TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE (player_email, session_number)
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_player ON summaries(player_email, session_number DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return newError(op, KindNotFound, err)
	case shared.IsSQLiteConflictError(err):
		return newError(op, KindUnavailable, err)
	case shared.IsSQLiteConstraintError(err), errors.Is(err, errAlreadyCompleted):
		return newError(op, KindConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(op, KindUnavailable, err)
	default:
		return newError(op, KindInternal, err)
	}
}

// withBusyRetry repeats fn with exponential backoff while SQLite reports a lock.
func (s *SQLiteStore) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return classify(op, err)
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return classify(op, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return classify(op, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// FindPlayer retrieves a player by email.
func (s *SQLiteStore) FindPlayer(ctx context.Context, email string) (*domain.Player, error) {
	query := `
		SELECT email, name, level, session_count, status, created_at, updated_at
		FROM players WHERE email = ?`

	var p domain.Player
	var level, status string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, domain.NormalizeEmail(email)).Scan(
		&p.Email, &p.Name, &level, &p.SessionCount, &status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, classify("find player", err)
	}
	p.Level = domain.SkillLevel(level)
	p.Status = domain.PlayerStatus(status)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// CreatePlayer inserts a new onboarding player.
func (s *SQLiteStore) CreatePlayer(ctx context.Context, email string) (*domain.Player, error) {
	now := time.Now()
	p := &domain.Player{
		Email:     domain.NormalizeEmail(email),
		Status:    domain.PlayerOnboarding,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.withBusyRetry(ctx, "create player", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO players (email, name, level, session_count, status, created_at, updated_at)
			VALUES (?, '', '', 0, ?, ?, ?)`,
			p.Email, string(p.Status), now.Unix(), now.Unix())
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePlayerProfile stores the player's name and level and marks them active.
func (s *SQLiteStore) UpdatePlayerProfile(ctx context.Context, email, name string, level domain.SkillLevel) error {
	return s.withBusyRetry(ctx, "update player profile", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE players SET name = ?, level = ?, status = ?, updated_at = ? WHERE email = ?`,
			name, string(level), string(domain.PlayerActive), time.Now().Unix(), domain.NormalizeEmail(email))
		if err != nil {
			return err
		}
		return requireRows(res)
	})
}

// IncrementSessionCount bumps the counter and opens the matching session row.
func (s *SQLiteStore) IncrementSessionCount(ctx context.Context, email string) (int, error) {
	email = domain.NormalizeEmail(email)
	var count int
	err := s.withBusyRetry(ctx, "increment session count", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().Unix()
		if err := tx.QueryRowContext(ctx, `
			UPDATE players SET session_count = session_count + 1, updated_at = ?
			WHERE email = ? RETURNING session_count`, now, email).Scan(&count); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (player_email, number, status, started_at) VALUES (?, ?, ?, ?)`,
			email, count, string(domain.SessionActive), now); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AppendMessage stores one message record.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return s.withBusyRetry(ctx, "append message", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (player_email, session_number, ordinal, role, content, resources, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			domain.NormalizeEmail(msg.PlayerEmail), msg.SessionNumber, msg.Ordinal,
			string(msg.Role), msg.Content, msg.Resources, createdAt.UnixMilli())
		return err
	})
}

// CompleteSession marks an active session completed. Completing twice is a conflict.
func (s *SQLiteStore) CompleteSession(ctx context.Context, email string, sessionNumber int) error {
	email = domain.NormalizeEmail(email)
	return s.withBusyRetry(ctx, "complete session", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, completed_at = ?
			WHERE player_email = ? AND number = ? AND status = ?`,
			string(domain.SessionCompleted), time.Now().Unix(), email, sessionNumber, string(domain.SessionActive))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		var status string
		err = s.db.QueryRowContext(ctx, `SELECT status FROM sessions WHERE player_email = ? AND number = ?`,
			email, sessionNumber).Scan(&status)
		if err != nil {
			return err
		}
		return errAlreadyCompleted
	})
}

var errAlreadyCompleted = errors.New("session already completed")

// ListMessages returns the session's messages ordered by ordinal.
func (s *SQLiteStore) ListMessages(ctx context.Context, email string, sessionNumber int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_email, session_number, ordinal, role, content, resources, created_at
		FROM messages WHERE player_email = ? AND session_number = ?
		ORDER BY ordinal ASC`, domain.NormalizeEmail(email), sessionNumber)
	if err != nil {
		return nil, classify("list messages", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&m.PlayerEmail, &m.SessionNumber, &m.Ordinal, &role, &m.Content, &m.Resources, &createdAt); err != nil {
			return nil, classify("scan message", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate messages", err)
	}
	return out, nil
}

// RecentSummaries returns up to n summaries, newest session first.
func (s *SQLiteStore) RecentSummaries(ctx context.Context, email string, n int) ([]*domain.SessionSummary, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_email, session_number, technical_focus, mental_game, homework,
		       next_focus, breakthroughs, narrative, created_at
		FROM summaries WHERE player_email = ?
		ORDER BY session_number DESC LIMIT ?`, domain.NormalizeEmail(email), n)
	if err != nil {
		return nil, classify("recent summaries", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close summary rows", "error", closeErr)
		}
	}()

	var out []*domain.SessionSummary
	for rows.Next() {
		var sm domain.SessionSummary
		var createdAt int64
		if err := rows.Scan(&sm.ID, &sm.PlayerEmail, &sm.SessionNumber, &sm.TechnicalFocus, &sm.MentalGame,
			&sm.Homework, &sm.NextFocus, &sm.Breakthroughs, &sm.Narrative, &createdAt); err != nil {
			return nil, classify("scan summary", err)
		}
		sm.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &sm)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate summaries", err)
	}
	return out, nil
}

// CreateSummary stores a summary. A second summary for the same session is a conflict.
func (s *SQLiteStore) CreateSummary(ctx context.Context, sm *domain.SessionSummary) error {
	if sm.ID == "" {
		sm.ID = uuid.NewString()
	}
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = time.Now()
	}
	return s.withBusyRetry(ctx, "create summary", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO summaries (id, player_email, session_number, technical_focus, mental_game,
				homework, next_focus, breakthroughs, narrative, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sm.ID, domain.NormalizeEmail(sm.PlayerEmail), sm.SessionNumber, sm.TechnicalFocus, sm.MentalGame,
			sm.Homework, sm.NextFocus, sm.Breakthroughs, sm.Narrative, sm.CreatedAt.Unix())
		return err
	})
}

// Stats aggregates counts for the admin surface.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Levels: make(map[string]int)}
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM players`, &st.Players},
		{`SELECT COUNT(*) FROM sessions`, &st.Sessions},
		{`SELECT COUNT(*) FROM sessions WHERE status = 'completed'`, &st.CompletedSessions},
		{`SELECT COUNT(*) FROM messages`, &st.Messages},
		{`SELECT COUNT(*) FROM summaries`, &st.Summaries},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, classify("stats", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT level, COUNT(*) FROM players WHERE level != '' GROUP BY level`)
	if err != nil {
		return nil, classify("stats levels", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, classify("scan level", err)
		}
		st.Levels[level] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate levels", err)
	}
	return st, nil
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
