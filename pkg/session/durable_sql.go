package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/answerdesk/answerdesk/pkg/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Durable is the system-of-record session tier.
type Durable interface {
	// EnsureSession creates the record if absent and returns it.
	EnsureSession(ctx context.Context, sessionID, agentName, userType, identity string) (*Session, error)

	// GetSession returns the record or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// AppendMessage persists a message, assigning the next sequence
	// number, and bumps the session's message count and timestamp.
	AppendMessage(ctx context.Context, sessionID string, msg *Message) error

	// Messages returns the latest limit messages, oldest first. A
	// non-positive limit returns everything.
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// MessageCount returns the total stored messages for the session.
	MessageCount(ctx context.Context, sessionID string) (int, error)

	// UpdateSummary replaces the rolling summary.
	UpdateSummary(ctx context.Context, sessionID, summary string) error

	// EndSession stamps ended_at. Idempotent.
	EndSession(ctx context.Context, sessionID string) error

	// RecordUsage folds one query's token and cost totals into the
	// identity aggregate.
	RecordUsage(ctx context.Context, identity string, inputTokens, outputTokens int64, costUSD float64) error

	// UsageForIdentity returns the lifetime aggregate for an identity,
	// or a zero-valued record when none exists.
	UsageForIdentity(ctx context.Context, identity string) (*IdentityUsage, error)

	// Close releases the database handle.
	Close() error
}

// SQLStore implements Durable on database/sql. Postgres, MySQL, and
// SQLite dialects are supported; placeholders are rebound for postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createSessionsSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    agent_name VARCHAR(255) NOT NULL,
    user_type VARCHAR(50) NOT NULL,
    identity VARCHAR(255) NOT NULL,
    summary TEXT,
    message_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(identity);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

const createMessagesSQL = `
CREATE TABLE IF NOT EXISTS session_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    message_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    meta TEXT,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session_id ON session_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_sequence ON session_messages(session_id, sequence_num);
`

const createAggregatesSQL = `
CREATE TABLE IF NOT EXISTS identity_aggregates (
    identity VARCHAR(255) PRIMARY KEY,
    sessions BIGINT NOT NULL DEFAULT 0,
    messages BIGINT NOT NULL DEFAULT 0,
    input_tokens BIGINT NOT NULL DEFAULT 0,
    output_tokens BIGINT NOT NULL DEFAULT 0,
    cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

// NewSQLStore opens the configured database and initializes the schema.
func NewSQLStore(cfg *config.DurableConfig) (*SQLStore, error) {
	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	s := &SQLStore{db: db, dialect: cfg.Driver}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLStoreFromDB wraps an existing handle (used by tests).
func NewSQLStoreFromDB(db *sql.DB, dialect string) (*SQLStore, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	messagesSQL := createMessagesSQL
	switch s.dialect {
	case "postgres":
		messagesSQL = `
CREATE TABLE IF NOT EXISTS session_messages (
    id SERIAL PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    message_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    meta TEXT,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session_id ON session_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_sequence ON session_messages(session_id, sequence_num);
`
	case "mysql":
		messagesSQL = `
CREATE TABLE IF NOT EXISTS session_messages (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    session_id VARCHAR(255) NOT NULL,
    message_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    meta TEXT,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
`
	}

	for _, stmt := range []string{createSessionsSQL, messagesSQL, createAggregatesSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// EnsureSession implements Durable.
func (s *SQLStore) EnsureSession(ctx context.Context, sessionID, agentName, userType, identity string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID cannot be empty")
	}

	sess, err := s.GetSession(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	query := s.rebind(`
INSERT INTO sessions (id, agent_name, user_type, identity, summary, message_count, created_at, updated_at)
VALUES (?, ?, ?, ?, '', 0, ?, ?)
`)
	if _, err := s.db.ExecContext(ctx, query, sessionID, agentName, userType, identity, now, now); err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	bump := s.rebind(`
INSERT INTO identity_aggregates (identity, sessions, updated_at) VALUES (?, 1, ?)
ON CONFLICT (identity) DO UPDATE SET sessions = identity_aggregates.sessions + 1, updated_at = excluded.updated_at
`)
	if s.dialect == "mysql" {
		bump = `
INSERT INTO identity_aggregates (identity, sessions, updated_at) VALUES (?, 1, ?)
ON DUPLICATE KEY UPDATE sessions = sessions + 1, updated_at = VALUES(updated_at)
`
	}
	if _, err := s.db.ExecContext(ctx, bump, identity, now); err != nil {
		return nil, fmt.Errorf("failed to bump identity sessions: %w", err)
	}

	return &Session{
		ID:        sessionID,
		AgentName: agentName,
		UserType:  userType,
		Identity:  identity,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetSession implements Durable.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := s.rebind(`
SELECT id, agent_name, user_type, identity, summary, message_count, created_at, updated_at, ended_at
FROM sessions WHERE id = ?
`)

	var sess Session
	var summary sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID, &sess.AgentName, &sess.UserType, &sess.Identity,
		&summary, &sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	sess.Summary = summary.String
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

// AppendMessage implements Durable. The assigned sequence number is
// written back into msg.
func (s *SQLStore) AppendMessage(ctx context.Context, sessionID string, msg *Message) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int64
	seqQuery := s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_messages WHERE session_id = ?`)
	if err = tx.QueryRowContext(ctx, seqQuery, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to get next sequence number: %w", err)
	}

	metaJSON := ""
	if msg.Meta != nil {
		data, merr := json.Marshal(msg.Meta)
		if merr != nil {
			err = fmt.Errorf("failed to marshal message meta: %w", merr)
			return err
		}
		metaJSON = string(data)
	}

	now := time.Now().UTC()
	insert := s.rebind(`
INSERT INTO session_messages (session_id, message_id, role, content, meta, sequence_num, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`)
	if _, err = tx.ExecContext(ctx, insert, sessionID, msg.ID, msg.Role, msg.Content, metaJSON, seq, now); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	update := s.rebind(`UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?`)
	if _, err = tx.ExecContext(ctx, update, now, sessionID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	msg.SequenceNum = seq
	msg.CreatedAt = now
	return nil
}

// Messages implements Durable.
func (s *SQLStore) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := s.rebind(`
SELECT message_id, role, content, meta, sequence_num, created_at
FROM session_messages WHERE session_id = ?
ORDER BY sequence_num ASC
`)
	args := []any{sessionID}

	if limit > 0 {
		query = s.rebind(`
SELECT message_id, role, content, meta, sequence_num, created_at FROM (
    SELECT message_id, role, content, meta, sequence_num, created_at
    FROM session_messages WHERE session_id = ?
    ORDER BY sequence_num DESC LIMIT ?
) sub ORDER BY sequence_num ASC
`)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var meta sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &meta, &msg.SequenceNum, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if meta.Valid && meta.String != "" {
			var m MessageMeta
			if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message meta: %w", err)
			}
			msg.Meta = &m
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// MessageCount implements Durable.
func (s *SQLStore) MessageCount(ctx context.Context, sessionID string) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM session_messages WHERE session_id = ?`)
	var count int
	if err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// UpdateSummary implements Durable.
func (s *SQLStore) UpdateSummary(ctx context.Context, sessionID, summary string) error {
	query := s.rebind(`UPDATE sessions SET summary = ?, updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, summary, time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	return nil
}

// EndSession implements Durable.
func (s *SQLStore) EndSession(ctx context.Context, sessionID string) error {
	query := s.rebind(`UPDATE sessions SET ended_at = ?, updated_at = ? WHERE id = ? AND ended_at IS NULL`)
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, now, now, sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// RecordUsage implements Durable.
func (s *SQLStore) RecordUsage(ctx context.Context, identity string, inputTokens, outputTokens int64, costUSD float64) error {
	now := time.Now().UTC()
	query := s.rebind(`
INSERT INTO identity_aggregates (identity, messages, input_tokens, output_tokens, cost_usd, updated_at)
VALUES (?, 1, ?, ?, ?, ?)
ON CONFLICT (identity) DO UPDATE SET
    messages = identity_aggregates.messages + 1,
    input_tokens = identity_aggregates.input_tokens + excluded.input_tokens,
    output_tokens = identity_aggregates.output_tokens + excluded.output_tokens,
    cost_usd = identity_aggregates.cost_usd + excluded.cost_usd,
    updated_at = excluded.updated_at
`)
	if s.dialect == "mysql" {
		query = `
INSERT INTO identity_aggregates (identity, messages, input_tokens, output_tokens, cost_usd, updated_at)
VALUES (?, 1, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    messages = messages + 1,
    input_tokens = input_tokens + VALUES(input_tokens),
    output_tokens = output_tokens + VALUES(output_tokens),
    cost_usd = cost_usd + VALUES(cost_usd),
    updated_at = VALUES(updated_at)
`
	}
	if _, err := s.db.ExecContext(ctx, query, identity, inputTokens, outputTokens, costUSD, now); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageForIdentity implements Durable.
func (s *SQLStore) UsageForIdentity(ctx context.Context, identity string) (*IdentityUsage, error) {
	query := s.rebind(`
SELECT identity, sessions, messages, input_tokens, output_tokens, cost_usd, updated_at
FROM identity_aggregates WHERE identity = ?
`)

	var usage IdentityUsage
	err := s.db.QueryRowContext(ctx, query, identity).Scan(
		&usage.Identity, &usage.Sessions, &usage.Messages,
		&usage.InputTokens, &usage.OutputTokens, &usage.CostUSD, &usage.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &IdentityUsage{Identity: identity}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query identity usage: %w", err)
	}
	return &usage, nil
}

// Close implements Durable.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ensure interface compliance at compile time.
var _ Durable = (*SQLStore)(nil)
