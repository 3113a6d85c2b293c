package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/companion/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	saveMaxRetries = 3
	saveBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex // serializes writers to avoid SQLITE_BUSY
	logger *slog.Logger
}

// NewSQLite opens (creating if needed) the history database at dbPath.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		status TEXT NOT NULL,
		client_ts INTEGER NOT NULL,
		server_ts INTEGER,
		media_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, client_ts);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load returns the persisted messages of a session ordered by effective
// timestamp, then by insertion.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT message_id, role, content, status, client_ts, server_ts, media_json
		FROM messages WHERE session_id = ?
		ORDER BY COALESCE(server_ts, client_ts), rowid`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			role      string
			status    string
			clientTS  int64
			serverTS  sql.NullInt64
			mediaJSON sql.NullString
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &status, &clientTS, &serverTS, &mediaJSON); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.SessionID = sessionID
		m.Role = domain.Role(role)
		m.Status = domain.Status(status)
		m.ClientTimestamp = time.UnixMilli(clientTS)
		if serverTS.Valid {
			ts := time.UnixMilli(serverTS.Int64)
			m.ServerTimestamp = &ts
		}
		if mediaJSON.Valid && mediaJSON.String != "" {
			var media domain.Media
			if err := json.Unmarshal([]byte(mediaJSON.String), &media); err != nil {
				s.logger.Warn("dropping unreadable media column", "session_id", sessionID, "message_id", m.ID, "error", err)
			} else {
				m.Media = &media
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// Save upserts a message, retrying with exponential backoff while the database is busy.
func (s *SQLiteStore) Save(ctx context.Context, msg domain.Message) error {
	if msg.SessionID == "" || msg.ID == "" {
		return errors.New("save message: session id and message id are required")
	}

	var err error
	for i := 0; i < saveMaxRetries; i++ {
		err = s.saveOnce(ctx, msg)
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == saveMaxRetries-1 {
			break
		}
		delay := saveBaseDelay * time.Duration(1<<i)
		s.logger.Debug("message save hit SQLITE_BUSY, retrying",
			"session_id", msg.SessionID,
			"message_id", msg.ID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("save message %s: %w", msg.ID, err)
}

func (s *SQLiteStore) saveOnce(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var serverTS any
	if msg.ServerTimestamp != nil {
		serverTS = msg.ServerTimestamp.UnixMilli()
	}
	var mediaJSON any
	if msg.Media != nil {
		data, err := json.Marshal(msg.Media)
		if err != nil {
			return fmt.Errorf("marshal media: %w", err)
		}
		mediaJSON = string(data)
	}

	query := `
	INSERT INTO messages (session_id, message_id, role, content, status, client_ts, server_ts, media_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, message_id) DO UPDATE SET
		content = excluded.content,
		status = excluded.status,
		client_ts = excluded.client_ts,
		server_ts = excluded.server_ts,
		media_json = excluded.media_json,
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, query,
		msg.SessionID, msg.ID, string(msg.Role), msg.Content, string(msg.Status),
		msg.ClientTimestamp.UnixMilli(), serverTS, mediaJSON, now, now,
	)
	return err
}

// Sessions lists persisted sessions, most recently active first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]Session, error) {
	query := `
		SELECT session_id, COUNT(*), MAX(COALESCE(server_ts, client_ts))
		FROM messages GROUP BY session_id
		ORDER BY MAX(COALESCE(server_ts, client_ts)) DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []Session
	for rows.Next() {
		var (
			sess Session
			last int64
		)
		if err := rows.Scan(&sess.ID, &sess.MessageCount, &last); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.LastActive = time.UnixMilli(last)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
