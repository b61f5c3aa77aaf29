package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pranavk/stockpilot/internal/observability"
	"github.com/pranavk/stockpilot/internal/tracing"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_state (
	session_id TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	blob       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, agent_name)
);
`

// SQLiteStore is the durable Store implementation
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (and if needed creates) the state database at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("State store opened")

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Get returns the stored blob or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, sessionID, agentName string) ([]byte, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"stockpilot.statestore",
		"statestore.get",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordStateLoad(time.Since(start))
	}()

	if err := validateKey(sessionID, agentName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var blob []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT blob FROM conversation_state WHERE session_id = ? AND agent_name = ?`,
		sessionID, agentName,
	)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	return blob, nil
}

// Put stores the blob, replacing any previous value
func (s *SQLiteStore) Put(ctx context.Context, sessionID, agentName string, blob []byte) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"stockpilot.statestore",
		"statestore.put",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordStateSave(time.Since(start))
	}()

	if err := validateKey(sessionID, agentName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if len(blob) == 0 {
		return fmt.Errorf("state blob cannot be empty")
	}

	// Last-write-wins upsert. Concurrent turns for one session are a
	// caller responsibility.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_state (session_id, agent_name, blob, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, agent_name)
		 DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		sessionID, agentName, blob, time.Now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to persist state: %w", err)
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Str("agent_name", agentName).
		Int("bytes", len(blob)).
		Msg("State persisted")

	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func validateKey(sessionID, agentName string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if agentName == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	return nil
}
