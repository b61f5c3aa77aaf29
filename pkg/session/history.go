package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pranavk/stockpilot/internal/observability"
	"github.com/pranavk/stockpilot/internal/tracing"
)

// Turn is a single history entry: one user message or one host reply
type Turn struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HistoryStore persists per-session conversation history as JSONL files
type HistoryStore struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewHistoryStore creates the store, making the directory if needed
func NewHistoryStore(dir string) (*HistoryStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		return nil, fmt.Errorf("history directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	hs := &HistoryStore{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("History store initialized")
	hs.updateActiveSessionsMetric()

	return hs, nil
}

// validateSessionID rejects IDs that could escape the history directory
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (hs *HistoryStore) path(sessionID string) string {
	return filepath.Join(hs.dir, sessionID+".jsonl")
}

func (hs *HistoryStore) writeLock(sessionID string) *sync.Mutex {
	hs.locksMu.Lock()
	defer hs.locksMu.Unlock()

	if lock, exists := hs.writeLocks[sessionID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	hs.writeLocks[sessionID] = lock
	return lock
}

func (hs *HistoryStore) updateActiveSessionsMetric() {
	sessions, err := hs.ListSessions()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

// Append writes one turn to the session's history file
func (hs *HistoryStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"stockpilot.session",
		"session.append",
		attribute.String("session_id", sessionID),
		attribute.String("role", turn.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()
	defer func() {
		observability.RecordHistorySave(time.Since(start))
	}()

	if err := validateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if turn.Role == "" {
		return fmt.Errorf("turn role cannot be empty")
	}
	if turn.Content == "" {
		return fmt.Errorf("turn content cannot be empty")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	lock := hs.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	created := false
	if _, err := os.Stat(hs.path(sessionID)); os.IsNotExist(err) {
		created = true
	}

	file, err := os.OpenFile(hs.path(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write turn: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync history file: %w", err)
	}

	if created {
		hs.updateActiveSessionsMetric()
	}

	logger.Debug().
		Str("session_id", sessionID).
		Str("role", turn.Role).
		Msg("Turn appended")

	return nil
}

// Load returns the session's full history; a missing session loads empty
func (hs *HistoryStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"stockpilot.session",
		"session.load",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()
	defer func() {
		observability.RecordHistoryLoad(time.Since(start))
	}()

	if err := validateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	file, err := os.Open(hs.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Turn{}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			// A torn write leaves a partial last line; skip it rather
			// than failing the whole load.
			logger.Warn().
				Str("session_id", sessionID).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse history line, skipping")
			continue
		}
		if turn.Role == "" || turn.Content == "" {
			logger.Warn().
				Str("session_id", sessionID).
				Int("line", lineNum).
				Msg("Invalid history line, skipping")
			continue
		}

		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	return turns, nil
}

// LoadRecent returns at most limit of the newest turns, oldest first.
// A limit of 0 or less loads everything.
func (hs *HistoryStore) LoadRecent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	turns, err := hs.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || len(turns) <= limit {
		return turns, nil
	}
	return turns[len(turns)-limit:], nil
}

// Delete removes a session's history file
func (hs *HistoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	lock := hs.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(hs.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete history file: %w", err)
	}

	hs.locksMu.Lock()
	delete(hs.writeLocks, sessionID)
	hs.locksMu.Unlock()

	hs.updateActiveSessionsMetric()
	log.Info().Str("session_id", sessionID).Msg("Session history deleted")
	return nil
}

// ListSessions returns the IDs of all sessions with history on disk
func (hs *HistoryStore) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(hs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(entry.Name(), ".jsonl"))
	}
	return sessions, nil
}

// LastActivity returns the modification time of a session's history file
func (hs *HistoryStore) LastActivity(sessionID string) (time.Time, error) {
	if err := validateSessionID(sessionID); err != nil {
		return time.Time{}, err
	}

	info, err := os.Stat(hs.path(sessionID))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat history file: %w", err)
	}
	return info.ModTime(), nil
}

// Close releases the store's lock table
func (hs *HistoryStore) Close() error {
	hs.locksMu.Lock()
	hs.writeLocks = make(map[string]*sync.Mutex)
	hs.locksMu.Unlock()
	return nil
}
