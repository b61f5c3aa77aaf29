package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultIdleTimeout is how long a session may sit untouched before a
// sweep moves it to the archive.
const DefaultIdleTimeout = 30 * time.Minute

// DefaultSweepSchedule runs the idle sweep every five minutes
const DefaultSweepSchedule = "*/5 * * * *"

const archiveDirName = "archive"

// Archiver moves idle session histories into an archive subdirectory on a
// cron schedule.
type Archiver struct {
	store       *HistoryStore
	idleTimeout time.Duration
	schedule    string
	cron        *cron.Cron
	entryID     cron.EntryID
}

// ArchiverConfig configures the sweep
type ArchiverConfig struct {
	IdleTimeout   time.Duration
	SweepSchedule string
}

// NewArchiver creates an archiver for a history store
func NewArchiver(store *HistoryStore, cfg ArchiverConfig) *Archiver {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}

	return &Archiver{
		store:       store,
		idleTimeout: cfg.IdleTimeout,
		schedule:    cfg.SweepSchedule,
		cron:        cron.New(),
	}
}

// Start schedules the sweep and begins running it
func (a *Archiver) Start() error {
	entryID, err := a.cron.AddFunc(a.schedule, func() {
		if _, err := a.SweepIdle(); err != nil {
			log.Error().Err(err).Msg("Idle session sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", a.schedule, err)
	}
	a.entryID = entryID
	a.cron.Start()

	log.Info().
		Str("schedule", a.schedule).
		Dur("idle_timeout", a.idleTimeout).
		Msg("Session archiver started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (a *Archiver) Stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Session archiver stopped")
}

// SweepIdle archives every session idle past the timeout and returns how
// many were moved.
func (a *Archiver) SweepIdle() (int, error) {
	sessions, err := a.store.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	archived := 0
	for _, sessionID := range sessions {
		lastActivity, err := a.store.LastActivity(sessionID)
		if err != nil {
			log.Warn().Str("session_id", sessionID).Err(err).Msg("Failed to stat session")
			continue
		}

		if now.Sub(lastActivity) < a.idleTimeout {
			continue
		}

		if err := a.Archive(sessionID); err != nil {
			log.Error().Str("session_id", sessionID).Err(err).Msg("Failed to archive session")
			continue
		}
		archived++
	}

	if archived > 0 {
		log.Info().Int("archived", archived).Msg("Archived idle sessions")
	}
	return archived, nil
}

// Archive moves one session's history into the archive directory
func (a *Archiver) Archive(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	archiveDir := filepath.Join(a.store.dir, archiveDirName)
	if err := os.MkdirAll(archiveDir, 0700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	lock := a.store.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	src := a.store.path(sessionID)
	dst := filepath.Join(archiveDir, sessionID+".jsonl")
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move session to archive: %w", err)
	}

	a.store.locksMu.Lock()
	delete(a.store.writeLocks, sessionID)
	a.store.locksMu.Unlock()
	a.store.updateActiveSessionsMetric()

	log.Info().Str("session_id", sessionID).Msg("Session archived")
	return nil
}

// ListArchived returns the IDs of archived sessions
func (a *Archiver) ListArchived() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.store.dir, archiveDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archived []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		archived = append(archived, entry.Name()[:len(entry.Name())-len(".jsonl")])
	}
	return archived, nil
}
