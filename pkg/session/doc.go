// Package session manages persistent conversation history using JSONL
// files, one file per session.
//
// Invariants:
// - Session IDs are validated and path-safe.
// - Writes for the same session are serialized.
// - Loads are bounded: the dispatcher only ever sees the most recent turns.
//
// An Archiver sweeps idle sessions into an archive subdirectory on a cron
// schedule so the active directory stays small.
package session
