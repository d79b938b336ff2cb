// Package storage persists the dedupe state: which comment identity keys have
// already been notified.
//
// Drivers:
//   - "file": a single JSON document written by atomic replace (default)
//   - "sqlite": a SQLite database with one row per key
//
// Both drivers keep new records in memory until Flush, so a run persists
// exactly once at its end.
package storage
