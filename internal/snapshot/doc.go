// Package snapshot persists instrument snapshots and metadata in SQLite.
//
// Snapshots are stored as JSON, one row per capture, so the history of an
// instrument can be listed and the latest state served without touching
// hardware. Metadata is stored per instrument name and reloaded into a new
// instrument of the same name with Restore.
//
// The tables are created by the migrations package.
package snapshot
