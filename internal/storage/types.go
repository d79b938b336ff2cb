package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// StateVersion is the only on-disk format version written.
const StateVersion = 1

// SavedAtLayout is the UTC layout of Record.SavedAt.
const SavedAtLayout = "2006-01-02T15:04:05Z"

// Config configures storage.
//
// Driver values:
//   - "file": JSON state document (atomic replace)
//   - "sqlite": SQLite database file
//
// If Driver is empty, "file" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the metadata kept for a notified comment.
// Nil fields serialize as JSON null. Fields are declared in key order so
// the encoded document has sorted keys.
type Record struct {
	AssignmentID *int64  `json:"assignment_id"`
	AuthorID     *int64  `json:"author_id"`
	CreatedAt    *string `json:"created_at"`
	SavedAt      string  `json:"saved_at"`
}

// Store is the dedupe state used by the notifier.
type Store interface {
	// Existed reports whether state was present before this process opened it.
	Existed() bool
	Has(key string) bool
	Put(key string, rec Record)
	Len() int
	// Flush persists everything recorded so far.
	Flush(ctx context.Context) error
	Close() error
}

// Lister is implemented by stores that can enumerate persisted records.
type Lister interface {
	Records(ctx context.Context) (map[string]Record, error)
}
