package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	logx "commentbot/pkg/logx"
)

// fileStore keeps the whole state document in memory and writes it back on
// Flush.
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	path    string
	state   *State
	existed bool
	dirty   bool
	closed  bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required for file driver")
	}
	st, existed, err := LoadState(path)
	if err != nil {
		return nil, err
	}
	log.Debug("dedupe state loaded",
		logx.String("path", path),
		logx.Bool("existed", existed),
		logx.Int("seen", len(st.Seen)),
	)
	return &fileStore{log: log, path: path, state: st, existed: existed}, nil
}

func (s *fileStore) Existed() bool { return s.existed }

func (s *fileStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.Seen[key]
	return ok
}

func (s *fileStore) Put(key string, rec Record) {
	if key == "" {
		return
	}
	s.mu.Lock()
	s.state.Set(key, rec)
	s.dirty = true
	s.mu.Unlock()
}

func (s *fileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Seen)
}

// Flush always writes, even without new records, so a first run can
// establish an empty baseline file.
func (s *fileStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := SaveState(s.path, s.state); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty {
		s.log.Debug("closing dedupe state with unflushed records", logx.String("path", s.path))
	}
	s.closed = true
	return nil
}

// Records returns a copy of the in-memory state, including unflushed records.
func (s *fileStore) Records(context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.state.Seen))
	for k, v := range s.state.Seen {
		out[k] = v
	}
	return out, nil
}
