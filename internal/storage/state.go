package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// State is the on-disk dedupe document:
//
//	{"seen": {"<key>": {...}}, "version": 1}
//
// Seen is declared before Version so the encoded keys come out sorted.
//
// Entries read from disk keep their original bytes until they are replaced
// with Set, so records of an unexpected shape or with extra fields survive a
// load/save cycle unchanged.
type State struct {
	Seen    map[string]Record `json:"seen"`
	Version int               `json:"version"`

	raw map[string]json.RawMessage
}

func NewState() *State {
	return &State{Version: StateVersion, Seen: map[string]Record{}}
}

// Set records rec under key, replacing any entry loaded from disk.
func (st *State) Set(key string, rec Record) {
	if st.Seen == nil {
		st.Seen = map[string]Record{}
	}
	st.Seen[key] = rec
	delete(st.raw, key)
}

// LoadState reads the state document at path.
//
// A missing file yields an empty state and existed=false. Invalid JSON is an
// error. A document that is not an object, or whose "seen" is not an object,
// loads as empty; single records of the wrong shape keep their key with a
// zero Record.
func LoadState(path string) (*State, bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state: %w", err)
	}
	st, err := parseState(b)
	if err != nil {
		return nil, true, fmt.Errorf("parse state %s: %w", path, err)
	}
	return st, true, nil
}

func parseState(b []byte) (*State, error) {
	var top any
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, err
	}
	st := NewState()
	obj, ok := top.(map[string]any)
	if !ok {
		return st, nil
	}
	if _, ok := obj["seen"].(map[string]any); !ok {
		return st, nil
	}

	// Re-decode just the seen map with typed records.
	var doc struct {
		Seen map[string]json.RawMessage `json:"seen"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return st, nil
	}
	st.raw = make(map[string]json.RawMessage, len(doc.Seen))
	for k, raw := range doc.Seen {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			rec = Record{}
		}
		st.Seen[k] = rec
		st.raw[k] = raw
	}
	return st, nil
}

// SaveState writes st to path atomically: the document goes to a temporary
// file in the same directory, is synced, and is renamed over path. Readers
// never observe a partial file.
func SaveState(path string, st *State) error {
	if st == nil {
		st = NewState()
	}
	out := stateDoc{Version: StateVersion, Seen: make(map[string]json.RawMessage, len(st.Seen))}
	for k, rec := range st.Seen {
		if raw, ok := st.raw[k]; ok {
			out.Seen[k] = raw
			continue
		}
		b, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		out.Seen[k] = b
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil { // Encode appends the trailing newline.
		return fmt.Errorf("encode state: %w", err)
	}

	return writeFileAtomic(path, buf.Bytes(), 0o644)
}

// stateDoc is the encoded form of State. The encoder re-indents the raw
// entries, so preserved and fresh records share one layout.
type stateDoc struct {
	Seen    map[string]json.RawMessage `json:"seen"`
	Version int                        `json:"version"`
}

func encodeRecord(rec Record) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
