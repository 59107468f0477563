// Package sink holds the feature-record outputs that need no network:
// JSON-lines session files, parquet archives, and a fan-out over several sinks.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"featureflow/internal/model"
)

const (
	sessionFilePrefix = "market_data_"
	latestFileName    = "latest.json"
)

// SessionFileName returns the JSON-lines file name of a session key.
func SessionFileName(sessionID string) string {
	return sessionFilePrefix + sessionID + ".json"
}

type openSession struct {
	id string
	f  *os.File
}

// File appends one JSON line per record to market_data_<session>.json and
// rewrites latest.json with the indented record. A non-empty symbol gets its
// own sub-directory. Writes are serialized.
type File struct {
	dir string

	mu   sync.Mutex
	open map[string]*openSession // symbol -> current session file
}

// NewFile creates the output directory if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file sink mkdir %s: %w", dir, err)
	}
	log.Printf("[file-sink] writing to %s", dir)
	return &File{dir: dir, open: make(map[string]*openSession)}, nil
}

// Dir returns the directory a symbol's files land in.
func (s *File) Dir(symbol string) string {
	if symbol == "" {
		return s.dir
	}
	return filepath.Join(s.dir, symbol)
}

// Write implements model.FeatureSink.
func (s *File) Write(_ context.Context, symbol string, rec model.FeatureRecord) error {
	line, err := rec.MarshalJSON()
	if err != nil {
		return fmt.Errorf("file sink marshal: %w", err)
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, line, "", "  "); err != nil {
		return fmt.Errorf("file sink indent: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.sessionFileLocked(symbol, rec.SessionID())
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("file sink append: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.Dir(symbol), latestFileName), indented.Bytes())
}

func (s *File) sessionFileLocked(symbol, sessionID string) (*os.File, error) {
	if cur, ok := s.open[symbol]; ok {
		if cur.id == sessionID {
			return cur.f, nil
		}
		if err := cur.f.Close(); err != nil {
			log.Printf("[file-sink] close %s/%s: %v", symbol, cur.id, err)
		}
		delete(s.open, symbol)
	}

	dir := s.Dir(symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file sink mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, SessionFileName(sessionID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file sink open %s: %w", path, err)
	}
	s.open[symbol] = &openSession{id: sessionID, f: f}
	return f, nil
}

// Close closes every open session file.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for symbol, cur := range s.open {
		if err := cur.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("file sink close %s: %w", symbol, err)
		}
		delete(s.open, symbol)
	}
	return firstErr
}

// writeFileAtomic replaces path so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file sink write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file sink rename %s: %w", path, err)
	}
	return nil
}
