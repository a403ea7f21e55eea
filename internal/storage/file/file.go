package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

type record struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Store keeps values in a single JSON file
// The file survives process restarts the way browser local storage survives page reloads
type Store struct {
	path  string
	mu    sync.Mutex
	clock clock.PassiveClock
}

func New(path string) *Store {
	return &Store{path: path, clock: clock.RealClock{}}
}

// DefaultPath is session.json in the user config directory
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("can't resolve config dir: %w", err)
	}
	return filepath.Join(dir, "nuam", "session.json"), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return "", err
	}

	r, ok := records[key]
	if !ok {
		return "", apperrors.ErrKeyNotFound
	}

	if r.ExpiresAt != nil && !s.clock.Now().Before(*r.ExpiresAt) {
		delete(records, key)
		if err := s.write(records); err != nil {
			return "", err
		}
		return "", apperrors.ErrKeyNotFound
	}

	return r.Value, nil
}

func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}

	r := record{Value: value}
	if ttl > 0 {
		expiresAt := s.clock.Now().Add(ttl)
		r.ExpiresAt = &expiresAt
	}
	records[key] = r

	return s.write(records)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}

	changed := false
	for _, key := range keys {
		if _, ok := records[key]; ok {
			delete(records, key)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return s.write(records)
}

func (s *Store) read() (map[string]record, error) {
	records := make(map[string]record)

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return records, nil
	case err != nil:
		return nil, fmt.Errorf("can't read store file: %w", err)
	case len(data) == 0:
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("store file is corrupted: %w", err)
	}
	return records, nil
}

// write replaces the file atomically: temp file in the same dir, then rename
func (s *Store) write(records map[string]record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("can't create store dir: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("can't create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("can't write temp file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}
