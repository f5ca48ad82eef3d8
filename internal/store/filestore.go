// Package store provides durable backends for account scheduling state.
//
// The file backend patches a JSON accounts document in place: fields owned by
// other subsystems (credentials, labels, provider metadata) pass through
// untouched, and only the scheduling fields are rewritten.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/accountsched/sdk/sched"
)

const emptyDocument = `{"accounts":[]}`

// FileStore keeps account records in a single JSON file. Writes are atomic:
// the full document goes to a temp file first and is renamed over the
// original, so a crash mid-write never truncates the file.
type FileStore struct {
	mu   sync.RWMutex
	path string
	raw  []byte
}

var _ sched.Store = (*FileStore)(nil)

// NewFileStore opens or creates the accounts file at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	s := &FileStore{path: path, raw: []byte(emptyDocument)}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil && len(raw) > 0:
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("file store: %s is not valid JSON", path)
		}
		s.raw = raw
	case err != nil && !os.IsNotExist(err):
		return nil, fmt.Errorf("file store: read failed: %w", err)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// AddAccount appends an account entry and returns its index.
func (s *FileStore) AddAccount(label string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("file store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index := int(gjson.GetBytes(s.raw, "accounts.#").Int())
	raw, err := sjson.SetBytes(s.raw, "accounts.-1", map[string]any{"label": label})
	if err != nil {
		return 0, fmt.Errorf("file store: append failed: %w", err)
	}
	s.raw = raw
	return index, s.saveLocked()
}

// SetEnabled flips an account's enabled flag.
func (s *FileStore) SetEnabled(index int, enabled bool) error {
	if s == nil {
		return fmt.Errorf("file store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := sjson.SetBytes(s.raw, fmt.Sprintf("accounts.%d.disabled", index), !enabled)
	if err != nil {
		return fmt.Errorf("file store: patch failed: %w", err)
	}
	s.raw = raw
	return s.saveLocked()
}

// List implements sched.Store.
func (s *FileStore) List(ctx context.Context) ([]sched.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("file store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []sched.Record
	gjson.GetBytes(s.raw, "accounts").ForEach(func(_, account gjson.Result) bool {
		rec := sched.Record{
			Index:               len(records),
			Enabled:             !account.Get("disabled").Bool(),
			RateLimitResetTimes: make(map[string]time.Time),
		}
		if ms := account.Get("last_used"); ms.Exists() {
			rec.LastUsed = time.UnixMilli(ms.Int())
		}
		account.Get("rate_limit_reset_times").ForEach(func(group, ms gjson.Result) bool {
			rec.RateLimitResetTimes[group.String()] = time.UnixMilli(ms.Int())
			return true
		})
		records = append(records, rec)
		return true
	})
	return records, nil
}

// SetLastUsed implements sched.Store. Timestamps persist as epoch
// milliseconds.
func (s *FileStore) SetLastUsed(ctx context.Context, index int, at time.Time) error {
	return s.patch(index, fmt.Sprintf("accounts.%d.last_used", index), at.UnixMilli())
}

// SetRateLimitReset implements sched.Store.
func (s *FileStore) SetRateLimitReset(ctx context.Context, index int, group string, until time.Time) error {
	path := fmt.Sprintf("accounts.%d.rate_limit_reset_times.%s", index, escapePath(group))
	return s.patch(index, path, until.UnixMilli())
}

func (s *FileStore) patch(index int, path string, value any) error {
	if s == nil {
		return fmt.Errorf("file store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Patching below a missing index would silently grow the array with
	// nulls.
	if !gjson.GetBytes(s.raw, fmt.Sprintf("accounts.%d", index)).Exists() {
		return fmt.Errorf("file store: unknown account %d", index)
	}
	raw, err := sjson.SetBytes(s.raw, path, value)
	if err != nil {
		return fmt.Errorf("file store: patch failed: %w", err)
	}
	s.raw = raw
	return s.saveLocked()
}

func (s *FileStore) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file store: create dir failed: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, s.raw, 0o600); err != nil {
		return fmt.Errorf("file store: write tmp failed: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("file store: rename failed: %w", err)
	}
	return nil
}

// escapePath guards group names against gjson path metacharacters.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '\\', '|', '#', '@':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
