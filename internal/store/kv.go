package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Get reads the JSON value stored under key into dest. The second return
// value reports whether the key was present.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := s.GetRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode value for %s: %w", key, err)
	}
	return true, nil
}

// GetRaw reads the raw JSON payload stored under key.
func (s *Store) GetRaw(ctx context.Context, key string) (string, bool, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, s.key(key)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read key %s: %w", key, err)
	}
	return raw, true, nil
}

// Set stores value under key as JSON, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %s: %w", key, err)
	}
	return s.SetRaw(ctx, key, string(raw))
}

// SetRaw stores a raw JSON payload under key.
func (s *Store) SetRaw(ctx context.Context, key, raw string) error {
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("invalid JSON payload for %s", key)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, s.key(key), raw, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write key %s: %w", key, err)
	}
	return nil
}

// Remove deletes the value stored under key. Removing an absent key is
// not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, s.key(key)); err != nil {
		return fmt.Errorf("remove key %s: %w", key, err)
	}
	return nil
}

// Keys lists all stored keys within the namespace, prefix stripped.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key FROM kv WHERE key LIKE ? ORDER BY key`, s.prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(k, s.prefix))
	}
	return keys, rows.Err()
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// SessionStore holds short-lived in-memory markers with per-entry expiry.
// Unlike the persistent key-value table its contents do not survive a
// process restart, which is exactly what the tick dedup tags require.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]time.Time

	now func() time.Time
}

// NewSessionStore constructs an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Has reports whether key is present and not expired. Expired entries are
// reaped on access.
func (s *SessionStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.entries, key)
		return false
	}
	return true
}

// Put stores key for the given lifetime.
func (s *SessionStore) Put(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.now().Add(ttl)
}

// Remove drops key immediately.
func (s *SessionStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}
