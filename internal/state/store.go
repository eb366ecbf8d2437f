package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const DefaultMaxValueBytes = 64 << 10 // 64 KiB

// Store is a key/value settings table backed by the conf table.
type Store struct {
	db           *sql.DB
	maxValueByte int
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		maxValueByte: DefaultMaxValueBytes,
	}
}

// Get returns the stored value for key. ok is false if nothing is stored.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	if key == "" {
		return "", false, fmt.Errorf("setting key is empty")
	}

	err = s.db.QueryRowContext(ctx, "SELECT value FROM conf WHERE key = ?;", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("setting key is empty")
	}
	if len(value) > s.maxValueByte {
		return fmt.Errorf("setting %q exceeds max size (%d bytes)", key, s.maxValueByte)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conf(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, key, value, now)
	if err != nil {
		return fmt.Errorf("upsert setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conf WHERE key = ?;", key); err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}

// All returns every stored setting.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM conf ORDER BY key;")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return out, nil
}

// GetBool reads a boolean setting. A stored value that does not parse is an
// error.
func (s *Store) GetBool(ctx context.Context, key string) (value bool, ok bool, err error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, ok, err
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("setting %q is not a boolean: %q", key, raw)
	}
	return b, true, nil
}

func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	return s.Set(ctx, key, strconv.FormatBool(value))
}
