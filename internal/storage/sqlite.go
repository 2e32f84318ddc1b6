package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
)

// Values larger than this are snappy-compressed before hitting disk.
// Small values skip compression to avoid the header overhead.
const compressThreshold = 512

// Value encoding markers, first byte of every stored blob.
const (
	encodingRaw    byte = 0
	encodingSnappy byte = 1
)

// SQLiteStore is a persistent KeyValueStore backed by a single SQLite
// file. It models origin-scoped local storage: contents survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the value for key.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var blob []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&blob)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	value, err := decodeValue(blob)
	if err != nil {
		return "", false, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (s *SQLiteStore) Set(key, value string) error {
	blob := encodeValue(value)
	_, err := s.db.Exec(
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, blob, time.Now().UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "database or disk is full") {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Remove deletes the value for key.
func (s *SQLiteStore) Remove(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys starting with prefix.
func (s *SQLiteStore) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT key FROM kv WHERE key GLOB ?", escapeGlob(prefix)+"*",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeValue(value string) []byte {
	if len(value) < compressThreshold {
		return append([]byte{encodingRaw}, value...)
	}
	compressed := snappy.Encode(nil, []byte(value))
	return append([]byte{encodingSnappy}, compressed...)
}

func decodeValue(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	switch blob[0] {
	case encodingRaw:
		return string(blob[1:]), nil
	case encodingSnappy:
		decoded, err := snappy.Decode(nil, blob[1:])
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	default:
		return "", fmt.Errorf("unknown value encoding %d", blob[0])
	}
}

// escapeGlob escapes GLOB metacharacters in a key prefix.
func escapeGlob(s string) string {
	r := strings.NewReplacer("*", "[*]", "?", "[?]", "[", "[[]")
	return r.Replace(s)
}
