package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore keeps partitions in a sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

type sqlitePartition struct {
	db   *sql.DB
	name string
}

// NewSQLiteStore opens (or creates) the store in the given db file.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStore(filename string) (SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStore{}, fmt.Errorf("open %s: %w", filename, err)
	}
	// a single connection serializes writers and keeps a shared memory db alive
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			partition TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (partition, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStore{}, fmt.Errorf("init schema: %w", err)
		}
	}
	return SQLiteStore{db: db}, nil
}

func (s SQLiteStore) Open(name string) (Partition, error) {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)",
		name, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", name, err)
	}
	return sqlitePartition{db: s.db, name: name}, nil
}

func (s SQLiteStore) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM partitions ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStore) Delete(name string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE partition = ?", name); err != nil {
		return false, err
	}
	result, err := tx.Exec("DELETE FROM partitions WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s SQLiteStore) Close() error {
	return s.db.Close()
}

func (p sqlitePartition) Name() string {
	return p.name
}

func (p sqlitePartition) Get(key string) (Entry, bool, error) {
	entry := Entry{Key: key}
	var storedAt int64
	err := p.db.QueryRow(
		"SELECT stored_at, bytes FROM entries WHERE partition = ? AND key = ?",
		p.name, key,
	).Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry.StoredAt = time.Unix(0, storedAt)
	return entry, true, nil
}

func (p sqlitePartition) Put(entry Entry) error {
	// only insert while the partition row exists, deleted partitions stay deleted
	result, err := p.db.Exec(`INSERT OR REPLACE INTO entries
		(partition, key, stored_at, bytes)
		SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM partitions WHERE name = ?)`,
		p.name, entry.Key, entry.StoredAt.UnixNano(), entry.Bytes, p.name,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPartitionDeleted
	}
	return nil
}

func (p sqlitePartition) Keys(cb func(string)) error {
	rows, err := p.db.Query("SELECT key FROM entries WHERE partition = ? ORDER BY key", p.name)
	if err != nil {
		return err
	}
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	// callbacks run after the rows are released, they may query the store
	for _, key := range keys {
		cb(key)
	}
	return nil
}
