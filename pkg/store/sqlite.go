package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores every partition in one SQLite database file
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	// - _journal_mode=WAL: readers do not block the writer
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _synchronous=FULL: a returned write has reached disk
	// - _txlock=immediate: acquire the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=FULL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS partitions (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		partition_id INTEGER NOT NULL,
		key BLOB NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (partition_id, key)
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Claim binds a partition id to name
func (b *SQLiteBackend) Claim(id PartitionID, name string) error {
	if _, err := b.db.Exec(`INSERT INTO partitions (id, name) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`, id, name); err != nil {
		return backendFailure("claim", id, err)
	}
	var existing string
	if err := b.db.QueryRow(`SELECT name FROM partitions WHERE id = ?`, id).Scan(&existing); err != nil {
		return backendFailure("claim", id, err)
	}
	if existing != name {
		return claimConflict(id, existing, name)
	}
	return nil
}

// Get returns the value stored under key
func (b *SQLiteBackend) Get(id PartitionID, key []byte) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRow(`SELECT value FROM entries WHERE partition_id = ? AND key = ?`, id, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendFailure("get", id, err)
	}
	return value, true, nil
}

// Insert stores value if key is absent
func (b *SQLiteBackend) Insert(id PartitionID, key, value []byte) (bool, error) {
	res, err := b.db.Exec(`
		INSERT INTO entries (partition_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (partition_id, key) DO NOTHING
	`, id, key, value)
	if err != nil {
		return false, backendFailure("insert", id, err)
	}
	return affected(res, "insert", id)
}

// Replace overwrites value if key is present
func (b *SQLiteBackend) Replace(id PartitionID, key, value []byte) (bool, error) {
	res, err := b.db.Exec(`UPDATE entries SET value = ? WHERE partition_id = ? AND key = ?`, value, id, key)
	if err != nil {
		return false, backendFailure("replace", id, err)
	}
	return affected(res, "replace", id)
}

// Put inserts or overwrites
func (b *SQLiteBackend) Put(id PartitionID, key, value []byte) error {
	_, err := b.db.Exec(`
		INSERT INTO entries (partition_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (partition_id, key) DO UPDATE SET value = excluded.value
	`, id, key, value)
	if err != nil {
		return backendFailure("put", id, err)
	}
	return nil
}

// Delete removes key and reports whether it existed
func (b *SQLiteBackend) Delete(id PartitionID, key []byte) (bool, error) {
	res, err := b.db.Exec(`DELETE FROM entries WHERE partition_id = ? AND key = ?`, id, key)
	if err != nil {
		return false, backendFailure("delete", id, err)
	}
	return affected(res, "delete", id)
}

// Scan reads the partition in key order. Rows are buffered and the cursor is
// closed before fn runs; the pool holds a single connection.
func (b *SQLiteBackend) Scan(id PartitionID, fn func(key, value []byte) bool) error {
	rows, err := b.db.Query(`SELECT key, value FROM entries WHERE partition_id = ? ORDER BY key`, id)
	if err != nil {
		return backendFailure("scan", id, err)
	}
	entries, err := collectRows(rows)
	if err != nil {
		return backendFailure("scan", id, err)
	}
	for _, e := range entries {
		if !fn(e.key, e.value) {
			break
		}
	}
	return nil
}

// LastKey returns the greatest key in the partition
func (b *SQLiteBackend) LastKey(id PartitionID) ([]byte, bool, error) {
	var key []byte
	err := b.db.QueryRow(`SELECT key FROM entries WHERE partition_id = ? ORDER BY key DESC LIMIT 1`, id).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendFailure("last_key", id, err)
	}
	return key, true, nil
}

// Clear deletes every entry of the partition
func (b *SQLiteBackend) Clear(id PartitionID) error {
	if _, err := b.db.Exec(`DELETE FROM entries WHERE partition_id = ?`, id); err != nil {
		return backendFailure("clear", id, err)
	}
	return nil
}

// HealthCheck pings the database
func (b *SQLiteBackend) HealthCheck() error {
	return b.db.Ping()
}

// Close closes the database
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type rawEntry struct {
	key   []byte
	value []byte
}

func collectRows(rows *sql.Rows) ([]rawEntry, error) {
	defer rows.Close()

	var entries []rawEntry
	for rows.Next() {
		var e rawEntry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func affected(res sql.Result, method string, id PartitionID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, backendFailure(method, id, err)
	}
	return n > 0, nil
}
