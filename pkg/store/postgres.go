package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresBackend stores every partition in one PostgreSQL table
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend connects using config.DSN
func NewPostgresBackend(config Config) (*PostgresBackend, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &PostgresBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *PostgresBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS partitions (
		id SMALLINT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		partition_id SMALLINT NOT NULL REFERENCES partitions(id),
		key BYTEA NOT NULL,
		value BYTEA NOT NULL,
		PRIMARY KEY (partition_id, key)
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Claim binds a partition id to name
func (b *PostgresBackend) Claim(id PartitionID, name string) error {
	if _, err := b.db.Exec(`INSERT INTO partitions (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, int(id), name); err != nil {
		return backendFailure("claim", id, err)
	}
	var existing string
	if err := b.db.QueryRow(`SELECT name FROM partitions WHERE id = $1`, int(id)).Scan(&existing); err != nil {
		return backendFailure("claim", id, err)
	}
	if existing != name {
		return claimConflict(id, existing, name)
	}
	return nil
}

// Get returns the value stored under key
func (b *PostgresBackend) Get(id PartitionID, key []byte) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRow(`SELECT value FROM entries WHERE partition_id = $1 AND key = $2`, int(id), key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendFailure("get", id, err)
	}
	return value, true, nil
}

// Insert stores value if key is absent
func (b *PostgresBackend) Insert(id PartitionID, key, value []byte) (bool, error) {
	res, err := b.db.Exec(`
		INSERT INTO entries (partition_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (partition_id, key) DO NOTHING
	`, int(id), key, value)
	if err != nil {
		return false, backendFailure("insert", id, err)
	}
	return affected(res, "insert", id)
}

// Replace overwrites value if key is present
func (b *PostgresBackend) Replace(id PartitionID, key, value []byte) (bool, error) {
	res, err := b.db.Exec(`UPDATE entries SET value = $1 WHERE partition_id = $2 AND key = $3`, value, int(id), key)
	if err != nil {
		return false, backendFailure("replace", id, err)
	}
	return affected(res, "replace", id)
}

// Put inserts or overwrites
func (b *PostgresBackend) Put(id PartitionID, key, value []byte) error {
	_, err := b.db.Exec(`
		INSERT INTO entries (partition_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (partition_id, key) DO UPDATE SET value = EXCLUDED.value
	`, int(id), key, value)
	if err != nil {
		return backendFailure("put", id, err)
	}
	return nil
}

// Delete removes key and reports whether it existed
func (b *PostgresBackend) Delete(id PartitionID, key []byte) (bool, error) {
	res, err := b.db.Exec(`DELETE FROM entries WHERE partition_id = $1 AND key = $2`, int(id), key)
	if err != nil {
		return false, backendFailure("delete", id, err)
	}
	return affected(res, "delete", id)
}

// Scan reads the partition in key order (bytea compares bytewise)
func (b *PostgresBackend) Scan(id PartitionID, fn func(key, value []byte) bool) error {
	rows, err := b.db.Query(`SELECT key, value FROM entries WHERE partition_id = $1 ORDER BY key`, int(id))
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
func (b *PostgresBackend) LastKey(id PartitionID) ([]byte, bool, error) {
	var key []byte
	err := b.db.QueryRow(`SELECT key FROM entries WHERE partition_id = $1 ORDER BY key DESC LIMIT 1`, int(id)).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendFailure("last_key", id, err)
	}
	return key, true, nil
}

// Clear deletes every entry of the partition
func (b *PostgresBackend) Clear(id PartitionID) error {
	if _, err := b.db.Exec(`DELETE FROM entries WHERE partition_id = $1`, int(id)); err != nil {
		return backendFailure("clear", id, err)
	}
	return nil
}

// HealthCheck pings the database
func (b *PostgresBackend) HealthCheck() error {
	return b.db.Ping()
}

// Close closes the connection pool
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
