package store

import (
	"time"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
)

// PartitionID identifies one logical region of the durable heap. An id is
// claimed once with a name and can never be claimed for another purpose.
type PartitionID uint8

// Partitions used by the provisioner
const (
	PartitionUnits     PartitionID = 0
	PartitionRuns      PartitionID = 1
	PartitionRelay     PartitionID = 2
	PartitionUnitImage PartitionID = 3
	PartitionTransfers PartitionID = 4
)

// Backend is a partitioned durable heap of ordered byte keys. Every mutation
// is durable once the call returns. Keys within a partition are ordered by
// bytewise comparison.
type Backend interface {
	// Claim binds a partition id to a name, failing if it is bound to another
	Claim(id PartitionID, name string) error

	Get(id PartitionID, key []byte) (value []byte, found bool, err error)
	// Insert stores value only if key is absent and reports whether it did
	Insert(id PartitionID, key, value []byte) (bool, error)
	// Replace overwrites value only if key is present and reports whether it did
	Replace(id PartitionID, key, value []byte) (bool, error)
	Put(id PartitionID, key, value []byte) error
	Delete(id PartitionID, key []byte) (bool, error)
	// Scan visits every entry in ascending key order until fn returns false
	Scan(id PartitionID, fn func(key, value []byte) bool) error
	LastKey(id PartitionID) (key []byte, found bool, err error)
	Clear(id PartitionID) error

	HealthCheck() error
	Close() error
}

// Config holds backend configuration
type Config struct {
	Type string `yaml:"type" env:"TYPE"` // "sqlite", "postgres" or "memory"
	DSN  string `yaml:"dsn" env:"DSN"`   // Connection string

	// PostgreSQL specific
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`

	// SQLite specific
	Path string `yaml:"path" env:"PATH"`
}

// NewBackend creates a backend based on configuration
func NewBackend(config Config) (Backend, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresBackend(config)
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "provisioner.db"
		}
		return NewSQLiteBackend(path)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, apierror.Unsupported().
			WithMethod("new_backend").
			WithMessagef("unsupported store type %q", config.Type)
	}
}

func claimConflict(id PartitionID, existing, requested string) error {
	return apierror.Internal().
		WithMethod("claim").
		WithInfo(requested).
		WithMessagef("partition %d already assigned to %q", id, existing)
}

func backendFailure(method string, id PartitionID, err error) error {
	return apierror.Internal().
		WithMethod(method).
		WithTag("backend").
		WithInfo(partitionLabel(id)).
		WithMessage(err.Error())
}
