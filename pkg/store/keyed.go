package store

import (
	"github.com/psantana5/unit-provisioner/pkg/apierror"
)

// Entry is one key/value pair of a keyed store
type Entry[K, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// KeyedStore is an ordered, durable map from K to V living in one partition.
// Every method that returns without error has made its mutation durable.
type KeyedStore[K, V any] interface {
	Name() string

	Get(key K) (V, error)
	// GetMany returns the entries found among keys, skipping absent ones
	GetMany(keys []K) ([]Entry[K, V], error)
	GetAll() ([]Entry[K, V], error)
	// Find returns the first entry in key order matching pred
	Find(pred func(K, V) bool) (Entry[K, V], error)
	Filter(pred func(K, V) bool) ([]Entry[K, V], error)
	Contains(key K) (bool, error)

	InsertByKey(key K, value V) (V, error)
	Update(key K, value V) (V, error)
	Upsert(key K, value V) (V, error)
	Remove(key K) (V, error)
	// RemoveMany deletes the present keys and ignores the rest
	RemoveMany(keys []K) error
	Clear() error
}

// Map implements KeyedStore over a Backend partition
type Map[K, V any] struct {
	backend   Backend
	partition PartitionID
	name      string
	keys      KeyCodec[K]
	values    ValueCodec[V]
}

// NewMap claims partition for name and returns a map over it
func NewMap[K, V any](backend Backend, partition PartitionID, name string, keys KeyCodec[K], values ValueCodec[V]) (*Map[K, V], error) {
	if err := backend.Claim(partition, name); err != nil {
		return nil, err
	}
	return &Map[K, V]{
		backend:   backend,
		partition: partition,
		name:      name,
		keys:      keys,
		values:    values,
	}, nil
}

// Name returns the name the partition was claimed with
func (m *Map[K, V]) Name() string {
	return m.name
}

func (m *Map[K, V]) Get(key K) (V, error) {
	var zero V
	raw, found, err := m.backend.Get(m.partition, m.keys.EncodeKey(key))
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, m.notFound("get")
	}
	return m.decode("get", raw)
}

func (m *Map[K, V]) GetMany(keys []K) ([]Entry[K, V], error) {
	entries := make([]Entry[K, V], 0, len(keys))
	for _, key := range keys {
		raw, found, err := m.backend.Get(m.partition, m.keys.EncodeKey(key))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		v, err := m.decode("get_many", raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry[K, V]{Key: key, Value: v})
	}
	return entries, nil
}

func (m *Map[K, V]) GetAll() ([]Entry[K, V], error) {
	return m.Filter(func(K, V) bool { return true })
}

func (m *Map[K, V]) Find(pred func(K, V) bool) (Entry[K, V], error) {
	var (
		result  Entry[K, V]
		found   bool
		scanErr error
	)
	err := m.backend.Scan(m.partition, func(rawKey, rawValue []byte) bool {
		e, err := m.entry("find", rawKey, rawValue)
		if err != nil {
			scanErr = err
			return false
		}
		if pred(e.Key, e.Value) {
			result, found = e, true
			return false
		}
		return true
	})
	if err != nil {
		return result, err
	}
	if scanErr != nil {
		return result, scanErr
	}
	if !found {
		return result, m.notFound("find").WithMessage("No matching entry")
	}
	return result, nil
}

func (m *Map[K, V]) Filter(pred func(K, V) bool) ([]Entry[K, V], error) {
	entries := []Entry[K, V]{}
	var scanErr error
	err := m.backend.Scan(m.partition, func(rawKey, rawValue []byte) bool {
		e, err := m.entry("filter", rawKey, rawValue)
		if err != nil {
			scanErr = err
			return false
		}
		if pred(e.Key, e.Value) {
			entries = append(entries, e)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return entries, nil
}

func (m *Map[K, V]) Contains(key K) (bool, error) {
	_, found, err := m.backend.Get(m.partition, m.keys.EncodeKey(key))
	return found, err
}

// InsertByKey stores value under key, failing with Duplicate if key exists.
// The check and the write are a single backend operation.
func (m *Map[K, V]) InsertByKey(key K, value V) (V, error) {
	raw, err := m.encode("insert_by_key", value)
	if err != nil {
		return value, err
	}
	inserted, err := m.backend.Insert(m.partition, m.keys.EncodeKey(key), raw)
	if err != nil {
		return value, err
	}
	if !inserted {
		return value, m.duplicate("insert_by_key")
	}
	return value, nil
}

// Update overwrites an existing key, failing with NotFound if it is absent
func (m *Map[K, V]) Update(key K, value V) (V, error) {
	raw, err := m.encode("update", value)
	if err != nil {
		return value, err
	}
	replaced, err := m.backend.Replace(m.partition, m.keys.EncodeKey(key), raw)
	if err != nil {
		return value, err
	}
	if !replaced {
		return value, m.notFound("update")
	}
	return value, nil
}

func (m *Map[K, V]) Upsert(key K, value V) (V, error) {
	raw, err := m.encode("upsert", value)
	if err != nil {
		return value, err
	}
	if err := m.backend.Put(m.partition, m.keys.EncodeKey(key), raw); err != nil {
		return value, err
	}
	return value, nil
}

// Remove deletes key and returns the value it held
func (m *Map[K, V]) Remove(key K) (V, error) {
	var zero V
	encoded := m.keys.EncodeKey(key)
	raw, found, err := m.backend.Get(m.partition, encoded)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, m.notFound("remove")
	}
	value, err := m.decode("remove", raw)
	if err != nil {
		return zero, err
	}
	deleted, err := m.backend.Delete(m.partition, encoded)
	if err != nil {
		return zero, err
	}
	if !deleted {
		return zero, m.notFound("remove")
	}
	return value, nil
}

func (m *Map[K, V]) RemoveMany(keys []K) error {
	for _, key := range keys {
		if _, err := m.backend.Delete(m.partition, m.keys.EncodeKey(key)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Map[K, V]) Clear() error {
	return m.backend.Clear(m.partition)
}

// InsertGenerated stores value under the next integer key: one past the
// largest existing key, or 1 for an empty map.
func InsertGenerated[V any](m *Map[uint64, V], value V) (uint64, V, error) {
	raw, found, err := m.backend.LastKey(m.partition)
	if err != nil {
		return 0, value, err
	}
	next := uint64(1)
	if found {
		last, err := m.keys.DecodeKey(raw)
		if err != nil {
			return 0, value, apierror.Deserialize().
				WithMethod("insert_generated").
				WithInfo(m.name).
				WithMessage(err.Error())
		}
		next = last + 1
	}
	if _, err := m.InsertByKey(next, value); err != nil {
		return 0, value, apierror.From(err).WithMethod("insert_generated")
	}
	return next, value, nil
}

func (m *Map[K, V]) entry(method string, rawKey, rawValue []byte) (Entry[K, V], error) {
	key, err := m.keys.DecodeKey(rawKey)
	if err != nil {
		return Entry[K, V]{}, apierror.Deserialize().
			WithMethod(method).
			WithInfo(m.name).
			WithMessagef("key: %v", err)
	}
	value, err := m.decode(method, rawValue)
	if err != nil {
		return Entry[K, V]{}, err
	}
	return Entry[K, V]{Key: key, Value: value}, nil
}

func (m *Map[K, V]) encode(method string, value V) ([]byte, error) {
	raw, err := m.values.Encode(value)
	if err != nil {
		return nil, apierror.Serialize().
			WithMethod(method).
			WithInfo(m.name).
			WithMessage(err.Error())
	}
	return raw, nil
}

func (m *Map[K, V]) decode(method string, raw []byte) (V, error) {
	value, err := m.values.Decode(raw)
	if err != nil {
		return value, apierror.Deserialize().
			WithMethod(method).
			WithInfo(m.name).
			WithMessage(err.Error())
	}
	return value, nil
}

func (m *Map[K, V]) notFound(method string) *apierror.Error {
	return apierror.NotFound().
		WithMethod(method).
		WithInfo(m.name).
		WithMessage("Key does not exist")
}

func (m *Map[K, V]) duplicate(method string) *apierror.Error {
	return apierror.Duplicate().
		WithMethod(method).
		WithInfo(m.name).
		WithMessage("Key already exists")
}
