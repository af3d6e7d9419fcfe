package store

import (
	"github.com/psantana5/unit-provisioner/pkg/apierror"
)

var cellKey = []byte{0}

// Cell is a durable slot holding at most one value, alone in its partition
type Cell[V any] struct {
	backend   Backend
	partition PartitionID
	name      string
	codec     ValueCodec[V]
}

// NewCell claims partition for name
func NewCell[V any](backend Backend, partition PartitionID, name string, codec ValueCodec[V]) (*Cell[V], error) {
	if err := backend.Claim(partition, name); err != nil {
		return nil, err
	}
	return &Cell[V]{backend: backend, partition: partition, name: name, codec: codec}, nil
}

// Get returns the stored value or an Internal error if nothing was set yet
func (c *Cell[V]) Get() (V, error) {
	var zero V
	raw, found, err := c.backend.Get(c.partition, cellKey)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, apierror.Internal().
			WithMethod("get").
			WithTag("not initialized").
			WithInfo(c.name).
			WithMessagef("Failed to get %s, not initialized", c.name)
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		return zero, apierror.Deserialize().WithMethod("get").WithInfo(c.name).WithMessage(err.Error())
	}
	return v, nil
}

// Set replaces the slot and returns the stored value
func (c *Cell[V]) Set(value V) (V, error) {
	raw, err := c.codec.Encode(value)
	if err != nil {
		return value, apierror.Serialize().WithMethod("set").WithInfo(c.name).WithMessage(err.Error())
	}
	if err := c.backend.Put(c.partition, cellKey, raw); err != nil {
		return value, err
	}
	return value, nil
}
