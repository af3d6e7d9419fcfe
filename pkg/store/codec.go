package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// KeyCodec converts keys to bytes. The encoding must preserve ordering: for
// any a < b, EncodeKey(a) compares bytewise below EncodeKey(b).
type KeyCodec[K any] interface {
	EncodeKey(K) []byte
	DecodeKey([]byte) (K, error)
}

// ValueCodec serializes stored values
type ValueCodec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Uint64Key encodes integer keys big-endian
type Uint64Key struct{}

func (Uint64Key) EncodeKey(k uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, k)
	return b
}

func (Uint64Key) DecodeKey(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("uint64 key has %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// StringKey stores keys as their UTF-8 bytes
type StringKey struct{}

func (StringKey) EncodeKey(k string) []byte {
	return []byte(k)
}

func (StringKey) DecodeKey(b []byte) (string, error) {
	return string(b), nil
}

type jsonCodec[V any] struct{}

// JSON returns a codec storing values as JSON documents
func JSON[V any]() ValueCodec[V] {
	return jsonCodec[V]{}
}

func (jsonCodec[V]) Encode(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
