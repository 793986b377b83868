// Package codec serializes cached values. All backends store opaque bytes;
// encoding and decoding happen at the protocol layer so that a value written
// through one backend kind can be read back through another.
package codec

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value for storage. An error here means the value itself
// cannot be represented (channels, funcs) and is surfaced to the caller.
func Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal decodes stored bytes into out. Callers treat a decode failure as
// a cache miss, not an error condition.
func Unmarshal(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}

// envelope packs a value together with its write timestamp into a single
// blob for backends whose store enforces expiry server-side (Redis) and
// therefore has nowhere else to keep created_at.
type envelope struct {
	CreatedAt int64  `msgpack:"c"`
	Value     []byte `msgpack:"v"`
}

// PackEnvelope combines already-encoded value bytes with a creation
// timestamp into one blob.
func PackEnvelope(value []byte, createdAt time.Time) ([]byte, error) {
	return msgpack.Marshal(envelope{
		CreatedAt: createdAt.UnixNano(),
		Value:     value,
	})
}

// UnpackEnvelope splits a blob produced by PackEnvelope. A decode failure
// means the blob is corrupt; callers treat it as a miss.
func UnpackEnvelope(data []byte) ([]byte, time.Time, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, err
	}
	return env.Value, time.Unix(0, env.CreatedAt), nil
}
