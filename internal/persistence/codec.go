package persistence

import (
	"bytes"
	"encoding/gob"
)

// EncodeValue serializes a value with encoding/gob. A nil-ish zero value
// still encodes; stores treat empty blobs as absent.
func EncodeValue[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue deserializes gob-encoded data produced by EncodeValue.
// Empty input yields the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
