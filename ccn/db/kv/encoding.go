package kv

import (
	"bytes"
	"encoding/binary"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// compositeKey joins key parts with the zero separator byte.
func compositeKey(parts ...[]byte) []byte {
	return bytes.Join(parts, []byte{sep})
}

func uint64Key(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// timeKey encodes a float seconds timestamp as big-endian milliseconds so
// that lexicographic key order matches time order.
func timeKey(ts float64) []byte {
	return uint64Key(uint64(ts * 1000))
}
