package keys

import (
	"bytes"
)

// Key is a single key
type Key []byte

// Compare compares two keys
// -1 means a < b
// 1 means a > b
// 0 means a = b
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}

// InRange returns true if key falls inside r
func InRange(key Key, r Range) bool {
	if r.Min != nil && Compare(key, r.Min) < 0 {
		return false
	}

	if r.Max != nil && Compare(key, r.Max) >= 0 {
		return false
	}

	return true
}
