package common

import (
	"bytes"
	"fmt"
)

// Comparator -- user-defined ordering for keys or duplicate data. Returns a
// negative number, zero or a positive number for less than, equal to and
// greater than respectively.
type Comparator func(k1, k2 []byte) int

// CompareKeys -- compares two keys with the given comparator, falling back to
// unsigned byte-wise comparison.
func CompareKeys(k1, k2 []byte, cmp Comparator) int {
	if cmp != nil {
		return cmp(k1, k2)
	}
	return bytes.Compare(k1, k2)
}

// Key - an immutable copy of a key's bytes, usable as a map key.
type Key string

// MakeKey -- copy the given bytes into a Key.
func MakeKey(b []byte) Key {
	return Key(b)
}

// Bytes -- the key's bytes. The returned slice is a fresh copy.
func (k Key) Bytes() []byte {
	return []byte(k)
}

// Compare -- compares the two keys.
func (k Key) Compare(k2 Key, cmp Comparator) int {
	return CompareKeys([]byte(k), []byte(k2), cmp)
}

// IsNil -- check for empty key.
func (k Key) IsNil() bool {
	return k == ""
}

// ToString -- printable representation.
func (k Key) ToString() string {
	return fmt.Sprintf("%q", string(k))
}

// CopyBytes -- returns a copy of b; nil stays nil.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
