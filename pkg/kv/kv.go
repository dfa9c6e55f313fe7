// Package kv defines a small key-value store interface with hierarchical
// path keys, plus a BadgerDB-backed implementation for production use and an
// in-memory one for tests.
//
// Keys are slices of string segments (e.g. ["conv", id, "msg", seq]) joined
// with the ASCII unit separator (0x1F) for storage, so segments may contain
// any printable character including ':'.
package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// sep joins key segments in the encoded form. Segments must not contain it.
const sep byte = 0x1F

// Key is a hierarchical path represented as string segments.
type Key []string

// String renders the key with ':' between segments, for logs only.
func (k Key) String() string {
	return strings.Join(k, ":")
}

func (k Key) encode() []byte {
	n := 0
	for i, s := range k {
		if i > 0 {
			n++
		}
		n += len(s)
	}
	buf := make([]byte, 0, n)
	for i, s := range k {
		if i > 0 {
			buf = append(buf, sep)
		}
		buf = append(buf, s...)
	}
	return buf
}

func decodeKey(b []byte) Key {
	parts := bytes.Split(b, []byte{sep})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}

// prefixBytes encodes a prefix key for range scans. A trailing separator is
// appended so that prefix ["a","b"] does not match key ["a","bc"].
func prefixBytes(prefix Key) []byte {
	p := prefix.encode()
	if len(p) > 0 {
		p = append(p, sep)
	}
	return p
}

// Entry is a key-value pair yielded by List and consumed by BatchDelete.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path-based keys. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error

	// List iterates entries under the given prefix in lexicographic order
	// of the encoded key.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchDelete removes multiple keys atomically.
	BatchDelete(ctx context.Context, keys []Key) error

	// Close releases store resources.
	Close() error
}
