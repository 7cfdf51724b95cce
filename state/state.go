package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound         = errors.New("key not found")
	ErrKeyExists        = errors.New("key already exists")
	ErrRevisionMismatch = errors.New("revision mismatch")
	ErrClosed           = errors.New("store closed")
	ErrInvalidKey       = errors.New("invalid key")
)

// KeyValue represents a key-value entry with metadata.
type KeyValue struct {
	// Key is the entry key.
	Key string

	// Value is the entry value.
	Value []byte

	// Revision changes on every write to the key and is the token
	// passed back to Update.
	Revision uint64

	// Created is when the key was first created.
	Created time.Time

	// Modified is when the key was last written.
	Modified time.Time
}

// StateStore is a shared key-value store with compare-and-swap writes.
// Every write returns the new revision of the key; Update only commits
// when the caller's revision is still current.
type StateStore interface {
	// Get retrieves the full entry for key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (*KeyValue, error)

	// Create writes value only if key does not exist yet.
	// Returns ErrKeyExists otherwise.
	Create(ctx context.Context, key string, value []byte) (uint64, error)

	// Update writes value only if the stored revision equals lastRevision.
	// Returns ErrRevisionMismatch if another write happened in between and
	// ErrNotFound if the key does not exist.
	Update(ctx context.Context, key string, value []byte, lastRevision uint64) (uint64, error)

	// Keys returns all keys matching a pattern.
	// Pattern supports * wildcard at the end (e.g., "orders.*").
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close shuts down the store and releases resources.
	Close() error
}

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " *>") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// MatchPattern checks if a key matches a pattern.
// Supports * wildcard at the end (e.g., "orders.*" matches "orders.abc").
func MatchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}
