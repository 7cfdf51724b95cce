package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements StateStore using NATS JetStream KV.
// Create and Update map directly onto the bucket's own compare-and-swap
// primitives, so the revision guard is enforced by the server.
type NATSStore struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	config NATSStoreConfig
	closed atomic.Bool
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// History is the number of revisions to keep per key.
	// Default: 5
	History int

	// Replicas is the number of bucket replicas in a cluster.
	// Default: 1
	Replicas int

	// MaxValueSize is the maximum value size in bytes.
	// Default: 256KB
	MaxValueSize int32

	// OpTimeout bounds each call when the caller's context has no deadline.
	// Default: 5s
	OpTimeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "orderclaim",
		History:      5,
		Replicas:     1,
		MaxValueSize: 256 * 1024,
		OpTimeout:    5 * time.Second,
	}
}

// NewNATSStore creates the bucket if needed and returns a store over it.
func NewNATSStore(ctx context.Context, cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	def := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = def.Replicas
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		Description:  "order claim records",
		History:      uint8(cfg.History),
		Replicas:     cfg.Replicas,
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{
		conn:   cfg.Conn,
		js:     js,
		kv:     kv,
		config: cfg,
	}, nil
}

// Get retrieves the full entry for key.
func (s *NATSStore) Get(ctx context.Context, key string) (*KeyValue, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get: %w", err)
	}

	return &KeyValue{
		Key:      entry.Key(),
		Value:    entry.Value(),
		Revision: entry.Revision(),
		Created:  entry.Created(),
		// JetStream stamps each revision; the first write time is not retained.
		Modified: entry.Created(),
	}, nil
}

// Create writes value only if key does not exist yet.
func (s *NATSStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rev, err := s.kv.Create(ctx, key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, ErrKeyExists
		}
		return 0, fmt.Errorf("kv create: %w", err)
	}
	return rev, nil
}

// Update writes value only if the stored revision equals lastRevision.
func (s *NATSStore) Update(ctx context.Context, key string, value []byte, lastRevision uint64) (uint64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rev, err := s.kv.Update(ctx, key, value, lastRevision)
	if err == nil {
		return rev, nil
	}
	if !isWrongLastSequence(err) {
		return 0, fmt.Errorf("kv update: %w", err)
	}

	// The server does not say whether the key moved on or never existed.
	if _, getErr := s.kv.Get(ctx, key); errors.Is(getErr, jetstream.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	return 0, ErrRevisionMismatch
}

// Keys returns all keys matching a pattern in lexical order.
func (s *NATSStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	lister, err := s.kv.ListKeys(ctx, jetstream.MetaOnly())
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}

	var keys []string
	for key := range lister.Keys() {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close marks the store closed. The NATS connection belongs to the caller.
func (s *NATSStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *NATSStore) check(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *NATSStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.OpTimeout)
}

// isWrongLastSequence reports the JetStream error returned when an
// expected-revision publish loses.
func isWrongLastSequence(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}
