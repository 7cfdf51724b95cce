package records

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis client used by RedisBackend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key. Default "orderclaim".
	Prefix string
}

// NewRedisClient opens a client and verifies it with a ping.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, unavailable("redis", "ping", err)
	}
	return client, nil
}

// RedisBackend keeps one hash per record plus a set of ids per collection.
// Writes run in WATCH/MULTI transactions so a concurrent writer aborts the
// slower one.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend uses an existing client; the caller owns it.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "orderclaim"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) recordKey(collection, id string) string {
	return b.prefix + ":" + collection + ":" + id
}

func (b *RedisBackend) idsKey(collection string) string {
	return b.prefix + ":" + collection + ":_ids"
}

const (
	fieldBody          = "body"
	fieldVersion       = "version"
	fieldStatus        = "status"
	fieldProviderID    = "provider_id"
	fieldCustomerID    = "customer_id"
	fieldOrderID       = "order_id"
	fieldPaymentIntent = "payment_intent"
)

func docFields(d Doc, version uint64) map[string]any {
	return map[string]any{
		fieldBody:          d.Body,
		fieldVersion:       version,
		fieldStatus:        d.Index.Status,
		fieldProviderID:    d.Index.ProviderID,
		fieldCustomerID:    d.Index.CustomerID,
		fieldOrderID:       d.Index.OrderID,
		fieldPaymentIntent: d.Index.PaymentIntent,
	}
}

func docFromHash(id string, h map[string]string) (Doc, error) {
	version, err := strconv.ParseUint(h[fieldVersion], 10, 64)
	if err != nil {
		return Doc{}, err
	}
	return Doc{
		ID: id,
		Index: Index{
			Status:        h[fieldStatus],
			ProviderID:    h[fieldProviderID],
			CustomerID:    h[fieldCustomerID],
			OrderID:       h[fieldOrderID],
			PaymentIntent: h[fieldPaymentIntent],
		},
		Body:    []byte(h[fieldBody]),
		Version: version,
	}, nil
}

func (b *RedisBackend) Get(ctx context.Context, collection, id string) (Doc, error) {
	h, err := b.client.HGetAll(ctx, b.recordKey(collection, id)).Result()
	if err != nil {
		return Doc{}, unavailable(b.Name(), "get", err)
	}
	if len(h) == 0 {
		return Doc{}, ErrNotFound
	}
	d, err := docFromHash(id, h)
	if err != nil {
		return Doc{}, unavailable(b.Name(), "get", err)
	}
	return d, nil
}

func (b *RedisBackend) List(ctx context.Context, collection string, f Filter) ([]Doc, error) {
	ids, err := b.client.SMembers(ctx, b.idsKey(collection)).Result()
	if err != nil {
		return nil, unavailable(b.Name(), "list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, b.recordKey(collection, id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(b.Name(), "list", err)
	}

	var docs []Doc
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		d, err := docFromHash(ids[i], h)
		if err != nil {
			return nil, unavailable(b.Name(), "list", err)
		}
		if f.Match(d.Index) {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func (b *RedisBackend) Insert(ctx context.Context, collection string, d Doc) (uint64, error) {
	key := b.recordKey(collection, d.ID)
	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, docFields(d, 1))
			p.SAdd(ctx, b.idsKey(collection), d.ID)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return 1, nil
	case stderrors.Is(err, ErrExists), stderrors.Is(err, redis.TxFailedErr):
		return 0, ErrExists
	}
	return 0, unavailable(b.Name(), "insert", err)
}

func (b *RedisBackend) CompareAndSwap(ctx context.Context, collection string, d Doc, expected uint64) (uint64, error) {
	key := b.recordKey(collection, d.ID)
	next := expected + 1
	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, fieldVersion).Result()
		if stderrors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		if current != expected {
			return ErrVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, docFields(d, next))
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return next, nil
	case stderrors.Is(err, ErrNotFound):
		return 0, ErrNotFound
	case stderrors.Is(err, ErrVersionMismatch), stderrors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionMismatch
	}
	return 0, unavailable(b.Name(), "update", err)
}
