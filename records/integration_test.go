//go:build integration

package records

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcPostgres.Run(ctx, "postgres:15-alpine",
		tcPostgres.WithDatabase("orderclaim"),
		tcPostgres.WithUsername("orderclaim"),
		tcPostgres.WithPassword("orderclaim"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcRedis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("skipping: redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	connStr, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, RedisConfig{Addr: strings.TrimPrefix(connStr, "redis://")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPostgresBackend(t *testing.T) {
	pool := startPostgres(t)
	b := NewPostgresBackend(pool)

	// Each subtest gets its own collection so they share one table.
	var n atomic.Int64
	backendContract(t, func() Backend {
		return &prefixedBackend{Backend: b, prefix: fmt.Sprintf("t%d_", n.Add(1))}
	})
}

func TestRedisBackend(t *testing.T) {
	client := startRedis(t)

	var n atomic.Int64
	backendContract(t, func() Backend {
		return NewRedisBackend(client, fmt.Sprintf("test%d", n.Add(1)))
	})
}

// prefixedBackend isolates subtests that share one postgres table.
type prefixedBackend struct {
	Backend
	prefix string
}

func (p *prefixedBackend) Get(ctx context.Context, collection, id string) (Doc, error) {
	return p.Backend.Get(ctx, p.prefix+collection, id)
}

func (p *prefixedBackend) List(ctx context.Context, collection string, f Filter) ([]Doc, error) {
	return p.Backend.List(ctx, p.prefix+collection, f)
}

func (p *prefixedBackend) Insert(ctx context.Context, collection string, d Doc) (uint64, error) {
	return p.Backend.Insert(ctx, p.prefix+collection, d)
}

func (p *prefixedBackend) CompareAndSwap(ctx context.Context, collection string, d Doc, expected uint64) (uint64, error) {
	return p.Backend.CompareAndSwap(ctx, p.prefix+collection, d, expected)
}
