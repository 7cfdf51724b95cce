package records

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL EnsureSchema applies. Index fields are real columns so
// claimable and quota queries stay in SQL.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	collection     TEXT        NOT NULL,
	id             TEXT        NOT NULL,
	status         TEXT        NOT NULL DEFAULT '',
	provider_id    TEXT        NOT NULL DEFAULT '',
	customer_id    TEXT        NOT NULL DEFAULT '',
	order_id       TEXT        NOT NULL DEFAULT '',
	payment_intent TEXT        NOT NULL DEFAULT '',
	body           JSONB       NOT NULL,
	version        BIGINT      NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS records_status_ci_idx ON records (collection, lower(btrim(status)));
CREATE INDEX IF NOT EXISTS records_provider_idx ON records (collection, provider_id);
CREATE INDEX IF NOT EXISTS records_customer_idx ON records (collection, customer_id);
CREATE INDEX IF NOT EXISTS records_order_idx    ON records (collection, order_id);
`

// NewPool opens a pgx pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the records table and its indexes if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return unavailable("postgres", "migrate", err)
	}
	return nil
}

// PostgresBackend stores documents in one table keyed by (collection, id).
// The version column is a per-row counter bumped by every write.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend uses an existing pool; the caller owns it.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Name() string { return "postgres" }

type scanner interface {
	Scan(dest ...any) error
}

func scanDoc(row scanner) (Doc, error) {
	var (
		d       Doc
		version int64
	)
	err := row.Scan(&d.ID, &d.Index.Status, &d.Index.ProviderID, &d.Index.CustomerID,
		&d.Index.OrderID, &d.Index.PaymentIntent, &d.Body, &version)
	if err != nil {
		return Doc{}, err
	}
	d.Version = uint64(version)
	return d, nil
}

const selectColumns = `id, status, provider_id, customer_id, order_id, payment_intent, body, version`

func (b *PostgresBackend) Get(ctx context.Context, collection, id string) (Doc, error) {
	row := b.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM records WHERE collection = $1 AND id = $2`,
		collection, id)
	d, err := scanDoc(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return Doc{}, ErrNotFound
		}
		return Doc{}, unavailable(b.Name(), "get", err)
	}
	return d, nil
}

func (b *PostgresBackend) List(ctx context.Context, collection string, f Filter) ([]Doc, error) {
	query, args := listQuery(collection, f)
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(b.Name(), "list", err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, unavailable(b.Name(), "list", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(b.Name(), "list", err)
	}
	return docs, nil
}

// listQuery builds the filtered SELECT for List.
func listQuery(collection string, f Filter) (string, []any) {
	var (
		where = []string{"collection = $1"}
		args  = []any{collection}
	)
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = strings.ToLower(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("lower(btrim(status)) = ANY($%d)", len(args)))
	}
	if f.ProviderID != "" {
		add("provider_id", f.ProviderID)
	}
	if f.CustomerID != "" {
		add("customer_id", f.CustomerID)
	}
	if f.OrderID != "" {
		add("order_id", f.OrderID)
	}
	if f.PaymentIntent != "" {
		add("payment_intent", f.PaymentIntent)
	}

	return `SELECT ` + selectColumns + ` FROM records WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY id`, args
}

func (b *PostgresBackend) Insert(ctx context.Context, collection string, d Doc) (uint64, error) {
	tag, err := b.pool.Exec(ctx, `
		INSERT INTO records (collection, id, status, provider_id, customer_id, order_id, payment_intent, body, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, d.ID, d.Index.Status, d.Index.ProviderID, d.Index.CustomerID,
		d.Index.OrderID, d.Index.PaymentIntent, d.Body)
	if err != nil {
		return 0, unavailable(b.Name(), "insert", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrExists
	}
	return 1, nil
}

// CompareAndSwap is a single guarded UPDATE. When no row changes, a
// follow-up existence check tells a lost race from a missing record.
func (b *PostgresBackend) CompareAndSwap(ctx context.Context, collection string, d Doc, expected uint64) (uint64, error) {
	var next int64
	err := b.pool.QueryRow(ctx, `
		UPDATE records
		SET status = $4, provider_id = $5, customer_id = $6, order_id = $7, payment_intent = $8,
		    body = $9, version = version + 1, updated_at = now()
		WHERE collection = $1 AND id = $2 AND version = $3
		RETURNING version`,
		collection, d.ID, int64(expected), d.Index.Status, d.Index.ProviderID, d.Index.CustomerID,
		d.Index.OrderID, d.Index.PaymentIntent, d.Body).Scan(&next)
	if err == nil {
		return uint64(next), nil
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return 0, unavailable(b.Name(), "update", pgError(err))
	}

	var exists bool
	err = b.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE collection = $1 AND id = $2)`,
		collection, d.ID).Scan(&exists)
	if err != nil {
		return 0, unavailable(b.Name(), "update", err)
	}
	if !exists {
		return 0, ErrNotFound
	}
	return 0, ErrVersionMismatch
}

// pgError adds the SQLSTATE to server-side errors.
func pgError(err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return fmt.Errorf("%s (sqlstate %s): %w", pgErr.Message, pgErr.Code, err)
	}
	return err
}
