package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/orderclaim/bus"
	"github.com/vinayprograms/orderclaim/config"
	"github.com/vinayprograms/orderclaim/notify"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/shutdown"
	"github.com/vinayprograms/orderclaim/state"
)

// wiring holds connections shared between the store and the notifier.
type wiring struct {
	cfg   config.Config
	coord *shutdown.Coordinator
	conn  *nats.Conn
}

func (w *wiring) natsConn() (*nats.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}
	ncfg := bus.DefaultNATSConfig()
	ncfg.URL = w.cfg.NATSURL
	conn, err := bus.Connect(ncfg)
	if err != nil {
		return nil, err
	}
	w.conn = conn
	w.coord.Register("nats", shutdown.PhaseBackends, func(context.Context) error {
		return conn.Drain()
	})
	return conn, nil
}

// openBackend connects the configured record store.
func (w *wiring) openBackend(ctx context.Context) (records.Backend, error) {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch w.cfg.Store {
	case config.StoreMemory:
		return records.NewKVBackend(state.NewMemoryStore(), "memory"), nil

	case config.StoreNATS:
		conn, err := w.natsConn()
		if err != nil {
			return nil, err
		}
		scfg := state.DefaultNATSStoreConfig()
		scfg.Conn = conn
		scfg.Bucket = w.cfg.NATSBucket
		store, err := state.NewNATSStore(initCtx, scfg)
		if err != nil {
			return nil, fmt.Errorf("nats kv: %w", err)
		}
		w.coord.Register("nats-kv", shutdown.PhaseBackends, func(context.Context) error {
			return store.Close()
		})
		return records.NewKVBackend(store, "nats"), nil

	case config.StorePostgres:
		pool, err := w.openPostgres(initCtx)
		if err != nil {
			return nil, err
		}
		return records.NewPostgresBackend(pool), nil

	case config.StoreRedis:
		client, err := records.NewRedisClient(initCtx, records.RedisConfig{Addr: w.cfg.RedisAddr})
		if err != nil {
			return nil, err
		}
		w.coord.Register("redis", shutdown.PhaseBackends, func(context.Context) error {
			return client.Close()
		})
		return records.NewRedisBackend(client, w.cfg.RedisPrefix), nil
	}
	return nil, fmt.Errorf("unknown store %q", w.cfg.Store)
}

func (w *wiring) openPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := records.NewPool(ctx, w.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	w.coord.Register("postgres", shutdown.PhaseBackends, func(context.Context) error {
		pool.Close()
		return nil
	})
	return pool, nil
}

// openNotifier builds the configured notification transport.
func (w *wiring) openNotifier() (notify.Notifier, error) {
	switch w.cfg.Notifier {
	case config.NotifierNone:
		return notify.Nop{}, nil

	case config.NotifierBus:
		conn, err := w.natsConn()
		if err != nil {
			return nil, err
		}
		return notify.NewBusNotifier(bus.NewNATSBusFromConn(conn, bus.DefaultNATSConfig())), nil

	case config.NotifierKafka:
		n := notify.NewKafkaNotifier(notify.NewKafkaWriter(w.cfg.Brokers()), w.cfg.KafkaTopic)
		w.coord.Register("kafka-writer", shutdown.PhaseBackends, func(context.Context) error {
			return n.Close()
		})
		return n, nil

	case config.NotifierFile:
		n, err := notify.NewFileNotifier(w.cfg.NotifyFile)
		if err != nil {
			return nil, err
		}
		w.coord.Register("event-file", shutdown.PhaseBackends, func(context.Context) error {
			return n.Close()
		})
		return n, nil
	}
	return nil, fmt.Errorf("unknown notifier %q", w.cfg.Notifier)
}
