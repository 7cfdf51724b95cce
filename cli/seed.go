package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinayprograms/orderclaim/config"
	"github.com/vinayprograms/orderclaim/orders"
	"github.com/vinayprograms/orderclaim/shutdown"
)

// fixtureFile is the TOML layout read by seed:
//
//	[[order]]
//	customer = "cust-1"
//	key      = "demo-1"
//	[order.location]
//	address = "12 Harbour Road"
//	[[order.items]]
//	name       = "brake pads"
//	quantity   = 2
//	unit_price = 4500
type fixtureFile struct {
	Orders []fixtureOrder `toml:"order"`
}

type fixtureOrder struct {
	Customer string          `toml:"customer"`
	Key      string          `toml:"key"`
	Location fixtureLocation `toml:"location"`
	Items    []fixtureItem   `toml:"items"`
}

type fixtureLocation struct {
	Address string  `toml:"address"`
	City    string  `toml:"city"`
	Notes   string  `toml:"notes"`
	Lat     float64 `toml:"lat"`
	Lng     float64 `toml:"lng"`
}

type fixtureItem struct {
	Name      string `toml:"name"`
	Quantity  int    `toml:"quantity"`
	UnitPrice int64  `toml:"unit_price"`
}

func (f fixtureOrder) newOrder() orders.NewOrder {
	o := orders.NewOrder{
		IdempotencyKey: f.Key,
		Location: orders.Location{
			Address: f.Location.Address,
			City:    f.Location.City,
			Notes:   f.Location.Notes,
			Lat:     f.Location.Lat,
			Lng:     f.Location.Lng,
		},
	}
	for _, it := range f.Items {
		o.Items = append(o.Items, orders.Item{Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return o
}

// loadFixtures decodes path and rejects keys it does not know.
func loadFixtures(path string) ([]fixtureOrder, error) {
	var f fixtureFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}
	for i, o := range f.Orders {
		if o.Customer == "" {
			return nil, fmt.Errorf("%s: order %d has no customer", path, i+1)
		}
	}
	return f.Orders, nil
}

var seedCmd = &cobra.Command{
	Use:   "seed <fixtures.toml>",
	Short: "Submit demo orders from a TOML fixture file",
	Long: `Submit the orders listed in a TOML fixture file.

Orders with a key are submitted idempotently, so seeding twice does not
duplicate them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fixtures, err := loadFixtures(args[0])
		if err != nil {
			return err
		}

		cfg := config.Load(viper.GetViper())
		log := buildLogger(cfg.LogLevel)
		coord := shutdown.NewCoordinator(5*time.Second, log)
		defer coord.Shutdown(context.Background())

		w := &wiring{cfg: cfg, coord: coord}
		backend, err := w.openBackend(cmd.Context())
		if err != nil {
			return err
		}
		svc := orders.NewService(backend, orders.WithLogger(log))

		for _, f := range fixtures {
			task, err := svc.Submit(cmd.Context(), f.Customer, f.newOrder())
			if err != nil {
				return fmt.Errorf("seed order for %s: %w", f.Customer, err)
			}
			fmt.Printf("%s\t%s\t%s\t%d\n", task.ID, task.CustomerID, task.Status, task.TotalPrice)
		}
		if cfg.Store == config.StoreMemory {
			log.Warn("memory store is discarded on exit", map[string]interface{}{"orders": len(fixtures)})
		}
		return nil
	},
}
