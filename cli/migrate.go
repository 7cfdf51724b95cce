package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinayprograms/orderclaim/config"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/shutdown"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostgreSQL records table and indexes",
	Long: `Create the records table and its indexes if they are missing.

Only the postgres store needs a schema; other stores are a no-op.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load(viper.GetViper())
		log := buildLogger(cfg.LogLevel)
		if cfg.Store != config.StorePostgres {
			log.Info("nothing to migrate", map[string]interface{}{"store": cfg.Store})
			return nil
		}

		coord := shutdown.NewCoordinator(5*time.Second, log)
		defer coord.Shutdown(context.Background())

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		w := &wiring{cfg: cfg, coord: coord}
		pool, err := w.openPostgres(ctx)
		if err != nil {
			return err
		}
		if err := records.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("schema ready")
		return nil
	},
}
