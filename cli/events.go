package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinayprograms/orderclaim/bus"
	"github.com/vinayprograms/orderclaim/config"
	"github.com/vinayprograms/orderclaim/notify"
)

var eventsCmd = &cobra.Command{
	Use:   "events [user-id]",
	Short: "Print events published on the NATS bus",
	Long: `Subscribe to order events on NATS and print one JSON line per event.

With a user id only that user's events are shown; otherwise all of them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(viper.GetViper())
		log := buildLogger(cfg.LogLevel)

		pattern := "notify.>"
		if len(args) == 1 {
			pattern = notify.Subject(args[0])
		}

		ncfg := bus.DefaultNATSConfig()
		ncfg.URL = cfg.NATSURL
		ncfg.Name = "orderclaimd-events"
		b, err := bus.NewNATSBus(ncfg)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		enc := json.NewEncoder(os.Stdout)
		log.Info("listening", map[string]interface{}{"pattern": pattern, "url": cfg.NATSURL})
		return notify.Consume(ctx, b, pattern,
			func(r notify.Received) {
				_ = enc.Encode(struct {
					User  string       `json:"user"`
					Event notify.Event `json:"event"`
				}{r.UserID, r.Event})
			},
			func(subject string, err error) {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", subject, err)
			})
	},
}
