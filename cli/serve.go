package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinayprograms/orderclaim/config"
	"github.com/vinayprograms/orderclaim/httpapi"
	"github.com/vinayprograms/orderclaim/logging"
	"github.com/vinayprograms/orderclaim/notify"
	"github.com/vinayprograms/orderclaim/orders"
	"github.com/vinayprograms/orderclaim/payments"
	"github.com/vinayprograms/orderclaim/ratelimit"
	"github.com/vinayprograms/orderclaim/shutdown"
	"github.com/vinayprograms/orderclaim/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	fs := serveCmd.Flags()
	fs.String("http-addr", ":8080", "HTTP API listen address")
	fs.String("metrics-addr", ":9090", "Prometheus metrics server address; empty disables it")
	fs.String("notifier", config.NotifierNone, "event transport: bus | kafka | file | none")
	fs.String("notify-file", "events.jsonl", "file the file notifier appends to")
	fs.String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	fs.String("kafka-topic", "orderclaim.events", "Kafka topic for events")
	fs.String("payment-secret", "", "shared secret for payment callbacks; empty disables them")
	fs.Int("max-claims", orders.MaxClaimsPerProvider, "claims one provider may hold at once")
	fs.Duration("claim-duration", orders.ClaimDuration, "how long a claim reserves an order")
	fs.Int("rate-limit", 60, "requests per caller per window; 0 disables limiting")
	fs.Duration("rate-limit-window", time.Minute, "rate limit window")
	fs.Duration("shutdown-timeout", 15*time.Second, "graceful shutdown budget")
	fs.String("otel-endpoint", "", "OTLP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	fs.String("otel-protocol", "http", "OTLP protocol: http | grpc")

	bindFlag("http_addr", fs, "http-addr")
	bindFlag("metrics_addr", fs, "metrics-addr")
	bindFlag("notifier", fs, "notifier")
	bindFlag("notify_file", fs, "notify-file")
	bindFlag("kafka_brokers", fs, "kafka-brokers")
	bindFlag("kafka_topic", fs, "kafka-topic")
	bindFlag("payment_secret", fs, "payment-secret")
	bindFlag("max_claims", fs, "max-claims")
	bindFlag("claim_duration", fs, "claim-duration")
	bindFlag("rate_limit", fs, "rate-limit")
	bindFlag("rate_limit_window", fs, "rate-limit-window")
	bindFlag("shutdown_timeout", fs, "shutdown-timeout")
	bindFlag("otel_endpoint", fs, "otel-endpoint")
	bindFlag("otel_protocol", fs, "otel-protocol")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := buildLogger(cfg.LogLevel)
	coord := shutdown.NewCoordinator(cfg.ShutdownTimeout, log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	tracer, err := startTracing(ctx, cfg, coord, log)
	if err != nil {
		return err
	}

	w := &wiring{cfg: cfg, coord: coord}
	backend, err := w.openBackend(ctx)
	if err != nil {
		_ = coord.Shutdown(ctx)
		return err
	}
	notifier, err := w.openNotifier()
	if err != nil {
		_ = coord.Shutdown(ctx)
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	dispatcher := notify.NewDispatcher(notifier, cfg.Notifier,
		notify.WithLogger(log), notify.WithMetrics(metrics), notify.WithTracer(tracer))
	coord.Register("notify-dispatcher", shutdown.PhaseDrain, func(context.Context) error {
		dispatcher.Close()
		return nil
	})

	svc := orders.NewService(backend,
		orders.WithLogger(log),
		orders.WithTracer(tracer),
		orders.WithMetrics(metrics),
		orders.WithNotifier(dispatcher),
		orders.WithPayments(payments.NewMemory()),
		orders.WithMaxClaims(cfg.MaxClaims),
		orders.WithClaimDuration(cfg.ClaimDuration),
	)

	opts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithTracer(tracer),
		httpapi.WithPaymentSecret(cfg.PaymentSecret),
	}
	if cfg.RateLimit > 0 {
		limiter, err := ratelimit.NewLimiter(cfg.RateLimit, cfg.RateLimitWindow)
		if err != nil {
			_ = coord.Shutdown(ctx)
			return err
		}
		opts = append(opts, httpapi.WithRateLimiter(limiter))
	}
	api := httpapi.NewServer(svc, httpapi.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer), opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	coord.Register("http", shutdown.PhaseIngress, srv.Shutdown)

	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		telemetry.StartMetricsServer(metricsCtx, cfg.MetricsAddr, reg, log)
		coord.Register("metrics", shutdown.PhaseIngress, func(context.Context) error {
			stopMetrics()
			return nil
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server starting", map[string]interface{}{
			"addr":       cfg.HTTPAddr,
			"store":      backend.Name(),
			"notifier":   cfg.Notifier,
			"max_claims": cfg.MaxClaims,
			"claim_ttl":  cfg.ClaimDuration.String(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	shutdownErr := coord.Wait(ctx)
	for _, r := range coord.Results() {
		if r.Err != nil {
			log.Warn("shutdown handler failed", map[string]interface{}{"handler": r.Name, "error": r.Err.Error()})
		}
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	log.Info("stopped cleanly")
	return nil
}

// startTracing installs the OTLP exporter when an endpoint is set and
// returns the tracer the service uses.
func startTracing(ctx context.Context, cfg config.Config, coord *shutdown.Coordinator, log *logging.Logger) (*telemetry.Tracer, error) {
	if cfg.OTelEndpoint == "" {
		return telemetry.GetTracer(), nil
	}
	p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    "orderclaimd",
		ServiceVersion: Version,
		Endpoint:       cfg.OTelEndpoint,
		Protocol:       cfg.OTelProtocol,
		Insecure:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	telemetry.SetGlobalTracer(p.Tracer())
	coord.Register("otel", shutdown.PhaseBackends, p.Shutdown)
	log.Info("tracing enabled", map[string]interface{}{"endpoint": cfg.OTelEndpoint, "protocol": cfg.OTelProtocol})
	return p.Tracer(), nil
}
