package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex-go/internal/logging"
	"github.com/54b3r/ragindex-go/internal/queue"
)

// NewWorkerCmd constructs the `ragindex worker` command, which consumes
// processing requests from NSQ.
func NewWorkerCmd() *cobra.Command {
	var (
		channel     string
		concurrency int
		backend     string
		drain       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume processing requests from NSQ",
		Long: `Subscribe to the "document.process" NSQ topic and process each request.

Requests that can never succeed (malformed JSON, missing source_id, no
extractable text) are dropped. Other failures are requeued with backoff until
NSQ_MAX_ATTEMPTS deliveries, then dropped.

Environment variables:
  NSQ_LOOKUPD_ADDRS    Comma-separated nsqlookupd HTTP addresses
  NSQD_ADDR            Direct nsqd TCP address (used when no lookupd is set)
  NSQ_CHANNEL          Consumer channel (default ragindex)
  NSQ_CONCURRENCY      Concurrent handlers (default 4)
  NSQ_MAX_ATTEMPTS     Deliveries before a failing message is dropped (default 5)
  NSQ_TOUCH_INTERVAL   How often an in-flight message is touched (default 30s)
  NSQ_MSG_TIMEOUT      Per-message timeout requested from nsqd (default: nsqd's)

Examples:
  NSQD_ADDR=127.0.0.1:4150 ragindex worker
  NSQ_LOOKUPD_ADDRS=10.0.0.1:4161 ragindex worker --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.Component(ctx, "worker")

			lookupds := splitList(os.Getenv("NSQ_LOOKUPD_ADDRS"))
			nsqd := os.Getenv("NSQD_ADDR")
			if len(lookupds) == 0 && nsqd == "" {
				return errors.New("worker: set NSQ_LOOKUPD_ADDRS or NSQD_ADDR")
			}

			p, err := buildPipeline(ctx, log, pipelineOptions{backend: backend, registry: prometheus.DefaultRegisterer})
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer p.Close()

			if !cmd.Flags().Changed("channel") {
				channel = getEnvOrDefault("NSQ_CHANNEL", channel)
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = getEnvInt("NSQ_CONCURRENCY", concurrency)
			}

			h := queue.NewHandler(p.proc, &queue.HandlerConfig{
				Timeout:       getEnvDuration("RAGINDEX_PROCESS_TIMEOUT", 0),
				MaxAttempts:   uint16(getEnvInt("NSQ_MAX_ATTEMPTS", 0)), //nolint:gosec // small config value
				TouchInterval: getEnvDuration("NSQ_TOUCH_INTERVAL", 0),
				Logger:        log,
			})
			consumer, err := queue.StartConsumer(queue.ConsumerConfig{
				Channel:      channel,
				LookupdAddrs: lookupds,
				NSQDAddr:     nsqd,
				Concurrency:  concurrency,
				MsgTimeout:   getEnvDuration("NSQ_MSG_TIMEOUT", 0),
			}, h)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			log.Info("worker consuming",
				slog.String("topic", queue.Topic),
				slog.String("channel", channel),
				slog.Int("concurrency", concurrency),
			)

			<-ctx.Done()
			log.Info("worker stopping; draining in-flight messages", slog.Duration("timeout", drain))
			drainCtx, cancel := context.WithTimeout(context.Background(), drain)
			defer cancel()
			if err := consumer.Stop(drainCtx); err != nil {
				return fmt.Errorf("worker: drain: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", queue.DefaultChannel, "NSQ channel to consume from")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Concurrent message handlers")
	cmd.Flags().StringVar(&backend, "store", "", "Index backend override: badger, qdrant, weaviate, memory")
	cmd.Flags().DurationVar(&drain, "drain-timeout", 30*time.Second, "Maximum time to wait for in-flight messages on shutdown")

	return cmd
}
