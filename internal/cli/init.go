// Package cli provides common initialization shared by cmd/feeledger and
// cmd/feeledger-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"feeledger/internal/amqp"
	"feeledger/internal/backend"
	"feeledger/internal/config"
	"feeledger/internal/log"
	"feeledger/internal/metrics"
	"feeledger/internal/services"
	"feeledger/internal/storage"
)

// SetupLogger initializes structured logging at the given LOG_LEVEL and
// makes it the default logger.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	// Keep stdout for command output.
	cfg.Output = os.Stderr
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment and
// validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Ledger is the wired set of ledger services over one store.
type Ledger struct {
	Store      storage.Store
	Allocator  *services.SequenceAllocator
	Catalog    *services.FeeCatalog
	Aggregator *services.LedgerAggregator
	Recorder   *services.PaymentRecorder
	// Events is nil when AMQP is not configured or unreachable.
	Events *amqp.Client
}

// OpenLedger opens the configured store and wires the services on top of
// it. m may be nil. An unreachable broker disables publishing instead of
// failing; the export sweep picks up what events would have carried.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *log.Logger, m *metrics.Metrics) (*Ledger, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := backend.Open(ctx, bc, logger)
	if err != nil {
		return nil, err
	}

	l := &Ledger{Store: store}
	l.Allocator = services.NewSequenceAllocator(services.AllocatorConfig{
		Location:    loc,
		MaxAttempts: cfg.AllocatorMaxAttempts,
	}, logger, m)
	l.Catalog = services.NewFeeCatalog(store)
	l.Aggregator, err = services.NewLedgerAggregator(store, l.Catalog, services.AggregatorConfig{
		CacheTTL:  cfg.SummaryCacheTTL,
		CacheSize: cfg.SummaryCacheSize,
	}, logger, m)
	if err != nil {
		store.Close()
		return nil, err
	}

	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err.Error())
		} else {
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
			l.Events = client
			events = client
		}
	}

	l.Recorder = services.NewPaymentRecorder(store, l.Allocator, events, l.Aggregator, logger, m)
	return l, nil
}

// Close releases the broker connection and the store.
func (l *Ledger) Close() error {
	var result *multierror.Error
	if l.Events != nil {
		if err := l.Events.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close amqp client: %w", err))
		}
	}
	if err := l.Store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	return result.ErrorOrNil()
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
