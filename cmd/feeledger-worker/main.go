package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"feeledger/internal/cache"
	"feeledger/internal/cli"
	"feeledger/internal/config"
	"feeledger/internal/log"
	"feeledger/internal/metrics"
	"feeledger/internal/sheets"
	gsheet "feeledger/internal/sheets/google"
	sheetsmem "feeledger/internal/sheets/memory"
	"feeledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(log.ComponentWorker)

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Starting feeledger-worker", "backend", cfg.DataBackend)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	ledger, err := cli.OpenLedger(context.Background(), cfg, logger, m)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Warn("Failed to close ledger", log.FieldError, err.Error())
		}
	}()

	register, err := openRegister(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize receipt register", log.FieldError, err.Error())
		os.Exit(1)
	}

	// Summaries cached by the balance check expire on their own; the
	// manager only reclaims memory.
	cacheManager := cache.NewManager(logger)
	if c, ok := ledger.Aggregator.Cache().(cache.Cleaner); ok {
		cacheManager.Register(c)
		cacheManager.StartCleanup(cfg.CacheCleanupInterval)
	}

	exporter := worker.NewExportWorker(ledger.Store, register, ledger.Aggregator, exportConfig(cfg), logger, m)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, cacheManager.Stop)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		exporter.Run(gctx)
		return nil
	})

	if ledger.Events != nil {
		g.Go(func() error {
			err := ledger.Events.ConsumePaymentEvents(gctx, exporter.HandleEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP disabled - relying on the periodic export sweep", "interval", cfg.ExportSweepInterval)
	}

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("Serving metrics", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Worker stopped", log.FieldError, err.Error())
		cacheManager.Stop()
		return
	}
	cli.WaitForShutdown(ctx, done)
}

// exportConfig maps the worker settings. Without a spreadsheet the register
// lives in memory and must not mark payments exported.
func exportConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		BatchSize:         cfg.ExportBatchSize,
		Concurrency:       cfg.ExportConcurrency,
		RatePerSecond:     cfg.ExportRatePerSecond,
		Burst:             cfg.ExportBurst,
		MaxTries:          uint(cfg.ExportMaxTries),
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		SweepInterval:     cfg.ExportSweepInterval,
		EphemeralRegister: !cfg.SheetsEnabled(),
	}
}

func openRegister(cfg *config.Config, logger *log.Logger) (sheets.Register, error) {
	if !cfg.SheetsEnabled() {
		logger.Warn("No GOOGLE_SPREADSHEET_ID provided - exporting to an in-memory register, payments stay unexported")
		return sheetsmem.New(), nil
	}
	client, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleCredentialsJSON,
		CredentialsFile: cfg.GoogleCredentialsFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets receipt register initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}

func newMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
