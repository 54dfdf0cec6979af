package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"feeledger/internal/cli"
	"feeledger/internal/core"
	"feeledger/internal/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentCLI)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := cli.OpenLedger(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err.Error())
		return exitFailure
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Warn("Failed to close ledger", log.FieldError, err.Error())
		}
	}()

	a := &app{ledger: ledger, out: os.Stdout}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			return exitUsage
		}
		fmt.Fprintln(os.Stderr, "feeledger:", err)
		return exitCode(err)
	}
	return 0
}

const (
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
	exitConflict = 4
	exitBusy     = 5
)

// exitCode lets scripts tell bad input from a busy ledger.
func exitCode(err error) int {
	switch core.Classify(err) {
	case core.KindValidation:
		return exitUsage
	case core.KindNotFound:
		return exitNotFound
	case core.KindConflict:
		return exitConflict
	case core.KindRetryable:
		return exitBusy
	default:
		return exitFailure
	}
}
