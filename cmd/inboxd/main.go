// Command inboxd boots the mail platform's serving loop and, unless
// disabled, the syncback replay worker. In development mode the process is
// wrapped in a file-watching restart supervisor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/openinbox/inboxd/internal/config"
	"github.com/openinbox/inboxd/internal/devreload"
	"github.com/openinbox/inboxd/internal/orchestrator"
	"github.com/openinbox/inboxd/internal/preflight"
	"github.com/openinbox/inboxd/pkg/logger"
)

const supervisedEnv = "INBOXD_SUPERVISED"

func main() {
	os.Exit(run())
}

func run() int {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	var (
		prod          = flag.Bool("prod", false, "Run in production mode (no restart supervisor)")
		startSyncback = flag.Bool("start-syncback", true, "Start the syncback replay worker")
		overridePath  string
		port          int
	)
	flag.StringVar(&overridePath, "c", "", "Path to a configuration override file")
	flag.StringVar(&overridePath, "config", "", "Path to a configuration override file")
	flag.IntVar(&port, "p", config.DefaultPort, "Serving loop bind port")
	flag.IntVar(&port, "port", config.DefaultPort, "Serving loop bind port")
	flag.Parse()

	// The dependency check runs before any other startup logic.
	if err := preflight.CheckSyncEngine(); err != nil {
		fmt.Fprintln(os.Stderr, preflight.Remediation)
		return 1
	}

	logLevel := os.Getenv("INBOXD_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	log := logger.New("inboxd", logLevel, os.Stdout)

	cfg := config.Config{
		Prod:          *prod,
		StartSyncback: *startSyncback,
		OverridePath:  overridePath,
		Port:          port,
		LogLevel:      logLevel,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Prod && os.Getenv(supervisedEnv) != "1" {
		return supervise(ctx, cfg, log)
	}

	log.WithField("port", cfg.Port).
		WithField("prod", cfg.Prod).
		WithField("start_syncback", cfg.StartSyncback).
		Info("starting inboxd")

	outcome, err := orchestrator.New(log).Start(ctx, cfg)
	if err != nil {
		if errors.Is(err, preflight.ErrPreconditionFailed) {
			fmt.Fprintln(os.Stderr, preflight.Remediation)
			return 1
		}
		log.WithError(err).Error("startup failed")
		return 2
	}

	log.WithField("worker_joined", outcome.WorkerJoined).Info("inboxd stopped")
	return 0
}

// supervise wraps the orchestrated process in the development restart loop.
// The re-exec'd child sees the supervised marker and runs the orchestrator
// directly.
func supervise(ctx context.Context, cfg config.Config, log *logger.Logger) int {
	binary, err := os.Executable()
	if err != nil {
		log.WithError(err).Error("resolve executable for supervisor")
		return 2
	}

	watch := []string{"."}
	if cfg.OverridePath != "" {
		watch = append(watch, cfg.OverridePath)
	}

	sup := devreload.New(watch, logger.New("devreload", cfg.LogLevel, os.Stdout))
	if err := sup.Run(ctx, binary, os.Args[1:]); err != nil {
		log.WithError(err).Error("supervised process failed")
		return 2
	}
	return 0
}
