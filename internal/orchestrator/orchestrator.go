// Package orchestrator sequences inboxd startup: readiness check, one-shot
// configuration merge, conditional syncback worker launch, blocking serving
// loop, and the worker join once the loop exits.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/openinbox/inboxd/internal/api"
	"github.com/openinbox/inboxd/internal/config"
	"github.com/openinbox/inboxd/internal/domain/action"
	"github.com/openinbox/inboxd/internal/heartbeat"
	"github.com/openinbox/inboxd/internal/preflight"
	"github.com/openinbox/inboxd/internal/storage"
	"github.com/openinbox/inboxd/internal/storage/memory"
	"github.com/openinbox/inboxd/internal/storage/postgres"
	"github.com/openinbox/inboxd/internal/syncback"
	"github.com/openinbox/inboxd/internal/system"
	"github.com/openinbox/inboxd/pkg/logger"
)

// WorkerHandle is the lifecycle surface of the background worker the
// orchestrator owns.
type WorkerHandle interface {
	system.Service
	State() string
}

// ServerHandle is the blocking serving loop the orchestrator owns.
type ServerHandle interface {
	Run(ctx context.Context) error
}

// ExitOutcome summarizes how a Start invocation ended.
type ExitOutcome struct {
	WorkerStarted bool
	WorkerJoined  bool
}

// handles groups the live units owned by one Start invocation. They are
// never published to package state; shutdown logic receives them by
// reference. Background services run under one manager so any future
// additions inherit the start-order/stop-reverse discipline.
type handles struct {
	background *system.Manager
	worker     WorkerHandle
	server     ServerHandle
}

// Orchestrator wires the two units together. The factory fields exist so
// tests can substitute collaborators; production code uses New's defaults.
type Orchestrator struct {
	log *logger.Logger

	checkPreflight func() error
	openStore      func(config.Settings) (storage.ActionStore, func(), error)
	newWorker      func(config.Settings, storage.ActionStore) WorkerHandle
	newServer      func(config.Config, config.Settings, storage.ActionStore) ServerHandle
}

// New creates an orchestrator with production collaborators.
func New(log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDefault("orchestrator")
	}
	o := &Orchestrator{log: log}
	o.checkPreflight = preflight.CheckSyncEngine
	o.openStore = o.defaultStore
	o.newWorker = o.defaultWorker
	o.newServer = o.defaultServer
	return o
}

// WithPreflight substitutes the readiness check.
func (o *Orchestrator) WithPreflight(fn func() error) { o.checkPreflight = fn }

// WithStoreFactory substitutes action store construction.
func (o *Orchestrator) WithStoreFactory(fn func(config.Settings) (storage.ActionStore, func(), error)) {
	o.openStore = fn
}

// WithWorkerFactory substitutes background worker construction.
func (o *Orchestrator) WithWorkerFactory(fn func(config.Settings, storage.ActionStore) WorkerHandle) {
	o.newWorker = fn
}

// WithServerFactory substitutes serving loop construction.
func (o *Orchestrator) WithServerFactory(fn func(config.Config, config.Settings, storage.ActionStore) ServerHandle) {
	o.newServer = fn
}

// Start runs the full startup sequence and blocks until the serving loop
// exits. The configure phase (preflight + override merge) completes before
// any construct step, so every component observes final settings. On loop
// exit, whether a crash or a ctx-cancelled graceful shutdown, a started
// worker is joined before Start returns.
func (o *Orchestrator) Start(ctx context.Context, cfg config.Config) (ExitOutcome, error) {
	var outcome ExitOutcome

	// Configure phase.
	if err := o.checkPreflight(); err != nil {
		return outcome, err
	}

	settings, err := config.Default()
	if err != nil {
		return outcome, err
	}
	if cfg.OverridePath != "" {
		if err := settings.MergeFile(cfg.OverridePath); err != nil {
			return outcome, err
		}
		o.log.WithField("path", cfg.OverridePath).Info("configuration overrides merged")
	}

	// Construct phase. Nothing below may run before the merge above.
	store, closeStore, err := o.openStore(settings)
	if err != nil {
		return outcome, fmt.Errorf("open action store: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	owned := handles{background: system.NewManager()}
	if cfg.StartSyncback {
		owned.worker = o.newWorker(settings, store)
		if err := owned.background.Register(owned.worker); err != nil {
			return outcome, err
		}
		if err := owned.background.Start(ctx); err != nil {
			return outcome, fmt.Errorf("start syncback worker: %w", err)
		}
		outcome.WorkerStarted = true
	} else {
		o.log.Info("syncback worker disabled")
	}

	owned.server = o.newServer(cfg, settings, store)

	// Blocks until the listener fails or ctx is cancelled.
	serveErr := owned.server.Run(ctx)

	if owned.worker != nil {
		// Join with a fresh context: the run context is typically
		// already cancelled when we get here.
		if err := owned.background.Stop(context.Background()); err != nil {
			o.log.WithError(err).Warn("syncback worker join failed")
		} else {
			outcome.WorkerJoined = true
		}
	}

	return outcome, serveErr
}

func (o *Orchestrator) defaultStore(settings config.Settings) (storage.ActionStore, func(), error) {
	if settings.Database.DSN == "" {
		o.log.Info("no database configured; using in-memory action store")
		return memory.New(), nil, nil
	}
	store, err := postgres.Open(settings.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func (o *Orchestrator) defaultWorker(settings config.Settings, store storage.ActionStore) WorkerHandle {
	sb := settings.Syncback
	worker := syncback.New(store, defaultExecutor(o.log), sb.Workers, sb.QueueDepth, sb.MaxAttempts, logger.NewDefault("syncback"))
	worker.WithPollInterval(sb.PollInterval.Std())
	worker.WithRequeue(sb.RequeueSchedule, sb.StuckAfter.Std())

	if settings.Redis.Addr != "" {
		reporter, err := heartbeat.New(settings.Redis.Addr, settings.Redis.Password, settings.Redis.DB,
			settings.Heartbeat.TTL.Std(), logger.NewDefault("heartbeat"))
		if err != nil {
			o.log.WithError(err).Warn("heartbeat reporting disabled")
		} else {
			worker.WithHeartbeat(reporter, settings.Heartbeat.Interval.Std())
		}
	}
	return worker
}

func (o *Orchestrator) defaultServer(cfg config.Config, settings config.Settings, store storage.ActionStore) ServerHandle {
	return api.New(cfg.Port, store, settings.API, cfg.Prod, logger.NewDefault("api"))
}

// defaultExecutor hands actions to the sync engine. The engine's replay
// internals live outside this process; the handoff itself is a logged
// acknowledgement.
func defaultExecutor(log *logger.Logger) syncback.Executor {
	return syncback.ExecutorFunc(func(ctx context.Context, act action.Action) error {
		log.WithField("action_id", act.ID).
			WithField("type", act.Type).
			Debug("action handed to sync engine")
		return nil
	})
}
