// Package syncback implements the background worker that replays queued
// actions against provider backends.
package syncback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openinbox/inboxd/internal/domain/action"
	"github.com/openinbox/inboxd/internal/heartbeat"
	"github.com/openinbox/inboxd/internal/metrics"
	"github.com/openinbox/inboxd/internal/storage"
	"github.com/openinbox/inboxd/internal/system"
	"github.com/openinbox/inboxd/pkg/logger"
)

// ErrPermanent marks a replay failure that must not be retried. Executors
// wrap it to fail an action immediately regardless of remaining attempts.
var ErrPermanent = errors.New("permanent failure")

// Executor performs the provider-side replay of a single action. Its
// internals are outside this package; the worker only schedules it.
type Executor interface {
	Execute(ctx context.Context, act action.Action) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, act action.Action) error

func (f ExecutorFunc) Execute(ctx context.Context, act action.Action) error {
	return f(ctx, act)
}

// Lifecycle states. A worker moves unstarted -> running -> stopped and is
// owned by the orchestrator that created it.
const (
	StateUnstarted = "unstarted"
	StateRunning   = "running"
	StateStopped   = "stopped"
)

var _ system.Service = (*Worker)(nil)

// Worker claims pending actions and dispatches them to a bounded pool.
// Workers, queueDepth and maxAttempts fix its concurrency shape at
// construction time.
type Worker struct {
	store       storage.ActionStore
	exec        Executor
	log         *logger.Logger
	workers     int
	queueDepth  int
	maxAttempts int

	pollInterval    time.Duration
	requeueSchedule string
	stuckAfter      time.Duration
	beats           *heartbeat.Reporter
	beatEvery       time.Duration
	lastBeat        time.Time

	mu     sync.Mutex
	state  string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

// New creates an unstarted worker with the given concurrency shape.
func New(store storage.ActionStore, exec Executor, workers, queueDepth, maxAttempts int, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("syncback")
	}
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{
		store:           store,
		exec:            exec,
		log:             log,
		workers:         workers,
		queueDepth:      queueDepth,
		maxAttempts:     maxAttempts,
		pollInterval:    2 * time.Second,
		requeueSchedule: "@every 1m",
		stuckAfter:      5 * time.Minute,
		state:           StateUnstarted,
	}
}

// WithPollInterval overrides how often the claim loop scans for work.
func (w *Worker) WithPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// WithRequeue overrides the stuck-action recovery schedule and cutoff.
func (w *Worker) WithRequeue(schedule string, stuckAfter time.Duration) {
	if schedule != "" {
		w.requeueSchedule = schedule
	}
	if stuckAfter > 0 {
		w.stuckAfter = stuckAfter
	}
}

// WithHeartbeat attaches a liveness reporter refreshed at most once per
// interval, piggybacking on the claim loop. A zero interval beats on every
// claim cycle.
func (w *Worker) WithHeartbeat(r *heartbeat.Reporter, every time.Duration) {
	w.beats = r
	w.beatEvery = every
}

func (w *Worker) Name() string { return "syncback" }

// State reports the current lifecycle state.
func (w *Worker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start brings up the claim loop, the dispatch pool and the recovery
// schedule. Starting an already running or stopped worker is an error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateUnstarted {
		return errors.New("syncback worker already " + w.state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cronRunner := cron.New()
	if _, err := cronRunner.AddFunc(w.requeueSchedule, func() { w.recoverStuck(runCtx) }); err != nil {
		cancel()
		return err
	}
	w.cancel = cancel
	w.cron = cronRunner
	w.state = StateRunning

	queue := make(chan action.Action, w.queueDepth)

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case act, ok := <-queue:
					if !ok {
						return
					}
					w.process(runCtx, act)
				}
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(queue)
		w.claimLoop(runCtx, queue)
	}()

	// The cron comes up before the lock is released so a racing Stop
	// cannot strand a running schedule.
	w.cron.Start()
	w.log.WithField("workers", w.workers).
		WithField("queue_depth", w.queueDepth).
		WithField("max_attempts", w.maxAttempts).
		Info("syncback worker started")
	return nil
}

// Stop requests shutdown and joins the worker: it returns once in-flight
// units have finished and the state is stopped. Claimed but unprocessed
// actions stay in_flight and are recovered by the requeue schedule on the
// next run.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	cronRunner := w.cron
	w.cancel = nil
	w.mu.Unlock()

	if cronRunner != nil {
		cronRunner.Stop()
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()

	w.log.Info("syncback worker stopped")
	return nil
}

func (w *Worker) claimLoop(ctx context.Context, queue chan<- action.Action) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.beat(ctx)
		claimed, err := w.store.ClaimPending(ctx, w.queueDepth)
		if err != nil {
			if ctx.Err() == nil {
				w.log.WithError(err).Warn("claim pending actions failed")
			}
		} else {
			for _, act := range claimed {
				select {
				case <-ctx.Done():
					return
				case queue <- act:
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) process(ctx context.Context, act action.Action) {
	attempts := act.Attempts + 1
	err := w.exec.Execute(ctx, act)
	if err == nil {
		if markErr := w.store.MarkDone(ctx, act.ID); markErr != nil {
			w.log.WithError(markErr).WithField("action_id", act.ID).Warn("mark done failed")
		}
		metrics.SyncbackProcessed.WithLabelValues(act.Type, "done").Inc()
		return
	}

	if errors.Is(err, ErrPermanent) || attempts >= w.maxAttempts {
		if markErr := w.store.MarkFailed(ctx, act.ID, attempts, err.Error()); markErr != nil {
			w.log.WithError(markErr).WithField("action_id", act.ID).Warn("mark failed failed")
		}
		metrics.SyncbackProcessed.WithLabelValues(act.Type, "failed").Inc()
		w.log.WithError(err).
			WithField("action_id", act.ID).
			WithField("attempts", attempts).
			Error("syncback action failed")
		return
	}

	if requeueErr := w.store.Requeue(ctx, act.ID, attempts, err.Error()); requeueErr != nil {
		w.log.WithError(requeueErr).WithField("action_id", act.ID).Warn("requeue failed")
		return
	}
	metrics.SyncbackRetries.Inc()
	w.log.WithError(err).
		WithField("action_id", act.ID).
		WithField("attempts", attempts).
		Warn("syncback action requeued")
}

func (w *Worker) recoverStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.stuckAfter)
	n, err := w.store.RequeueStuck(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			w.log.WithError(err).Warn("requeue stuck actions failed")
		}
		return
	}
	if n > 0 {
		metrics.SyncbackRequeuedStuck.Add(float64(n))
		w.log.WithField("count", n).Info("requeued stuck actions")
	}
}

// beat refreshes the liveness key. Only the claim loop calls this, so
// lastBeat needs no locking.
func (w *Worker) beat(ctx context.Context) {
	if w.beats == nil {
		return
	}
	now := time.Now()
	if !w.lastBeat.IsZero() && now.Sub(w.lastBeat) < w.beatEvery {
		return
	}
	w.lastBeat = now
	_ = w.beats.Beat(ctx, w.Name())
}
