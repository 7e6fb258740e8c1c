// Package devreload implements the development-mode restart supervisor: a
// parent process that watches a file set and re-execs the service child
// whenever one of them changes. It carries no orchestration logic of its
// own; production runs never construct it.
package devreload

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openinbox/inboxd/pkg/logger"
)

// ChildEnvMarker tells a re-exec'd child it is already supervised so it
// starts the orchestrator directly instead of another supervisor.
const ChildEnvMarker = "INBOXD_SUPERVISED=1"

// Supervisor restarts its child on watched-file changes.
type Supervisor struct {
	watch    []string
	debounce time.Duration
	log      *logger.Logger
}

// New creates a supervisor watching the given files and directories.
func New(watch []string, log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.NewDefault("devreload")
	}
	return &Supervisor{
		watch:    watch,
		debounce: 500 * time.Millisecond,
		log:      log,
	}
}

// WithDebounce overrides the change-coalescing window.
func (s *Supervisor) WithDebounce(d time.Duration) {
	if d > 0 {
		s.debounce = d
	}
}

// Run starts binary with args and blocks, restarting the child on change
// until ctx is cancelled or the child exits on its own. The child's exit
// error is returned in the latter case.
func (s *Supervisor) Run(ctx context.Context, binary string, args []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, target := range watchTargets(s.watch) {
		if err := watcher.Add(target); err != nil {
			s.log.WithError(err).WithField("path", target).Warn("watch failed")
		}
	}

	for {
		child := exec.Command(binary, args...)
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.Env = append(os.Environ(), ChildEnvMarker)
		if err := child.Start(); err != nil {
			return err
		}
		s.log.WithField("pid", child.Process.Pid).Info("child started")

		exited := make(chan error, 1)
		go func() { exited <- child.Wait() }()

		restart, err := s.await(ctx, watcher, exited)
		if !restart {
			if err == nil {
				// ctx cancelled: pass the signal on and reap.
				_ = child.Process.Signal(syscall.SIGTERM)
				<-exited
			}
			return err
		}

		s.log.Info("change detected; restarting child")
		_ = child.Process.Signal(syscall.SIGTERM)
		<-exited
	}
}

// await blocks until a restart is due (restart=true), the child exits on its
// own (restart=false with its exit error), or ctx is cancelled (restart=false,
// nil error). Change bursts are coalesced into one restart.
func (s *Supervisor) await(ctx context.Context, watcher *fsnotify.Watcher, exited <-chan error) (bool, error) {
	var pending *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case err := <-exited:
			if err == nil {
				err = errors.New("child exited unexpectedly")
			}
			return false, err
		case event, ok := <-watcher.Events:
			if !ok {
				return false, errors.New("watcher closed")
			}
			if !relevant(event) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(s.debounce)
				fire = pending.C
			} else {
				pending.Reset(s.debounce)
			}
		case err, ok := <-watcher.Errors:
			if ok && err != nil {
				s.log.WithError(err).Warn("watch error")
			}
		case <-fire:
			return true, nil
		}
	}
}

func relevant(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

// watchTargets maps the configured file set onto watchable paths: files are
// replaced by their parent directory (editors often rename-and-replace, which
// drops file-level watches), directories pass through, duplicates collapse.
func watchTargets(paths []string) []string {
	seen := make(map[string]struct{})
	targets := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		target := p
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			target = filepath.Dir(p)
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	return targets
}
