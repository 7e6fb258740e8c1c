// Package preflight implements the one-time readiness check that runs before
// any other startup logic: the sync-engine installation must be present on
// the host, otherwise the process terminates with a remediation message.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrPreconditionFailed marks a missing external dependency. Startup must
// abort with exit status 1 when this is returned.
var ErrPreconditionFailed = errors.New("precondition failed")

// SyncEngineBinary is the installation marker probed on PATH.
const SyncEngineBinary = "inbox-sync"

// markerEnv overrides the probe target, pointing at an installation marker
// file instead of a PATH lookup.
const markerEnv = "INBOXD_SYNC_ENGINE_MARKER"

// Remediation is the operator-facing message emitted when the check fails.
const Remediation = "sync engine not found; install it and ensure " + SyncEngineBinary +
	" is on PATH (see the deployment guide's setup section)"

// CheckSyncEngine verifies the sync-engine installation is reachable. It
// must run before configuration loading or any subsystem construction.
func CheckSyncEngine() error {
	if marker := os.Getenv(markerEnv); marker != "" {
		if _, err := os.Stat(marker); err != nil {
			return fmt.Errorf("%w: %s", ErrPreconditionFailed, Remediation)
		}
		return nil
	}
	if _, err := exec.LookPath(SyncEngineBinary); err != nil {
		return fmt.Errorf("%w: %s", ErrPreconditionFailed, Remediation)
	}
	return nil
}
