package system

import "context"

// Service represents a lifecycle-managed component. Units the orchestrator
// brings up implement this interface so they can be started and stopped
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
