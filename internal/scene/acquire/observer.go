package acquire

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/scene.report/internal/scene"
)

// AccessStatus is the outcome of an access request to the sensing layer.
type AccessStatus int

const (
	AccessUnknown AccessStatus = iota
	AccessAllowed
	AccessDeniedByUser
	AccessDeniedBySystem
)

func (s AccessStatus) String() string {
	switch s {
	case AccessAllowed:
		return "allowed"
	case AccessDeniedByUser:
		return "denied_by_user"
	case AccessDeniedBySystem:
		return "denied_by_system"
	default:
		return "unknown"
	}
}

// Observer is the sensing layer the loop samples.
//
// Query may take seconds at fine levels of detail. Implementations should
// return promptly once ctx is cancelled, but the loop tolerates one that
// does not: the late result is discarded. A returned snapshot is handed
// over to the loop and must not be modified by the observer afterwards.
type Observer interface {
	IsSupported() bool
	RequestAccess(ctx context.Context) (AccessStatus, error)
	Query(ctx context.Context, settings scene.QuerySettings) (*scene.Snapshot, error)
}

var (
	// ErrUnsupported is returned by Start when the platform has no scene
	// understanding support.
	ErrUnsupported = errors.New("scene understanding is not supported")

	// ErrAccessDenied is returned by Start when access was not granted.
	ErrAccessDenied = errors.New("scene understanding access denied")

	// ErrAlreadyRunning is returned by Start on a loop that is running.
	ErrAlreadyRunning = errors.New("acquisition loop already running")

	errNilSnapshot = errors.New("observer returned nil snapshot without error")
)

// accessError wraps ErrAccessDenied with the status that caused it.
func accessError(status AccessStatus, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %w", ErrAccessDenied, cause)
	}
	return fmt.Errorf("%w: %s", ErrAccessDenied, status)
}
