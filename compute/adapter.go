package compute

import (
	"context"
	"errors"
	"fmt"
)

// Adapter is the vendor-neutral interface to the external compute provider
// that actually runs worker machines. Every method can fail with NotFound,
// Unreachable, or a transient error; callers convert those into worker
// state updates instead of surfacing them.
type Adapter interface {
	// Provision creates a machine for the worker and returns its id.
	Provision(ctx context.Context, workerID string) (machineID string, err error)

	// Start boots a previously stopped machine.
	Start(ctx context.Context, machineID string) error

	// Stop halts a machine without destroying it.
	Stop(ctx context.Context, machineID string) error

	// Destroy removes a machine. NotFound is success: the machine is gone.
	Destroy(ctx context.Context, machineID string) error

	// HealthCheck probes a machine and reports which nets it has loaded.
	HealthCheck(ctx context.Context, machineID string) (*HealthReport, error)

	// Name returns a human-readable provider name.
	Name() string
}

// HealthReport is the provider's view of one machine. The provider is
// authoritative for which nets are actually loaded.
type HealthReport struct {
	LoadedNets []string `json:"loaded_nets"`
}

var (
	// ErrNotFound: the external resource no longer exists.
	ErrNotFound = errors.New("compute resource not found")
	// ErrUnreachable: the provider or machine could not be reached.
	ErrUnreachable = errors.New("compute resource unreachable")
	// ErrTransient: a retryable provider-side failure.
	ErrTransient = errors.New("transient compute failure")
)

func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }
func IsUnreachable(err error) bool { return errors.Is(err, ErrUnreachable) }
func IsTransient(err error) bool   { return errors.Is(err, ErrTransient) }

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Unreachablef wraps ErrUnreachable with context.
func Unreachablef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnreachable)...)
}

// Transientf wraps ErrTransient with context.
func Transientf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}
