package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when the deadline passes before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrStepFailed wraps the errors of failed steps.
	ErrStepFailed = errors.New("one or more shutdown steps failed")
)

// Phases used by RegisterBridge. Lower runs first.
const (
	PhaseServer    = 10
	PhaseClients   = 20
	PhaseAdapters  = 30
	PhaseBus       = 40
	PhaseTelemetry = 50
)

// Step releases one component. It should return once ctx is done.
type Step func(ctx context.Context) error

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	Duration time.Duration
	Steps    []StepResult
	Err      error
}

// Failed lists the names of steps that returned an error.
func (r *Result) Failed() []string {
	var failed []string
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds a shutdown started by a signal or Trigger.
	// Default: 30s
	Timeout time.Duration

	// StopOnError skips later phases once a step fails.
	StopOnError bool
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}
