package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/editorbridge/logging"
)

type registration struct {
	name  string
	step  Step
	phase int
	seq   int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l.WithComponent("shutdown")
	}
}

// Coordinator runs registered steps once, in phase order.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu     sync.Mutex
	steps  []registration
	once   sync.Once
	done   chan struct{}
	result *Result
}

// NewCoordinator creates a coordinator with no steps.
func NewCoordinator(config Config, opts ...Option) *Coordinator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	c := &Coordinator{
		config: config,
		logger: logging.New().WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a step. Steps registered after shutdown started are ignored.
func (c *Coordinator) Register(name string, phase int, step Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, registration{name: name, step: step, phase: phase, seq: len(c.steps)})
}

// Shutdown runs every step. Only the first call does work; later calls
// wait for it and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.result = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.result.Err
}

// Trigger starts a shutdown bounded by Config.Timeout in the background.
func (c *Coordinator) Trigger() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
		defer cancel()
		c.Shutdown(ctx)
	}()
}

// HandleSignals calls Trigger on SIGINT or SIGTERM. The returned function
// stops listening.
func (c *Coordinator) HandleSignals() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			c.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
			c.Trigger()
		case <-quit:
		}
	}()
	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(sigs)
			close(quit)
		})
	}
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) *Result {
	start := time.Now()

	c.mu.Lock()
	steps := append([]registration(nil), c.steps...)
	c.mu.Unlock()

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].phase != steps[j].phase {
			return steps[i].phase < steps[j].phase
		}
		return steps[i].seq < steps[j].seq
	})

	result := &Result{}
	var errs []error
	for _, phase := range byPhase(steps) {
		if ctx.Err() != nil {
			errs = append(errs, ErrTimeout)
			break
		}
		results := c.runPhase(ctx, phase)
		result.Steps = append(result.Steps, results...)

		failed := false
		for _, r := range results {
			if r.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
				failed = true
			}
		}
		if failed && c.config.StopOnError {
			break
		}
	}

	result.Duration = time.Since(start)
	if len(errs) > 0 {
		result.Err = errors.Join(append([]error{ErrStepFailed}, errs...)...)
	}
	c.logger.Info("shutdown complete", map[string]interface{}{
		"duration": result.Duration.String(),
		"steps":    len(result.Steps),
		"failed":   len(result.Failed()),
	})
	return result
}

func (c *Coordinator) runPhase(ctx context.Context, steps []registration) []StepResult {
	results := make([]StepResult, len(steps))
	var wg sync.WaitGroup
	for i, reg := range steps {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			started := time.Now()
			err := safeRun(ctx, reg.step)
			results[i] = StepResult{Name: reg.name, Phase: reg.phase, Duration: time.Since(started), Err: err}

			fields := map[string]interface{}{
				"step":     reg.name,
				"phase":    reg.phase,
				"duration": results[i].Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Error("step failed", fields)
				return
			}
			c.logger.Debug("step complete", fields)
		}(i, reg)
	}
	wg.Wait()
	return results
}

func safeRun(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step(ctx)
}

// byPhase splits phase-sorted steps into runs of equal phase.
func byPhase(steps []registration) [][]registration {
	var groups [][]registration
	for i := 0; i < len(steps); {
		j := i
		for j < len(steps) && steps[j].phase == steps[i].phase {
			j++
		}
		groups = append(groups, steps[i:j])
		i = j
	}
	return groups
}
