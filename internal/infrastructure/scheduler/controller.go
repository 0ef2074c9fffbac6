package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/shared"
	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of schedulable work.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. Implementations must honor context cancellation.
	Run(ctx context.Context) error

	// Description returns a human-readable description.
	Description() string
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE CONTROLLER
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("scheduler: controller already started")

	// ErrNotStarted is returned when the controller is not running.
	ErrNotStarted = errors.New("scheduler: controller not started")
)

// ControllerConfig configures the schedule controller.
type ControllerConfig struct {
	// DefaultExpression is used when no expression was ever persisted, or
	// when the persisted one no longer parses.
	DefaultExpression string

	// Location is the timezone the cron expression is evaluated in.
	Location *time.Location

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultControllerConfig returns sensible defaults: a daily run at
// midnight, evaluated in the local timezone.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		DefaultExpression: EveryDayMidnight,
		Location:          time.Local,
	}
}

// Controller owns the single recurring sync schedule. Exactly one timer is
// armed at any moment; Reconfigure atomically swaps it for a new expression
// and falls back to the previous one when persisting the new value fails.
type Controller struct {
	job    Job
	store  student.ScheduleStore
	logger *slog.Logger
	config ControllerConfig

	mu       sync.Mutex
	expr     *CronExpression
	running  bool
	stopped  bool
	nextRun  time.Time
	lastRun  time.Time
	runCount int64

	stopCh chan struct{}
	wakeCh chan struct{}
	wg     sync.WaitGroup
}

// NewController creates a schedule controller for the given job.
func NewController(job Job, store student.ScheduleStore, cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DefaultExpression == "" {
		cfg.DefaultExpression = EveryDayMidnight
	}

	return &Controller{
		job:    job,
		store:  store,
		logger: cfg.Logger,
		config: cfg,
		stopCh: make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
	}
}

// Start loads the persisted schedule (falling back to the default) and arms
// the timer. Returns ErrAlreadyStarted on a second call.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.stopped {
		return ErrAlreadyStarted
	}

	expression := c.config.DefaultExpression
	persisted, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load persisted schedule, using default",
			"default", expression,
			"error", err)
	} else if persisted != "" {
		expression = persisted
	}

	expr, err := ParseCronExpression(expression)
	if err != nil {
		// A stale persisted value must not keep the whole worker down.
		c.logger.Warn("persisted schedule no longer parses, using default",
			"expression", expression,
			"default", c.config.DefaultExpression,
			"error", err)
		expr, err = ParseCronExpression(c.config.DefaultExpression)
		if err != nil {
			return shared.WrapError("schedule", "Start", shared.ErrInvalidSchedule,
				"default expression "+c.config.DefaultExpression, err)
		}
	}

	c.expr = expr
	c.nextRun = expr.Next(time.Now().In(c.config.Location))
	c.running = true

	c.logger.Info("schedule controller started",
		"job", c.job.Name(),
		"expression", expr.String(),
		"timezone", c.config.Location.String(),
		"next_run", c.nextRun.Format(time.RFC3339))

	c.wg.Add(1)
	go c.run(ctx)

	return nil
}

// Reconfigure validates the new expression, persists it, and re-arms the
// timer. On a persistence failure the previous expression stays in effect
// and the error is returned.
func (c *Controller) Reconfigure(ctx context.Context, expression string) error {
	expr, err := ParseCronExpression(expression)
	if err != nil {
		return shared.WrapError("schedule", "Reconfigure", shared.ErrInvalidSchedule, expression, err)
	}

	next := expr.Next(time.Now().In(c.config.Location))
	if next.IsZero() {
		// Parses but never matches, e.g. a day-of-month that no month has.
		return shared.NewDomainError("schedule", "Reconfigure", shared.ErrInvalidSchedule,
			"expression never matches: "+expression)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.expr
	prevNext := c.nextRun

	// Disarm the old schedule before touching the store so a fire during
	// the swap runs at most one of the two schedules.
	c.expr = expr
	c.nextRun = next

	if err := c.store.Persist(ctx, expression); err != nil {
		c.expr = prev
		c.nextRun = prevNext
		c.wake()
		c.logger.Error("failed to persist schedule, previous schedule re-armed",
			"expression", expression,
			"error", err)
		return err
	}

	c.wake()
	c.logger.Info("schedule reconfigured",
		"job", c.job.Name(),
		"expression", expression,
		"next_run", c.nextRun.Format(time.RFC3339))

	return nil
}

// RunNow triggers the job immediately, outside the schedule. It does not
// require an armed timer, so manual runs work with the scheduler disabled.
// The job's own overlap guard decides whether a concurrent run is rejected.
// The run counts toward Stop's wait and is cancelled when Stop is called.
func (c *Controller) RunNow(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	c.logger.Info("manual run triggered", "job", c.job.Name())
	return c.runJob(runCtx, "manual")
}

// Stop disarms the timer, cancels manual runs, and waits for all in-flight
// runs to finish. The controller cannot be restarted afterwards.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("schedule controller stopped", "job", c.job.Name())
}

// ControllerStatus is a point-in-time snapshot of the controller.
type ControllerStatus struct {
	Running    bool      `json:"running"`
	Expression string    `json:"expression"`
	NextRun    time.Time `json:"nextRun"`
	LastRun    time.Time `json:"lastRun,omitempty"`
	RunCount   int64     `json:"runCount"`
}

// Status returns the current status of the controller.
func (c *Controller) Status() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := ControllerStatus{
		Running:  c.running,
		NextRun:  c.nextRun,
		LastRun:  c.lastRun,
		RunCount: c.runCount,
	}
	if c.expr != nil {
		status.Expression = c.expr.String()
	}
	return status
}

// Expression returns the currently armed cron expression.
func (c *Controller) Expression() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expr == nil {
		return ""
	}
	return c.expr.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal
// ─────────────────────────────────────────────────────────────────────────────

// wake pokes the run loop to recompute its timer. Non-blocking; a pending
// wake is enough.
func (c *Controller) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// run is the single timer loop. Scheduled runs execute inline, so two
// scheduled runs can never overlap by construction.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		next := c.nextRun
		c.mu.Unlock()

		if next.IsZero() {
			// An armed expression with no matching time must not fire on a
			// zero deadline. Park until the schedule changes.
			c.logger.Error("schedule has no next run, waiting for reconfiguration",
				"job", c.job.Name(),
				"expression", c.Expression())
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-c.wakeCh:
				continue
			}
		}

		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case <-c.stopCh:
			timer.Stop()
			return

		case <-c.wakeCh:
			// Schedule changed, recompute the timer.
			timer.Stop()
			continue

		case <-timer.C:
			c.mu.Lock()
			now := time.Now().In(c.config.Location)
			c.nextRun = c.expr.Next(now)
			c.mu.Unlock()

			if err := c.runJob(ctx, "scheduled"); err != nil {
				c.logger.Error("scheduled run failed",
					"job", c.job.Name(),
					"error", err)
			}
		}
	}
}

// runJob executes the job once and records run metadata.
func (c *Controller) runJob(ctx context.Context, trigger string) error {
	c.mu.Lock()
	c.lastRun = time.Now().In(c.config.Location)
	c.runCount++
	c.mu.Unlock()

	start := time.Now()
	err := c.job.Run(ctx)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("job run failed",
			"job", c.job.Name(),
			"trigger", trigger,
			"duration", duration,
			"error", err)
		return err
	}

	c.logger.Info("job run completed",
		"job", c.job.Name(),
		"trigger", trigger,
		"duration", duration)
	return nil
}
