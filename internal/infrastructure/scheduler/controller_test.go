package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/shared"
)

type fakeScheduleStore struct {
	loaded     string
	loadErr    error
	persistErr error
	persisted  []string
}

func (f *fakeScheduleStore) Load(ctx context.Context) (string, error) {
	return f.loaded, f.loadErr
}

func (f *fakeScheduleStore) Persist(ctx context.Context, expression string) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persisted = append(f.persisted, expression)
	return nil
}

type fakeJob struct {
	runs   atomic.Int64
	runErr error
}

func (f *fakeJob) Name() string        { return "fake_job" }
func (f *fakeJob) Description() string { return "test job" }

func (f *fakeJob) Run(ctx context.Context) error {
	f.runs.Add(1)
	return f.runErr
}

func testController(job Job, store *fakeScheduleStore) *Controller {
	return NewController(job, store, ControllerConfig{
		DefaultExpression: EveryDayMidnight,
		Location:          time.UTC,
	})
}

func TestController_StartTwiceFails(t *testing.T) {
	c := testController(&fakeJob{}, &fakeScheduleStore{})
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestController_StartUsesPersistedExpression(t *testing.T) {
	store := &fakeScheduleStore{loaded: "30 18 * * *"}
	c := testController(&fakeJob{}, store)
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))
	assert.Equal(t, "30 18 * * *", c.Expression())
}

func TestController_StartFallsBackWhenPersistedInvalid(t *testing.T) {
	store := &fakeScheduleStore{loaded: "not a cron line"}
	c := testController(&fakeJob{}, store)
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))
	assert.Equal(t, EveryDayMidnight, c.Expression())
}

func TestController_StartFallsBackWhenLoadFails(t *testing.T) {
	store := &fakeScheduleStore{loadErr: errors.New("connection refused")}
	c := testController(&fakeJob{}, store)
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))
	assert.Equal(t, EveryDayMidnight, c.Expression())
}

func TestController_ReconfigureRejectsInvalidExpression(t *testing.T) {
	store := &fakeScheduleStore{}
	c := testController(&fakeJob{}, store)
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))

	err := c.Reconfigure(context.Background(), "61 * * * *")
	assert.ErrorIs(t, err, shared.ErrInvalidSchedule)

	// The armed schedule is untouched and nothing was persisted.
	assert.Equal(t, EveryDayMidnight, c.Expression())
	assert.Empty(t, store.persisted)
}

func TestController_ReconfigureRejectsUnmatchableExpression(t *testing.T) {
	store := &fakeScheduleStore{}
	c := testController(&fakeJob{}, store)
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))

	// Parses field by field, but February 31st never occurs.
	err := c.Reconfigure(context.Background(), "0 0 31 2 *")
	assert.ErrorIs(t, err, shared.ErrInvalidSchedule)

	assert.Equal(t, EveryDayMidnight, c.Expression())
	assert.Empty(t, store.persisted)
}

func TestController_ReconfigureSwapsAndPersists(t *testing.T) {
	store := &fakeScheduleStore{}
	c := testController(&fakeJob{}, store)
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))
	before := c.Status().NextRun

	assert.NoError(t, c.Reconfigure(context.Background(), EveryMinute))

	assert.Equal(t, EveryMinute, c.Expression())
	assert.Equal(t, []string{EveryMinute}, store.persisted)
	assert.False(t, c.Status().NextRun.After(before))
}

func TestController_ReconfigureRollsBackOnPersistFailure(t *testing.T) {
	store := &fakeScheduleStore{persistErr: errors.New("disk full")}
	c := testController(&fakeJob{}, store)
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))
	before := c.Status()

	err := c.Reconfigure(context.Background(), EveryMinute)
	assert.Error(t, err)

	// The previous schedule stays in effect.
	assert.Equal(t, EveryDayMidnight, c.Expression())
	assert.Equal(t, before.NextRun, c.Status().NextRun)
}

func TestController_RunNowWorksWithoutStart(t *testing.T) {
	// With the timer never armed, manual triggers still execute the job.
	job := &fakeJob{}
	c := testController(job, &fakeScheduleStore{})
	defer c.Stop()

	assert.NoError(t, c.RunNow(context.Background()))
	assert.Equal(t, int64(1), job.runs.Load())
}

func TestController_RunNowAfterStopFails(t *testing.T) {
	c := testController(&fakeJob{}, &fakeScheduleStore{})
	assert.NoError(t, c.Start(context.Background()))
	c.Stop()

	assert.ErrorIs(t, c.RunNow(context.Background()), ErrNotStarted)
}

func TestController_RunNowExecutesJob(t *testing.T) {
	job := &fakeJob{}
	c := testController(job, &fakeScheduleStore{})
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))
	assert.NoError(t, c.RunNow(context.Background()))

	assert.Equal(t, int64(1), job.runs.Load())
	status := c.Status()
	assert.Equal(t, int64(1), status.RunCount)
	assert.False(t, status.LastRun.IsZero())
}

func TestController_RunNowPropagatesJobError(t *testing.T) {
	job := &fakeJob{runErr: errors.New("sync already in progress")}
	c := testController(job, &fakeScheduleStore{})
	defer c.Stop()

	assert.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.RunNow(context.Background()))
}

func TestController_ScheduledRunFires(t *testing.T) {
	store := &fakeScheduleStore{loaded: EveryMinute}
	job := &fakeJob{}
	c := testController(job, store)

	assert.NoError(t, c.Start(context.Background()))

	// Force the timer to fire immediately instead of waiting a minute.
	c.mu.Lock()
	c.nextRun = time.Now().Add(10 * time.Millisecond)
	c.mu.Unlock()
	c.wake()

	assert.Eventually(t, func() bool {
		return job.runs.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop()
}

func TestController_UnmatchableScheduleDoesNotHotLoop(t *testing.T) {
	// A persisted expression with no next occurrence must park the loop,
	// not fire on a zero deadline over and over.
	store := &fakeScheduleStore{loaded: "0 0 31 2 *"}
	job := &fakeJob{}
	c := testController(job, store)

	assert.NoError(t, c.Start(context.Background()))
	time.Sleep(300 * time.Millisecond)
	c.Stop()

	assert.Equal(t, int64(0), job.runs.Load())
}

type blockingJob struct {
	started chan struct{}
}

func (b *blockingJob) Name() string        { return "blocking_job" }
func (b *blockingJob) Description() string { return "runs until cancelled" }

func (b *blockingJob) Run(ctx context.Context) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestController_StopCancelsManualRun(t *testing.T) {
	job := &blockingJob{started: make(chan struct{})}
	c := testController(job, &fakeScheduleStore{})

	done := make(chan error, 1)
	go func() { done <- c.RunNow(context.Background()) }()

	<-job.started
	c.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("manual run was not released by Stop")
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	c := testController(&fakeJob{}, &fakeScheduleStore{})
	assert.NoError(t, c.Start(context.Background()))

	c.Stop()
	c.Stop()

	assert.False(t, c.Status().Running)
}
