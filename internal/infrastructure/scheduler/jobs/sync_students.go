// Package jobs contains implementations of scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/student"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/email"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC STUDENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ErrSyncInProgress is returned when a run is requested while another run is
// still executing. The caller is expected to surface this, not queue behind it.
var ErrSyncInProgress = errors.New("jobs: sync already in progress")

// StudentStore is the roster surface the sync engine needs: the targeted
// sync writes plus a single-record read for on-demand refreshes.
type StudentStore interface {
	student.SyncRepository
	GetByID(ctx context.Context, id string) (*student.Student, error)
}

// CodeforcesClient defines the interface for fetching data from Codeforces.
type CodeforcesClient interface {
	// FetchProfile fetches the current profile snapshot for a handle.
	FetchProfile(ctx context.Context, handle string) (*student.ProfileSnapshot, error)

	// FetchSubmissions fetches recent submissions for a handle, newest first.
	FetchSubmissions(ctx context.Context, handle string, count int) ([]student.Submission, error)

	// FetchContestHistory fetches the rated contest history for a handle.
	// An unrated account yields an empty history, not an error.
	FetchContestHistory(ctx context.Context, handle string) ([]student.ContestResult, error)
}

// ProfileCache receives successfully synced snapshots for hot reads.
// All methods are best-effort.
type ProfileCache interface {
	StoreProfile(ctx context.Context, studentID string, profile *student.ProfileSnapshot)
	StoreRunStats(ctx context.Context, stats interface{})
}

// SyncStudentsConfig contains configuration for the sync job.
type SyncStudentsConfig struct {
	// InterStudentDelay is the pause between consecutive students. The
	// public API tolerates roughly one request per half second, and each
	// student costs three requests.
	InterStudentDelay time.Duration

	// SubmissionFetchCount is how many recent submissions to request per
	// student. The inactivity check only needs the newest ones.
	SubmissionFetchCount int

	// Timeout is the maximum duration for the entire sync run.
	Timeout time.Duration

	// DisableReminders suppresses the inactivity emails. The warning
	// counter is still incremented.
	DisableReminders bool
}

// DefaultSyncStudentsConfig returns sensible defaults.
func DefaultSyncStudentsConfig() SyncStudentsConfig {
	return SyncStudentsConfig{
		InterStudentDelay:    500 * time.Millisecond,
		SubmissionFetchCount: 50,
		Timeout:              30 * time.Minute,
	}
}

// SyncStats contains statistics from a sync run.
type SyncStats struct {
	StartedAt     time.Time     `json:"startedAt"`
	CompletedAt   time.Time     `json:"completedAt"`
	Duration      time.Duration `json:"duration"`
	TotalStudents int           `json:"totalStudents"`
	UpdatedCount  int           `json:"updatedCount"`
	InactiveCount int           `json:"inactiveCount"`
	RemindersSent int           `json:"remindersSent"`
	FailedCount   int           `json:"failedCount"`
	Errors        []SyncError   `json:"errors,omitempty"`
}

// SyncError represents a per-student error during sync.
type SyncError struct {
	StudentID  string    `json:"studentId"`
	Handle     string    `json:"handle"`
	Phase      string    `json:"phase"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

// SyncStudentsJob refreshes every onboarded student from Codeforces.
//
// Students are processed strictly one at a time, with a pacing delay in
// between. Each student gets two phases:
//
//   - Phase A, inactivity: fetch recent submissions; when none fall inside
//     the inactivity window, bump the warning counter and send a reminder.
//     The reminder is best-effort and can never fail the cycle.
//   - Phase B, data refresh: fetch profile and contest history; only when
//     both succeed is the stored pair replaced, in one atomic write.
//
// A failure for one student never aborts the batch. The one exception
// inside a cycle: when the warning counter write fails in Phase A, Phase B
// is skipped for that student, because refreshed data would mask the fact
// that the student was found inactive.
type SyncStudentsJob struct {
	studentRepo StudentStore
	client      CodeforcesClient
	mailer      email.Mailer
	cache       ProfileCache
	logger      *slog.Logger
	config      SyncStudentsConfig

	running       atomic.Bool
	lastSyncStats atomic.Value // *SyncStats
}

// NewSyncStudentsJob creates a new sync job. cache may be nil.
func NewSyncStudentsJob(
	studentRepo StudentStore,
	client CodeforcesClient,
	mailer email.Mailer,
	cache ProfileCache,
	logger *slog.Logger,
	config SyncStudentsConfig,
) *SyncStudentsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.InterStudentDelay <= 0 {
		config.InterStudentDelay = 500 * time.Millisecond
	}
	if config.SubmissionFetchCount <= 0 {
		config.SubmissionFetchCount = 50
	}

	return &SyncStudentsJob{
		studentRepo: studentRepo,
		client:      client,
		mailer:      mailer,
		cache:       cache,
		logger:      logger,
		config:      config,
	}
}

// Name returns the job name.
func (j *SyncStudentsJob) Name() string {
	return "sync_students"
}

// Description returns a human-readable description.
func (j *SyncStudentsJob) Description() string {
	return "Refreshes profile, contest history and inactivity state for every onboarded student"
}

// Running reports whether a sync run is currently executing.
func (j *SyncStudentsJob) Running() bool {
	return j.running.Load()
}

// Run executes one full sync pass. Returns ErrSyncInProgress when another
// pass is still executing.
func (j *SyncStudentsJob) Run(ctx context.Context) error {
	if !j.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer j.running.Store(false)

	startedAt := time.Now()
	stats := &SyncStats{
		StartedAt: startedAt,
		Errors:    make([]SyncError, 0),
	}

	j.logger.Info("starting sync_students job")

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	students, err := j.studentRepo.FindAllWithProfile(ctx)
	if err != nil {
		return fmt.Errorf("failed to load roster: %w", err)
	}

	stats.TotalStudents = len(students)
	j.logger.Info("found students to sync", "count", stats.TotalStudents)

	for i, s := range students {
		select {
		case <-ctx.Done():
			j.finalize(ctx, stats)
			return ctx.Err()
		default:
		}

		j.syncStudent(ctx, s, stats)

		// Pace the API between students, not after the last one.
		if i < len(students)-1 {
			select {
			case <-ctx.Done():
				j.finalize(ctx, stats)
				return ctx.Err()
			case <-time.After(j.config.InterStudentDelay):
			}
		}
	}

	j.finalize(ctx, stats)

	j.logger.Info("sync_students job completed",
		"duration", stats.Duration.String(),
		"total", stats.TotalStudents,
		"updated", stats.UpdatedCount,
		"inactive", stats.InactiveCount,
		"reminders", stats.RemindersSent,
		"failed", stats.FailedCount,
	)

	return nil
}

// syncStudent runs both phases for one student. All failures are recorded
// in stats; none propagate.
func (j *SyncStudentsJob) syncStudent(ctx context.Context, s *student.Student, stats *SyncStats) {
	handle := s.Handle.String()

	// ── Phase A: inactivity check ────────────────────────────────────────
	counterWriteFailed := false

	submissions, err := j.client.FetchSubmissions(ctx, handle, j.config.SubmissionFetchCount)
	if err != nil {
		// A lookup failure here must not block the data refresh below.
		j.recordError(stats, s, "inactivity", err)
		j.logger.Warn("failed to fetch submissions",
			"student_id", s.ID,
			"handle", handle,
			"error", err)
	} else if student.IsInactive(submissions, time.Now()) {
		warnings, err := j.studentRepo.IncrementInactivityWarnings(ctx, s.ID)
		if err != nil {
			// The counter write failed, so refreshed sync data would
			// claim a healthier record than we actually have. Skip
			// Phase B for this student and move on.
			counterWriteFailed = true
			j.recordError(stats, s, "inactivity", err)
			j.logger.Error("failed to increment inactivity warnings",
				"student_id", s.ID,
				"handle", handle,
				"error", err)
		} else {
			stats.InactiveCount++
			if !j.config.DisableReminders {
				j.sendReminder(ctx, s, warnings, stats)
			}
		}
	}

	if counterWriteFailed {
		return
	}

	// ── Phase B: data refresh ────────────────────────────────────────────
	profile, err := j.client.FetchProfile(ctx, handle)
	if err != nil {
		j.recordError(stats, s, "refresh", err)
		j.logger.Warn("failed to fetch profile, record left untouched",
			"student_id", s.ID,
			"handle", handle,
			"error", err)
		return
	}

	history, err := j.client.FetchContestHistory(ctx, handle)
	if err != nil || history == nil {
		// A nil history means the fetch did not produce a usable result.
		// Overwriting the stored history with it would erase real data,
		// so the whole refresh is abandoned. An unrated account arrives
		// as a non-nil empty slice and passes through.
		if err == nil {
			err = errors.New("contest history unavailable")
		}
		j.recordError(stats, s, "refresh", err)
		j.logger.Warn("failed to fetch contest history, record left untouched",
			"student_id", s.ID,
			"handle", handle,
			"error", err)
		return
	}

	if err := j.studentRepo.ReplaceSyncData(ctx, s.ID, profile, history); err != nil {
		j.recordError(stats, s, "refresh", err)
		j.logger.Error("failed to store sync data",
			"student_id", s.ID,
			"handle", handle,
			"error", err)
		return
	}

	stats.UpdatedCount++
	if j.cache != nil {
		j.cache.StoreProfile(ctx, s.ID, profile)
	}
}

// sendReminder delivers the inactivity reminder. Best-effort: a delivery
// failure is logged and counted, nothing more.
func (j *SyncStudentsJob) sendReminder(ctx context.Context, s *student.Student, warnings int, stats *SyncStats) {
	msg := email.InactivityReminder(s.Email, s.Name, s.Handle.String(), warnings)
	if err := j.mailer.Send(ctx, msg); err != nil {
		j.recordError(stats, s, "notification", err)
		j.logger.Warn("failed to send inactivity reminder",
			"student_id", s.ID,
			"email", s.Email,
			"error", err)
		return
	}
	stats.RemindersSent++
}

// recordError appends a per-student error to the run stats.
func (j *SyncStudentsJob) recordError(stats *SyncStats, s *student.Student, phase string, err error) {
	stats.FailedCount++
	stats.Errors = append(stats.Errors, SyncError{
		StudentID:  s.ID,
		Handle:     s.Handle.String(),
		Phase:      phase,
		Message:    err.Error(),
		OccurredAt: time.Now(),
	})
}

// finalize stamps the stats and publishes them.
func (j *SyncStudentsJob) finalize(ctx context.Context, stats *SyncStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastSyncStats.Store(stats)

	if j.cache != nil {
		j.cache.StoreRunStats(ctx, stats)
	}
}

// LastSyncStats returns statistics from the last sync run, or nil when no
// run completed yet.
func (j *SyncStudentsJob) LastSyncStats() *SyncStats {
	stats := j.lastSyncStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SyncStats)
}

// ══════════════════════════════════════════════════════════════════════════════
// SINGLE STUDENT SYNC (onboarding and on-demand refresh)
// ══════════════════════════════════════════════════════════════════════════════

// SyncSingleStudent fetches and stores sync data for one student by ID.
// Used to onboard freshly created records and for on-demand refreshes; it
// does not run the inactivity check and ignores the busy flag.
func (j *SyncStudentsJob) SyncSingleStudent(ctx context.Context, studentID string) error {
	s, err := j.studentRepo.GetByID(ctx, studentID)
	if err != nil {
		return err
	}

	handle := s.Handle.String()

	profile, err := j.client.FetchProfile(ctx, handle)
	if err != nil {
		return fmt.Errorf("fetch profile for %s: %w", handle, err)
	}

	history, err := j.client.FetchContestHistory(ctx, handle)
	if err != nil {
		return fmt.Errorf("fetch contest history for %s: %w", handle, err)
	}
	if history == nil {
		return fmt.Errorf("contest history unavailable for %s", handle)
	}

	if err := j.studentRepo.ReplaceSyncData(ctx, s.ID, profile, history); err != nil {
		return err
	}

	if j.cache != nil {
		j.cache.StoreProfile(ctx, s.ID, profile)
	}

	return nil
}
