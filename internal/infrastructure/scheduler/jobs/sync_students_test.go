package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/student"
	"github.com/cf-progress-hub/cf-progress-hub/internal/infrastructure/email"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeStore struct {
	students     []*student.Student
	replaced     map[string]*student.ProfileSnapshot
	histories    map[string][]student.ContestResult
	warnings     map[string]int
	replaceErr   error
	incrementErr error
}

func newFakeStore(students ...*student.Student) *fakeStore {
	return &fakeStore{
		students:  students,
		replaced:  make(map[string]*student.ProfileSnapshot),
		histories: make(map[string][]student.ContestResult),
		warnings:  make(map[string]int),
	}
}

func (f *fakeStore) FindAllWithProfile(ctx context.Context) ([]*student.Student, error) {
	return f.students, nil
}

func (f *fakeStore) ReplaceSyncData(ctx context.Context, id string, profile *student.ProfileSnapshot, history []student.ContestResult) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced[id] = profile
	f.histories[id] = history
	return nil
}

func (f *fakeStore) IncrementInactivityWarnings(ctx context.Context, id string) (int, error) {
	if f.incrementErr != nil {
		return 0, f.incrementErr
	}
	f.warnings[id]++
	return f.warnings[id], nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*student.Student, error) {
	for _, s := range f.students {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, errors.New("not found")
}

type fakeClient struct {
	submissions map[string][]student.Submission
	profiles    map[string]*student.ProfileSnapshot
	histories   map[string][]student.ContestResult
	subErr      map[string]error
	profileErr  map[string]error
	historyErr  map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		submissions: make(map[string][]student.Submission),
		profiles:    make(map[string]*student.ProfileSnapshot),
		histories:   make(map[string][]student.ContestResult),
		subErr:      make(map[string]error),
		profileErr:  make(map[string]error),
		historyErr:  make(map[string]error),
	}
}

func (f *fakeClient) FetchProfile(ctx context.Context, handle string) (*student.ProfileSnapshot, error) {
	if err := f.profileErr[handle]; err != nil {
		return nil, err
	}
	return f.profiles[handle], nil
}

func (f *fakeClient) FetchSubmissions(ctx context.Context, handle string, count int) ([]student.Submission, error) {
	if err := f.subErr[handle]; err != nil {
		return nil, err
	}
	return f.submissions[handle], nil
}

func (f *fakeClient) FetchContestHistory(ctx context.Context, handle string) ([]student.ContestResult, error) {
	if err := f.historyErr[handle]; err != nil {
		return nil, err
	}
	// An unconfigured handle behaves like an unrated account: a non-nil
	// empty history. Seeding an explicit nil simulates an unusable result.
	if h, ok := f.histories[handle]; ok {
		return h, nil
	}
	return []student.ContestResult{}, nil
}

type failMailer struct{}

func (failMailer) Send(ctx context.Context, msg email.Message) error {
	return errors.New("smtp relay down")
}

type fakeCache struct {
	profiles map[string]*student.ProfileSnapshot
	stats    interface{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{profiles: make(map[string]*student.ProfileSnapshot)}
}

func (f *fakeCache) StoreProfile(ctx context.Context, studentID string, profile *student.ProfileSnapshot) {
	f.profiles[studentID] = profile
}

func (f *fakeCache) StoreRunStats(ctx context.Context, stats interface{}) {
	f.stats = stats
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func testJobConfig() SyncStudentsConfig {
	return SyncStudentsConfig{
		InterStudentDelay:    time.Millisecond,
		SubmissionFetchCount: 50,
	}
}

func testStudent(id, handle string) *student.Student {
	return &student.Student{
		ID:     id,
		Name:   "Test Student",
		Email:  id + "@example.com",
		Handle: student.Handle(handle),
		Profile: &student.ProfileSnapshot{
			Handle:    handle,
			Rating:    1500,
			FetchedAt: time.Now().Add(-24 * time.Hour),
		},
	}
}

func recentSubmission() student.Submission {
	return student.Submission{
		ID:        1,
		ProblemID: "1700A",
		Verdict:   "OK",
		CreatedAt: time.Now().Add(-time.Hour),
	}
}

func staleSubmission() student.Submission {
	return student.Submission{
		ID:        2,
		ProblemID: "1600B",
		Verdict:   "WRONG_ANSWER",
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSyncStudentsJob_UpdatesActiveStudent(t *testing.T) {
	s := testStudent("s1", "tourist")
	store := newFakeStore(s)
	client := newFakeClient()
	client.submissions["tourist"] = []student.Submission{recentSubmission()}
	client.profiles["tourist"] = &student.ProfileSnapshot{Handle: "tourist", Rating: 3800}
	client.histories["tourist"] = []student.ContestResult{{ContestID: 1, NewRating: 3800}}
	cache := newFakeCache()

	job := NewSyncStudentsJob(store, client, email.NewConsoleMailer(slog.Default()), cache, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 3800, store.replaced["s1"].Rating)
	assert.Len(t, store.histories["s1"], 1)
	assert.Equal(t, 0, store.warnings["s1"])
	assert.Equal(t, 3800, cache.profiles["s1"].Rating)

	stats := job.LastSyncStats()
	assert.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalStudents)
	assert.Equal(t, 1, stats.UpdatedCount)
	assert.Equal(t, 0, stats.InactiveCount)
}

func TestSyncStudentsJob_InactiveStudentGetsReminder(t *testing.T) {
	s := testStudent("s1", "rustam")
	store := newFakeStore(s)
	client := newFakeClient()
	client.submissions["rustam"] = []student.Submission{staleSubmission()}
	client.profiles["rustam"] = &student.ProfileSnapshot{Handle: "rustam", Rating: 1400}
	mailer := email.NewConsoleMailer(slog.Default())

	job := NewSyncStudentsJob(store, client, mailer, nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 1, store.warnings["s1"])
	sent := mailer.Sent()
	assert.Len(t, sent, 1)
	assert.Equal(t, "s1@example.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "rustam")

	// The reminder does not stop the data refresh.
	assert.Equal(t, 1400, store.replaced["s1"].Rating)

	stats := job.LastSyncStats()
	assert.Equal(t, 1, stats.InactiveCount)
	assert.Equal(t, 1, stats.RemindersSent)
}

func TestSyncStudentsJob_EmptySubmissionsCountAsInactive(t *testing.T) {
	s := testStudent("s1", "newbie")
	store := newFakeStore(s)
	client := newFakeClient()
	client.profiles["newbie"] = &student.ProfileSnapshot{Handle: "newbie"}
	mailer := email.NewConsoleMailer(slog.Default())

	job := NewSyncStudentsJob(store, client, mailer, nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 1, store.warnings["s1"])
	assert.Len(t, mailer.Sent(), 1)
}

func TestSyncStudentsJob_ReminderFailureDoesNotFailRun(t *testing.T) {
	s := testStudent("s1", "quiet")
	store := newFakeStore(s)
	client := newFakeClient()
	client.submissions["quiet"] = []student.Submission{staleSubmission()}
	client.profiles["quiet"] = &student.ProfileSnapshot{Handle: "quiet", Rating: 1200}

	job := NewSyncStudentsJob(store, client, failMailer{}, nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	// Counter is already persisted before the delivery attempt.
	assert.Equal(t, 1, store.warnings["s1"])
	// And the data refresh still happens.
	assert.Equal(t, 1200, store.replaced["s1"].Rating)

	stats := job.LastSyncStats()
	assert.Equal(t, 0, stats.RemindersSent)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, "notification", stats.Errors[0].Phase)
}

func TestSyncStudentsJob_CounterWriteFailureSkipsRefresh(t *testing.T) {
	first := testStudent("s1", "quiet")
	second := testStudent("s2", "busy")
	store := newFakeStore(first, second)
	store.incrementErr = errors.New("connection reset")
	client := newFakeClient()
	client.submissions["quiet"] = []student.Submission{staleSubmission()}
	client.profiles["quiet"] = &student.ProfileSnapshot{Handle: "quiet"}
	client.submissions["busy"] = []student.Submission{recentSubmission()}
	client.profiles["busy"] = &student.ProfileSnapshot{Handle: "busy", Rating: 2100}

	job := NewSyncStudentsJob(store, client, email.NewConsoleMailer(slog.Default()), nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	// No refresh for the student whose warning write failed.
	_, refreshed := store.replaced["s1"]
	assert.False(t, refreshed)
	// The batch keeps going.
	assert.Equal(t, 2100, store.replaced["s2"].Rating)
}

func TestSyncStudentsJob_SubmissionLookupFailureStillRefreshes(t *testing.T) {
	s := testStudent("s1", "flaky")
	store := newFakeStore(s)
	client := newFakeClient()
	client.subErr["flaky"] = errors.New("timeout")
	client.profiles["flaky"] = &student.ProfileSnapshot{Handle: "flaky", Rating: 1700}

	job := NewSyncStudentsJob(store, client, email.NewConsoleMailer(slog.Default()), nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 0, store.warnings["s1"])
	assert.Equal(t, 1700, store.replaced["s1"].Rating)

	stats := job.LastSyncStats()
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, "inactivity", stats.Errors[0].Phase)
}

func TestSyncStudentsJob_PartialFetchLeavesRecordUntouched(t *testing.T) {
	s := testStudent("s1", "half")
	store := newFakeStore(s)
	client := newFakeClient()
	client.submissions["half"] = []student.Submission{recentSubmission()}
	client.profiles["half"] = &student.ProfileSnapshot{Handle: "half", Rating: 1900}
	client.historyErr["half"] = errors.New("503 service unavailable")

	job := NewSyncStudentsJob(store, client, email.NewConsoleMailer(slog.Default()), nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	// Profile fetch succeeded but the pair is only written together.
	assert.Empty(t, store.replaced)
	assert.Empty(t, store.histories)

	stats := job.LastSyncStats()
	assert.Equal(t, 0, stats.UpdatedCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, "refresh", stats.Errors[0].Phase)
}

func TestSyncStudentsJob_NilHistoryLeavesRecordUntouched(t *testing.T) {
	s := testStudent("s1", "alice")
	store := newFakeStore(s)
	store.histories["s1"] = []student.ContestResult{{ContestID: 7, NewRating: 1500}}
	client := newFakeClient()
	client.submissions["alice"] = []student.Submission{recentSubmission()}
	client.profiles["alice"] = &student.ProfileSnapshot{Handle: "alice", Rating: 1600}
	client.histories["alice"] = nil

	job := NewSyncStudentsJob(store, client, email.NewConsoleMailer(slog.Default()), nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	// A history fetch with no usable result must not replace the pair,
	// even though the profile fetch succeeded.
	_, replaced := store.replaced["s1"]
	assert.False(t, replaced)
	assert.Len(t, store.histories["s1"], 1)

	stats := job.LastSyncStats()
	assert.Equal(t, 0, stats.UpdatedCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, "refresh", stats.Errors[0].Phase)
}

func TestSyncStudentsJob_UnratedHistoryStillRefreshes(t *testing.T) {
	s := testStudent("s1", "newbie")
	store := newFakeStore(s)
	client := newFakeClient()
	client.submissions["newbie"] = []student.Submission{recentSubmission()}
	client.profiles["newbie"] = &student.ProfileSnapshot{Handle: "newbie", Rating: 0}

	job := NewSyncStudentsJob(store, client, email.NewConsoleMailer(slog.Default()), nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	// An unrated account refreshes with an empty, non-nil history.
	assert.Contains(t, store.replaced, "s1")
	assert.NotNil(t, store.histories["s1"])
	assert.Empty(t, store.histories["s1"])
}

func TestSyncStudentsJob_EmptyRosterIsNoOp(t *testing.T) {
	store := newFakeStore()
	mailer := email.NewConsoleMailer(slog.Default())

	job := NewSyncStudentsJob(store, newFakeClient(), mailer, nil, slog.Default(), testJobConfig())

	err := job.Run(context.Background())
	assert.NoError(t, err)

	assert.Empty(t, store.replaced)
	assert.Empty(t, mailer.Sent())

	stats := job.LastSyncStats()
	assert.Equal(t, 0, stats.TotalStudents)
	assert.Equal(t, 0, stats.FailedCount)
}

func TestSyncStudentsJob_RejectsConcurrentRun(t *testing.T) {
	store := newFakeStore()
	job := NewSyncStudentsJob(store, newFakeClient(), email.NewConsoleMailer(slog.Default()), nil, slog.Default(), testJobConfig())

	job.running.Store(true)
	err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	job.running.Store(false)
	err = job.Run(context.Background())
	assert.NoError(t, err)
}

func TestSyncStudentsJob_SyncSingleStudent(t *testing.T) {
	s := testStudent("s1", "fresh")
	store := newFakeStore(s)
	client := newFakeClient()
	client.profiles["fresh"] = &student.ProfileSnapshot{Handle: "fresh", Rating: 900}
	client.histories["fresh"] = []student.ContestResult{{ContestID: 42, NewRating: 900}}
	cache := newFakeCache()

	job := NewSyncStudentsJob(store, client, email.NewConsoleMailer(slog.Default()), cache, slog.Default(), testJobConfig())

	err := job.SyncSingleStudent(context.Background(), "s1")
	assert.NoError(t, err)

	assert.Equal(t, 900, store.replaced["s1"].Rating)
	assert.Len(t, store.histories["s1"], 1)
	assert.Equal(t, 900, cache.profiles["s1"].Rating)

	// The inactivity check is a batch concern only.
	assert.Equal(t, 0, store.warnings["s1"])
}

func TestSyncStudentsJob_SyncSingleStudent_NilHistory(t *testing.T) {
	s := testStudent("s1", "fresh")
	store := newFakeStore(s)
	client := newFakeClient()
	client.profiles["fresh"] = &student.ProfileSnapshot{Handle: "fresh", Rating: 900}
	client.histories["fresh"] = nil

	job := NewSyncStudentsJob(store, client, email.NewConsoleMailer(slog.Default()), nil, slog.Default(), testJobConfig())

	err := job.SyncSingleStudent(context.Background(), "s1")
	assert.Error(t, err)
	assert.Empty(t, store.replaced)
}
