package student

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// These interfaces define the contract for the persistence layer.
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ListOptions controls pagination for bulk reads.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns sensible pagination defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 25, Offset: 0}
}

// Repository defines CRUD operations over the student roster.
type Repository interface {
	// Create creates a new student.
	// Returns shared.ErrDuplicateEmail / ErrDuplicatePhoneNumber /
	// ErrDuplicateHandle when a uniqueness constraint is violated.
	Create(ctx context.Context, student *Student) error

	// GetByID returns a student by internal ID.
	// Returns shared.ErrStudentNotFound when missing.
	GetByID(ctx context.Context, id string) (*Student, error)

	// GetByHandle returns a student by Codeforces handle.
	GetByHandle(ctx context.Context, handle Handle) (*Student, error)

	// Update replaces the identity fields of an existing student.
	// Uniqueness constraints are enforced the same way as Create.
	Update(ctx context.Context, student *Student) error

	// Delete removes a student from the roster.
	Delete(ctx context.Context, id string) error

	// GetAll returns students with pagination, in no guaranteed order.
	GetAll(ctx context.Context, opts ListOptions) ([]*Student, error)

	// Count returns the total number of students.
	Count(ctx context.Context) (int, error)

	SyncRepository
}

// SyncRepository is the narrow surface the sync engine writes through.
// It deliberately offers no whole-record save: the engine only ever touches
// the externally sourced columns, via single-statement targeted updates, so
// a racing administrative edit of the identity fields cannot be lost.
type SyncRepository interface {
	// FindAllWithProfile returns every record whose profile snapshot is
	// present, i.e. previously onboarded records. Records that were never
	// onboarded must not take part in a sync pass.
	FindAllWithProfile(ctx context.Context) ([]*Student, error)

	// ReplaceSyncData replaces the profile snapshot and contest history
	// together in one statement. Partial replacement is forbidden.
	ReplaceSyncData(ctx context.Context, id string, profile *ProfileSnapshot, history []ContestResult) error

	// IncrementInactivityWarnings bumps the warning counter by one and
	// returns the new value. The increment is relative (no read-modify-write)
	// so concurrent writers cannot lose it.
	IncrementInactivityWarnings(ctx context.Context, id string) (int, error)
}

// ScheduleStore persists the single process-wide sync schedule expression.
type ScheduleStore interface {
	// Load returns the persisted cron expression, or "" when none was ever
	// persisted.
	Load(ctx context.Context) (string, error)

	// Persist stores the cron expression, replacing any previous value.
	Persist(ctx context.Context, expression string) error
}
