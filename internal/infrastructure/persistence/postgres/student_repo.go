package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/shared"
	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL.
//
// The profile snapshot and contest history live in jsonb columns. They are
// written with single UPDATE statements so the snapshot/history pair can never
// be observed half-replaced, and so sync writes cannot clobber a concurrent
// administrative edit of the identity columns.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

const studentColumns = `id, name, email, phone_number, handle,
	   profile, contest_history, inactivity_warnings, created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create creates a new student.
func (r *StudentRepository) Create(ctx context.Context, s *student.Student) error {
	query := `
		INSERT INTO students (
			id, name, email, phone_number, handle,
			profile, contest_history, inactivity_warnings, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	profileJSON, historyJSON, err := marshalSyncData(s.Profile, s.ContestHistory)
	if err != nil {
		return err
	}

	_, err = r.conn.Exec(ctx, query,
		s.ID,
		s.Name,
		s.Email,
		s.PhoneNumber.String(),
		s.Handle.String(),
		profileJSON,
		historyJSON,
		s.InactivityWarnings,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if dupErr := mapUniqueViolation(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to create student: %w", err)
	}

	return nil
}

// GetByID returns a student by internal ID.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`

	row := r.conn.QueryRow(ctx, query, id)
	return r.scanStudent(row)
}

// GetByHandle returns a student by Codeforces handle.
func (r *StudentRepository) GetByHandle(ctx context.Context, handle student.Handle) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE handle = $1`

	row := r.conn.QueryRow(ctx, query, handle.String())
	return r.scanStudent(row)
}

// Update replaces the identity fields of an existing student.
// The sync-owned columns are left alone; those go through ReplaceSyncData
// and IncrementInactivityWarnings only.
func (r *StudentRepository) Update(ctx context.Context, s *student.Student) error {
	query := `
		UPDATE students SET
			name = $1,
			email = $2,
			phone_number = $3,
			handle = $4,
			updated_at = $5
		WHERE id = $6
	`

	result, err := r.conn.Exec(ctx, query,
		s.Name,
		s.Email,
		s.PhoneNumber.String(),
		s.Handle.String(),
		time.Now().UTC(),
		s.ID,
	)
	if err != nil {
		if dupErr := mapUniqueViolation(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to update student: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrStudentNotFound
	}

	return nil
}

// Delete removes a student from the roster.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.conn.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrStudentNotFound
	}

	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Bulk Operations
// ─────────────────────────────────────────────────────────────────────────────

// GetAll returns all students with pagination.
func (r *StudentRepository) GetAll(ctx context.Context, opts student.ListOptions) ([]*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students ORDER BY created_at ASC LIMIT $1 OFFSET $2`

	rows, err := r.conn.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	return r.scanStudents(rows)
}

// Count returns the total number of students.
func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx, "SELECT COUNT(*) FROM students").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count students: %w", err)
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Sync Operations
// ─────────────────────────────────────────────────────────────────────────────

// FindAllWithProfile returns every onboarded record, i.e. one whose profile
// snapshot is present. Records that never completed a first fetch are skipped
// by sync passes entirely.
func (r *StudentRepository) FindAllWithProfile(ctx context.Context) ([]*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE profile IS NOT NULL ORDER BY created_at ASC`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, shared.WrapError("student", "FindAllWithProfile", shared.ErrPersistence, "query roster", err)
	}
	defer rows.Close()

	students, err := r.scanStudents(rows)
	if err != nil {
		return nil, shared.WrapError("student", "FindAllWithProfile", shared.ErrPersistence, "scan roster", err)
	}
	return students, nil
}

// ReplaceSyncData replaces the profile snapshot and contest history together.
// One statement, so the pair is atomic under READ COMMITTED.
func (r *StudentRepository) ReplaceSyncData(ctx context.Context, id string, profile *student.ProfileSnapshot, history []student.ContestResult) error {
	query := `
		UPDATE students SET
			profile = $1,
			contest_history = $2,
			updated_at = $3
		WHERE id = $4
	`

	profileJSON, historyJSON, err := marshalSyncData(profile, history)
	if err != nil {
		return shared.WrapError("student", "ReplaceSyncData", shared.ErrPersistence, "marshal sync data", err)
	}

	result, err := r.conn.Exec(ctx, query, profileJSON, historyJSON, time.Now().UTC(), id)
	if err != nil {
		return shared.WrapError("student", "ReplaceSyncData", shared.ErrPersistence, "update sync data", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrStudentNotFound
	}

	return nil
}

// IncrementInactivityWarnings bumps the warning counter and returns the new
// value. The increment is relative so concurrent writers cannot lose it.
func (r *StudentRepository) IncrementInactivityWarnings(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE students
		SET inactivity_warnings = inactivity_warnings + 1, updated_at = $1
		WHERE id = $2
		RETURNING inactivity_warnings
	`

	var count int
	err := r.conn.QueryRow(ctx, query, time.Now().UTC(), id).Scan(&count)
	if IsNoRows(err) {
		return 0, shared.ErrStudentNotFound
	}
	if err != nil {
		return 0, shared.WrapError("student", "IncrementInactivityWarnings", shared.ErrPersistence, "increment counter", err)
	}

	return count, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanStudent scans a single student from a row.
func (r *StudentRepository) scanStudent(row pgx.Row) (*student.Student, error) {
	var s student.Student
	var phone, handle string
	var profileJSON, historyJSON []byte

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Email,
		&phone,
		&handle,
		&profileJSON,
		&historyJSON,
		&s.InactivityWarnings,
		&s.CreatedAt,
		&s.UpdatedAt,
	)

	if IsNoRows(err) {
		return nil, shared.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan student: %w", err)
	}

	s.PhoneNumber = student.PhoneNumber(phone)
	s.Handle = student.Handle(handle)
	if err := unmarshalSyncData(&s, profileJSON, historyJSON); err != nil {
		return nil, err
	}

	return &s, nil
}

// scanStudents scans multiple students from rows.
func (r *StudentRepository) scanStudents(rows pgx.Rows) ([]*student.Student, error) {
	var students []*student.Student

	for rows.Next() {
		var s student.Student
		var phone, handle string
		var profileJSON, historyJSON []byte

		err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Email,
			&phone,
			&handle,
			&profileJSON,
			&historyJSON,
			&s.InactivityWarnings,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}

		s.PhoneNumber = student.PhoneNumber(phone)
		s.Handle = student.Handle(handle)
		if err := unmarshalSyncData(&s, profileJSON, historyJSON); err != nil {
			return nil, err
		}

		students = append(students, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return students, nil
}

// marshalSyncData serializes the jsonb columns. A nil profile stays NULL so
// FindAllWithProfile can distinguish onboarded records.
func marshalSyncData(profile *student.ProfileSnapshot, history []student.ContestResult) ([]byte, []byte, error) {
	var profileJSON []byte
	if profile != nil {
		var err error
		profileJSON, err = json.Marshal(profile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal profile: %w", err)
		}
	}

	if history == nil {
		history = []student.ContestResult{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal contest history: %w", err)
	}

	return profileJSON, historyJSON, nil
}

// unmarshalSyncData deserializes the jsonb columns into the entity.
func unmarshalSyncData(s *student.Student, profileJSON, historyJSON []byte) error {
	if len(profileJSON) > 0 {
		var profile student.ProfileSnapshot
		if err := json.Unmarshal(profileJSON, &profile); err != nil {
			return fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		s.Profile = &profile
	}

	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &s.ContestHistory); err != nil {
			return fmt.Errorf("failed to unmarshal contest history: %w", err)
		}
	}

	return nil
}

// mapUniqueViolation maps a unique constraint violation to the matching
// field-specific domain error, or nil when err is not a unique violation.
func mapUniqueViolation(err error) error {
	constraint := UniqueConstraint(err)
	if constraint == "" {
		return nil
	}

	switch {
	case strings.Contains(constraint, "email"):
		return shared.ErrDuplicateEmail
	case strings.Contains(constraint, "phone"):
		return shared.ErrDuplicatePhoneNumber
	case strings.Contains(constraint, "handle"):
		return shared.ErrDuplicateHandle
	default:
		return shared.ErrStudentAlreadyExists
	}
}
