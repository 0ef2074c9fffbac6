// Package student contains the domain model for tracked students.
// This is the core of the business logic - no external dependencies here.
package student

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Handle is a student's username on Codeforces.
type Handle string

// IsValid reports whether the handle looks like a legal Codeforces handle.
func (h Handle) IsValid() bool {
	s := string(h)
	return len(s) >= 3 && len(s) <= 24 && !strings.ContainsAny(s, " \t\n\r;")
}

// String returns the string representation of the handle.
func (h Handle) String() string {
	return string(h)
}

var phonePattern = regexp.MustCompile(`^\d{10}$`)

// PhoneNumber is a student's registered 10-digit phone number.
type PhoneNumber string

// IsValid reports whether the phone number is a 10-digit string.
func (p PhoneNumber) IsValid() bool {
	return phonePattern.MatchString(string(p))
}

// String returns the string representation of the phone number.
func (p PhoneNumber) String() string {
	return string(p)
}

// ══════════════════════════════════════════════════════════════════════════════
// EXTERNALLY SOURCED DATA
// ══════════════════════════════════════════════════════════════════════════════

// ProfileSnapshot is the last-fetched copy of a student's Codeforces profile.
// It is replaced wholesale on every successful sync, never patched in place.
type ProfileSnapshot struct {
	Handle       string    `json:"handle"`
	Rating       int       `json:"rating"`
	MaxRating    int       `json:"maxRating"`
	Rank         string    `json:"rank"`
	MaxRank      string    `json:"maxRank"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Organization string    `json:"organization,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// ContestResult is one entry of a student's rated contest history.
type ContestResult struct {
	ContestID   int       `json:"contestId"`
	ContestName string    `json:"contestName"`
	Rank        int       `json:"rank"`
	OldRating   int       `json:"oldRating"`
	NewRating   int       `json:"newRating"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Submission is one entry of a student's submission history. Only the fields
// the inactivity check needs are modelled.
type Submission struct {
	ID        int64     `json:"id"`
	ProblemID string    `json:"problemId"`
	Verdict   string    `json:"verdict"`
	CreatedAt time.Time `json:"createdAt"`
}

// InactivityWindow is how long a student may go without a single submission
// before being flagged as inactive.
const InactivityWindow = 7 * 24 * time.Hour

// IsInactive reports whether every submission is older than the inactivity
// window relative to now. An empty history counts as inactive: with no
// submissions at all, "all submissions are old" is vacuously true. This
// mirrors the observed product behaviour and means a brand-new student with
// zero submissions is flagged on their first sync.
func IsInactive(submissions []Submission, now time.Time) bool {
	cutoff := now.Add(-InactivityWindow)
	for _, s := range submissions {
		if s.CreatedAt.After(cutoff) {
			return false
		}
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Student is a tracked student record. Name, Email, PhoneNumber and Handle are
// required; Email, PhoneNumber and Handle are unique across the roster.
//
// Profile and ContestHistory are owned by the sync engine: they are replaced
// together, atomically, only when a sync for this student succeeds. A failed
// sync leaves both exactly as they were. InactivityWarnings only ever grows.
type Student struct {
	ID          string
	Name        string
	Email       string
	PhoneNumber PhoneNumber
	Handle      Handle

	Profile        *ProfileSnapshot
	ContestHistory []ContestResult

	InactivityWarnings int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validation errors for student fields.
var (
	ErrEmptyName          = errors.New("student: name is required")
	ErrInvalidEmail       = errors.New("student: invalid email address")
	ErrInvalidPhoneNumber = errors.New("student: phone number must be 10 digits")
	ErrInvalidHandle      = errors.New("student: invalid Codeforces handle")
)

// New creates a student record with the given identity fields.
// The external-data fields start empty: the record is not synced until it has
// been onboarded with a first profile fetch.
func New(id, name, email string, phone PhoneNumber, handle Handle) (*Student, error) {
	s := &Student{
		ID:          id,
		Name:        strings.TrimSpace(name),
		Email:       strings.TrimSpace(email),
		PhoneNumber: phone,
		Handle:      handle,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the identity fields of the record.
func (s *Student) Validate() error {
	if s.Name == "" {
		return ErrEmptyName
	}
	if !strings.Contains(s.Email, "@") || strings.ContainsAny(s.Email, " \t\n") {
		return ErrInvalidEmail
	}
	if !s.PhoneNumber.IsValid() {
		return ErrInvalidPhoneNumber
	}
	if !s.Handle.IsValid() {
		return ErrInvalidHandle
	}
	return nil
}

// HasProfile reports whether the record has been onboarded, i.e. a profile
// snapshot has been fetched at least once. Only onboarded records take part
// in scheduled syncs.
func (s *Student) HasProfile() bool {
	return s.Profile != nil
}

// ApplySyncData replaces the profile snapshot and contest history together.
// Callers must only invoke this when both fetches succeeded.
func (s *Student) ApplySyncData(profile *ProfileSnapshot, history []ContestResult) {
	s.Profile = profile
	s.ContestHistory = history
	s.UpdatedAt = time.Now().UTC()
}

// CurrentRating returns the cached rating, or 0 if the record was never synced.
func (s *Student) CurrentRating() int {
	if s.Profile == nil {
		return 0
	}
	return s.Profile.Rating
}

// String implements fmt.Stringer for log output.
func (s *Student) String() string {
	return fmt.Sprintf("Student(%s, handle=%s)", s.ID, s.Handle)
}
