// Package codeforces implements the Codeforces public API client.
// This package handles all communication with codeforces.com, including
// fetching user profiles, submission history and rated contest history.
package codeforces

import (
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPER
// ══════════════════════════════════════════════════════════════════════════════

// StatusOK and StatusFailed are the two values the Codeforces API uses in the
// top-level "status" field.
const (
	StatusOK     = "OK"
	StatusFailed = "FAILED"
)

// APIResponse represents the generic Codeforces response envelope.
// On failure, Status is "FAILED" and Comment explains why.
type APIResponse[T any] struct {
	Status  string `json:"status"`
	Result  T      `json:"result,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// APIError is a service-reported failure (status "FAILED" or HTTP error).
type APIError struct {
	HTTPStatus int
	Comment    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("codeforces api error: %s", e.Comment)
	}
	return fmt.Sprintf("codeforces api error: status %d", e.HTTPStatus)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER DTOs
// ══════════════════════════════════════════════════════════════════════════════

// UserDTO represents a user as returned by the user.info method.
// This is the external representation that gets mapped to our domain model.
type UserDTO struct {
	// Handle is the user's Codeforces handle
	Handle string `json:"handle"`

	// Rating is the current contest rating (absent for unrated users)
	Rating int `json:"rating,omitempty"`

	// MaxRating is the highest rating the user ever reached
	MaxRating int `json:"maxRating,omitempty"`

	// Rank is the current rank title, e.g. "expert"
	Rank string `json:"rank,omitempty"`

	// MaxRank is the best rank title ever held
	MaxRank string `json:"maxRank,omitempty"`

	// FirstName and LastName may be absent on private profiles
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`

	// Avatar is the URL of the user's avatar image
	Avatar string `json:"avatar,omitempty"`

	// Organization the user belongs to
	Organization string `json:"organization,omitempty"`

	// LastOnlineTimeSeconds is the unix time of last visit
	LastOnlineTimeSeconds int64 `json:"lastOnlineTimeSeconds,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ProblemDTO identifies the problem of a submission.
type ProblemDTO struct {
	ContestID int    `json:"contestId,omitempty"`
	Index     string `json:"index"`
	Name      string `json:"name"`
}

// SubmissionDTO represents one entry of the user.status method.
type SubmissionDTO struct {
	ID                  int64      `json:"id"`
	ContestID           int        `json:"contestId,omitempty"`
	CreationTimeSeconds int64      `json:"creationTimeSeconds"`
	Problem             ProblemDTO `json:"problem"`
	Verdict             string     `json:"verdict,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RATING CHANGE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// RatingChangeDTO represents one entry of the user.rating method.
type RatingChangeDTO struct {
	ContestID               int    `json:"contestId"`
	ContestName             string `json:"contestName"`
	Handle                  string `json:"handle"`
	Rank                    int    `json:"rank"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
	OldRating               int    `json:"oldRating"`
	NewRating               int    `json:"newRating"`
}
