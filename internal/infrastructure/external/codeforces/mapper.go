package codeforces

import (
	"errors"
	"strconv"
	"time"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/student"
)

// ErrNilDTO is returned when a nil DTO is passed to the mapper.
var ErrNilDTO = errors.New("codeforces: nil DTO")

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain Entity transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper handles transformation between Codeforces API DTOs and domain types.
// It protects the domain from changes to the external API shape.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ProfileFromDTO converts a UserDTO into a domain ProfileSnapshot.
func (m *Mapper) ProfileFromDTO(dto *UserDTO) (*student.ProfileSnapshot, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}

	return &student.ProfileSnapshot{
		Handle:       dto.Handle,
		Rating:       dto.Rating,
		MaxRating:    dto.MaxRating,
		Rank:         dto.Rank,
		MaxRank:      dto.MaxRank,
		FirstName:    dto.FirstName,
		LastName:     dto.LastName,
		Avatar:       dto.Avatar,
		Organization: dto.Organization,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// SubmissionsFromDTO converts user.status entries into domain submissions.
func (m *Mapper) SubmissionsFromDTO(dtos []SubmissionDTO) []student.Submission {
	subs := make([]student.Submission, 0, len(dtos))
	for _, dto := range dtos {
		subs = append(subs, student.Submission{
			ID:        dto.ID,
			ProblemID: problemID(dto.Problem),
			Verdict:   dto.Verdict,
			CreatedAt: time.Unix(dto.CreationTimeSeconds, 0).UTC(),
		})
	}
	return subs
}

// ContestHistoryFromDTO converts user.rating entries into domain results.
func (m *Mapper) ContestHistoryFromDTO(dtos []RatingChangeDTO) []student.ContestResult {
	history := make([]student.ContestResult, 0, len(dtos))
	for _, dto := range dtos {
		history = append(history, student.ContestResult{
			ContestID:   dto.ContestID,
			ContestName: dto.ContestName,
			Rank:        dto.Rank,
			OldRating:   dto.OldRating,
			NewRating:   dto.NewRating,
			UpdatedAt:   time.Unix(dto.RatingUpdateTimeSeconds, 0).UTC(),
		})
	}
	return history
}

// problemID builds a stable problem identifier like "1680A".
func problemID(p ProblemDTO) string {
	if p.ContestID == 0 {
		return p.Index
	}
	return strconv.Itoa(p.ContestID) + p.Index
}
