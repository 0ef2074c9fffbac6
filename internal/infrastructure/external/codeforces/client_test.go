package codeforces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cf-progress-hub/cf-progress-hub/internal/domain/shared"
)

func TestUserInfoResponse_Parsing(t *testing.T) {
	jsonData := `{
    "status": "OK",
    "result": [
        {
            "handle": "tourist",
            "firstName": "Gennady",
            "lastName": "Korotkevich",
            "rating": 3857,
            "maxRating": 4009,
            "rank": "tourist",
            "maxRank": "tourist",
            "organization": "ITMO University",
            "lastOnlineTimeSeconds": 1735689600
        },
        {
            "handle": "newcomer42"
        }
    ]
}`

	var response APIResponse[[]UserDTO]
	err := json.Unmarshal([]byte(jsonData), &response)
	assert.NoError(t, err)

	assert.Equal(t, StatusOK, response.Status)
	assert.Len(t, response.Result, 2)

	first := response.Result[0]
	assert.Equal(t, "tourist", first.Handle)
	assert.Equal(t, 3857, first.Rating)
	assert.Equal(t, 4009, first.MaxRating)
	assert.Equal(t, "ITMO University", first.Organization)

	// Users without a rating come back with zero values
	second := response.Result[1]
	assert.Equal(t, "newcomer42", second.Handle)
	assert.Equal(t, 0, second.Rating)
}

func TestFailedResponse_Parsing(t *testing.T) {
	jsonData := `{"status":"FAILED","comment":"handles: User with handle ghost not found"}`

	var response APIResponse[[]UserDTO]
	err := json.Unmarshal([]byte(jsonData), &response)
	assert.NoError(t, err)

	assert.Equal(t, StatusFailed, response.Status)
	assert.Contains(t, response.Comment, "not found")
	assert.Empty(t, response.Result)
}

func TestMapper_ProfileFromDTO(t *testing.T) {
	mapper := NewMapper()

	dto := &UserDTO{
		Handle:    "alice",
		Rating:    1543,
		MaxRating: 1601,
		Rank:      "specialist",
		MaxRank:   "expert",
		FirstName: "Alice",
	}

	profile, err := mapper.ProfileFromDTO(dto)
	assert.NoError(t, err)
	assert.Equal(t, "alice", profile.Handle)
	assert.Equal(t, 1543, profile.Rating)
	assert.Equal(t, 1601, profile.MaxRating)
	assert.Equal(t, "specialist", profile.Rank)
	assert.False(t, profile.FetchedAt.IsZero())

	_, err = mapper.ProfileFromDTO(nil)
	assert.Error(t, err)
}

func TestMapper_SubmissionsFromDTO(t *testing.T) {
	mapper := NewMapper()

	dtos := []SubmissionDTO{
		{
			ID:                  42,
			ContestID:           1700,
			CreationTimeSeconds: 1700000000,
			Problem:             ProblemDTO{ContestID: 1700, Index: "A", Name: "Two Sum"},
			Verdict:             "OK",
		},
		{
			ID:                  43,
			CreationTimeSeconds: 1700000100,
			Problem:             ProblemDTO{Index: "B"},
			Verdict:             "WRONG_ANSWER",
		},
	}

	subs := mapper.SubmissionsFromDTO(dtos)
	assert.Len(t, subs, 2)
	assert.Equal(t, int64(42), subs[0].ID)
	assert.Equal(t, "1700A", subs[0].ProblemID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), subs[0].CreatedAt)

	// Gym problems may have no contest ID
	assert.Equal(t, "B", subs[1].ProblemID)
}

func TestMapper_ContestHistoryFromDTO(t *testing.T) {
	mapper := NewMapper()

	dtos := []RatingChangeDTO{
		{
			ContestID:               1234,
			ContestName:             "Round 812",
			Handle:                  "alice",
			Rank:                    150,
			RatingUpdateTimeSeconds: 1680000000,
			OldRating:               1500,
			NewRating:               1543,
		},
	}

	history := mapper.ContestHistoryFromDTO(dtos)
	assert.Len(t, history, 1)
	assert.Equal(t, 1234, history[0].ContestID)
	assert.Equal(t, "Round 812", history[0].ContestName)
	assert.Equal(t, 1500, history[0].OldRating)
	assert.Equal(t, 1543, history[0].NewRating)
	assert.Equal(t, time.Unix(1680000000, 0).UTC(), history[0].UpdatedAt)
}

// testClientConfig returns a config suitable for fast unit tests.
func testClientConfig(baseURL string) ClientConfig {
	cfg := DefaultClientConfig(baseURL)
	cfg.RateLimiterConfig = RateLimiterConfig{
		RequestsPerSecond: 1000,
		BurstSize:         1000,
		MinInterval:       0,
		WaitTimeout:       time.Second,
		RetryAfter:        time.Millisecond,
	}
	cfg.RetryConfig = RetryConfig{
		MaxRetries:        1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	return cfg
}

func TestClient_FetchProfiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user.info", r.URL.Path)
		assert.Equal(t, "alice;bob", r.URL.Query().Get("handles"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","result":[{"handle":"alice","rating":1543},{"handle":"bob","rating":900}]}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	profiles, err := client.FetchProfiles(context.Background(), []string{"alice", "bob"})
	assert.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, "alice", profiles[0].Handle)
	assert.Equal(t, 900, profiles[1].Rating)
}

func TestClient_FetchProfiles_EmptyHandles(t *testing.T) {
	client := NewClient(testClientConfig("http://localhost:1"))

	profiles, err := client.FetchProfiles(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, profiles)
}

func TestClient_FetchProfiles_UnknownHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"FAILED","comment":"handles: User with handle ghost not found"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	_, err := client.FetchProfiles(context.Background(), []string{"ghost"})
	assert.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLookup)
}

func TestClient_FetchSubmissions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user.status", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("handle"))
		assert.Equal(t, "50", r.URL.Query().Get("count"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","result":[{"id":7,"creationTimeSeconds":1700000000,"problem":{"contestId":1,"index":"A"},"verdict":"OK"}]}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	subs, err := client.FetchSubmissions(context.Background(), "alice", 50)
	assert.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, int64(7), subs[0].ID)
	assert.Equal(t, "1A", subs[0].ProblemID)
}

func TestClient_FetchContestHistory_Unrated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","result":[]}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	history, err := client.FetchContestHistory(context.Background(), "newcomer42")
	assert.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestClient_FetchContestHistory_UnknownHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"FAILED","comment":"handle: User with handle ghost not found"}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	history, err := client.FetchContestHistory(context.Background(), "ghost")
	assert.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLookup)
	assert.Nil(t, history)
}

func TestClient_FetchContestHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user.rating", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","result":[{"contestId":99,"contestName":"Round 99","handle":"alice","rank":10,"ratingUpdateTimeSeconds":1650000000,"oldRating":1400,"newRating":1500}]}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	history, err := client.FetchContestHistory(context.Background(), "alice")
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, 99, history[0].ContestID)
	assert.Equal(t, 1500, history[0].NewRating)
}

func TestClient_ServerErrorRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","result":[{"handle":"alice"}]}`))
	}))
	defer server.Close()

	client := NewClient(testClientConfig(server.URL))

	profiles, err := client.FetchProfiles(context.Background(), []string{"alice"})
	assert.NoError(t, err)
	assert.Len(t, profiles, 1)
	assert.Equal(t, 2, calls)
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:   2,
		SuccessThreshold:   1,
		Timeout:            time.Minute,
		HalfOpenMaxRetries: 1,
	})

	assert.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.NoError(t, cb.Allow())
	cb.RecordFailure()

	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestRetryConfig_CalculateBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        4 * time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, time.Second, cfg.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, cfg.CalculateBackoff(1))
	assert.Equal(t, 4*time.Second, cfg.CalculateBackoff(2))
	// Capped at MaxBackoff
	assert.Equal(t, 4*time.Second, cfg.CalculateBackoff(5))
}
