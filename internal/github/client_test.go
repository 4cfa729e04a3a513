package github

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamkit/roam/internal/tracker"
	"github.com/roamkit/roam/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient(srv *httptest.Server) *Client {
	return NewClient("test-token", "acme", "roadmap").WithBaseURL(srv.URL)
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("tok", "acme", "roadmap")
	assert.Equal(t, DefaultAPIEndpoint, c.BaseURL)
	assert.NotNil(t, c.HTTPClient)
	assert.Equal(t, "acme/roadmap", c.repoPath())
}

func TestFetchIssuesFiltersPullRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Path, "/repos/acme/roadmap/issues")
		_ = json.NewEncoder(w).Encode([]Issue{
			{Number: 1, Title: "Real issue", State: "open"},
			{Number: 2, Title: "A PR", State: "open", PullRequest: &PullRef{URL: "x"}},
		})
	}))
	defer srv.Close()

	issues, err := testClient(srv).FetchIssues(context.Background(), "", nil)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "Real issue", issues[0].Title)
}

func TestFetchIssuesPaginates(t *testing.T) {
	var calls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.Header().Set("Link", `<`+srv.URL+`/page2>; rel="next"`)
			_ = json.NewEncoder(w).Encode([]Issue{{Number: 1, Title: "One", State: "open"}})
			return
		}
		_ = json.NewEncoder(w).Encode([]Issue{{Number: 2, Title: "Two", State: "open"}})
	}))
	defer srv.Close()

	issues, err := testClient(srv).FetchIssues(context.Background(), "all", nil)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoRequestRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode([]Issue{})
	}))
	defer srv.Close()

	_, err := testClient(srv).FetchIssues(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, tracker.ErrAuth},
		{http.StatusNotFound, tracker.ErrNotFound},
		{http.StatusUnprocessableEntity, tracker.ErrValidation},
		{http.StatusInternalServerError, tracker.ErrTransport},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := testClient(srv).FetchIssue(context.Background(), 1)
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		srv.Close()
	}
}

func TestBackendAuthenticate(t *testing.T) {
	t.Run("valid token cached", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, "/user", r.URL.Path)
			_ = json.NewEncoder(w).Encode(User{Login: "alice"})
		}))
		defer srv.Close()

		b := NewBackendWithClient(testClient(srv), testLogger())
		for i := 0; i < 2; i++ {
			ok, err := b.Authenticate(context.Background())
			require.NoError(t, err)
			assert.True(t, ok)
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rejected token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		b := NewBackendWithClient(testClient(srv), testLogger())
		ok, err := b.Authenticate(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestBackendPushIssueCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var fields map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&fields))
		assert.Equal(t, "Fix", fields["title"])
		_ = json.NewEncoder(w).Encode(Issue{Number: 42, Title: "Fix", State: "open"})
	}))
	defer srv.Close()

	b := NewBackendWithClient(testClient(srv), testLogger())
	issue, err := types.NewIssue("L1", "Fix")
	require.NoError(t, err)

	remoteID, err := b.PushIssue(context.Background(), issue)
	require.NoError(t, err)
	assert.Equal(t, "42", remoteID)
}

func TestBackendPushIssueUpdateLinked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/issues/42"))
		_ = json.NewEncoder(w).Encode(Issue{Number: 42, State: "open"})
	}))
	defer srv.Close()

	b := NewBackendWithClient(testClient(srv), testLogger())
	issue, err := types.NewIssue("L1", "Fix")
	require.NoError(t, err)
	issue.SetRemoteID(BackendName, "42")

	remoteID, err := b.PushIssue(context.Background(), issue)
	require.NoError(t, err)
	assert.Equal(t, "42", remoteID)
}

func TestBackendGetIssuesKeyedByNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Issue{
			{Number: 7, Title: "Bug", State: "open", Labels: []Label{{Name: "status:in-progress"}}},
		})
	}))
	defer srv.Close()

	b := NewBackendWithClient(testClient(srv), testLogger())
	issues, err := b.GetIssues(context.Background(), tracker.FetchOptions{})
	require.NoError(t, err)
	require.Contains(t, issues, "7")
	assert.Equal(t, "in-progress", issues["7"].Status)
}

func TestBackendUpdateStatePreservesScopedLabels(t *testing.T) {
	var patched map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(Issue{
				Number: 42, State: "open",
				Labels: []Label{{Name: "bug"}, {Name: "priority:high"}, {Name: "status:todo"}},
			})
		case http.MethodPatch:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			_ = json.NewEncoder(w).Encode(Issue{Number: 42})
		}
	}))
	defer srv.Close()

	b := NewBackendWithClient(testClient(srv), testLogger())
	require.NoError(t, b.UpdateState(context.Background(), "42", types.StatusInProgress))

	assert.Equal(t, "open", patched["state"])
	labels := patched["labels"].([]any)
	assert.Contains(t, labels, "bug")
	assert.Contains(t, labels, "priority:high")
	assert.Contains(t, labels, "status:in-progress")
	assert.NotContains(t, labels, "status:todo")
}

func TestBackendMilestones(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]Milestone{{Number: 5, Title: "V1", State: "open"}})
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(Milestone{Number: 6, Title: "V2", State: "open"})
		}
	}))
	defer srv.Close()

	b := NewBackendWithClient(testClient(srv), testLogger())
	milestones, err := b.GetMilestones(context.Background())
	require.NoError(t, err)
	require.Contains(t, milestones, "V1")
	assert.Equal(t, "5", milestones["V1"].ID)

	m := &types.Milestone{Name: "V2", Status: types.MilestoneOpen}
	id, err := b.PushMilestone(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "6", id)
}
