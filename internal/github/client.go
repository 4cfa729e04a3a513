package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roamkit/roam/internal/tracker"
)

// NewClient creates a GitHub client for one repository.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithBaseURL returns a client pointed at a different API root (tests,
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		Owner:      c.Owner,
		Repo:       c.Repo,
		BaseURL:    baseURL,
		HTTPClient: c.HTTPClient,
	}
}

func (c *Client) repoPath() string {
	return c.Owner + "/" + c.Repo
}

func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

// doRequest performs an authenticated request with exponential-backoff
// retries on rate limits and transient network failures. Non-retryable
// API errors come back wrapped in the tracker error taxonomy.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body any) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		if jsonBody, err = json.Marshal(body); err != nil {
			return nil, nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	var respBody []byte
	var respHeader http.Header

	operation := func() error {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", tracker.ErrTransport, err)
		}

		const maxResponseSize = 50 * 1024 * 1024
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%w: reading response: %v", tracker.ErrTransport, err)
		}

		if rateLimited(resp) {
			if delay := retryAfter(resp); delay > 0 {
				select {
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				case <-time.After(delay):
				}
			}
			return fmt.Errorf("%w: %s %s", tracker.ErrRateLimited, method, urlStr)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(apiError(resp.StatusCode, data))
		}

		respBody = data
		respHeader = resp.Header
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, nil, err
	}
	return respBody, respHeader, nil
}

// rateLimited detects GitHub's two rate-limit shapes: 429, and 403
// with an exhausted X-RateLimit-Remaining.
func rateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if seconds, err := strconv.Atoi(s); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// apiError maps an HTTP status to the tracker error taxonomy.
func apiError(status int, body []byte) error {
	msg := string(body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (status %d)", tracker.ErrAuth, msg, status)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: status %d", tracker.ErrNotFound, status)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", tracker.ErrValidation, msg)
	default:
		return fmt.Errorf("%w: %s (status %d)", tracker.ErrTransport, msg, status)
	}
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func hasNextPage(headers http.Header) bool {
	link := headers.Get("Link")
	return link != "" && linkNextPattern.MatchString(link)
}

// CheckAuth verifies the token by fetching the authenticated user.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, _, err := c.doRequest(ctx, http.MethodGet, c.buildURL("/user", nil), nil)
	return err
}

// FetchIssues retrieves the repository's issues, filtering out pull
// requests. state is "open", "closed", or "" for all; a non-nil since
// makes the fetch incremental.
func (c *Client) FetchIssues(ctx context.Context, state string, since *time.Time) ([]Issue, error) {
	var all []Issue
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}

		params := map[string]string{
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
			"state":    "all",
		}
		if state != "" && state != "all" {
			params["state"] = state
		}
		if since != nil {
			params["since"] = since.UTC().Format(time.RFC3339)
		}

		urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues", params)
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("fetching issues: %w", err)
		}

		var issues []Issue
		if err := json.Unmarshal(respBody, &issues); err != nil {
			return nil, fmt.Errorf("parsing issues response: %w", err)
		}
		for i := range issues {
			if issues[i].PullRequest == nil {
				all = append(all, issues[i])
			}
		}

		if !hasNextPage(headers) {
			return all, nil
		}
	}
}

// FetchIssue retrieves a single issue by number.
func (c *Client) FetchIssue(ctx context.Context, number int) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching issue #%d: %w", number, err)
	}
	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("parsing issue response: %w", err)
	}
	return &issue, nil
}

// CreateIssue creates an issue from a field map (title, body, labels,
// assignees, state).
func (c *Client) CreateIssue(ctx context.Context, fields map[string]any) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, fields)
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}
	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("parsing create response: %w", err)
	}
	return &issue, nil
}

// UpdateIssue patches an existing issue.
func (c *Client) UpdateIssue(ctx context.Context, number int, fields map[string]any) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPatch, urlStr, fields)
	if err != nil {
		return nil, fmt.Errorf("updating issue #%d: %w", number, err)
	}
	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("parsing update response: %w", err)
	}
	return &issue, nil
}

// FetchMilestones retrieves all milestones regardless of state.
func (c *Client) FetchMilestones(ctx context.Context) ([]Milestone, error) {
	params := map[string]string{"state": "all", "per_page": strconv.Itoa(MaxPageSize)}
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/milestones", params)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching milestones: %w", err)
	}
	var milestones []Milestone
	if err := json.Unmarshal(respBody, &milestones); err != nil {
		return nil, fmt.Errorf("parsing milestones response: %w", err)
	}
	return milestones, nil
}

// CreateMilestone creates a milestone from a field map (title, state,
// description, due_on).
func (c *Client) CreateMilestone(ctx context.Context, fields map[string]any) (*Milestone, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/milestones", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, fields)
	if err != nil {
		return nil, fmt.Errorf("creating milestone: %w", err)
	}
	var m Milestone
	if err := json.Unmarshal(respBody, &m); err != nil {
		return nil, fmt.Errorf("parsing milestone response: %w", err)
	}
	return &m, nil
}
