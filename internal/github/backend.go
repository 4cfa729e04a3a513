package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/roamkit/roam/internal/tracker"
	"github.com/roamkit/roam/internal/types"
)

// BackendName is the key used in remote_ids and baseline files.
const BackendName = "gh"

// Backend adapts the GitHub client to the tracker.Backend interface.
type Backend struct {
	client *Client
	logger *slog.Logger

	mu       sync.Mutex
	authDone bool
	authOK   bool
}

// NewBackend builds the GitHub backend for one repository.
func NewBackend(token, owner, repo string, logger *slog.Logger) *Backend {
	return &Backend{client: NewClient(token, owner, repo), logger: logger}
}

// NewBackendWithClient injects a pre-built client (tests, Enterprise
// endpoints).
func NewBackendWithClient(client *Client, logger *slog.Logger) *Backend {
	return &Backend{client: client, logger: logger}
}

// Name implements tracker.Backend.
func (b *Backend) Name() string { return BackendName }

// Repo returns the repository identity for reports.
func (b *Backend) Repo() string { return b.client.repoPath() }

// Authenticate verifies the token once per run; subsequent calls reuse
// the cached verdict. A rejected token is (false, nil); transport
// failures surface as errors.
func (b *Backend) Authenticate(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.authDone {
		return b.authOK, nil
	}

	err := b.client.CheckAuth(ctx)
	if errors.Is(err, tracker.ErrAuth) {
		b.authDone = true
		b.authOK = false
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b.authDone = true
	b.authOK = true
	return true, nil
}

// GetIssues implements tracker.Backend, keyed by issue number.
func (b *Backend) GetIssues(ctx context.Context, opts tracker.FetchOptions) (map[string]tracker.RemoteIssue, error) {
	issues, err := b.client.FetchIssues(ctx, opts.State, opts.Since)
	if err != nil {
		return nil, err
	}
	out := make(map[string]tracker.RemoteIssue, len(issues))
	for _, gh := range issues {
		ri := ToRemote(gh)
		out[ri.Key] = ri
	}
	b.logger.Debug("fetched remote issues", "backend", BackendName, "count", len(out))
	return out, nil
}

// PushIssue creates the remote issue when the local one is unlinked,
// or patches the linked one. Returns the issue number in string form.
func (b *Backend) PushIssue(ctx context.Context, issue *types.Issue) (string, error) {
	fields := PushFields(issue)

	if remoteID := issue.RemoteID(BackendName); remoteID != "" {
		number, err := strconv.Atoi(remoteID)
		if err != nil {
			return "", fmt.Errorf("%w: malformed remote id %q for issue %s", tracker.ErrValidation, remoteID, issue.ID)
		}
		updated, err := b.client.UpdateIssue(ctx, number, fields)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(updated.Number), nil
	}

	created, err := b.client.CreateIssue(ctx, fields)
	if err != nil {
		return "", err
	}
	b.logger.Info("created remote issue", "backend", BackendName, "number", created.Number, "local_id", issue.ID)
	return strconv.Itoa(created.Number), nil
}

// PullIssue fetches one issue by number.
func (b *Backend) PullIssue(ctx context.Context, remoteKey string) (*tracker.RemoteIssue, error) {
	number, err := strconv.Atoi(remoteKey)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed remote key %q", tracker.ErrValidation, remoteKey)
	}
	gh, err := b.client.FetchIssue(ctx, number)
	if err != nil {
		return nil, err
	}
	ri := ToRemote(*gh)
	return &ri, nil
}

// UpdateState is the status fast path. The open/closed state patches
// directly; the status scoped label needs the current label set, so a
// fetch precedes the patch.
func (b *Backend) UpdateState(ctx context.Context, remoteKey string, status types.Status) error {
	number, err := strconv.Atoi(remoteKey)
	if err != nil {
		return fmt.Errorf("%w: malformed remote key %q", tracker.ErrValidation, remoteKey)
	}
	gh, err := b.client.FetchIssue(ctx, number)
	if err != nil {
		return err
	}

	plain, scoped := splitLabels(LabelNames(gh.Labels))
	labels := append([]string(nil), plain...)
	for _, scope := range []string{priorityScope, typeScope} {
		if value, ok := scoped[scope]; ok {
			labels = append(labels, scope+":"+value)
		}
	}
	state := "open"
	switch status {
	case types.StatusClosed, types.StatusArchived:
		state = "closed"
	default:
		labels = append(labels, statusScope+":"+string(status))
	}

	_, err = b.client.UpdateIssue(ctx, number, map[string]any{
		"state":  state,
		"labels": labels,
	})
	return err
}

// GetMilestones implements tracker.Backend, keyed by title.
func (b *Backend) GetMilestones(ctx context.Context) (map[string]tracker.RemoteMilestone, error) {
	milestones, err := b.client.FetchMilestones(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]tracker.RemoteMilestone, len(milestones))
	for _, gh := range milestones {
		rm := ToRemoteMilestone(gh)
		out[rm.Key] = rm
	}
	return out, nil
}

// PushMilestone creates the remote milestone; already-linked
// milestones keep their id.
func (b *Backend) PushMilestone(ctx context.Context, m *types.Milestone) (string, error) {
	if remoteID := m.RemoteID(BackendName); remoteID != "" {
		return remoteID, nil
	}
	created, err := b.client.CreateMilestone(ctx, MilestonePushFields(m))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(created.Number), nil
}
