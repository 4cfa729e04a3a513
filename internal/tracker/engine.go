package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roamkit/roam/internal/baseline"
	"github.com/roamkit/roam/internal/links"
	"github.com/roamkit/roam/internal/lockfile"
	"github.com/roamkit/roam/internal/storage"
	"github.com/roamkit/roam/internal/telemetry"
	"github.com/roamkit/roam/internal/types"
)

// DefaultWorkers bounds apply-stage parallelism when Options.Workers
// is zero.
const DefaultWorkers = 4

// Options configures one sync run.
type Options struct {
	Strategy        Strategy
	DryRun          bool
	IncludeArchived bool
	Milestones      bool
	Workers         int
	// Fields overrides the synced field set; empty uses the default.
	Fields []string
}

// Orchestrator drives one sync run through its stages: authenticate,
// enumerate, compare, resolve, apply, persist baseline, report. It
// never returns an error past Run; every outcome is encoded in the
// Report.
type Orchestrator struct {
	backend Backend
	store   *storage.Store
	links   *links.Index
	base    *baseline.Store
	metrics *telemetry.Recorder
	logger  *slog.Logger
	repo    string
}

// NewOrchestrator wires the sync engine. repo is an opaque identity
// string carried into reports (e.g., "owner/name").
func NewOrchestrator(backend Backend, store *storage.Store, idx *links.Index, base *baseline.Store, metrics *telemetry.Recorder, repo string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		backend: backend,
		store:   store,
		links:   idx,
		base:    base,
		metrics: metrics,
		logger:  logger,
		repo:    repo,
	}
}

// Run executes one sync. Stages are barriers: enumerate completes
// before compare, compare before resolve, apply before the baseline
// write. Cancellation is honored at every stage boundary.
func (o *Orchestrator) Run(ctx context.Context, opts Options) *Report {
	name := o.backend.Name()
	report := NewReport(name, o.repo, opts.Strategy, opts.DryRun)
	start := time.Now()

	// Stage 1: authenticate.
	ok, err := o.backend.Authenticate(ctx)
	if err != nil || !ok {
		if err != nil {
			o.logger.Error("authentication failed", "backend", name, "error", err)
		}
		report.Error = "authentication failed"
		return report
	}
	if canceled(ctx, report) {
		return report
	}

	// Stage 2: enumerate local, remote, and baseline.
	locals, invalid, err := o.store.LoadIssues(opts.IncludeArchived)
	if err != nil {
		report.Error = fmt.Sprintf("loading local issues: %v", err)
		return report
	}
	for _, inv := range invalid {
		report.Errors[inv.Path] = inv.Reason
	}
	o.reconcileLinks(name, locals)

	remotes, err := o.backend.GetIssues(ctx, FetchOptions{})
	if err != nil {
		o.logger.Error("remote enumeration failed", "backend", name, "error", err)
		report.Error = "failed to fetch remote"
		return report
	}
	bases, err := o.base.Load(name)
	if err != nil {
		report.Error = fmt.Sprintf("loading baseline: %v", err)
		return report
	}
	if canceled(ctx, report) {
		return report
	}

	// Stage 3: compare.
	cmp := NewComparator(o.links, opts.Fields, o.logger)
	records := cmp.Compare(locals, remotes, bases, name)
	for _, rec := range records {
		switch rec.Classification {
		case NewLocal, LocalOnly:
			report.NeedsPush++
		case NewRemote, RemoteOnly, Deleted:
			report.NeedsPull++
		case NoChange:
			report.UpToDate++
		case BothChanged:
			report.ConflictsDetected++
		}
	}

	// Stage 4: resolve conflicts.
	resolver := NewResolver(cmp, o.logger)
	resolutions := make(map[string]Resolution)
	for _, rec := range records {
		if rec.Classification != BothChanged {
			continue
		}
		res := resolver.Resolve(rec, opts.Strategy)
		resolutions[rec.IssueID] = res
		if res.Resolved() {
			report.ConflictsResolved++
		}
	}
	if canceled(ctx, report) {
		return report
	}

	if opts.DryRun {
		o.summarizeDryRun(report, records, resolutions)
		o.logger.Info("dry run complete", "backend", name, "records", len(records), "elapsed", time.Since(start))
		return report
	}

	// Stage 5: apply, bounded parallelism, one serial section per issue.
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	snapshots := make(map[string]baseline.IssueBaseState)
	var dropBaseline []string
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			outcome := o.applyRecord(gctx, rec, resolutions[rec.IssueID])

			mu.Lock()
			defer mu.Unlock()
			report.Changes = append(report.Changes, outcome.summary)
			if outcome.err != nil {
				report.IssueFailed(rec.IssueID, outcome.err)
				return nil
			}
			switch outcome.summary.Action {
			case "pushed":
				report.Pushed++
				report.NeedsPush--
			case "pulled", "archived":
				report.Pulled++
				report.NeedsPull--
			case "merged":
				if outcome.pushed {
					report.Pushed++
				}
				if outcome.pulled {
					report.Pulled++
				}
			}
			if outcome.snapshot != nil {
				// New pulls rekey the record by the minted local id.
				snapshots[outcome.summary.IssueID] = *outcome.snapshot
			}
			if outcome.dropBaseline {
				dropBaseline = append(dropBaseline, rec.IssueID)
			}
			return nil
		})
	}
	_ = g.Wait()
	if canceled(ctx, report) {
		return report
	}

	// Supplemental milestone pass; failures are per-run warnings, not
	// fatal.
	if opts.Milestones {
		o.syncMilestones(ctx, report)
	}

	// Stage 6: persist baseline for issues whose apply fully succeeded.
	for id, snap := range snapshots {
		bases[id] = snap
	}
	for _, id := range dropBaseline {
		delete(bases, id)
	}
	if err := o.base.Save(name, bases); err != nil {
		report.Error = fmt.Sprintf("persisting baseline: %v", err)
		return report
	}

	// Stage 7: report.
	o.metrics.RecordRun(ctx, name, report.Pushed, report.Pulled, report.ConflictsDetected, len(report.Errors))
	o.logger.Info("sync complete",
		"backend", name,
		"pushed", report.Pushed,
		"pulled", report.Pulled,
		"conflicts", report.ConflictsDetected,
		"unresolved", report.UnresolvedConflicts(),
		"errors", len(report.Errors),
		"elapsed", time.Since(start))
	return report
}

// reconcileLinks repairs the link index from frontmatter, which is
// authoritative when they disagree.
func (o *Orchestrator) reconcileLinks(backend string, locals map[string]*types.Issue) {
	for id, issue := range locals {
		if err := o.links.Reconcile(backend, id, issue.RemoteID(backend)); err != nil {
			o.logger.Warn("link reconcile failed", "issue", id, "error", err)
		}
	}
}

// outcome is the result of applying one change record.
type outcome struct {
	summary        ChangeSummary
	snapshot       *baseline.IssueBaseState
	dropBaseline   bool
	pushed, pulled bool
	err            error
}

func (o *Orchestrator) applyRecord(ctx context.Context, rec ChangeRecord, res Resolution) outcome {
	name := o.backend.Name()
	out := outcome{summary: ChangeSummary{
		IssueID:        rec.IssueID,
		Title:          rec.Title,
		Classification: rec.Classification,
		TitleDiffers:   rec.TitleDiffers,
	}}

	switch rec.Classification {
	case NoChange:
		// No I/O; baseline advances to the current value.
		snap := baseline.Snapshot(rec.Local)
		out.snapshot = &snap
		out.summary.Action = "up-to-date"

	case NewLocal:
		remoteID, err := o.backend.PushIssue(ctx, rec.Local)
		if err != nil {
			return o.failed(out, rec, err)
		}
		updated, err := o.linkAndStamp(rec.IssueID, name, remoteID, nil)
		if err != nil {
			return o.failed(out, rec, err)
		}
		snap := baseline.Snapshot(updated)
		out.snapshot = &snap
		out.summary.Action = "pushed"

	case LocalOnly:
		remoteID := rec.Local.RemoteID(name)
		if remoteID != "" && statusOnlyChange(rec.LocalChanges) {
			// Status-only edits take the cheaper state-update call.
			if err := o.backend.UpdateState(ctx, remoteID, rec.Local.Status); err != nil {
				return o.failed(out, rec, err)
			}
		} else if _, err := o.backend.PushIssue(ctx, rec.Local); err != nil {
			return o.failed(out, rec, err)
		}
		updated, err := o.linkAndStamp(rec.IssueID, name, remoteID, rec.Remote)
		if err != nil {
			return o.failed(out, rec, err)
		}
		snap := baseline.Snapshot(updated)
		out.snapshot = &snap
		out.summary.Action = "pushed"
		out.summary.Fields = sortedKeys(rec.LocalChanges)

	case NewRemote:
		issue, err := o.createFromRemote(rec.Remote)
		if err != nil {
			return o.failed(out, rec, err)
		}
		snap := baseline.Snapshot(issue)
		out.snapshot = &snap
		out.summary.IssueID = issue.ID
		out.summary.Action = "pulled"

	case RemoteOnly:
		updated, err := o.updateWithRetry(rec.IssueID, func(issue *types.Issue) error {
			applyRemoteFields(issue, rec.Remote)
			issue.StampSync(name, time.Now().UTC(), remoteUpdated(rec.Remote))
			return nil
		})
		if err != nil {
			return o.failed(out, rec, err)
		}
		snap := baseline.Snapshot(updated)
		out.snapshot = &snap
		out.summary.Action = "pulled"
		out.summary.Fields = sortedKeys(rec.RemoteChanges)

	case Deleted:
		// Remote deleted, local untouched: archive locally and drop the
		// pairing. Local data is never destroyed.
		_, err := o.updateWithRetry(rec.IssueID, func(issue *types.Issue) error {
			issue.Status = types.StatusArchived
			delete(issue.RemoteIDs, name)
			return nil
		})
		if err != nil {
			return o.failed(out, rec, err)
		}
		if err := o.links.UnlinkLocal(rec.IssueID, name); err != nil {
			return o.failed(out, rec, err)
		}
		out.dropBaseline = true
		out.summary.Action = "archived"
		out.summary.Reason = "deleted remotely"

	case BothChanged:
		return o.applyResolved(ctx, rec, res, out)
	}
	return out
}

// applyResolved executes the merged result of a conflict: push first
// so the remote sees our side, then write the merged values locally.
func (o *Orchestrator) applyResolved(ctx context.Context, rec ChangeRecord, res Resolution, out outcome) outcome {
	if !res.Resolved() {
		out.summary.Action = "conflict"
		out.summary.Fields = res.Unresolved
		out.summary.Reason = rec.Reason + "; re-run with --strategy keep-local, keep-remote, or auto"
		return out
	}
	name := o.backend.Name()

	var recreatedID string
	if len(res.PushFields) > 0 {
		pushCopy := *rec.Local
		applyMergedFields(&pushCopy, res.Merged)
		if rec.Remote == nil {
			// The linked remote issue is gone; the push must create a
			// fresh one, not patch the dead number. Strip this
			// backend's stale id from the copy.
			ids := make(map[string]string, len(pushCopy.RemoteIDs))
			for backend, id := range pushCopy.RemoteIDs {
				if backend != name {
					ids[backend] = id
				}
			}
			pushCopy.RemoteIDs = ids
		}
		remoteID, err := o.backend.PushIssue(ctx, &pushCopy)
		if err != nil {
			return o.failed(out, rec, err)
		}
		// A remote-delete conflict resolved keep-local recreates the
		// issue; relink the fresh id.
		if rec.Remote == nil && remoteID != "" {
			recreatedID = remoteID
			if err := o.links.Reconcile(name, rec.IssueID, remoteID); err != nil {
				return o.failed(out, rec, err)
			}
		}
		out.pushed = true
	}

	updated, err := o.updateWithRetry(rec.IssueID, func(issue *types.Issue) error {
		applyMergedFields(issue, res.Merged)
		if rec.Remote == nil {
			if recreatedID != "" {
				issue.SetRemoteID(name, recreatedID)
			}
			issue.StampSync(name, time.Now().UTC(), time.Time{})
		} else {
			issue.StampSync(name, time.Now().UTC(), remoteUpdated(rec.Remote))
		}
		return nil
	})
	if err != nil {
		return o.failed(out, rec, err)
	}
	out.pulled = len(res.PullFields) > 0

	snap := baseline.Snapshot(updated)
	out.snapshot = &snap
	out.summary.Action = "merged"
	out.summary.Fields = append(append([]string{}, res.PushFields...), res.PullFields...)
	return out
}

func (o *Orchestrator) failed(out outcome, rec ChangeRecord, err error) outcome {
	o.logger.Error("apply failed", "issue", rec.IssueID, "classification", rec.Classification, "error", err)
	out.summary.Action = "failed"
	out.summary.Reason = err.Error()
	out.err = err
	return out
}

// linkAndStamp records the remote pairing in both the index and the
// frontmatter, and stamps sync metadata.
func (o *Orchestrator) linkAndStamp(issueID, backend, remoteID string, remote *RemoteIssue) (*types.Issue, error) {
	updated, err := o.updateWithRetry(issueID, func(issue *types.Issue) error {
		if remoteID != "" {
			issue.SetRemoteID(backend, remoteID)
		}
		issue.StampSync(backend, time.Now().UTC(), remoteUpdated(remote))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if remoteID != "" {
		if err := o.links.Link(backend, remoteID, issueID); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// createFromRemote materializes a remote issue locally with a fresh id.
func (o *Orchestrator) createFromRemote(remote *RemoteIssue) (*types.Issue, error) {
	name := o.backend.Name()
	issue, err := types.NewIssue(NewLocalID(), remote.Title)
	if err != nil {
		return nil, fmt.Errorf("creating local issue for remote %s: %w", remote.ID, err)
	}
	applyRemoteFields(issue, remote)
	issue.SetRemoteID(name, remote.ID)
	issue.StampSync(name, time.Now().UTC(), remoteUpdated(remote))
	if err := o.store.SaveIssue(issue); err != nil {
		return nil, err
	}
	if err := o.links.Link(name, remote.ID, issue.ID); err != nil {
		return nil, err
	}
	return issue, nil
}

// updateWithRetry wraps the store's read-modify-write, retrying once
// on lock timeout. Lock contention is transient by contract.
func (o *Orchestrator) updateWithRetry(id string, mutate func(*types.Issue) error) (*types.Issue, error) {
	updated, err := o.store.UpdateIssue(id, mutate)
	if err != nil && errors.Is(err, lockfile.ErrTimeout) {
		o.logger.Warn("lock timeout, retrying once", "issue", id)
		updated, err = o.store.UpdateIssue(id, mutate)
	}
	return updated, err
}

// summarizeDryRun records what a real run would do without touching
// disk or the backend.
func (o *Orchestrator) summarizeDryRun(report *Report, records []ChangeRecord, resolutions map[string]Resolution) {
	for _, rec := range records {
		if rec.Classification == NoChange {
			continue
		}
		summary := ChangeSummary{
			IssueID:        rec.IssueID,
			Title:          rec.Title,
			Classification: rec.Classification,
			Action:         "skipped",
			Reason:         "dry-run",
			TitleDiffers:   rec.TitleDiffers,
		}
		if res, ok := resolutions[rec.IssueID]; ok && !res.Resolved() {
			summary.Action = "conflict"
			summary.Fields = res.Unresolved
			summary.Reason = rec.Reason
		}
		report.Changes = append(report.Changes, summary)
	}
}

// syncMilestones pushes local milestones unknown to the backend and
// pulls remote milestones missing locally, pairing by title. Failures
// are recorded per-milestone and do not abort the run.
func (o *Orchestrator) syncMilestones(ctx context.Context, report *Report) {
	name := o.backend.Name()
	remotes, err := o.backend.GetMilestones(ctx)
	if err != nil {
		o.logger.Warn("milestone enumeration failed", "backend", name, "error", err)
		report.Errors["milestones"] = err.Error()
		return
	}
	locals, invalid, err := o.store.LoadMilestones()
	if err != nil {
		report.Errors["milestones"] = err.Error()
		return
	}
	for _, inv := range invalid {
		report.Errors[inv.Path] = inv.Reason
	}

	for title, m := range locals {
		if m.RemoteID(name) != "" {
			continue
		}
		if rm, ok := remotes[title]; ok {
			// Same title on both sides; adopt the pairing.
			if _, err := o.store.UpdateMilestone(title, func(m *types.Milestone) error {
				m.SetRemoteID(name, rm.ID)
				m.StampSync(name, time.Now().UTC(), derefTime(rm.UpdatedAt))
				return nil
			}); err != nil {
				report.Errors["milestone:"+title] = err.Error()
			}
			continue
		}
		remoteID, err := o.backend.PushMilestone(ctx, m)
		if err != nil {
			report.Errors["milestone:"+title] = err.Error()
			continue
		}
		if _, err := o.store.UpdateMilestone(title, func(m *types.Milestone) error {
			m.SetRemoteID(name, remoteID)
			m.StampSync(name, time.Now().UTC(), time.Time{})
			return nil
		}); err != nil {
			report.Errors["milestone:"+title] = err.Error()
			continue
		}
		report.MilestonesPushed++
	}

	for title, rm := range remotes {
		if _, ok := locals[title]; ok {
			continue
		}
		m := &types.Milestone{
			Name:        title,
			Description: rm.Description,
			Status:      milestoneStatus(rm.State),
			DueDate:     rm.DueDate,
			Created:     time.Now().UTC(),
			Updated:     time.Now().UTC(),
			Content:     rm.Description,
		}
		m.SetRemoteID(name, rm.ID)
		m.StampSync(name, time.Now().UTC(), derefTime(rm.UpdatedAt))
		if err := o.store.SaveMilestone(m); err != nil {
			report.Errors["milestone:"+title] = err.Error()
			continue
		}
		report.MilestonesPulled++
	}
}

// NewLocalID mints a short collision-resistant local id.
func NewLocalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// applyRemoteFields copies the synced fields of a remote issue onto a
// local one. Unknown remote enum values fall back to policy defaults
// (status todo, priority medium).
func applyRemoteFields(issue *types.Issue, remote *RemoteIssue) {
	if remote == nil {
		return
	}
	issue.Status = statusOrDefault(remote.Status)
	issue.Priority = priorityOrDefault(remote.Priority)
	issue.Content = remote.Content
	issue.Labels = types.CanonicalLabels(remote.Labels)
	issue.Assignee = remote.Assignee
	if remote.Milestone != "" {
		issue.Milestone = remote.Milestone
	}
}

// applyMergedFields writes resolved field values onto a local issue.
func applyMergedFields(issue *types.Issue, merged map[string]any) {
	for field, value := range merged {
		switch field {
		case "status":
			if s, ok := value.(string); ok {
				issue.Status = statusOrDefault(s)
			}
		case "priority":
			if s, ok := value.(string); ok {
				issue.Priority = priorityOrDefault(s)
			}
		case "content":
			if s, ok := value.(string); ok {
				issue.Content = s
			}
		case "labels":
			if l, ok := value.([]string); ok {
				issue.Labels = types.CanonicalLabels(l)
			}
		case "assignee":
			if s, ok := value.(string); ok {
				issue.Assignee = s
			}
		}
	}
}

// statusOnlyChange reports whether status is the sole changed field,
// which lets the push use the backend's state fast path.
func statusOnlyChange(changes map[string]FieldChange) bool {
	if len(changes) != 1 {
		return false
	}
	_, ok := changes["status"]
	return ok
}

func statusOrDefault(raw string) types.Status {
	if s, ok := types.NormalizeStatus(raw); ok {
		return s
	}
	return types.StatusTodo
}

func priorityOrDefault(raw string) types.Priority {
	if p, ok := types.NormalizePriority(raw); ok {
		return p
	}
	return types.PriorityMedium
}

func milestoneStatus(raw string) types.MilestoneStatus {
	if strings.EqualFold(raw, "closed") {
		return types.MilestoneClosed
	}
	return types.MilestoneOpen
}

func remoteUpdated(remote *RemoteIssue) time.Time {
	if remote == nil || remote.UpdatedAt == nil {
		return time.Time{}
	}
	return *remote.UpdatedAt
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func canceled(ctx context.Context, report *Report) bool {
	if ctx.Err() != nil {
		report.Error = "canceled"
		return true
	}
	return false
}
