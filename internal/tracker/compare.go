package tracker

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roamkit/roam/internal/baseline"
	"github.com/roamkit/roam/internal/links"
	"github.com/roamkit/roam/internal/types"
)

// Classification buckets an issue after comparing local, remote, and
// baseline state.
type Classification string

const (
	NoChange    Classification = "no_change"
	LocalOnly   Classification = "local_only"
	RemoteOnly  Classification = "remote_only"
	BothChanged Classification = "both_changed"
	NewLocal    Classification = "new_local"
	NewRemote   Classification = "new_remote"
	Deleted     Classification = "deleted"
)

// DefaultSyncFields is the closed set of fields the engine syncs.
// Title is excluded deliberately: it is display metadata, though the
// comparator still flags divergent titles informationally.
var DefaultSyncFields = []string{"assignee", "content", "labels", "priority", "status"}

// FieldChange records one field's movement relative to baseline.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// ChangeRecord is the comparator's verdict for one issue.
type ChangeRecord struct {
	IssueID        string
	Title          string
	Classification Classification
	Reason         string

	Baseline *baseline.IssueBaseState
	Local    *types.Issue
	Remote   *RemoteIssue

	LocalChanges  map[string]FieldChange
	RemoteChanges map[string]FieldChange

	// TitleDiffers flags a local/remote title mismatch. Titles are not
	// synced; this is surfaced informationally in the report.
	TitleDiffers bool
}

// Comparator classifies issues by three-way comparison. The remote
// link index provides the fast path for matching remote keys to local
// ids; frontmatter remote_ids is the durable fallback.
type Comparator struct {
	links  *links.Index
	logger *slog.Logger
	fields []string
}

// NewComparator builds a Comparator syncing the given fields, or
// DefaultSyncFields when none are given.
func NewComparator(idx *links.Index, fields []string, logger *slog.Logger) *Comparator {
	if len(fields) == 0 {
		fields = DefaultSyncFields
	}
	return &Comparator{links: idx, logger: logger, fields: fields}
}

// Fields returns the field set this comparator syncs.
func (c *Comparator) Fields() []string { return c.fields }

// Compare produces one ChangeRecord per issue in the union of local
// ids, matched remote keys, and baseline keys. Unmatched remote
// entries keep a synthetic "_remote_<key>" id and classify as
// new_remote.
func (c *Comparator) Compare(
	local map[string]*types.Issue,
	remote map[string]RemoteIssue,
	base map[string]baseline.IssueBaseState,
	backend string,
) []ChangeRecord {
	byLocal := c.normalizeKeys(local, remote, backend)

	ids := make(map[string]bool)
	for id := range local {
		ids[id] = true
	}
	for id := range byLocal {
		ids[id] = true
	}
	for id := range base {
		ids[id] = true
	}

	var records []ChangeRecord
	for id := range ids {
		rec := c.classify(id, local[id], byLocal[id], base, backend)
		if rec == nil {
			continue
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].IssueID < records[j].IssueID })
	return records
}

// normalizeKeys rekeys remote entries by local id where a match
// exists: the link index first, then a scan of frontmatter remote_ids.
// Unmatched entries get the synthetic prefixed key.
func (c *Comparator) normalizeKeys(local map[string]*types.Issue, remote map[string]RemoteIssue, backend string) map[string]*RemoteIssue {
	frontmatter := make(map[string]string) // remote id -> local id
	for id, issue := range local {
		if rid := issue.RemoteID(backend); rid != "" {
			frontmatter[rid] = id
		}
	}

	out := make(map[string]*RemoteIssue, len(remote))
	for key := range remote {
		ri := remote[key]
		localID, ok := c.links.GetLocalID(backend, ri.ID)
		if !ok {
			localID, ok = frontmatter[ri.ID]
			if ok {
				c.logger.Debug("remote link recovered from frontmatter", "backend", backend, "remote_id", ri.ID, "local_id", localID)
			}
		}
		if !ok {
			out["_remote_"+key] = &ri
			continue
		}
		out[localID] = &ri
	}
	return out
}

func (c *Comparator) classify(id string, loc *types.Issue, rem *RemoteIssue, base map[string]baseline.IssueBaseState, backend string) *ChangeRecord {
	bs, hasBase := base[id]

	rec := &ChangeRecord{IssueID: id, Local: loc, Remote: rem}
	if hasBase {
		rec.Baseline = &bs
	}
	switch {
	case loc != nil:
		rec.Title = loc.Title
	case rem != nil:
		rec.Title = rem.Title
	case hasBase:
		rec.Title = bs.Title
	}

	switch {
	case loc == nil && rem == nil:
		// Baseline-only entry: gone from both sides, nothing to do.
		return nil

	case loc == nil:
		rec.Classification = NewRemote
		rec.Reason = "present only on remote"
		return rec

	case rem == nil:
		if !hasBase {
			rec.Classification = NewLocal
			rec.Reason = "present only locally"
			return rec
		}
		// Known to the backend before, missing now: deleted remotely.
		rec.LocalChanges = c.diff(c.baseFields(&bs), c.localFields(loc))
		if len(rec.LocalChanges) == 0 {
			rec.Classification = Deleted
			rec.Reason = "deleted remotely"
			return rec
		}
		rec.Classification = BothChanged
		rec.Reason = "remote deleted vs local edit"
		return rec
	}

	rec.TitleDiffers = loc.Title != rem.Title

	if !hasBase {
		// First sync for this pairing: no common ancestor. Matching
		// status and title means nothing to reconcile; anything else is
		// treated as a conflict, conservatively.
		remoteStatus, _ := c.normalizeStatus(rem.Status)
		if string(loc.Status) == remoteStatus && loc.Title == rem.Title {
			rec.Classification = NoChange
			rec.Reason = "first sync, sides already match"
			return rec
		}
		rec.Classification = BothChanged
		rec.Reason = "first sync, sides differ"
		rec.LocalChanges = c.diff(nil, c.localFields(loc))
		rec.RemoteChanges = c.diff(nil, c.remoteFields(rem))
		return rec
	}

	baseF := c.baseFields(&bs)
	rec.LocalChanges = c.diff(baseF, c.localFields(loc))
	rec.RemoteChanges = c.diff(baseF, c.remoteFields(rem))

	switch {
	case len(rec.LocalChanges) == 0 && len(rec.RemoteChanges) == 0:
		rec.Classification = NoChange
	case len(rec.LocalChanges) == 0:
		rec.Classification = RemoteOnly
	case len(rec.RemoteChanges) == 0:
		rec.Classification = LocalOnly
	default:
		rec.Classification = BothChanged
		rec.Reason = "changed on both sides"
	}
	return rec
}

// diff returns the per-field movements from base to cur, restricted to
// the sync field set.
func (c *Comparator) diff(base, cur map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for _, name := range c.fields {
		if !fieldsEqual(base[name], cur[name]) {
			changes[name] = FieldChange{From: base[name], To: cur[name]}
		}
	}
	return changes
}

// localFields projects an issue onto the sync field set.
func (c *Comparator) localFields(issue *types.Issue) map[string]any {
	return map[string]any{
		"status":   string(issue.Status),
		"priority": string(issue.Priority),
		"content":  issue.Content,
		"labels":   types.CanonicalLabels(issue.Labels),
		"assignee": issue.Assignee,
	}
}

func (c *Comparator) baseFields(bs *baseline.IssueBaseState) map[string]any {
	return map[string]any{
		"status":   string(bs.Status),
		"priority": string(bs.Priority),
		"content":  bs.Content,
		"labels":   types.CanonicalLabels(bs.Labels),
		"assignee": bs.Assignee,
	}
}

// remoteFields projects a remote issue, normalizing enums.
func (c *Comparator) remoteFields(ri *RemoteIssue) map[string]any {
	status, _ := c.normalizeStatus(ri.Status)
	priority, _ := c.normalizePriority(ri.Priority)
	return map[string]any{
		"status":   status,
		"priority": priority,
		"content":  ri.Content,
		"labels":   types.CanonicalLabels(ri.Labels),
		"assignee": ri.Assignee,
	}
}

// normalizeStatus maps a remote status string to a local enum value.
// An absent value takes the same default the apply step writes, so a
// remote with no status information still converges. Unmappable values
// are logged and kept verbatim so the resulting conflict carries
// context.
func (c *Comparator) normalizeStatus(raw string) (string, bool) {
	if raw == "" {
		return string(types.StatusTodo), true
	}
	if status, ok := types.NormalizeStatus(raw); ok {
		return string(status), true
	}
	c.logger.Warn("unknown remote status kept verbatim", "status", raw)
	return raw, false
}

func (c *Comparator) normalizePriority(raw string) (string, bool) {
	if raw == "" {
		return string(types.PriorityMedium), true
	}
	if p, ok := types.NormalizePriority(raw); ok {
		return string(p), true
	}
	c.logger.Warn("unknown remote priority kept verbatim", "priority", raw)
	return raw, false
}

// fieldsEqual compares projected field values; labels compare in
// canonical form.
func fieldsEqual(a, b any) bool {
	la, aok := a.([]string)
	lb, bok := b.([]string)
	if aok || bok {
		return types.LabelsEqual(la, lb)
	}
	return a == b
}

// ParseTime extracts a timestamp from loosely-typed input: time.Time
// values pass through, strings parse as ISO-8601 (a trailing Z is
// accepted), anything else is nil.
func ParseTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				parsed = parsed.UTC()
				return &parsed
			}
		}
		return nil
	default:
		return nil
	}
}
