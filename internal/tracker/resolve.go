package tracker

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/roamkit/roam/internal/merge"
)

// Strategy names the policy for resolving a both_changed issue.
type Strategy string

const (
	StrategyKeepLocal  Strategy = "keep-local"
	StrategyKeepRemote Strategy = "keep-remote"
	StrategyAuto       Strategy = "auto"
	StrategyManual     Strategy = "manual"
)

// ParseStrategy validates a strategy name from config or flags.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyKeepLocal, StrategyKeepRemote, StrategyAuto, StrategyManual:
		return Strategy(s), nil
	case "":
		return StrategyManual, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (valid: keep-local, keep-remote, auto, manual)", s)
	}
}

// Resolution is the field-wise outcome of resolving one change record.
// Merged holds the final value for every settled field; PushFields and
// PullFields say which side must be updated to converge. Unresolved
// fields (manual strategy) are excluded from Merged and from apply.
type Resolution struct {
	Merged     map[string]any
	PushFields []string
	PullFields []string
	Unresolved []string
}

// Resolved reports whether every conflicted field was settled.
func (r Resolution) Resolved() bool { return len(r.Unresolved) == 0 }

// Resolver settles both_changed records by running the three-way merge
// field-wise and applying the strategy only to truly conflicted fields.
type Resolver struct {
	comparator *Comparator
	logger     *slog.Logger
}

// NewResolver builds a Resolver sharing the comparator's field
// projections.
func NewResolver(c *Comparator, logger *slog.Logger) *Resolver {
	return &Resolver{comparator: c, logger: logger}
}

// Resolve merges one record under the given strategy. Clean fields
// from the merge are taken as-is; the strategy decides only the fields
// where both sides diverged from baseline to different values.
func (r *Resolver) Resolve(rec ChangeRecord, strategy Strategy) Resolution {
	res := Resolution{Merged: make(map[string]any)}

	var baseF map[string]any
	if rec.Baseline != nil {
		baseF = r.comparator.baseFields(rec.Baseline)
	}
	localF := map[string]any{}
	if rec.Local != nil {
		localF = r.comparator.localFields(rec.Local)
	}
	remoteF := map[string]any{}
	if rec.Remote != nil {
		remoteF = r.comparator.remoteFields(rec.Remote)
	}

	// Remote delete vs local edit: there is no remote value to merge
	// field-wise. keep-local re-pushes the whole issue; keep-remote is
	// not honored as a delete (issues are archived, never deleted), so
	// anything but keep-local stays unresolved for the caller to report.
	if rec.Remote == nil {
		for _, name := range r.comparator.fields {
			res.Merged[name] = localF[name]
		}
		if strategy == StrategyKeepLocal || strategy == StrategyAuto {
			res.PushFields = append(res.PushFields, r.comparator.fields...)
		} else {
			res.Unresolved = append(res.Unresolved, sortedKeys(rec.LocalChanges)...)
		}
		return res
	}

	for _, name := range r.comparator.fields {
		value, status, _ := merge.MergeField(name, baseF[name], localF[name], remoteF[name])
		if status == merge.Clean {
			res.Merged[name] = value
			switch {
			case !fieldsEqual(value, remoteF[name]):
				res.PushFields = append(res.PushFields, name)
			case !fieldsEqual(value, localF[name]):
				res.PullFields = append(res.PullFields, name)
			}
			continue
		}

		winner := r.pickSide(rec, strategy)
		switch winner {
		case StrategyKeepLocal:
			res.Merged[name] = localF[name]
			res.PushFields = append(res.PushFields, name)
		case StrategyKeepRemote:
			res.Merged[name] = remoteF[name]
			res.PullFields = append(res.PullFields, name)
		default:
			res.Unresolved = append(res.Unresolved, name)
		}
	}
	return res
}

// pickSide maps the strategy to a winning side for one conflicted
// field. Auto compares updated timestamps: the strictly newer side
// wins, ties and a missing remote timestamp keep local.
func (r *Resolver) pickSide(rec ChangeRecord, strategy Strategy) Strategy {
	switch strategy {
	case StrategyKeepLocal, StrategyKeepRemote:
		return strategy
	case StrategyAuto:
		if rec.Local == nil {
			return StrategyKeepRemote
		}
		if rec.Remote == nil || rec.Remote.UpdatedAt == nil {
			return StrategyKeepLocal
		}
		if rec.Remote.UpdatedAt.After(rec.Local.Updated) {
			return StrategyKeepRemote
		}
		return StrategyKeepLocal
	default:
		return StrategyManual
	}
}

func sortedKeys(m map[string]FieldChange) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
