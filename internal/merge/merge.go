// Package merge implements field-wise three-way merge of issue state.
// Given the last-agreed baseline plus the current local and remote
// values, each field resolves cleanly unless both sides diverged from
// the baseline to different values.
package merge

import (
	"reflect"
	"sort"

	"github.com/roamkit/roam/internal/types"
)

// FieldStatus is the outcome of merging a single field.
type FieldStatus int

const (
	Clean FieldStatus = iota
	Conflict
)

func (s FieldStatus) String() string {
	if s == Conflict {
		return "conflict"
	}
	return "clean"
}

// MergeField resolves one field across base, local, and remote values.
// Values are structural: nil (never set) and the empty string are
// distinct. Label slices compare in canonical sorted, duplicate-free
// form.
//
// The decision table:
//
//	base == local == remote            -> clean, local
//	local changed, remote untouched    -> clean, local
//	remote changed, local untouched    -> clean, remote
//	both changed to the same value     -> clean, local
//	both changed to different values   -> conflict
func MergeField(name string, base, local, remote any) (value any, status FieldStatus, reason string) {
	localChanged := !valuesEqual(local, base)
	remoteChanged := !valuesEqual(remote, base)

	switch {
	case !localChanged && !remoteChanged:
		return local, Clean, "no changes"
	case localChanged && !remoteChanged:
		return local, Clean, "only local changed"
	case remoteChanged && !localChanged:
		return remote, Clean, "only remote changed"
	case valuesEqual(local, remote):
		return local, Clean, "both changed to same value"
	default:
		return nil, Conflict, "both changed to different values"
	}
}

// MergeIssue merges every field in the union of the three maps. A
// field absent from a map merges as nil. Conflicted fields are omitted
// from merged and returned by name.
func MergeIssue(base, local, remote map[string]any) (merged map[string]any, conflicted []string) {
	merged = make(map[string]any)
	for _, name := range fieldUnion(base, local, remote) {
		value, status, _ := MergeField(name, base[name], local[name], remote[name])
		if status == Conflict {
			conflicted = append(conflicted, name)
			continue
		}
		if value != nil {
			merged[name] = value
		}
	}
	return merged, conflicted
}

// Result is the per-issue outcome of MergeIssues.
type Result struct {
	Merged     map[string]any
	Conflicted []string
	// Reason is set for whole-issue conflicts that have no per-field
	// resolution, such as a remote delete racing a local edit.
	Reason string
}

// RemoteDeleteConflict is the Reason set when an issue was deleted
// remotely while the local copy was modified.
const RemoteDeleteConflict = "remote deleted vs local edit"

// MergeIssues merges a whole collection keyed by issue id. An issue
// present in base and local but missing from remote was deleted
// remotely: if the local copy is unmodified relative to base it joins
// deletedIDs, otherwise it is a conflict carrying RemoteDeleteConflict.
func MergeIssues(bases, locals, remotes map[string]map[string]any) (results map[string]Result, deletedIDs []string) {
	results = make(map[string]Result)

	for id, local := range locals {
		base := bases[id]
		remote, onRemote := remotes[id]

		if !onRemote {
			if base == nil {
				// Never synced; nothing to merge against.
				continue
			}
			if modified := modifiedFields(base, local); len(modified) > 0 {
				results[id] = Result{Conflicted: modified, Reason: RemoteDeleteConflict}
				continue
			}
			deletedIDs = append(deletedIDs, id)
			continue
		}

		merged, conflicted := MergeIssue(base, local, remote)
		results[id] = Result{Merged: merged, Conflicted: conflicted}
	}

	// Remote-only issues merge to the remote values unchanged.
	for id, remote := range remotes {
		if _, ok := locals[id]; ok {
			continue
		}
		merged := make(map[string]any, len(remote))
		for name, value := range remote {
			merged[name] = value
		}
		results[id] = Result{Merged: merged}
	}
	return results, deletedIDs
}

// modifiedFields lists the fields where local diverged from base.
func modifiedFields(base, local map[string]any) []string {
	var fields []string
	for _, name := range fieldUnion(base, local) {
		if !valuesEqual(base[name], local[name]) {
			fields = append(fields, name)
		}
	}
	return fields
}

// valuesEqual is structural equality with label-aware comparison.
// nil and "" are distinct values.
func valuesEqual(a, b any) bool {
	if la, ok := a.([]string); ok {
		if lb, ok := b.([]string); ok {
			return types.LabelsEqual(la, lb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// fieldUnion returns the sorted union of keys so merge output is
// deterministic.
func fieldUnion(maps ...map[string]any) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range maps {
		for name := range m {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
