package core

import (
	"sort"

	"ratedesk/pkg/domain"
)

// EditedRow is one row of the post-edit table as returned by the client. Only
// the writable cells are carried.
type EditedRow struct {
	Position int     `json:"position"`
	Measure  float64 `json:"measure"`
	Active   bool    `json:"active"`
}

// RowChange is a surviving row whose writable cells differ from the snapshot.
type RowChange struct {
	Row     ViewRow
	Measure float64
	Active  bool
}

// RowRejection is a post-edit row that never reaches the store.
type RowRejection struct {
	Position int
	Reason   string
}

// EditDelta is the difference between a view snapshot and its post-edit table.
// Deleted and Changed are in ascending position order.
type EditDelta struct {
	Deleted  []ViewRow
	Changed  []RowChange
	Rejected []RowRejection
}

// Empty reports whether the delta carries no store work and no rejections.
func (d EditDelta) Empty() bool {
	return len(d.Deleted) == 0 && len(d.Changed) == 0 && len(d.Rejected) == 0
}

// Diff compares the post-edit rows against the snapshot by position. Positions
// missing from edited are deletions; positions present with a different
// measure or active flag are changes. Unknown or repeated positions and
// negative measures are rejected.
func Diff(view *View, edited []EditedRow) EditDelta {
	var delta EditDelta
	present := make(map[int]struct{}, len(edited))
	for _, e := range edited {
		if _, ok := view.Row(e.Position); !ok {
			delta.Rejected = append(delta.Rejected, RowRejection{Position: e.Position, Reason: "row is not part of the rendered view"})
			continue
		}
		if _, dup := present[e.Position]; dup {
			delta.Rejected = append(delta.Rejected, RowRejection{Position: e.Position, Reason: "row submitted more than once"})
			continue
		}
		present[e.Position] = struct{}{}
	}

	seen := make(map[int]struct{}, len(edited))
	for _, e := range edited {
		row, ok := view.Row(e.Position)
		if !ok {
			continue
		}
		if _, dup := seen[e.Position]; dup {
			continue
		}
		seen[e.Position] = struct{}{}
		if e.Measure == row.Measure && e.Active == row.Active {
			continue
		}
		if e.Measure < 0 {
			delta.Rejected = append(delta.Rejected, RowRejection{Position: e.Position, Reason: "measure must be non-negative"})
			continue
		}
		delta.Changed = append(delta.Changed, RowChange{Row: row, Measure: e.Measure, Active: e.Active})
	}

	for _, row := range view.Rows {
		if _, ok := present[row.Position]; !ok {
			delta.Deleted = append(delta.Deleted, row)
		}
	}
	sort.Slice(delta.Changed, func(i, j int) bool { return delta.Changed[i].Row.Position < delta.Changed[j].Row.Position })
	sort.SliceStable(delta.Rejected, func(i, j int) bool { return delta.Rejected[i].Position < delta.Rejected[j].Position })
	return delta
}

// RowAction names what reconciliation attempted for a row.
type RowAction string

const (
	RowActionDelete RowAction = "delete"
	RowActionUpdate RowAction = "update"
	RowActionReject RowAction = "reject"
)

// RowOutcome reports the result of one reconciliation attempt.
type RowOutcome struct {
	Position int               `json:"position"`
	Key      domain.NaturalKey `json:"key"`
	Action   RowAction         `json:"action"`
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
}
