package core

import (
	"context"
	"errors"
	"fmt"

	"ratedesk/pkg/domain"
)

// RenderTable fetches the variant's records, filters and sorts them, and
// stores the resulting view as the session's edit snapshot.
func (s *Service) RenderTable(ctx context.Context, sess *Session, filter FilterConfig, sortField domain.Field) (*View, error) {
	view, err := s.PreviewTable(ctx, sess, filter, sortField)
	if err != nil {
		return nil, err
	}
	sess.View = view
	return view, nil
}

// PreviewTable renders a view like RenderTable but leaves the session's edit
// snapshot untouched. Downloads use it so a pending edit stays applicable.
func (s *Service) PreviewTable(ctx context.Context, sess *Session, filter FilterConfig, sortField domain.Field) (*View, error) {
	v, err := s.Variant(sess.Variant)
	if err != nil {
		return nil, err
	}
	records, err := s.fetchAll(ctx, v)
	if err != nil {
		sess.AddBanner(BannerError, fmt.Sprintf("Error fetching data: %v", err), s.clock.Now())
		return nil, err
	}
	return RenderView(v.Name, records, filter, sortField, s.clock.Now()), nil
}

// ApplyResult reports the per-row outcomes of an apply and the refreshed view.
// View is nil and RefreshError set when the follow-up fetch failed.
type ApplyResult struct {
	Outcomes     []RowOutcome `json:"outcomes"`
	View         *View        `json:"view"`
	RefreshError string       `json:"refresh_error,omitempty"`
}

// ApplyEdits reconciles a post-edit table against the session's snapshot.
// Deletes run before updates, each in ascending position order, and every
// row is attempted independently. The table is re-rendered with the same
// filter and sort afterwards whatever the outcomes.
func (s *Service) ApplyEdits(ctx context.Context, sess *Session, viewID string, edited []EditedRow, username string) (ApplyResult, error) {
	v, err := s.Variant(sess.Variant)
	if err != nil {
		return ApplyResult{}, err
	}
	if sess.View == nil || sess.View.ID != viewID {
		return ApplyResult{}, &domain.ValidationError{Field: "view_id", Message: "the table changed since it was rendered; reload and reapply"}
	}
	if username == "" {
		username = DefaultEditUsername
	}
	snapshot := sess.View
	delta := Diff(snapshot, edited)
	result := ApplyResult{Outcomes: make([]RowOutcome, 0, len(delta.Deleted)+len(delta.Changed)+len(delta.Rejected))}
	now := s.clock.Now()

	for _, row := range delta.Deleted {
		key := row.Key()
		out := RowOutcome{Position: row.Position, Key: key, Action: RowActionDelete}
		if err := s.deleteByKey(ctx, v, key, username); err != nil {
			out.Message = fmt.Sprintf("Failed to delete row: %s", describeStoreError(err))
			sess.AddBanner(BannerError, out.Message, now)
		} else {
			out.Success = true
			out.Message = fmt.Sprintf("Row for %s '%s' deleted successfully.", v.OrgNoun, key.Organization)
			sess.AddBanner(BannerSuccess, out.Message, now)
		}
		result.Outcomes = append(result.Outcomes, out)
	}

	for _, change := range delta.Changed {
		key := change.Row.Key()
		out := RowOutcome{Position: change.Row.Position, Key: key, Action: RowActionUpdate}
		err := s.updateByKey(ctx, v, key, domain.RecordChange{
			Measure:     change.Measure,
			Active:      change.Active,
			UpdatedLast: s.clock.Now().UTC(),
			Username:    username,
		})
		if err != nil {
			out.Message = fmt.Sprintf("Failed to update row: %s", describeStoreError(err))
			sess.AddBanner(BannerError, out.Message, now)
		} else {
			out.Success = true
			out.Message = fmt.Sprintf("Row for %s '%s' updated successfully.", v.OrgNoun, key.Organization)
			sess.AddBanner(BannerSuccess, out.Message, now)
		}
		result.Outcomes = append(result.Outcomes, out)
	}

	for _, rej := range delta.Rejected {
		out := RowOutcome{Position: rej.Position, Action: RowActionReject, Message: fmt.Sprintf("Rejected row %d: %s", rej.Position, rej.Reason)}
		if row, ok := snapshot.Row(rej.Position); ok {
			out.Key = row.Key()
		}
		sess.AddBanner(BannerError, out.Message, now)
		result.Outcomes = append(result.Outcomes, out)
	}

	view, err := s.RenderTable(ctx, sess, snapshot.Filter, snapshot.Sort)
	if err != nil {
		sess.View = nil
		result.RefreshError = err.Error()
		return result, nil
	}
	result.View = view
	return result, nil
}

func describeStoreError(err error) string {
	if errors.Is(err, domain.ErrRecordNotFound) {
		return "record no longer exists"
	}
	return err.Error()
}
