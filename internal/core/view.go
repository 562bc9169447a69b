package core

import (
	"time"

	"github.com/google/uuid"

	"ratedesk/pkg/domain"
)

// ViewRow is one rendered table row. Position is its index in the view and is
// the identity the client echoes back when applying edits.
type ViewRow struct {
	Position int `json:"position"`
	domain.Record
}

// View is the filtered and sorted projection rendered for one edit pass. The
// natural keys stay server-side with the session, so a reordered or trimmed
// client grid cannot mis-target rows.
type View struct {
	ID         string             `json:"id"`
	Variant    domain.VariantName `json:"variant"`
	Filter     FilterConfig       `json:"-"`
	Sort       domain.Field       `json:"sort,omitempty"`
	RenderedAt time.Time          `json:"rendered_at"`
	Rows       []ViewRow          `json:"rows"`
	Panel      FilterPanel        `json:"panel"`
}

// RenderView runs the filter and sort stages over a fetched snapshot and
// assigns positions. records is not modified.
func RenderView(variant domain.VariantName, records []domain.Record, filter FilterConfig, sortField domain.Field, now time.Time) *View {
	filtered := filter.Apply(records)
	SortRecords(filtered, sortField)
	rows := make([]ViewRow, len(filtered))
	for i, r := range filtered {
		rows[i] = ViewRow{Position: i, Record: r}
	}
	return &View{
		ID:         uuid.NewString(),
		Variant:    variant,
		Filter:     filter,
		Sort:       sortField,
		RenderedAt: now,
		Rows:       rows,
		Panel:      NewFilterPanel(records),
	}
}

// Row returns the row rendered at position.
func (v *View) Row(position int) (ViewRow, bool) {
	if v == nil || position < 0 || position >= len(v.Rows) {
		return ViewRow{}, false
	}
	return v.Rows[position], true
}

// Records returns the rendered records in view order.
func (v *View) Records() []domain.Record {
	out := make([]domain.Record, len(v.Rows))
	for i, row := range v.Rows {
		out[i] = row.Record
	}
	return out
}
