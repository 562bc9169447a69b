package core

import (
	"math"
	"sort"
	"strings"
	"time"

	"ratedesk/pkg/domain"
)

// FilterConfig is the set of optional table predicates. Zero values impose no
// constraint.
type FilterConfig struct {
	Organization string
	Program      string
	Product      string
	MeasureMin   *float64
	MeasureMax   *float64
	Username     string
	// UpdatedFrom and UpdatedTo bound updated_last by calendar day, both
	// inclusive. The range applies only when both are set.
	UpdatedFrom time.Time
	UpdatedTo   time.Time
}

// DateRangeActive reports whether both date endpoints were supplied.
func (f FilterConfig) DateRangeActive() bool {
	return !f.UpdatedFrom.IsZero() && !f.UpdatedTo.IsZero()
}

// Match reports whether r satisfies every non-empty predicate.
func (f FilterConfig) Match(r domain.Record) bool {
	if !containsFold(r.Organization, f.Organization) ||
		!containsFold(r.Program, f.Program) ||
		!containsFold(r.Product, f.Product) {
		return false
	}
	if f.MeasureMin != nil && r.Measure < *f.MeasureMin {
		return false
	}
	if f.MeasureMax != nil && r.Measure > *f.MeasureMax {
		return false
	}
	if f.Username != "" && r.Username != f.Username {
		return false
	}
	if f.DateRangeActive() {
		start := startOfDay(f.UpdatedFrom)
		end := startOfDay(f.UpdatedTo).AddDate(0, 0, 1)
		if r.UpdatedLast.Before(start) || !r.UpdatedLast.Before(end) {
			return false
		}
	}
	return true
}

// Apply returns the records matching f, preserving fetch order.
func (f FilterConfig) Apply(records []domain.Record) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func containsFold(value, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(substr))
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FilterPanel holds the defaults shown in the filter sidebar for the current
// record set.
type FilterPanel struct {
	MeasureMin float64  `json:"measure_min"`
	MeasureMax float64  `json:"measure_max"`
	Usernames  []string `json:"usernames"`
}

// NewFilterPanel derives the observed measure bounds and the distinct
// usernames of records.
func NewFilterPanel(records []domain.Record) FilterPanel {
	panel := FilterPanel{Usernames: []string{}}
	if len(records) == 0 {
		return panel
	}
	panel.MeasureMin = math.Inf(1)
	panel.MeasureMax = math.Inf(-1)
	seen := make(map[string]struct{})
	for _, r := range records {
		panel.MeasureMin = math.Min(panel.MeasureMin, r.Measure)
		panel.MeasureMax = math.Max(panel.MeasureMax, r.Measure)
		if r.Username == "" {
			continue
		}
		if _, ok := seen[r.Username]; !ok {
			seen[r.Username] = struct{}{}
			panel.Usernames = append(panel.Usernames, r.Username)
		}
	}
	sort.Strings(panel.Usernames)
	return panel
}
