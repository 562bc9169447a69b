package core

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ratedesk/pkg/domain"
)

func TestParseSortField(t *testing.T) {
	for _, in := range []string{"organization", "PROGRAM", " product ", "active"} {
		if _, err := ParseSortField(in); err != nil {
			t.Fatalf("ParseSortField(%q): %v", in, err)
		}
	}
	field, err := ParseSortField("")
	if err != nil || field != "" {
		t.Fatalf("empty sort should select default order, got %q %v", field, err)
	}
	for _, in := range []string{"measure", "updated_last", "nope"} {
		_, err := ParseSortField(in)
		if !domain.IsValidation(err) {
			t.Fatalf("expected validation error for %q, got %v", in, err)
		}
	}
}

func TestSortRecordsDefaultsToMostRecentFirst(t *testing.T) {
	records := []domain.Record{
		rec("A", "P", "old", 1, baseTime),
		rec("A", "P", "new", 1, baseTime.Add(2*time.Hour)),
		rec("A", "P", "mid", 1, baseTime.Add(time.Hour)),
	}
	SortRecords(records, "")
	var got []string
	for _, r := range records {
		got = append(got, r.Product)
	}
	if diff := cmp.Diff([]string{"new", "mid", "old"}, got); diff != "" {
		t.Fatalf("default order mismatch (-want +got):\n%s", diff)
	}
}

func TestSortRecordsIsStable(t *testing.T) {
	records := []domain.Record{
		rec("Beta", "P", "1", 1, baseTime),
		rec("Acme", "P", "2", 1, baseTime),
		rec("Beta", "P", "3", 1, baseTime),
		rec("Acme", "P", "4", 1, baseTime),
	}
	SortRecords(records, domain.FieldOrganization)
	var got []string
	for _, r := range records {
		got = append(got, r.Organization+r.Product)
	}
	if diff := cmp.Diff([]string{"Acme2", "Acme4", "Beta1", "Beta3"}, got); diff != "" {
		t.Fatalf("stable sort mismatch (-want +got):\n%s", diff)
	}
}

func TestSortRecordsByActivePutsInactiveFirst(t *testing.T) {
	on := rec("A", "P", "on", 1, baseTime)
	off := rec("A", "P", "off", 1, baseTime)
	off.Active = false
	records := []domain.Record{on, off}
	SortRecords(records, domain.FieldActive)
	if records[0].Product != "off" {
		t.Fatalf("expected inactive row first, got %s", records[0].Product)
	}
}

func TestRenderViewPipelineIsIdempotent(t *testing.T) {
	records := []domain.Record{
		rec("Beta", "P1", "A", 1, baseTime),
		rec("Acme", "P1", "B", 2, baseTime.Add(time.Minute)),
		rec("Acme", "P2", "C", 3, baseTime.Add(2*time.Minute)),
	}
	f := FilterConfig{Program: "p1"}
	first := RenderView(domain.VariantCommission, records, f, domain.FieldOrganization, baseTime)
	second := RenderView(domain.VariantCommission, first.Records(), f, domain.FieldOrganization, baseTime)
	if diff := cmp.Diff(first.Records(), second.Records()); diff != "" {
		t.Fatalf("pipeline not idempotent (-first +second):\n%s", diff)
	}
	for i, row := range first.Rows {
		if row.Position != i {
			t.Fatalf("row %d has position %d", i, row.Position)
		}
	}
	if first.ID == second.ID {
		t.Fatalf("each render must carry a fresh view id")
	}
	if first.Panel.MeasureMax != 3 {
		t.Fatalf("panel must reflect the unfiltered snapshot, got %+v", first.Panel)
	}
	if records[0].Organization != "Beta" {
		t.Fatalf("RenderView must not reorder its input")
	}
}

func TestViewRowBounds(t *testing.T) {
	view := RenderView(domain.VariantCommission, []domain.Record{rec("A", "P", "1", 1, baseTime)}, FilterConfig{}, "", baseTime)
	if _, ok := view.Row(-1); ok {
		t.Fatalf("negative position must be rejected")
	}
	if _, ok := view.Row(1); ok {
		t.Fatalf("out of range position must be rejected")
	}
	var nilView *View
	if _, ok := nilView.Row(0); ok {
		t.Fatalf("nil view has no rows")
	}
}
