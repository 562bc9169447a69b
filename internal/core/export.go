package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"ratedesk/internal/blob"
	"ratedesk/pkg/domain"
)

// CSVTimeLayout formats updated_last in CSV output.
const CSVTimeLayout = "2006-01-02 15:04:05"

// CSVHeader returns the variant's physical column names in upper case.
func CSVHeader(v domain.Variant) []string {
	header := make([]string, len(domain.Fields))
	for i, f := range domain.Fields {
		header[i] = strings.ToUpper(v.Column(f))
	}
	return header
}

// WriteCSV writes records with a header row.
func WriteCSV(w io.Writer, v domain.Variant, records []domain.Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader(v)); err != nil {
		return err
	}
	row := make([]string, len(domain.Fields))
	for _, r := range records {
		for i, f := range domain.Fields {
			row[i] = formatValue(r.Value(f))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.UTC().Format(CSVTimeLayout)
	default:
		return fmt.Sprint(v)
	}
}

// ExportKey names the archived object for one export run. exportID is unique
// per run, so one view exported twice yields two objects.
func ExportKey(v domain.VariantName, exportID string, at time.Time) string {
	return fmt.Sprintf("exports/%s/%s-%s.csv", v, at.UTC().Format("20060102T150405Z"), exportID)
}

// ArchiveCSV writes records as CSV to store under ExportKey and attaches a
// presigned URL when the backend offers one. viewID is kept as metadata.
func ArchiveCSV(ctx context.Context, store blob.Store, v domain.Variant, exportID, viewID string, records []domain.Record, at time.Time) (blob.Info, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, v, records); err != nil {
		return blob.Info{}, fmt.Errorf("render csv: %w", err)
	}
	key := ExportKey(v.Name, exportID, at)
	info, err := store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "text/csv",
		Metadata: map[string]string{
			"variant":   string(v.Name),
			"export-id": exportID,
			"view-id":   viewID,
			"rows":      strconv.Itoa(len(records)),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("archive %s: %w", key, err)
	}
	url, err := store.PresignURL(ctx, key, blob.SignedURLOptions{})
	switch {
	case err == nil:
		info.URL = url
	case !errors.Is(err, blob.ErrUnsupported):
		return info, fmt.Errorf("presign %s: %w", key, err)
	}
	return info, nil
}

// Snapshot renders an unfiltered view of a variant in default order without
// binding it to a session.
func (s *Service) Snapshot(ctx context.Context, name domain.VariantName) (*View, error) {
	v, err := s.Variant(name)
	if err != nil {
		return nil, err
	}
	records, err := s.fetchAll(ctx, v)
	if err != nil {
		return nil, err
	}
	return RenderView(v.Name, records, FilterConfig{}, "", s.clock.Now()), nil
}
