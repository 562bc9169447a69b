package core

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ratedesk/internal/blob"
	"ratedesk/pkg/domain"
)

func TestWriteCSVUsesPhysicalColumns(t *testing.T) {
	v := domain.DefaultVariants()[domain.VariantCommission]
	r := rec("Acme, Inc", "P1", "A", 12.5, time.Date(2024, 1, 2, 3, 4, 5, 999, time.UTC))
	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, v, []domain.Record{r}))
	want := "COMPANY_NAME,PROGRAM_CODE,PRODUCT_CODE,COMMISSION_AMOUNT,IS_ACTIVE,UPDATED_LAST,USERNAME\n" +
		"\"Acme, Inc\",P1,A,12.5,true,2024-01-02 03:04:05,alice\n"
	require.Equal(t, want, sb.String())
}

func TestExportKeyLayout(t *testing.T) {
	at := time.Date(2024, 7, 8, 9, 10, 11, 0, time.FixedZone("X", 3600))
	require.Equal(t, "exports/ulr/20240708T081011Z-job-1.csv", ExportKey(domain.VariantULR, "job-1", at))
}

func TestArchiveCSVStoresSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seed(t, rec("Acme", "P1", "A", 1, baseTime), rec("Acme", "P1", "B", 2, baseTime.Add(time.Minute)))
	ctx := context.Background()

	view, err := f.svc.Snapshot(ctx, domain.VariantCommission)
	require.NoError(t, err)
	require.Equal(t, "B", view.Rows[0].Product, "snapshot uses default order")

	store := blob.NewMemory()
	info, err := ArchiveCSV(ctx, store, f.v, "job-1", view.ID, view.Records(), f.svc.Now())
	require.NoError(t, err)
	require.Equal(t, ExportKey(domain.VariantCommission, "job-1", baseTime), info.Key)
	require.Equal(t, view.ID, info.Metadata["view-id"])
	require.Empty(t, info.URL, "memory backend cannot presign")
	require.Equal(t, "2", info.Metadata["rows"])

	_, body, err := store.Get(ctx, info.Key)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[1], "Acme,P1,B,2,"))
}

func TestSnapshotUnknownVariant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Snapshot(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownVariant)
}
