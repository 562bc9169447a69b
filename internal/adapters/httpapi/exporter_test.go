package httpapi

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

func exportInput() ExportInput {
	return ExportInput{
		Variant: domain.DefaultVariants()[domain.VariantULR],
		ViewID:  "view-1",
		Records: []domain.Record{{
			Organization: "Acme", Program: "P1", Product: "A", Measure: 0.42, Active: true,
			UpdatedLast: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), Username: "gina",
		}},
		RequestedBy: "gina",
	}
}

func TestWorkerArchivesExport(t *testing.T) {
	store := blob.NewMemory()
	w := NewWorker(store, nil)
	w.Start()
	defer func() { require.NoError(t, w.Stop(context.Background())) }()

	queued, err := w.EnqueueExport(context.Background(), exportInput())
	require.NoError(t, err)
	require.Equal(t, ExportStatusQueued, queued.Status)
	require.Equal(t, domain.VariantULR, queued.Variant)
	require.Equal(t, 1, queued.Rows)

	var done ExportRecord
	require.Eventually(t, func() bool {
		var ok bool
		done, ok = w.GetExport(queued.ID)
		return ok && done.Status == ExportStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, done.Artifact)
	require.True(t, strings.HasPrefix(done.Artifact.Key, "exports/ulr/"))
	require.True(t, strings.HasSuffix(done.Artifact.Key, "-"+queued.ID+".csv"))
	require.Equal(t, "view-1", done.Artifact.Metadata["view-id"])

	_, body, err := store.Get(context.Background(), done.Artifact.Key)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Contains(t, string(data), "ULR")
	require.Contains(t, string(data), "Acme,P1,A")
}

func TestWorkerRequiresStore(t *testing.T) {
	w := NewWorker(nil, nil)
	_, err := w.EnqueueExport(context.Background(), exportInput())
	require.EqualError(t, err, "export store not configured")
}

func TestWorkerQueueFull(t *testing.T) {
	w := NewWorker(blob.NewMemory(), nil)
	for i := 0; i < cap(w.queue); i++ {
		_, err := w.EnqueueExport(context.Background(), exportInput())
		require.NoError(t, err)
	}
	_, err := w.EnqueueExport(context.Background(), exportInput())
	require.EqualError(t, err, "export queue full")
	require.Len(t, w.jobs, cap(w.queue))
}

func TestGetExportUnknownAndCopy(t *testing.T) {
	w := NewWorker(blob.NewMemory(), nil)
	_, ok := w.GetExport("missing")
	require.False(t, ok)

	queued, err := w.EnqueueExport(context.Background(), exportInput())
	require.NoError(t, err)
	got, ok := w.GetExport(queued.ID)
	require.True(t, ok)
	got.Status = ExportStatusFailed
	again, _ := w.GetExport(queued.ID)
	require.Equal(t, ExportStatusQueued, again.Status)
}

func TestWorkerStopHonoursContext(t *testing.T) {
	w := NewWorker(blob.NewMemory(), nil)
	w.Start()
	require.NoError(t, w.Stop(context.Background()))
}

func TestWorkerArchivesSameViewTwice(t *testing.T) {
	store := blob.NewMemory()
	w := NewWorker(store, nil)
	w.Start()
	defer func() { require.NoError(t, w.Stop(context.Background())) }()

	first, err := w.EnqueueExport(context.Background(), exportInput())
	require.NoError(t, err)
	second, err := w.EnqueueExport(context.Background(), exportInput())
	require.NoError(t, err)

	for _, id := range []string{first.ID, second.ID} {
		require.Eventually(t, func() bool {
			got, ok := w.GetExport(id)
			return ok && got.Status == ExportStatusSucceeded
		}, 2*time.Second, 10*time.Millisecond, "export %s", id)
	}
	infos, err := store.List(context.Background(), "exports/ulr/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
}

func TestWorkerStopFailsQueuedJobs(t *testing.T) {
	w := NewWorker(blob.NewMemory(), nil)
	queued, err := w.EnqueueExport(context.Background(), exportInput())
	require.NoError(t, err)

	require.NoError(t, w.Stop(context.Background()))
	got, ok := w.GetExport(queued.ID)
	require.True(t, ok)
	require.Equal(t, ExportStatusFailed, got.Status)
	require.Equal(t, "worker stopped", got.Error)
	require.NotNil(t, got.CompletedAt)

	_, err = w.EnqueueExport(context.Background(), exportInput())
	require.ErrorContains(t, err, "worker stopped")
}
