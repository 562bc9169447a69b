package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ratedesk/internal/config"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	info, err := s.Put(ctx, "exports/ulr/a.csv", strings.NewReader("A,B\n1,2\n"), PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"rows": "1"},
	})
	require.NoError(t, err)
	require.Equal(t, "exports/ulr/a.csv", info.Key)
	require.Equal(t, int64(8), info.Size)
	require.NotEmpty(t, info.ETag)

	_, err = s.Put(ctx, "exports/ulr/a.csv", strings.NewReader("x"), PutOptions{})
	require.True(t, errors.Is(err, ErrExists), "got %v", err)

	_, err = s.Put(ctx, "exports/commission/b.csv", strings.NewReader("x"), PutOptions{})
	require.NoError(t, err)

	got, body, err := s.Get(ctx, "exports/ulr/a.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	require.Equal(t, "A,B\n1,2\n", string(data))
	require.Equal(t, "text/csv", got.ContentType)
	require.Equal(t, "1", got.Metadata["rows"])

	_, _, err = s.Get(ctx, "exports/ulr/missing.csv")
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	list, err := s.List(ctx, "exports/ulr/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "exports/ulr/a.csv", list[0].Key)

	for _, bad := range []string{"", "/abs", "../escape"} {
		_, err := s.Put(ctx, bad, strings.NewReader("x"), PutOptions{})
		require.Error(t, err, "key %q", bad)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	exerciseStore(t, s)
	_, err := s.PresignURL(context.Background(), "exports/ulr/a.csv", SignedURLOptions{})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestFilesystemStore(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, s)

	url, err := s.PresignURL(context.Background(), "exports/ulr/a.csv", SignedURLOptions{})
	require.NoError(t, err)
	require.Equal(t, "http://local.blob/exports/ulr/a.csv", url)
	_, err = s.PresignURL(context.Background(), "exports/ulr/a.csv", SignedURLOptions{Method: "PUT"})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.Blob{Driver: "memory"})
	require.NoError(t, err)
	require.Equal(t, DriverMemory, s.Driver())

	s, err = Open(ctx, config.Blob{Driver: "fs", FSRoot: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(ctx, config.Blob{Driver: "s3"})
	require.Error(t, err, "s3 needs a bucket")

	_, err = Open(ctx, config.Blob{Driver: "gcs"})
	require.Error(t, err)
}
