package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipvault/internal/types"
)

// mockCatalog is a scripted CatalogReader.
type mockCatalog struct {
	clips    []*types.Clip
	countErr error
	iterErr  error
}

func (m *mockCatalog) ForEachByChannel(_ context.Context, _ string, fn func(*types.Clip) error) error {
	if m.iterErr != nil {
		return m.iterErr
	}
	for _, c := range m.clips {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockCatalog) Count(_ context.Context, _ string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.clips), nil
}

func newExportRouter(catalog *mockCatalog) *chi.Mux {
	r := chi.NewRouter()
	NewExportHandler(catalog).RegisterRoutes(r)
	return r
}

func TestHandleExport_StreamsGzipNDJSON(t *testing.T) {
	catalog := &mockCatalog{clips: []*types.Clip{
		{Channel: "somechannel", ClipID: "first", Seq: 1, Title: "oldest"},
		{Channel: "somechannel", ClipID: "second", Seq: 2, Title: "newer"},
	}}

	rec := doRequest(t, newExportRouter(catalog), http.MethodGet, "/channels/somechannel/clips/export")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer gz.Close()

	var lines []types.Clip
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var c types.Clip
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &c))
		lines = append(lines, c)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 2)
	assert.Equal(t, "first", lines[0].ClipID)
	assert.Equal(t, 2, lines[1].Seq)
}

func TestHandleExport_EmptyCatalogIs404(t *testing.T) {
	rec := doRequest(t, newExportRouter(&mockCatalog{}), http.MethodGet, "/channels/somechannel/clips/export")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleExport_RejectsInvalidChannelName(t *testing.T) {
	rec := doRequest(t, newExportRouter(&mockCatalog{}), http.MethodGet, "/channels/NOPE/clips/export")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExport_CountErrorBeforeHeaders(t *testing.T) {
	catalog := &mockCatalog{countErr: errors.New("connection refused")}

	rec := doRequest(t, newExportRouter(catalog), http.MethodGet, "/channels/somechannel/clips/export")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestHandleExport_SetsDownloadFilename(t *testing.T) {
	catalog := &mockCatalog{clips: []*types.Clip{{ClipID: "a", Seq: 1}}}

	rec := doRequest(t, newExportRouter(catalog), http.MethodGet, "/channels/somechannel/clips/export")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "somechannel-clips.ndjson.gz")
}
