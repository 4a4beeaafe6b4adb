package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"clipvault/internal/core"
	"clipvault/internal/types"
)

// CatalogReader streams a channel's catalog in sequence order.
// Implemented by db.ClipRepository.
type CatalogReader interface {
	ForEachByChannel(ctx context.Context, channel string, fn func(*types.Clip) error) error
	Count(ctx context.Context, channel string) (int, error)
}

// ExportHandler serves gzip NDJSON dumps of a channel's catalog.
type ExportHandler struct {
	catalog CatalogReader
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(catalog CatalogReader) *ExportHandler {
	return &ExportHandler{catalog: catalog}
}

// RegisterRoutes mounts the export endpoint on the given router.
func (h *ExportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/channels/{channel}/clips/export", h.HandleExport)
}

// HandleExport streams the full catalog as gzip-compressed NDJSON, one clip
// per line in sequence order. Rows are streamed, not buffered, so large
// catalogs export in constant memory.
func (h *ExportHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	channel, err := channelParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	n, err := h.catalog.Count(r.Context(), channel)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if n == 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundChannel,
			"channel has no archived clips", nil))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+channel+`-clips.ndjson.gz"`)

	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)

	// Headers are already sent; a mid-stream failure leaves the body
	// truncated and the missing gzip trailer signals it to the client.
	if err := h.catalog.ForEachByChannel(r.Context(), channel, func(clip *types.Clip) error {
		return enc.Encode(clip)
	}); err != nil {
		return
	}
	gz.Close()
}
