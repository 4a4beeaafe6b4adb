package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clipvault/internal/core"
	"clipvault/internal/types"
)

// ClipModerator is the catalog moderation surface the handler depends on.
// Implemented by db.ClipRepository.
type ClipModerator interface {
	GetByClipID(ctx context.Context, channel, clipID string) (*types.Clip, error)
	SetSuppressed(ctx context.Context, channel, clipID string, suppressed bool) error
}

// GameReader looks up cached game metadata. Implemented by
// db.GameRepository.
type GameReader interface {
	Get(ctx context.Context, gameID string) (*types.Game, error)
}

// ClipsHandler serves per-clip catalog operations.
type ClipsHandler struct {
	catalog ClipModerator
	games   GameReader
}

// NewClipsHandler creates a ClipsHandler.
func NewClipsHandler(catalog ClipModerator, games GameReader) *ClipsHandler {
	return &ClipsHandler{catalog: catalog, games: games}
}

// RegisterRoutes mounts the clip endpoints on the given router.
func (h *ClipsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/channels/{channel}/clips/{clipID}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Patch("/", h.HandleModerate)
	})
}

// clipDetail is the clip row joined with its resolved game metadata, when
// the cache has it.
type clipDetail struct {
	*types.Clip
	Game *types.Game `json:"game,omitempty"`
}

// HandleGet returns a single catalog row with its game metadata.
func (h *ClipsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	channel, err := channelParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	clipID := chi.URLParam(r, "clipID")

	clip, err := h.catalog.GetByClipID(r.Context(), channel, clipID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if clip == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundChannel, "clip not found", nil))
		return
	}

	detail := clipDetail{Clip: clip}
	if clip.GameID != "" {
		game, err := h.games.Get(r.Context(), clip.GameID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		detail.Game = game
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: detail})
}

// moderateRequest is the body of HandleModerate.
type moderateRequest struct {
	Suppressed *bool `json:"suppressed"`
}

// HandleModerate flips the suppression flag on one clip. Suppressed clips
// stay in the catalog with their sequence number; suppression is a
// moderation overlay, not a deletion.
func (h *ClipsHandler) HandleModerate(w http.ResponseWriter, r *http.Request) {
	channel, err := channelParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	clipID := chi.URLParam(r, "clipID")

	var req moderateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Suppressed == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"body must include a boolean suppressed field", err))
		return
	}

	if err := h.catalog.SetSuppressed(r.Context(), channel, clipID, *req.Suppressed); err != nil {
		core.Error(w, r, err)
		return
	}

	clip, err := h.catalog.GetByClipID(r.Context(), channel, clipID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: clip})
}
