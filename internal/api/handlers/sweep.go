package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clipvault/internal/core"
	"clipvault/internal/scheduler"
	"clipvault/internal/types"
)

const sweepTokenHeader = "X-Sweep-Token"

// SweepRunner is the scheduler surface the handler depends on.
// Implemented by scheduler.Sweeper.
type SweepRunner interface {
	Sweep(ctx context.Context) (*scheduler.SweepResult, error)
}

// SweepHandler serves the internal scheduler tick endpoint.
type SweepHandler struct {
	sweeper SweepRunner
	token   types.SecretString
}

// NewSweepHandler creates a SweepHandler. token authenticates callers; an
// empty token rejects every request.
func NewSweepHandler(sweeper SweepRunner, token types.SecretString) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, token: token}
}

// RegisterRoutes mounts the sweep endpoint on the given router.
func (h *SweepHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sweep", h.HandleSweep)
}

// HandleSweep authenticates the shared-secret header and runs one sweep
// tick synchronously, returning the tick summary.
func (h *SweepHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	got := []byte(r.Header.Get(sweepTokenHeader))
	want := []byte(h.token.Reveal())
	if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSweepToken,
			"missing or invalid sweep token", nil))
		return
	}

	result, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}
