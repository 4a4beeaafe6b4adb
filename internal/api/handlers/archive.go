// Package handlers contains the HTTP handler implementations for the
// ClipVault API: the archive trigger/status/process/refresh surface, the
// catalog export stream, and the internal sweep tick.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"clipvault/internal/core"
	"clipvault/internal/types"
)

// channelNamePattern matches valid Twitch login names.
var channelNamePattern = regexp.MustCompile(`^[a-z0-9_]{3,25}$`)

// ArchiveService is the pipeline surface the handler depends on.
// Implemented by archive.Controller.
type ArchiveService interface {
	Start(ctx context.Context, channel string) (*types.StartResult, error)
	RunToBudget(ctx context.Context, channel string, budget time.Duration) (types.RunOutcome, error)
	Refresh(ctx context.Context, channel string, budget time.Duration) (types.RunOutcome, error)
	Status(ctx context.Context, channel string) (*types.ArchiveJob, error)
}

// BackgroundRunner detaches execution from the request lifecycle.
// Implemented by archive.Runner.
type BackgroundRunner interface {
	Kick(ctx context.Context, channel string)
}

// ArchiveHandler serves the /v1/archive endpoints.
type ArchiveHandler struct {
	svc    ArchiveService
	runner BackgroundRunner
	budget time.Duration
}

// NewArchiveHandler creates an ArchiveHandler. budget bounds the synchronous
// process and refresh invocations.
func NewArchiveHandler(svc ArchiveService, runner BackgroundRunner, budget time.Duration) *ArchiveHandler {
	return &ArchiveHandler{svc: svc, runner: runner, budget: budget}
}

// RegisterRoutes mounts the archive endpoints on the given router.
func (h *ArchiveHandler) RegisterRoutes(r chi.Router) {
	r.Route("/archive/{channel}", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Get("/", h.HandleStatus)
		r.Post("/process", h.HandleProcess)
		r.Post("/refresh", h.HandleRefresh)
	})
}

// channelParam extracts and validates the channel path parameter.
func channelParam(r *http.Request) (string, error) {
	channel := chi.URLParam(r, "channel")
	if !channelNamePattern.MatchString(channel) {
		return "", types.NewAppError(types.ErrCodeValidationChannelName,
			"channel must be 3-25 lowercase letters, digits, or underscores", nil)
	}
	return channel, nil
}

// startResponse is returned by HandleStart.
type startResponse struct {
	Status types.StartStatus `json:"status"`
	Job    *types.ArchiveJob `json:"job,omitempty"`
}

// HandleStart admits an archive job and, when admission succeeds, kicks
// background execution. The response does not wait for the run: progress is
// durable through ledger checkpoints whether or not anyone polls.
func (h *ArchiveHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	channel, err := channelParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.svc.Start(r.Context(), channel)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	status := http.StatusOK
	switch result.Status {
	case types.StartStarted:
		h.runner.Kick(r.Context(), channel)
		status = http.StatusAccepted
	case types.StartNotFound:
		status = http.StatusNotFound
	case types.StartRateLimited:
		status = http.StatusTooManyRequests
	}

	core.JSON(w, r, status, core.APIResponse{Data: startResponse{
		Status: result.Status,
		Job:    result.Job,
	}})
}

// statusResponse is returned by HandleStatus.
type statusResponse struct {
	Status          types.JobStatus   `json:"status"`
	ProgressPercent int               `json:"progress_percent"`
	Job             *types.ArchiveJob `json:"job"`
}

// HandleStatus reports ledger state for UI polling.
func (h *ArchiveHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	channel, err := channelParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	job, err := h.svc.Status(r.Context(), channel)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if job == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundJob,
			"channel has no archive job", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: statusResponse{
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent(),
		Job:             job,
	}})
}

// runResponse is returned by HandleProcess and HandleRefresh.
type runResponse struct {
	Outcome types.RunOutcome `json:"outcome"`
}

// HandleProcess runs one bounded execution unit synchronously. The caller
// may abandon the request; the effect is persisted via checkpoints either
// way.
func (h *ArchiveHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	channel, err := channelParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	outcome, err := h.svc.RunToBudget(r.Context(), channel, h.budget)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.HTTPStatus() < http.StatusInternalServerError {
			// Caller mistakes (unknown channel) surface as such.
			core.Error(w, r, err)
			return
		}
	}
	// A failed run is a valid, resumable state recorded in the ledger;
	// report the outcome rather than masking it with a 5xx.
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: runResponse{Outcome: outcome}})
}

// HandleRefresh triggers the incremental variant directly ("get new clips").
func (h *ArchiveHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	channel, err := channelParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	outcome, err := h.svc.Refresh(r.Context(), channel, h.budget)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: runResponse{Outcome: outcome}})
}
