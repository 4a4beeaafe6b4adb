package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipvault/internal/scheduler"
	"clipvault/internal/types"
)

// mockSweeper is a scripted SweepRunner.
type mockSweeper struct {
	result *scheduler.SweepResult
	err    error
	calls  int
}

func (m *mockSweeper) Sweep(_ context.Context) (*scheduler.SweepResult, error) {
	m.calls++
	return m.result, m.err
}

func doSweep(t *testing.T, h *SweepHandler, token string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/sweep", nil)
	if token != "" {
		req.Header.Set("X-Sweep-Token", token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleSweep_RunsTickWithValidToken(t *testing.T) {
	sweeper := &mockSweeper{result: &scheduler.SweepResult{
		Eligible: 3, Refreshed: 2, Yielded: 1, Elapsed: "1.5s",
	}}
	h := NewSweepHandler(sweeper, types.SecretString("shared-secret"))

	rec := doSweep(t, h, "shared-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sweeper.calls)

	var body struct {
		Data scheduler.SweepResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Data.Eligible)
	assert.Equal(t, 2, body.Data.Refreshed)
}

func TestHandleSweep_RejectsWrongToken(t *testing.T) {
	sweeper := &mockSweeper{result: &scheduler.SweepResult{}}
	h := NewSweepHandler(sweeper, types.SecretString("shared-secret"))

	rec := doSweep(t, h, "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, sweeper.calls)
}

func TestHandleSweep_RejectsMissingToken(t *testing.T) {
	sweeper := &mockSweeper{result: &scheduler.SweepResult{}}
	h := NewSweepHandler(sweeper, types.SecretString("shared-secret"))

	rec := doSweep(t, h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, sweeper.calls)
}

func TestHandleSweep_EmptyConfiguredTokenRejectsEverything(t *testing.T) {
	sweeper := &mockSweeper{result: &scheduler.SweepResult{}}
	h := NewSweepHandler(sweeper, types.SecretString(""))

	rec := doSweep(t, h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, sweeper.calls)
}

func TestHandleSweep_SweepErrorIs500(t *testing.T) {
	sweeper := &mockSweeper{err: errors.New("ledger unavailable")}
	h := NewSweepHandler(sweeper, types.SecretString("shared-secret"))

	rec := doSweep(t, h, "shared-secret")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
