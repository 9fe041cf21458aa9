package handler

import (
	"context"
	"net/http"

	"docsync-go/internal/api/request"
	"docsync-go/internal/api/response"
	"docsync-go/internal/docsync"
)

// SettingsService reads and updates the backup settings.
type SettingsService interface {
	Settings(ctx context.Context) (docsync.Settings, error)
	UpdateSettings(ctx context.Context, patch docsync.SettingsPatch) (docsync.Settings, error)
	TestConnection(ctx context.Context, s docsync.Settings) docsync.ConnectionResult
}

type Settings struct {
	svc SettingsService
}

func NewSettings(svc SettingsService) *Settings {
	return &Settings{svc: svc}
}

func (h *Settings) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Settings(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, s)
}

func (h *Settings) Update(w http.ResponseWriter, r *http.Request) {
	var req request.UpdateSettings
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.svc.UpdateSettings(r.Context(), req.Patch())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, s)
}

// Test reports connection failures in the body with status 200; only a
// malformed request is an HTTP error.
func (h *Settings) Test(w http.ResponseWriter, r *http.Request) {
	var req request.TestConnection
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, h.svc.TestConnection(r.Context(), req.Settings()))
}
