package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "docsync-go/internal/api/middleware"
	"docsync-go/internal/api/request"
	"docsync-go/internal/api/response"
	"docsync-go/internal/docsync"
)

// JobService starts and reports backup and import jobs.
type JobService interface {
	StartBackup(ctx context.Context, jobType docsync.JobType, triggeredBy string) (*docsync.BackupJob, error)
	StartImport(ctx context.Context, mode docsync.ImportMode, triggeredBy string) (*docsync.BackupJob, error)
	GetJob(ctx context.Context, id string) (*docsync.BackupJob, error)
	RecentJobs(ctx context.Context, limit int) ([]*docsync.BackupJob, error)
}

type Jobs struct {
	svc JobService
}

func NewJobs(svc JobService) *Jobs {
	return &Jobs{svc: svc}
}

type jobAccepted struct {
	JobID string `json:"jobId"`
}

func (h *Jobs) StartBackup(w http.ResponseWriter, r *http.Request) {
	var req request.StartBackup
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobType, err := docsync.ParseBackupType(req.Type)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.StartBackup(r.Context(), jobType, triggeredBy(r))
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID})
}

func (h *Jobs) StartImport(w http.ResponseWriter, r *http.Request) {
	var req request.StartImport
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := docsync.ParseImportMode(req.Mode)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.StartImport(r.Context(), mode, triggeredBy(r))
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID})
}

func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	limit, err := request.ParseLimit(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := h.svc.RecentJobs(r.Context(), limit)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, jobs)
}

func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, docsync.ErrJobNotFound) {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, job)
}

func triggeredBy(r *http.Request) string {
	if name := mw.KeyName(r.Context()); name != "" {
		return "api:" + name
	}
	return "api"
}
