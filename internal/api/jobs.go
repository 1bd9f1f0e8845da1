package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calafate/loom/internal/scheduler"
)

// jobView is a job as the API renders it. The scheduler's clone carries an
// "id" field; clients historically read "job_id", so both are emitted.
type jobView struct {
	*scheduler.Job
	JobID string `json:"job_id"`
}

func toJobView(job *scheduler.Job) jobView {
	return jobView{Job: job, JobID: job.ID}
}

func toJobViews(jobs []*scheduler.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobView(job))
	}
	return out
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobViews(s.cfg.Scheduler.ListByUser(r.Header.Get("X-User-ID"))))
}

func (s *Server) listActiveJobs(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, err)
		return
	}

	var active []*scheduler.Job
	for _, job := range s.cfg.Scheduler.ListByUser(r.Header.Get("X-User-ID")) {
		if job.Status == scheduler.JobPending || job.Status == scheduler.JobRunning {
			active = append(active, job)
		}
	}
	writeJSON(w, http.StatusOK, toJobViews(active))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ownedJob(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ownedJob(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if !s.cfg.Scheduler.Cancel(job.ID) {
		// Only pending jobs can be cancelled.
		writeError(w, errNotFound("Job not found or cannot be cancelled"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job cancelled successfully"})
}

func (s *Server) realtimeToken(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.cfg.Tokens.Issue(r.Header.Get("X-User-ID"), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// ownedJob loads the job in the path and verifies it belongs to the caller.
// Job ownership failures are explicit 403s, unlike workflows where foreign
// rows read as missing.
func (s *Server) ownedJob(r *http.Request) (*scheduler.Job, error) {
	if _, err := userID(r); err != nil {
		return nil, err
	}

	job, ok := s.cfg.Scheduler.Get(chi.URLParam(r, "jobID"))
	if !ok {
		return nil, errNotFound("Job not found")
	}
	if job.UserID != r.Header.Get("X-User-ID") {
		return nil, errForbidden("Access denied")
	}
	return job, nil
}
