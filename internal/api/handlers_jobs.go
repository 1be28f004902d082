package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/go-chi/chi/v5"
)

type convertRequest struct {
	Direction string `json:"direction"`
	Input     string `json:"input"`
	Filename  string `json:"filename,omitempty"`
}

// readConvertRequest accepts either a JSON body or a raw document body with
// the direction in the query string.
func (s *Server) readConvertRequest(w http.ResponseWriter, r *http.Request) (convert.Direction, convertRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for JSON overhead

	var req convertRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
			return 0, req, false
		}
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, "failed to read body", http.StatusRequestEntityTooLarge)
			return 0, req, false
		}
		req.Input = string(data)
		req.Direction = r.URL.Query().Get("direction")
		req.Filename = r.URL.Query().Get("filename")
	}

	dir, err := convert.ParseDirection(req.Direction)
	if err != nil {
		jsonError(w, "direction must be rtf2md or md2rtf", http.StatusBadRequest)
		return 0, req, false
	}
	return dir, req, true
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	dir, req, ok := s.readConvertRequest(w, r)
	if !ok {
		return
	}
	out, err := s.orchestrator.Convert(r.Context(), dir, req.Input)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	dir, req, ok := s.readConvertRequest(w, r)
	if !ok {
		return
	}
	filename := ""
	if req.Filename != "" {
		filename = sanitizeFilename(req.Filename)
	}
	job, err := s.orchestrator.Submit(r.Context(), dir, req.Input, filename)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	snap := job.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    snap.ID,
		"status":    snap.Status,
		"cache_hit": snap.CacheHit,
		"poll_url":  fmt.Sprintf("/api/jobs/%s", snap.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if s.orchestrator.GetJob(jobID) == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	if !s.orchestrator.CancelJob(jobID) {
		jsonError(w, "job already started", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "cancelled": true})
}
