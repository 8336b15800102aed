package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rescale/ventsim/internal/constants"
	"github.com/rescale/ventsim/internal/models"
	"github.com/rescale/ventsim/internal/pipeline"
	"github.com/rescale/ventsim/internal/scheduler"
)

type errorResponse struct {
	Error string `json:"error"`
}

type runResponse struct {
	Stage scheduler.Stage `json:"stage"`
	RunID string          `json:"runId"`
}

type readinessResponse struct {
	State  scheduler.StageState `json:"state"`
	Ready  bool                 `json:"ready"`
	Reason string               `json:"reason,omitempty"`
}

type cutPlaneRequest struct {
	Height float64 `json:"height"`
}

type exportRequest struct {
	Key string `json:"key"`
}

type exportResponse struct {
	Location string `json:"location"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidParameters), errors.Is(err, models.ErrInvalidGeometry),
		errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrStageBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Parameters())
}

// errBadBody marks request bodies that do not decode.
var errBadBody = errors.New("invalid parameters body")

// handlePutParameters merges the fields present in the body into the current
// parameters.
func (s *Server) handlePutParameters(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}
	err = s.ctrl.UpdateParameters(func(p *models.CaseParameters) error {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return fmt.Errorf("%w: %v", errBadBody, err)
		}
		return nil
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Parameters())
}

// handlePutGeometry replaces the geometry with the multipart "files" parts.
func (s *Server) handlePutGeometry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var files []models.GeometryFile
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read %s: %w", fh.Filename, err))
			return
		}
		files = append(files, models.GeometryFile{Name: fh.Filename, Content: content})
	}

	if err := s.ctrl.ReplaceGeometry(files); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleDeleteGeometry(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ReplaceGeometry(nil); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func stageParam(w http.ResponseWriter, r *http.Request) (scheduler.Stage, bool) {
	stage, err := scheduler.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return "", false
	}
	return stage, true
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	resp := readinessResponse{State: s.ctrl.Status().Stage(stage), Ready: true}
	if err := s.ctrl.Readiness(stage); err != nil {
		resp.Ready = false
		resp.Reason = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRun starts a stage run. A refused request changes nothing and is
// answered with 409 and the reason.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	task, ok := s.ctrl.Run(context.Background(), stage)
	if !ok {
		reason := s.ctrl.Readiness(stage)
		if reason == nil {
			reason = errors.New("run request refused")
		}
		writeError(w, http.StatusConflict, reason)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{Stage: stage, RunID: task.ID})
}

func (s *Server) handleCutPlane(w http.ResponseWriter, r *http.Request) {
	var req cutPlaneRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid cut plane body: %w", err))
		return
	}
	if err := s.ctrl.SetCutPlaneHeight(req.Height); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Parameters())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("export is not configured"))
		return
	}
	var req exportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid export body: %w", err))
			return
		}
	}
	if req.Key == "" {
		name := s.ctrl.Workspace().Name()
		req.Key = fmt.Sprintf("%s-%s.tar.gz", name, time.Now().UTC().Format("20060102T150405Z"))
	}

	location, err := s.ctrl.Export(r.Context(), s.store, s.objectKey(req.Key))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Location: location})
}
