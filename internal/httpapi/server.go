// Package httpapi implements the /v1/* HTTP surface in front of the
// pipeline: a plain http.ServeMux, one handler method per route, manual
// trailing-segment parsing for the two path-parameterized GETs, and
// writeJSON/writeAPIError helpers.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/viasnake/arbiter/internal/apierr"
	"github.com/viasnake/arbiter/internal/domain"
	"github.com/viasnake/arbiter/internal/pipeline"
)

// Server wires the pipeline into the HTTP surface. Build one per process
// and call Handler() to obtain the http.Handler to serve.
type Server struct {
	Pipeline *pipeline.Pipeline
}

// Handler builds the routed http.Handler for the full /v1/* surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/contracts", s.handleContracts)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/generations", s.handleGenerations)
	mux.HandleFunc("/v1/job-events", s.handleJobEvents)
	mux.HandleFunc("/v1/job-cancel", s.handleJobCancel)
	mux.HandleFunc("/v1/approval-events", s.handleApprovalEvents)
	mux.HandleFunc("/v1/action-results", s.handleActionResultsRouter)
	mux.HandleFunc("/v1/action-results/", s.handleActionResultsRouter)
	mux.HandleFunc("/v1/jobs/", s.handleJobStateGet)
	mux.HandleFunc("/v1/approvals/", s.handleApprovalStateGet)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeAPIError maps an apierr.Error onto the {"error":{...}} wire
// envelope. Any other error is treated as an unclassified internal
// failure.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr apierr.Error
	if ae, ok := err.(apierr.Error); ok {
		apiErr = ae
	} else {
		apiErr = apierr.StoreFailed(err)
	}
	writeJSON(w, apiErr.StatusCode(), map[string]interface{}{
		"error": map[string]interface{}{
			"code":    apiErr.Code(),
			"message": apiErr.Error(),
			"details": apiErr.Details(),
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "ok")
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contract_version": domain.ContractVersion,
		"endpoints": []string{
			"/v1/events", "/v1/generations", "/v1/job-events", "/v1/job-cancel",
			"/v1/approval-events", "/v1/action-results",
		},
	})
}

func decodeBody(r *http.Request, v interface{}) *apierr.ValidationError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &apierr.ValidationError{Msg: "malformed JSON body: " + err.Error()}
	}
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var event domain.Event
	if verr := decodeBody(r, &event); verr != nil {
		writeAPIError(w, verr)
		return
	}
	plan, err := s.Pipeline.ProcessEvent(r.Context(), event)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	var gen domain.GenerationResult
	if verr := decodeBody(r, &gen); verr != nil {
		writeAPIError(w, verr)
		return
	}
	plan, err := s.Pipeline.ProcessGeneration(r.Context(), gen)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	var ev domain.JobStatusEvent
	if verr := decodeBody(r, &ev); verr != nil {
		writeAPIError(w, verr)
		return
	}
	plan, err := s.Pipeline.ProcessJobStatus(r.Context(), ev)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	var req domain.JobCancelRequest
	if verr := decodeBody(r, &req); verr != nil {
		writeAPIError(w, verr)
		return
	}
	plan, err := s.Pipeline.ProcessJobCancel(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleApprovalEvents(w http.ResponseWriter, r *http.Request) {
	var ev domain.ApprovalEvent
	if verr := decodeBody(r, &ev); verr != nil {
		writeAPIError(w, verr)
		return
	}
	plan, err := s.Pipeline.ProcessApprovalEvent(r.Context(), ev)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleActionResultsRouter dispatches POST /v1/action-results (record a
// result) and GET /v1/action-results/{tenant}/{plan}/{action} (look one
// up), since both share the mux pattern once a trailing segment exists.
func (s *Server) handleActionResultsRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.handlePostActionResult(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/action-results/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] == "" {
		writeAPIError(w, &apierr.NotFoundError{Msg: "expected /v1/action-results/{tenant}/{plan}/{action}"})
		return
	}

	result, found, err := s.Pipeline.Store.GetActionResult(r.Context(), parts[0], parts[1], parts[2])
	if err != nil {
		writeAPIError(w, apierr.StoreFailed(err))
		return
	}
	if !found {
		writeAPIError(w, &apierr.NotFoundError{Msg: "no action result for " + path})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePostActionResult(w http.ResponseWriter, r *http.Request) {
	var result domain.ActionResult
	if verr := decodeBody(r, &result); verr != nil {
		writeAPIError(w, verr)
		return
	}
	if err := s.Pipeline.ProcessActionResult(r.Context(), result); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobStateGet(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeAPIError(w, &apierr.NotFoundError{Msg: "expected /v1/jobs/{tenant}/{job}"})
		return
	}
	state, found, err := s.Pipeline.Store.GetJobState(r.Context(), parts[0], parts[1])
	if err != nil {
		writeAPIError(w, apierr.StoreFailed(err))
		return
	}
	if !found {
		writeAPIError(w, &apierr.NotFoundError{Msg: "no job state for " + path})
		return
	}
	writeJSON(w, http.StatusOK, domain.StateResponse{
		TenantID: parts[0], ID: parts[1], Status: string(state.Status),
		ReasonCode: state.ReasonCode, UpdatedAt: state.UpdatedAt,
	})
}

func (s *Server) handleApprovalStateGet(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/approvals/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeAPIError(w, &apierr.NotFoundError{Msg: "expected /v1/approvals/{tenant}/{approval}"})
		return
	}
	state, found, err := s.Pipeline.Store.GetApprovalState(r.Context(), parts[0], parts[1])
	if err != nil {
		writeAPIError(w, apierr.StoreFailed(err))
		return
	}
	if !found {
		writeAPIError(w, &apierr.NotFoundError{Msg: "no approval state for " + path})
		return
	}
	writeJSON(w, http.StatusOK, domain.StateResponse{
		TenantID: parts[0], ID: parts[1], Status: string(state.Status),
		ReasonCode: state.ReasonCode, UpdatedAt: state.UpdatedAt,
	})
}
