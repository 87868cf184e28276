package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"procurement-reconciler/internal/core"
)

type errorResponse struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	RequestID string   `json:"request_id,omitempty"`
	Lines     []string `json:"lines,omitempty"`
}

// partialResponse itemizes a unit of work that stopped part way.
type partialResponse struct {
	errorResponse
	Step       string          `json:"step"`
	Succeeded  []string        `json:"succeeded"`
	Failed     []failureView   `json:"failed"`
	Transition *transitionView `json:"transition,omitempty"`
}

type failureView struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeJSONStatus(w, status, errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// writeServiceError maps a service error onto a status code. tr, when non-nil, is the
// part of a transition that completed before a partial failure.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, tr *core.TransitionResult) {
	resp := errorResponse{Error: err.Error(), RequestID: requestIDFromContext(r.Context())}

	var (
		partial    *core.PartialBatchError
		locked     *core.LockedBasketError
		validation *core.ValidationError
		transition *core.TransitionError
		config     *core.ConfigurationError
		lockErr    *core.LockError
	)
	switch {
	case errors.As(err, &partial):
		resp.Code = "PARTIAL_FAILURE"
		body := partialResponse{
			errorResponse: resp,
			Step:          partial.Step,
			Succeeded:     nonNil(partial.Succeeded),
			Failed:        make([]failureView, len(partial.Failed)),
		}
		for i, f := range partial.Failed {
			body.Failed[i] = failureView{ID: f.ID, Error: f.Err.Error()}
		}
		if tr != nil {
			v := toTransitionView(tr)
			body.Transition = &v
		}
		writeJSONStatus(w, http.StatusMultiStatus, body)
		return
	case errors.As(err, &config):
		resp.Code = "CONFIGURATION_ERROR"
		writeJSONStatus(w, http.StatusInternalServerError, resp)
		return
	case errors.As(err, &locked):
		resp.Code = "BASKET_LOCKED"
		writeJSONStatus(w, http.StatusLocked, resp)
		return
	case core.IsNotFound(err):
		resp.Code = "NOT_FOUND"
		writeJSONStatus(w, http.StatusNotFound, resp)
		return
	case errors.As(err, &validation):
		resp.Code = "VALIDATION_ERROR"
		resp.Lines = validation.Lines
		writeJSONStatus(w, http.StatusUnprocessableEntity, resp)
		return
	case errors.As(err, &transition):
		resp.Code = "ILLEGAL_TRANSITION"
		writeJSONStatus(w, http.StatusConflict, resp)
		return
	case errors.As(err, &lockErr):
		resp.Code = "LOCK_UNAVAILABLE"
		writeJSONStatus(w, http.StatusConflict, resp)
		return
	}
	resp.Code = "INTERNAL_ERROR"
	writeJSONStatus(w, http.StatusInternalServerError, resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
