package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vinayprograms/orderclaim/errors"
)

// StatusFor maps an error code to an HTTP status.
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeClaimConflict, errors.ErrCodeConflict, errors.ErrCodeAlreadyExists:
		return http.StatusConflict
	case errors.ErrCodeQuotaExceeded, errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeNotOwner:
		return http.StatusForbidden
	case errors.ErrCodeInvalidTransition, errors.ErrCodeTerminalState:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err in its JSON form. Internal errors lose their
// cause so stored data never leaks to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	coded := errors.AsCodedError(err)
	var e *errors.Error
	if ce, ok := coded.(*errors.Error); ok {
		e = ce
	} else {
		e = errors.Wrap(err, "request failed")
	}

	status := StatusFor(e.Code())
	if status == http.StatusInternalServerError {
		s.log.Error("request_failed", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"code":   string(e.Code()),
			"error":  err.Error(),
		})
		e = errors.New(e.Code(), e.Code().Description(), errors.WithTaskID(e.TaskID()))
	}
	writeJSON(w, status, e)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput("invalid request body: " + err.Error())
	}
	return nil
}
