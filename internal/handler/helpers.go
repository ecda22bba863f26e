package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusError carries a transport-level failure that has no errs.Kind.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

var (
	errForbidden        = &statusError{status: http.StatusForbidden, msg: "forbidden"}
	errPresenceDisabled = &statusError{status: http.StatusServiceUnavailable, msg: "presence mirror disabled"}
	errPresenceStore    = &statusError{status: http.StatusBadGateway, msg: "presence store unavailable"}
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

// writeError answers with the status matching err. Relay errors keep their
// client-safe message; anything unrecognised is logged and hidden behind 500.
func writeError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("http: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func errorStatus(err error) (int, string) {
	var se *statusError
	if errors.As(err, &se) {
		return se.status, se.msg
	}
	var re *errs.Error
	if errors.As(err, &re) {
		switch re.Kind {
		case errs.KindValidation:
			return http.StatusBadRequest, re.Error()
		case errs.KindNotFound:
			return http.StatusNotFound, re.Error()
		case errs.KindUnauthenticated:
			return http.StatusUnauthorized, re.Error()
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

// queryInt reads a non-negative integer parameter. Garbage falls back to def,
// negatives become 0 and anything above max (including values too large for
// an int) becomes max.
func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return def
	}
	switch {
	case n < 0:
		return 0
	case n > max:
		return max
	}
	return n
}
