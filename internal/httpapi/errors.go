package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"clustercard.org/internal/auth"
	"clustercard.org/internal/blob"
	"clustercard.org/internal/cohort"
	"clustercard.org/internal/profile"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the {success:false, message} envelope. Internal details
// never reach the client; callers log them.
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"success": false,
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleDomainError maps sentinel errors from the domain packages onto the
// HTTP taxonomy in one place, so every route variant agrees.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cohort.ErrInvalidCluster), errors.Is(err, profile.ErrInvalid), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, cohort.ErrNotFound), errors.Is(err, cohort.ErrNotMember),
		errors.Is(err, profile.ErrNotFound), errors.Is(err, auth.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, cohort.ErrAlreadyMember), errors.Is(err, cohort.ErrClusterFull),
		errors.Is(err, cohort.ErrCohortMismatch), errors.Is(err, auth.ErrAlreadyExists), errors.Is(err, profile.ErrExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, cohort.ErrCohortLocked):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a strict JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
