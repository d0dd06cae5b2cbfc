package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/sdko-org/hooksink/internal/relay"
	"github.com/sdko-org/hooksink/internal/store"
	"github.com/sdko-org/hooksink/internal/webhook"
	"github.com/sirupsen/logrus"
)

const maxJSONBody = 1 << 20

// ValidationError is a client mistake in a request body, answered with 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type errorResponse struct {
	Error string `json:"error"`
}

type sessionSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	RequestCount int       `json:"request_count"`
}

type sessionDetail struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	RedirectURL string           `json:"redirect_url"`
	CreatedAt   time.Time        `json:"created_at"`
	LastUpdated time.Time        `json:"last_updated"`
	Requests    []capture.Record `json:"requests"`
}

type callbackResponse struct {
	Status           string        `json:"status"`
	Message          string        `json:"message"`
	SessionID        string        `json:"session_id"`
	RequestCount     int           `json:"request_count"`
	ShareURL         string        `json:"share_url"`
	RedirectResponse *relay.Result `json:"redirect_response,omitempty"`
}

func summaryOf(s store.Session) sessionSummary {
	return sessionSummary{
		ID:           s.SessionID,
		Name:         s.Name,
		CreatedAt:    s.CreatedAt,
		LastUpdated:  s.LastUpdatedAt,
		RequestCount: s.RequestCount,
	}
}

func detailOf(v *webhook.SessionView) sessionDetail {
	requests := v.Requests
	if requests == nil {
		requests = []capture.Record{}
	}
	return sessionDetail{
		ID:          v.SessionID,
		Name:        v.Name,
		RedirectURL: v.RedirectURL,
		CreatedAt:   v.CreatedAt,
		LastUpdated: v.LastUpdatedAt,
		Requests:    requests,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Session not found"})
	case errors.Is(err, webhook.ErrNoRedirectURL):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No redirect URL configured"})
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}
