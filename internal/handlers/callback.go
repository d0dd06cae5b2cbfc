package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/sdko-org/hooksink/internal/capture"
)

// Callback captures any request sent to a session's webhook URL. Browsers
// opening the URL are sent to the session page instead.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if capture.IsBrowserNavigation(r) {
		http.Redirect(w, r, "/session/"+url.PathEscape(id), http.StatusFound)
		return
	}

	res, err := h.svc.Capture(r.Context(), id, ownerOf(r), r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{
		Status:           "success",
		Message:          fmt.Sprintf("Callback data captured for session %s", id),
		SessionID:        id,
		RequestCount:     res.RequestCount,
		ShareURL:         h.shareURL(r, id),
		RedirectResponse: res.Relay,
	})
}

// RelayInfo hands the owner's relay target back to the browser, which then
// forwards request_data itself.
func (h *Handler) RelayInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	target, err := h.svc.RedirectURL(r.Context(), id, ownerOf(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var body struct {
		RequestData json.RawMessage `json:"request_data"`
	}
	if err := decodeJSON(r, &body); err != nil || len(body.RequestData) == 0 || string(body.RequestData) == "null" {
		h.handleError(w, r, &ValidationError{Message: "Request data is required"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"redirect_url": target,
		"request_data": body.RequestData,
		"session_id":   id,
	})
}
