package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

func (h *Handler) GenerateSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.CreateSession(r.Context(), ownerOf(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":  id,
		"webhook_url": "/api/callback/" + id,
	})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context(), ownerOf(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summaryOf(s))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.svc.Session(r.Context(), id, ownerOf(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":   detailOf(view),
		"share_url": h.shareURL(r, id),
	})
}

func (h *Handler) AccessSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.svc.Access(r.Context(), id, ownerOf(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":   detailOf(view),
		"share_url": h.shareURL(r, id),
		"message":   "Session accessed successfully",
	})
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), mux.Vars(r)["id"], ownerOf(r)); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

func (h *Handler) RenameSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name *string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Name == nil {
		h.handleError(w, r, &ValidationError{Message: "Name is required"})
		return
	}
	name := strings.TrimSpace(*body.Name)
	if name == "" {
		h.handleError(w, r, &ValidationError{Message: "Name cannot be empty"})
		return
	}

	if err := h.svc.Rename(r.Context(), mux.Vars(r)["id"], ownerOf(r), name); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Session name updated successfully",
		"name":    name,
	})
}

func (h *Handler) SetRedirectURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RedirectURL *string `json:"redirect_url"`
	}
	if err := decodeJSON(r, &body); err != nil || body.RedirectURL == nil {
		h.handleError(w, r, &ValidationError{Message: "redirect_url is required"})
		return
	}
	target := strings.TrimSpace(*body.RedirectURL)
	if target != "" && !isHTTPURL(target) {
		h.handleError(w, r, &ValidationError{Message: "redirect_url must be an absolute http or https URL"})
		return
	}

	if err := h.svc.SetRedirectURL(r.Context(), mux.Vars(r)["id"], ownerOf(r), target); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":      "Redirect URL updated successfully",
		"redirect_url": target,
	})
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Requests(r.Context(), mux.Vars(r)["id"], ownerOf(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if records == nil {
		records = []capture.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": records,
		"count":    len(records),
	})
}

// ShareQR renders the share URL of a session as a PNG QR code.
func (h *Handler) ShareQR(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.svc.Session(r.Context(), id, ownerOf(r)); err != nil {
		h.handleError(w, r, err)
		return
	}

	size := defaultQRSize
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		size = min(max(v, minQRSize), maxQRSize)
	}
	png, err := qrcode.Encode(h.shareURL(r, id), qrcode.Medium, size)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (h *Handler) StreamSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.svc.Session(r.Context(), id, ownerOf(r)); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.hub.ServeWS(w, r, id)
}

// SessionPage sends a human to the viewer with the session preselected.
func (h *Handler) SessionPage(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/?session="+url.QueryEscape(mux.Vars(r)["id"]), http.StatusFound)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
