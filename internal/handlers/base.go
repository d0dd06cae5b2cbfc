package handlers

import (
	"net/http"

	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/sdko-org/hooksink/internal/config"
	"github.com/sdko-org/hooksink/internal/identity"
	"github.com/sdko-org/hooksink/internal/live"
	"github.com/sdko-org/hooksink/internal/webhook"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	svc *webhook.Service
	hub *live.Hub
	cfg *config.Config
	log *logrus.Entry
}

func NewHandler(logger *logrus.Logger, cfg *config.Config, svc *webhook.Service, hub *live.Hub) *Handler {
	return &Handler{
		svc: svc,
		hub: hub,
		cfg: cfg,
		log: logger.WithField("component", "api_handler"),
	}
}

func ownerOf(r *http.Request) string {
	return identity.FromContext(r.Context())
}

// shareURL is the human viewing link for sessionID. PUBLIC_BASE_URL wins
// over the request's own scheme and host.
func (h *Handler) shareURL(r *http.Request, sessionID string) string {
	base := h.cfg.PublicBaseURL
	if base == "" {
		base = capture.Scheme(r) + "://" + r.Host
	}
	return base + "/session/" + sessionID
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
