package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sdko-org/hooksink/internal/identity"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// sessionVar caps ids at the width of the session_id columns.
const sessionVar = "{id:[^/]{1,64}}"

// NewRouter wires every route. db may be nil; access logs are then only
// written to the logger.
func NewRouter(logger *logrus.Logger, db *gorm.DB, h *Handler, ids identity.Provider, limiter *RateLimiter) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.HandleFunc("/session/"+sessionVar, h.SessionPage).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(ids.Middleware)

	api.Handle("/callback/"+sessionVar, limiter.Middleware(http.HandlerFunc(h.Callback)))
	api.HandleFunc("/generate-session", h.GenerateSession).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/"+sessionVar, h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/"+sessionVar, h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/"+sessionVar+"/name", h.RenameSession).Methods("PUT")
	api.HandleFunc("/sessions/"+sessionVar+"/redirect-url", h.SetRedirectURL).Methods("PUT")
	api.HandleFunc("/sessions/"+sessionVar+"/requests", h.ListRequests).Methods("GET")
	api.HandleFunc("/sessions/"+sessionVar+"/qr", h.ShareQR).Methods("GET")
	api.HandleFunc("/sessions/"+sessionVar+"/stream", h.StreamSession).Methods("GET")
	api.HandleFunc("/access-session/"+sessionVar, h.AccessSession).Methods("GET")
	api.HandleFunc("/redirect/"+sessionVar, h.RelayInfo).Methods("POST")

	var handler http.Handler = r
	handler = CorsMiddleware(handler)
	handler = LoggingMiddleware(logger, db)(handler)
	handler = RecoveryMiddleware(logger)(handler)
	return handler
}
