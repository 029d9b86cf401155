package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agora-relay/agora-relay/internal/api/ws"
	"github.com/agora-relay/agora-relay/internal/application/relay"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	hub   *ws.Hub
	relay *relay.Relay
}

func NewServer(hub *ws.Hub, relay *relay.Relay) *Server {
	return &Server{hub: hub, relay: relay}
}

// Router builds the HTTP router. The websocket endpoint skips the
// timeout middleware since its connections are long lived.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/healthz", s.healthz)
		r.Route("/v1", func(r chi.Router) {
			r.Get("/status", s.status)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	relay.Status
	Clients int `json:"clients"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Status:  s.relay.Status(),
		Clients: s.hub.Count(),
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
