package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eldarion/identeco/internal/lookingglass"
	"github.com/eldarion/identeco/internal/plugin"
	"github.com/eldarion/identeco/pkg/models"
)

// Pinger reports whether the durable store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the main HTTP server of the identity provider
type Server struct {
	config       *Config
	registry     *plugin.Registry
	lookingGlass *lookingglass.Engine
	store        Pinger
	router       chi.Router
}

// NewServer creates a new server instance. lg may be nil, which disables
// the looking glass API and stream.
func NewServer(cfg *Config, registry *plugin.Registry, lg *lookingglass.Engine, store Pinger) *Server {
	s := &Server{
		config:       cfg,
		registry:     registry,
		lookingGlass: lg,
		store:        store,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(SecurityHeaders)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", captureSessionHeader},
		ExposedHeaders:   []string{"X-Request-ID", "X-XRDS-Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rateLimiter := NewRateLimiter(300, time.Minute)
	r.Use(rateLimiter.Limit)

	r.Use(CaptureMiddleware(s.lookingGlass))

	// Health check
	r.Get("/health", s.handleHealth)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/protocols", s.handleListProtocols)
		r.Get("/protocols/{id}/flows", s.handleGetProtocolFlows)

		if s.lookingGlass != nil {
			r.Route("/lookingglass", func(r chi.Router) {
				r.Post("/decode", s.handleDecodeMessage)
				r.Post("/sessions", s.handleCreateSession)
				r.Get("/sessions", s.handleListSessions)
				r.Get("/sessions/{id}", s.handleGetSession)
				r.Delete("/sessions/{id}", s.handleDeleteSession)
			})
		}
	})

	if s.lookingGlass != nil {
		r.Get("/ws/lookingglass/{session}", s.handleLookingGlassWS)
	}

	// The OpenID routes sit at the root so identity URLs stay short
	for _, p := range s.registry.List() {
		p.RegisterRoutes(r)
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatus{Status: "healthy", Store: s.config.StoreDriver}
	if err := s.store.Ping(ctx); err != nil {
		status.Status = "unavailable"
		status.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Protocol list response
type ProtocolListResponse struct {
	Protocols []plugin.PluginInfo `json:"protocols"`
}

func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	protocols := make([]plugin.PluginInfo, 0)
	for _, p := range s.registry.List() {
		protocols = append(protocols, p.Info())
	}
	writeJSON(w, http.StatusOK, ProtocolListResponse{Protocols: protocols})
}

type FlowListResponse struct {
	Flows []plugin.FlowDefinition `json:"flows"`
}

func (s *Server) handleGetProtocolFlows(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, exists := s.registry.Get(id)
	if !exists {
		writeError(w, http.StatusNotFound, "Protocol not found")
		return
	}
	writeJSON(w, http.StatusOK, FlowListResponse{Flows: p.GetFlowDefinitions()})
}

type DecodeRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleDecodeMessage(w http.ResponseWriter, r *http.Request) {
	var req DecodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	decoded, err := lookingglass.DecodeMessage(req.Message)
	if err != nil {
		if errors.Is(err, lookingglass.ErrNotOpenID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "Message could not be decoded: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decoded)
}

type CreateSessionRequest struct {
	Flow string `json:"flow"`
}

type CreateSessionResponse struct {
	SessionID  string `json:"session_id"`
	Flow       string `json:"flow"`
	WSEndpoint string `json:"ws_endpoint"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4*1024)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.Flow == "" {
		req.Flow = "checkid_setup"
	}

	session := s.lookingGlass.CreateSession(req.Flow)
	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID:  session.ID,
		Flow:       session.Flow,
		WSEndpoint: "/ws/lookingglass/" + session.ID,
	})
}

type SessionSummary struct {
	ID         string                    `json:"id"`
	Flow       string                    `json:"flow"`
	State      lookingglass.SessionState `json:"state"`
	EventCount int                       `json:"event_count"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := make([]SessionSummary, 0)
	for _, session := range s.lookingGlass.ListSessions() {
		snap := session.Snapshot()
		sessions = append(sessions, SessionSummary{
			ID:         snap.ID,
			Flow:       snap.Flow,
			State:      snap.State,
			EventCount: len(snap.Events),
			CreatedAt:  snap.CreatedAt,
			UpdatedAt:  snap.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, exists := s.lookingGlass.GetSession(id)
	if !exists {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	snap := session.Snapshot()
	writeJSON(w, http.StatusOK, &snap)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, exists := s.lookingGlass.GetSession(id); !exists {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.lookingGlass.DeleteSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLookingGlassWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	s.lookingGlass.HandleWebSocket(w, r, sessionID)
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
