// Package api exposes the monitor's HTTP and WebSocket surface.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"taowatcher/internal/hub"
	"taowatcher/internal/ohlc"
	"taowatcher/internal/service"
	"taowatcher/internal/storage"
)

// Server wires the REST endpoints, the WebSocket upgrade path, and the
// Prometheus scrape handler onto one router.
type Server struct {
	svc      *service.Service
	hub      *hub.Hub
	registry *prometheus.Registry
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer builds the server and its router.
func NewServer(svc *service.Service, h *hub.Hub, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	return &Server{
		svc:      svc,
		hub:      h,
		registry: registry,
		logger:   logger.With().Str("component", "api").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from arbitrary origins in local
			// setups; the API carries no credentials.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router assembles the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/current", s.handleCurrent)
		r.Get("/history", s.handleHistory)
		r.Get("/kline", s.handleKline)
		r.Get("/tao-usd", s.handleUSDRate)
		r.Get("/subnets", s.handleSubnets)
		r.Get("/subnet-registrations", s.handleSubnetRegistrations)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleUpdateConfig)
	})

	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	sample, ok := s.svc.Current()
	if !ok {
		s.respondError(w, http.StatusServiceUnavailable, "no sample recorded yet")
		return
	}
	s.respondJSON(w, http.StatusOK, sample)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours <= 0 || hours > 168 {
		hours = 24
	}
	samples, events := s.svc.History(hours)
	s.respondJSON(w, http.StatusOK, storage.HistoryDocument{
		PriceHistory:    samples,
		NewSubnetEvents: events,
	})
}

func (s *Server) handleKline(w http.ResponseWriter, r *http.Request) {
	granularity := r.URL.Query().Get("granularity")
	if granularity == "" {
		granularity = "1d"
	}
	days := queryInt(r, "days", 365)
	if days <= 0 {
		days = 365
	}
	candles := s.svc.Candles(granularity, days)
	if candles == nil {
		candles = []ohlc.Candle{}
	}
	s.respondJSON(w, http.StatusOK, candles)
}

func (s *Server) handleUSDRate(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"rate":     s.svc.USDRate(),
		"currency": "usd",
	})
}

func (s *Server) handleSubnets(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Subnets())
}

func (s *Server) handleSubnetRegistrations(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.SubnetRegistrations())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Settings())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var settings storage.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid settings document: "+err.Error())
		return
	}
	for _, th := range settings.AlertThresholds {
		if th == nil || !th.PriceTAO.IsPositive() {
			s.respondError(w, http.StatusBadRequest, "threshold price must be positive")
			return
		}
		if th.Type != storage.ThresholdBelow && th.Type != storage.ThresholdAbove {
			s.respondError(w, http.StatusBadRequest, "threshold type must be below or above")
			return
		}
	}
	if err := s.svc.UpdateSettings(&settings); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to persist settings")
		return
	}
	s.respondJSON(w, http.StatusOK, s.svc.Settings())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.Join(conn, s.svc.CurrentPayload())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
