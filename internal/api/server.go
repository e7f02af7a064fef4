// Package api exposes the HTTP interface for the menu scanner service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/config"
	"github.com/JakeFAU/gf-menu-scanner/internal/discovery"
	"github.com/JakeFAU/gf-menu-scanner/internal/logging"
	"github.com/JakeFAU/gf-menu-scanner/internal/metrics"
	"github.com/JakeFAU/gf-menu-scanner/internal/recommend"
	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
	"github.com/JakeFAU/gf-menu-scanner/internal/store"
)

const (
	requestTimeout     = 60 * time.Second
	maxBodyBytes       = 64 << 10
	defaultRecommended = 10
	maxRecommended     = 100
)

// Service is the restaurant discovery surface the handlers drive.
type Service interface {
	State() restaurant.UiState
	Refresh(ctx context.Context, anchor *restaurant.Location) restaurant.UiState
	SetFilter(f restaurant.Filter) (restaurant.UiState, error)
	SetFavorite(ctx context.Context, key restaurant.Key, status string) (restaurant.Restaurant, error)
	AddNote(ctx context.Context, key restaurant.Key, note string) (restaurant.Restaurant, error)
	RequestRescan(ctx context.Context, key restaurant.Key) error
	RecordView(ctx context.Context, key restaurant.Key) (int, error)
	Recommendations(ctx context.Context, limit int) ([]recommend.Recommended, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the discovery service.
type Server struct {
	router  chi.Router
	service Service
	ready   ReadinessCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(service Service, ready ReadinessCheck, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		service: service,
		ready:   ready,
		logger:  logging.OrNop(logger),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/restaurants", s.getRestaurants)
		r.Post("/refresh", s.refresh)
		r.Put("/filters", s.setFilter)
		r.Route("/restaurants", func(r chi.Router) {
			r.Put("/favorite", s.setFavorite)
			r.Post("/notes", s.addNote)
			r.Post("/rescan", s.rescan)
			r.Post("/views", s.recordView)
		})
		r.Get("/recommendations", s.recommendations)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getRestaurants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.State())
}

type refreshRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var anchor *restaurant.Location
	if req.Latitude != nil && req.Longitude != nil {
		anchor = &restaurant.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}
	writeJSON(w, http.StatusOK, s.service.Refresh(r.Context(), anchor))
}

func (s *Server) setFilter(w http.ResponseWriter, r *http.Request) {
	var f restaurant.Filter
	if err := decodeBody(r, &f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	state, err := s.service.SetFilter(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// restaurantRef identifies a restaurant the way its merge key does.
type restaurantRef struct {
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (ref restaurantRef) key() (restaurant.Key, error) {
	if ref.PlaceID == "" && ref.Name == "" {
		return "", errors.New("place_id or name required")
	}
	return restaurant.KeyFor(ref.PlaceID, ref.Name, ref.Address), nil
}

type favoriteRequest struct {
	restaurantRef
	Status string `json:"status"`
}

func (s *Server) setFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	key, ok := s.decodeRef(w, r, &req, &req.restaurantRef)
	if !ok {
		return
	}
	updated, err := s.service.SetFavorite(r.Context(), key, req.Status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type noteRequest struct {
	restaurantRef
	Note string `json:"note"`
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	key, ok := s.decodeRef(w, r, &req, &req.restaurantRef)
	if !ok {
		return
	}
	updated, err := s.service.AddNote(r.Context(), key, req.Note)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, updated)
}

func (s *Server) rescan(w http.ResponseWriter, r *http.Request) {
	var req restaurantRef
	key, ok := s.decodeRef(w, r, &req, &req)
	if !ok {
		return
	}
	if err := s.service.RequestRescan(r.Context(), key); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key.String(), "status": string(restaurant.ScanFetching)})
}

func (s *Server) recordView(w http.ResponseWriter, r *http.Request) {
	var req restaurantRef
	key, ok := s.decodeRef(w, r, &req, &req)
	if !ok {
		return
	}
	views, err := s.service.RecordView(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"views": views})
}

func (s *Server) recommendations(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecommended
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecommended)
	}
	recs, err := s.service.Recommendations(r.Context(), limit)
	if err != nil {
		s.logger.Error("recommendations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to score restaurants")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}

// decodeRef decodes the body into dst and derives the merge key from ref,
// which must point into dst. It writes the error response itself.
func (s *Server) decodeRef(w http.ResponseWriter, r *http.Request, dst any, ref *restaurantRef) (restaurant.Key, bool) {
	if err := decodeBody(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return "", false
	}
	key, err := ref.key()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return key, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "restaurant not found")
	case errors.Is(err, store.ErrEmptyNote), errors.Is(err, discovery.ErrInvalidFavorite):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
